package trimming

import (
	"slices"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/assembly"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/fragment"
)

// TrimByLength keeps as much of a as fits in maxLength bytes of full text,
// splitting the same way the token trimmer does. It returns nil when
// nothing fits.
func TrimByLength(a *assembly.Assembly, maxLength int, opts Options) *assembly.Assembly {
	if opts.PreserveMode == "" {
		opts.PreserveMode = PreserveBoth
	}
	if opts.MaximumTrimType == "" {
		opts.MaximumTrimType = TrimToken
	}
	origin := opts.Provider.preprocess(a)
	blocks := rootBlocks(origin, opts)
	used := origin.Prefix().Len() + origin.Suffix().Len()

	var kept []fragment.TextFragment
	for level := 0; ; level++ {
		overflow := -1
		for i, b := range blocks {
			n := lengthOf(b)
			if used+n > maxLength {
				overflow = i
				break
			}
			used += n
			if opts.Provider.Reversed {
				kept = slices.Concat(b, kept)
			} else {
				kept = slices.Concat(kept, b)
			}
		}
		if overflow < 0 || level >= opts.maxLevel() {
			break
		}
		frags := fragment.SplitAll(blocks[overflow], opts.Provider.splitter(level+1))
		blocks = makeBlocks(frags, opts.Provider.Reversed, true, true)
	}

	if len(kept) == 0 {
		return nil
	}
	return origin.WithContent(kept)
}

func lengthOf(frags []fragment.TextFragment) int {
	n := 0
	for _, f := range frags {
		n += f.Len()
	}
	return n
}
