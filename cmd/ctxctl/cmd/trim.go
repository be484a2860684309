package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/pkg/ctxasm"
)

var trimCmd = &cobra.Command{
	Use:   "trim <text-file>",
	Short: "Trim a text to a token budget",
	Long: `Trim a single text to a token budget, the way an entry is trimmed during
assembly. The text is cut by newline first, then by sentence, then by token,
down to the coarsest level that fits and no finer than --max-trim-type.`,
	Example: `  # Keep the end of a story within 1000 tokens
  ctxctl trim story.txt --budget 1000 --direction trimTop

  # Cut only at line boundaries
  ctxctl trim notes.txt -b 200 --max-trim-type newline`,
	Args: cobra.ExactArgs(1),
	RunE: runTrim,
}

// Flags for trim command
var (
	trimBudget    int
	trimDirection string
	trimMaxType   string
	trimRaw       bool
)

func init() {
	trimCmd.Flags().IntVarP(&trimBudget, "budget", "b", 0, "Token budget (default: configured default)")
	trimCmd.Flags().StringVar(&trimDirection, "direction", "trimBottom", "Trim direction: trimTop, trimBottom or doNotTrim")
	trimCmd.Flags().StringVar(&trimMaxType, "max-trim-type", "token", "Finest trim: newline, sentence or token")
	trimCmd.Flags().BoolVar(&trimRaw, "raw", false, "Output only the trimmed text")
}

func runTrim(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	b, err := newBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	out, err := b.Trim(cmd.Context(), &ctxasm.TrimRequest{
		Text:        string(text),
		TokenBudget: trimBudget,
		Config: ctxasm.Config{
			"trimDirection":   trimDirection,
			"maximumTrimType": trimMaxType,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trim text: %w", err)
	}

	w := cmd.OutOrStdout()
	if trimRaw {
		fmt.Fprint(w, out.Text)
		return nil
	}
	if outputJSON {
		return PrintJSON(w, out)
	}

	if !out.Fits {
		fmt.Fprintln(w, "Nothing fits in the budget.")
		return nil
	}
	fmt.Fprintf(w, "Tokens: %d\n", out.TokenCount)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, out.Text)
	fmt.Fprintln(w, rule)
	return nil
}
