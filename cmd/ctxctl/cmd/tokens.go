package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens [text]",
	Short: "Count the tokens of a text",
	Example: `  ctxctl tokens "The knight rode on."
  ctxctl tokens --file chapter.txt --ids`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTokens,
}

// Flags for tokens command
var (
	tokFile string
	tokIDs  bool
)

func init() {
	tokensCmd.Flags().StringVarP(&tokFile, "file", "f", "", "Read the text from a file (- for stdin)")
	tokensCmd.Flags().BoolVar(&tokIDs, "ids", false, "Print the token ids")
}

func runTokens(cmd *cobra.Command, args []string) error {
	var text string
	switch {
	case tokFile != "":
		data, err := readInput(cmd, tokFile)
		if err != nil {
			return err
		}
		text = string(data)
	case len(args) == 1:
		text = args[0]
	default:
		return fmt.Errorf("provide a text or --file")
	}

	b, err := newBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	out, err := b.Tokens(cmd.Context(), text)
	if err != nil {
		return fmt.Errorf("failed to count tokens: %w", err)
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		if !tokIDs {
			out.Tokens = nil
		}
		return PrintJSON(w, out)
	}

	fmt.Fprintf(w, "%d tokens (%s)\n", out.Count, out.Encoding)
	if tokIDs {
		ids := make([]string, len(out.Tokens))
		for i, t := range out.Tokens {
			ids[i] = strconv.Itoa(t)
		}
		fmt.Fprintln(w, strings.Join(ids, " "))
	}
	return nil
}
