package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/pkg/ctxasm"
)

var assembleCmd = &cobra.Command{
	Use:     "assemble <request-file>",
	Aliases: []string{"asm"},
	Short:   "Assemble a context from a request file",
	Long: `Assemble a context from a YAML or JSON request listing entries in
insertion order, highest priority first. Use - to read the request from
standard input.

A request looks like:

  tokenBudget: 2048
  entries:
    - identifier: story
      type: story
      text: "..."
      config:
        trimDirection: trimTop
        allowInsertionInside: true
    - identifier: memory
      type: memory
      text: "..."
      config:
        insertionPosition: 0`,
	Example: `  # Assemble locally with the configured vocabulary
  ctxctl assemble request.yaml

  # Assemble on a server and print only the context
  ctxctl assemble request.yaml --remote --raw

  # Override the budget
  cat request.json | ctxctl assemble - --budget 512`,
	Args: cobra.ExactArgs(1),
	RunE: runAssemble,
}

// Flags for assemble command
var (
	asmBudget int
	asmRaw    bool
)

func init() {
	assembleCmd.Flags().IntVarP(&asmBudget, "budget", "b", 0, "Token budget, overriding the request")
	assembleCmd.Flags().BoolVar(&asmRaw, "raw", false, "Output only the assembled content (no metadata)")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	req, err := readAssembleRequest(cmd, args[0])
	if err != nil {
		return err
	}
	if asmBudget > 0 {
		req.TokenBudget = asmBudget
	}

	b, err := newBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	out, err := b.Assemble(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to assemble context: %w", err)
	}

	w := cmd.OutOrStdout()
	if asmRaw {
		fmt.Fprint(w, out.Content)
		return nil
	}
	if outputJSON {
		return PrintJSON(w, out)
	}

	fmt.Fprintf(w, "Context: %s\n", out.ID)
	fmt.Fprintf(w, "Token Usage: %d / %d\n", out.TokenCount, out.TokenBudget)
	fmt.Fprintf(w, "Assembly Time: %s\n", out.AssemblyTime)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Entries (%d):\n", len(out.Report))
	rows := make([][]string, len(out.Report))
	for i, rep := range out.Report {
		row := []string{rep.Identifier, rep.Type, "Error", "-", rep.Error}
		if rep.Result != nil {
			row[2] = FormatResult(rep.Result.Type)
			row[3] = strconv.Itoa(rep.Result.TokensUsed)
			row[4] = rep.Result.Reason
		}
		rows[i] = row
	}
	PrintTable(w, []string{"IDENTIFIER", "TYPE", "RESULT", "TOKENS", "NOTE"}, rows)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Layout (%d pieces):\n", len(out.Output))
	rows = make([][]string, len(out.Output))
	for i, piece := range out.Output {
		rows[i] = []string{strconv.Itoa(i + 1), piece.Identifier, Preview(piece.Text, 40)}
	}
	PrintTable(w, []string{"#", "IDENTIFIER", "TEXT"}, rows)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Assembled Content:")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, out.Content)
	fmt.Fprintln(w, rule)

	return nil
}

// readAssembleRequest decodes a request file. JSON is valid YAML, so one
// decoder covers both.
func readAssembleRequest(cmd *cobra.Command, path string) (*ctxasm.AssembleRequest, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}

	var req ctxasm.AssembleRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(req.Entries) == 0 {
		return nil, fmt.Errorf("%s lists no entries", path)
	}
	return &req, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
