package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const rule = "─────────────────────────────────────────────────────"

// PrintJSON outputs data as formatted JSON.
func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintTable outputs data in a table format.
func PrintTable(out io.Writer, headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(sep, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// Truncate shortens a string to the specified number of runes.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// Preview flattens newlines so text fits on one table row.
func Preview(s string, maxLen int) string {
	return Truncate(strings.ReplaceAll(s, "\n", "⏎"), maxLen)
}

// FormatResult returns a human-readable insertion outcome.
func FormatResult(t string) string {
	switch t {
	case "initial":
		return "Initial"
	case "insertBefore":
		return "Before"
	case "insertAfter":
		return "After"
	case "inside":
		return "Inside"
	case "rejected":
		return "Rejected"
	default:
		return t
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
