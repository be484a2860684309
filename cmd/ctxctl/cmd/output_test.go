package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"purged": 2}))
	assert.Equal(t, "{\n  \"purged\": 2\n}\n", buf.String())
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"ID", "TOKENS"}, [][]string{{"story", "12"}, {"memory", "3"}})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Equal(t, "ID      TOKENS", string(lines[0]))
	assert.Equal(t, "--      ------", string(lines[1]))
	assert.Equal(t, "story   12", string(lines[2]))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"long", "abcdefghij", 6, "abc..."},
		{"tiny limit", "abcdef", 2, "ab"},
		{"multibyte", "ドラゴンが飛ぶ", 5, "ドラ..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.maxLen))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a⏎b", Preview("a\nb", 10))
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "Before", FormatResult("insertBefore"))
	assert.Equal(t, "Rejected", FormatResult("rejected"))
	assert.Equal(t, "other", FormatResult("other"))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"bytes", 500, "500 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 2621440, "2.5 MB"},
		{"zero", 0, "0 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatBytes(tt.bytes))
		})
	}
}
