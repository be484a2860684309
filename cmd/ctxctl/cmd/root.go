// Package cmd provides CLI commands for ctxctl.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL  string
	apiKey     string
	remote     bool
	configPath string
	encoding   string
	outputJSON bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "ctxctl",
	Short: "ctxctl - Assemble token-budgeted contexts",
	Long: `ctxctl builds a context from prioritized text entries so that it fits a
token budget, trimming entries by newline, sentence or token as needed and
placing each one relative to what was inserted before it.

Commands run against a local assembler built from the ctxasm configuration,
or against a ctxasm server with --remote.

Use ctxctl to:
  - Assemble a context from a YAML or JSON request file
  - Trim a single text to a budget
  - Count tokens
  - Inspect and purge a server's token cache`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getEnvOrDefault("CTXASM_URL", "http://localhost:8080"), "ctxasm server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CTXASM_API_KEY"), "API key for the server")
	rootCmd.PersistentFlags().BoolVarP(&remote, "remote", "r", false, "Run against the server instead of a local assembler")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file for the local assembler")
	rootCmd.PersistentFlags().StringVar(&encoding, "encoding", "", "Token vocabulary for the local assembler, overriding the config")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(trimCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
