package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that a server is healthy and ready",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

type statusReport struct {
	Server   string `json:"server"`
	Healthy  bool   `json:"healthy"`
	Ready    bool   `json:"ready"`
	Encoding string `json:"encoding,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newClient()
	report := statusReport{Server: serverURL}

	if _, err := client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	report.Healthy = true

	ready, err := client.Ready(cmd.Context())
	if err != nil {
		report.Error = err.Error()
	} else {
		report.Ready = true
		report.Encoding = ready.Encoding
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		return PrintJSON(w, report)
	}

	fmt.Fprintf(w, "Server:    %s\n", report.Server)
	fmt.Fprintln(w, "Healthy:   yes")
	if report.Ready {
		fmt.Fprintf(w, "Ready:     yes (%s)\n", report.Encoding)
	} else {
		fmt.Fprintf(w, "Ready:     no (%s)\n", report.Error)
	}
	return nil
}
