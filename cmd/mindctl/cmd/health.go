package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the backend health report",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint("/health"), nil)
		if err != nil {
			return err
		}
		var report map[string]any
		if err := do(req, &report); err != nil {
			return err
		}
		return printJSON(report)
	},
}
