package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Show the most recent scan results",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var results []scanResultView
			if err := httpClient.get(context.Background(), "/v1/scan-results", &results); err != nil {
				return fmt.Errorf("get scan results: %w", err)
			}

			out, err := formatScanResults(results, outputFormat)
			if err != nil {
				return fmt.Errorf("format scan results: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
