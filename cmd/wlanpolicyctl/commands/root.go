// Package commands implements the wlanpolicyctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the shared client for the status API, initialized in
	// PersistentPreRunE once serverAddr is known.
	httpClient *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's status-API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for wlanpolicyctl.
var rootCmd = &cobra.Command{
	Use:   "wlanpolicyctl",
	Short: "CLI client for the wlanpolicyd connection manager",
	Long:  "wlanpolicyctl talks to the wlanpolicyd daemon's status API to inspect and drive Wi-Fi client connections.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = newAPIClient("http://"+serverAddr, &http.Client{Timeout: 10 * time.Second})
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"wlanpolicyd status API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(disconnectCmd())
	rootCmd.AddCommand(setCountryCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
