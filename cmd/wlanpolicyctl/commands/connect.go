package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	var (
		ifaceID  uint16
		ssid     string
		security string
		password string
		bssid    string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a client interface to a network",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := map[string]any{
				"iface_id":      ifaceID,
				"ssid":          ssid,
				"security_type": security,
			}
			if password != "" {
				req["password"] = password
			}
			if bssid != "" {
				req["bssid"] = bssid
			}

			var resp map[string]string
			if err := httpClient.post(context.Background(), "/v1/connect", req, &resp); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			fmt.Println("connect request accepted")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint16Var(&ifaceID, "iface", 0, "client interface ID (required)")
	flags.StringVar(&ssid, "ssid", "", "target network SSID (required)")
	flags.StringVar(&security, "security", "wpa2-personal",
		"security type: open, wep, wpa1, wpa2-personal, wpa2-enterprise, wpa3-personal, wpa3-enterprise")
	flags.StringVar(&password, "password", "", "network passphrase")
	flags.StringVar(&bssid, "bssid", "", "target BSSID (hex, e.g. 001122334455)")
	_ = cmd.MarkFlagRequired("ssid")

	return cmd
}
