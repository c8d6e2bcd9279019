package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func disconnectCmd() *cobra.Command {
	var ifaceID uint16

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect a client interface",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := map[string]any{"iface_id": ifaceID}

			var resp map[string]string
			if err := httpClient.post(context.Background(), "/v1/disconnect", req, &resp); err != nil {
				return fmt.Errorf("disconnect: %w", err)
			}
			fmt.Println("disconnect request accepted")
			return nil
		},
	}

	cmd.Flags().Uint16Var(&ifaceID, "iface", 0, "client interface ID (required)")
	return cmd
}

func setCountryCmd() *cobra.Command {
	var alpha2 string

	cmd := &cobra.Command{
		Use:   "set-country",
		Short: "Apply a new regulatory domain across every PHY",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := map[string]any{"alpha2": alpha2}

			var resp map[string]string
			if err := httpClient.post(context.Background(), "/v1/set-country", req, &resp); err != nil {
				return fmt.Errorf("set country: %w", err)
			}
			fmt.Printf("country set to %s\n", alpha2)
			return nil
		},
	}

	cmd.Flags().StringVar(&alpha2, "alpha2", "", "ISO 3166-1 alpha-2 country code (required)")
	_ = cmd.MarkFlagRequired("alpha2")
	return cmd
}
