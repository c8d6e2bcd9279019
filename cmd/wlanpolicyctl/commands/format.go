package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

type sessionView struct {
	IfaceID       uint16  `json:"iface_id"`
	IfName        string  `json:"if_name"`
	Role          string  `json:"role"`
	CurrentSSID   *string `json:"current_ssid,omitempty"`
	CurrentSecure *string `json:"current_security,omitempty"`
}

type bssView struct {
	BSSID   string `json:"bssid"`
	SSID    string `json:"ssid"`
	RSSIDBM int8   `json:"rssi_dbm"`
	SNRDB   int8   `json:"snr_db"`
	Channel uint16 `json:"channel"`
}

type scanResultView struct {
	SSID         string    `json:"ssid"`
	SecurityType string    `json:"security_type"`
	Compatible   bool      `json:"compatible"`
	Entries      []bssView `json:"entries"`
}

func formatSessions(sessions []sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return toJSON(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatScanResults(results []scanResultView, format string) (string, error) {
	switch format {
	case formatJSON:
		return toJSON(results)
	case formatTable:
		return formatScanResultsTable(results), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}

func formatSessionsTable(sessions []sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IFACE\tIFNAME\tROLE\tSSID\tSECURITY")
	for _, s := range sessions {
		ssid, sec := valueNA, valueNA
		if s.CurrentSSID != nil {
			ssid = *s.CurrentSSID
		}
		if s.CurrentSecure != nil {
			sec = *s.CurrentSecure
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.IfaceID, s.IfName, s.Role, ssid, sec)
	}
	_ = w.Flush()
	return buf.String()
}

func formatScanResultsTable(results []scanResultView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SSID\tSECURITY\tCOMPATIBLE\tBSSID\tRSSI\tSNR\tCHANNEL")
	for _, r := range results {
		if len(r.Entries) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%v\t-\t-\t-\t-\n", r.SSID, r.SecurityType, r.Compatible)
			continue
		}
		for _, e := range r.Entries {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%d\t%d\t%d\n",
				r.SSID, r.SecurityType, r.Compatible, e.BSSID, e.RSSIDBM, e.SNRDB, e.Channel)
		}
	}
	_ = w.Flush()
	return buf.String()
}
