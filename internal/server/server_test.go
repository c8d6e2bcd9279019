package server_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openwlan/wlanpolicyd/internal/server"
	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

func newTestServer(t *testing.T) (*httptest.Server, *wlan.Manager, *server.ResultCache) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	mgr := wlan.NewManager(newTestFakePhy(), wlan.NewInMemorySavedNetworkStore(), nil, logger)
	t.Cleanup(func() { _ = mgr.Close() })

	cache := server.NewResultCache()
	srv := httptest.NewServer(server.New(mgr, cache, logger))
	t.Cleanup(srv.Close)
	return srv, mgr, cache
}

func TestHandleListSessionsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("GET /v1/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("sessions = %v, want empty", out)
	}
}

func TestHandleScanResultsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/scan-results")
	if err != nil {
		t.Fatalf("GET /v1/scan-results: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("scan results = %v, want empty", out)
	}
}

func TestHandleScanResultsReflectsCache(t *testing.T) {
	srv, _, cache := newTestServer(t)

	bss := wlan.BSSDescription{
		SSID:         "corp-wifi",
		SecurityType: wlan.SecurityWPA2Personal,
		RSSIDBM:      -42,
		Channel:      6,
		Timestamp:    time.Now(),
	}
	results := []wlan.ScanResult{
		{
			ID:         bss.NetworkID(),
			Entries:    []wlan.BSSDescription{bss},
			Compatible: true,
		},
	}
	if err := cache.Deliver(t.Context(), wlan.NewResultIterator(results)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	resp, err := http.Get(srv.URL + "/v1/scan-results")
	if err != nil {
		t.Fatalf("GET /v1/scan-results: %v", err)
	}
	defer resp.Body.Close()

	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("scan results = %v, want 1 entry", out)
	}
	if out[0]["ssid"] != "corp-wifi" {
		t.Errorf("ssid = %v, want corp-wifi", out[0]["ssid"])
	}
}

func TestHandleConnectUnknownInterface(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"iface_id":      1,
		"ssid":          "corp-wifi",
		"security_type": "wpa2-personal",
		"password":      "hunter2hunter2",
	})
	resp, err := http.Post(srv.URL+"/v1/connect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown interface", resp.StatusCode)
	}
}

func TestHandleConnectMissingSSID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"iface_id": 1})
	resp, err := http.Post(srv.URL+"/v1/connect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing ssid", resp.StatusCode)
	}
}

func TestHandleDisconnectUnknownInterface(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"iface_id": 1})
	resp, err := http.Post(srv.URL+"/v1/disconnect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/disconnect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown interface", resp.StatusCode)
	}
}

func TestHandleSetCountryMissingAlpha2(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{})
	resp, err := http.Post(srv.URL+"/v1/set-country", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/set-country: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing alpha2", resp.StatusCode)
	}
}

func TestHandleSetCountryAccepted(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"alpha2": "US"})
	resp, err := http.Post(srv.URL+"/v1/set-country", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/set-country: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}
