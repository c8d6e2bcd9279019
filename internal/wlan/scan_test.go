package wlan

import (
	"context"
	"testing"
)

func TestScanOrchestrator_SkipsActiveScanWithNoHiddenCandidates(t *testing.T) {
	sme := newFakeSME()
	sme.scanObservations = [][]BSSDescription{
		{{SSID: "open-net", SecurityType: SecurityOpen, RSSIDBM: -50}},
	}
	store := NewInMemorySavedNetworkStore()
	orch := NewScanOrchestrator(sme, store, nil, testLogger())

	results, err := orch.PerformScan(context.Background(), ScanReasonManual, nil)
	if err != nil {
		t.Fatalf("PerformScan: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	sme.mu.Lock()
	calls := sme.scanCalls
	sme.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected only the passive scan to run with no hidden candidates, got %d scan calls", calls)
	}
}

func TestScanOrchestrator_ActiveScanForHiddenCandidates(t *testing.T) {
	sme := newFakeSME()
	sme.scanObservations = [][]BSSDescription{
		{{SSID: "visible", SecurityType: SecurityOpen, RSSIDBM: -50}},
		{{SSID: "hidden-net", SecurityType: SecurityWPA2Personal, RSSIDBM: -55}},
	}
	store := NewInMemorySavedNetworkStore()
	store.Put(SavedNetwork{ID: NetworkIdentifier{SSID: "hidden-net", SecurityType: SecurityWPA2Personal}, Hidden: true})

	orch := NewScanOrchestrator(sme, store, nil, testLogger())
	results, err := orch.PerformScan(context.Background(), ScanReasonManual, nil)
	if err != nil {
		t.Fatalf("PerformScan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results (visible + hidden), got %d", len(results))
	}

	sme.mu.Lock()
	calls := sme.scanCalls
	sme.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected passive + directed active scan, got %d scan calls", calls)
	}
}

func TestScanOrchestrator_DeliversToAllConsumers(t *testing.T) {
	sme := newFakeSME()
	sme.scanObservations = [][]BSSDescription{
		{{SSID: "net1", SecurityType: SecurityWPA2Personal, RSSIDBM: -50}},
	}
	store := NewInMemorySavedNetworkStore()
	orch := NewScanOrchestrator(sme, store, nil, testLogger())

	delivered := make(chan string, 3)
	consumer := func(name string) ScanResultConsumer {
		return ScanResultConsumerFunc(func(ctx context.Context, it *ResultIterator) error {
			delivered <- name
			for {
				batch, err := it.Next()
				if err != nil || batch == nil {
					return nil
				}
			}
		})
	}

	_, err := orch.PerformScan(context.Background(), ScanReasonManual, []ScanResultConsumer{
		consumer("selector"), consumer("location"), consumer("external"),
	})
	if err != nil {
		t.Fatalf("PerformScan: %v", err)
	}
	close(delivered)

	got := map[string]bool{}
	for name := range delivered {
		got[name] = true
	}
	for _, want := range []string{"selector", "location", "external"} {
		if !got[want] {
			t.Fatalf("consumer %q was not delivered to", want)
		}
	}
}

func TestScanOrchestrator_EarlyCloseToleratedNotFailed(t *testing.T) {
	sme := newFakeSME()
	sme.scanObservations = [][]BSSDescription{
		{{SSID: "net1", SecurityType: SecurityWPA2Personal, RSSIDBM: -50}},
	}
	store := NewInMemorySavedNetworkStore()
	orch := NewScanOrchestrator(sme, store, nil, testLogger())

	closer := ScanResultConsumerFunc(func(ctx context.Context, it *ResultIterator) error {
		it.Close()
		_, err := it.Next()
		return err
	})

	if _, err := orch.PerformScan(context.Background(), ScanReasonManual, []ScanResultConsumer{closer}); err != nil {
		t.Fatalf("expected early-close consumer to be tolerated, got error: %v", err)
	}
}

func TestResolveCandidates_SkipsIncompatibleAndUnsaved(t *testing.T) {
	store := NewInMemorySavedNetworkStore()
	saved := NetworkIdentifier{SSID: "saved", SecurityType: SecurityWPA2Personal}
	store.Put(SavedNetwork{ID: saved})

	results := []ScanResult{
		{ID: saved, Compatible: true, Entries: []BSSDescription{{BSSID: [6]byte{1}, RSSIDBM: -40}}},
		{ID: NetworkIdentifier{SSID: "unsaved", SecurityType: SecurityOpen}, Compatible: true, Entries: []BSSDescription{{BSSID: [6]byte{2}, RSSIDBM: -30}}},
		{ID: NetworkIdentifier{SSID: "wep", SecurityType: SecurityWEP}, Compatible: false, Entries: []BSSDescription{{BSSID: [6]byte{3}, RSSIDBM: -20}}},
	}

	candidates := ResolveCandidates(store, results)
	if len(candidates) != 1 {
		t.Fatalf("expected exactly 1 resolvable candidate, got %d", len(candidates))
	}
	if candidates[0].NetworkID != saved {
		t.Fatalf("unexpected candidate network: %v", candidates[0].NetworkID)
	}
}
