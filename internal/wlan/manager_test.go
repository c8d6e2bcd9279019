package wlan

import (
	"context"
	"testing"
)

func TestManager_AddRemoveIface(t *testing.T) {
	phy := newFakePhy()
	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	sme := newFakeSME()
	ctx := context.Background()
	if err := mgr.AddIface(ctx, 1, "wlan0", sme); err != nil {
		t.Fatalf("AddIface: %v", err)
	}
	if err := mgr.AddIface(ctx, 1, "wlan0", sme); err == nil {
		t.Fatalf("expected error re-adding the same interface")
	}

	slots := mgr.Slots()
	if len(slots) != 1 || slots[0].IfaceID != 1 {
		t.Fatalf("unexpected slots: %+v", slots)
	}

	if err := mgr.RemoveIface(1); err != nil {
		t.Fatalf("RemoveIface: %v", err)
	}
	if err := mgr.RemoveIface(1); err == nil {
		t.Fatalf("expected error removing an already-removed interface")
	}
	if len(mgr.Slots()) != 0 {
		t.Fatalf("expected no slots after removal")
	}
}

func TestManager_ClosedRejectsAddIface(t *testing.T) {
	phy := newFakePhy()
	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	mgr.Close()

	if err := mgr.AddIface(context.Background(), 1, "wlan0", newFakeSME()); err == nil {
		t.Fatalf("expected ErrManagerClosed after Close")
	}
}

func TestManager_SetCountryRestoresInterfacesOnFailure(t *testing.T) {
	phy := newFakePhy()
	phy.countryErr = errSentinelTest
	phy.createIfces = []InterfaceSlot{{IfaceID: 5, IfName: "wlan0", Role: InterfaceRoleClient}}
	phy.smes[5] = newFakeSME()

	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	if err := mgr.AddIface(context.Background(), 5, "wlan0", newFakeSME()); err != nil {
		t.Fatalf("AddIface: %v", err)
	}

	err := mgr.SetCountry(context.Background(), "US")
	if err == nil {
		t.Fatalf("expected SetCountry to surface the underlying failure")
	}

	slots := mgr.Slots()
	if len(slots) != 1 {
		t.Fatalf("expected interfaces restored after set-country failure, got %d slots", len(slots))
	}
}

var errSentinelTest = &testSentinelError{"set country failed"}

type testSentinelError struct{ msg string }

func (e *testSentinelError) Error() string { return e.msg }

func TestManager_StartStopAp(t *testing.T) {
	phy := newFakePhy()
	phy.apSlot = &InterfaceSlot{IfaceID: 9, IfName: "wlan-ap0", Role: InterfaceRoleAP}

	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	cfg := ApConfig{SSID: "guest", SecurityType: SecurityWPA2Personal}
	if err := mgr.StartAp(context.Background(), cfg); err != nil {
		t.Fatalf("StartAp: %v", err)
	}
	if err := mgr.StartAp(context.Background(), cfg); err == nil {
		t.Fatalf("expected error starting an already-running ap")
	}

	if err := mgr.StopAp(context.Background(), "guest", SecurityWPA2Personal); err != nil {
		t.Fatalf("StopAp: %v", err)
	}
	if err := mgr.StopAp(context.Background(), "guest", SecurityWPA2Personal); err == nil {
		t.Fatalf("expected error stopping an already-stopped ap")
	}

	if len(phy.apDestroyed) != 1 || phy.apDestroyed[0] != 9 {
		t.Fatalf("expected ap interface 9 destroyed once, got %v", phy.apDestroyed)
	}
}

func TestManager_StopAllAps(t *testing.T) {
	phy := newFakePhy()
	phy.apSlot = &InterfaceSlot{IfaceID: 9, IfName: "wlan-ap0", Role: InterfaceRoleAP}

	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	if err := mgr.StartAp(context.Background(), ApConfig{SSID: "guest", SecurityType: SecurityWPA2Personal}); err != nil {
		t.Fatalf("StartAp: %v", err)
	}
	if err := mgr.StopAllAps(context.Background()); err != nil {
		t.Fatalf("StopAllAps: %v", err)
	}
	if err := mgr.StopAp(context.Background(), "guest", SecurityWPA2Personal); err == nil {
		t.Fatalf("expected no ap left running after StopAllAps")
	}
}

func TestManager_StartStopClientConnections(t *testing.T) {
	phy := newFakePhy()
	phy.createIfces = []InterfaceSlot{{IfaceID: 3, IfName: "wlan0", Role: InterfaceRoleClient}}
	phy.smes[3] = newFakeSME()

	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	if mgr.HasIdleIface() {
		t.Fatalf("expected no idle interfaces before StartClientConnections")
	}

	if err := mgr.StartClientConnections(context.Background()); err != nil {
		t.Fatalf("StartClientConnections: %v", err)
	}
	if len(mgr.Slots()) != 1 {
		t.Fatalf("expected one slot after StartClientConnections, got %d", len(mgr.Slots()))
	}
	if !mgr.HasIdleIface() {
		t.Fatalf("expected the newly started interface to be idle")
	}

	if err := mgr.StopClientConnections(context.Background(), DisconnectReasonRegulatoryRegionChange); err != nil {
		t.Fatalf("StopClientConnections: %v", err)
	}
	if len(mgr.Slots()) != 0 {
		t.Fatalf("expected no slots after StopClientConnections, got %d", len(mgr.Slots()))
	}
	if len(phy.destroyed) != 1 || phy.destroyed[0] != 3 {
		t.Fatalf("expected client interface 3 destroyed, got %v", phy.destroyed)
	}
}

func TestManager_TriggerNetworkSelectionFindsCandidate(t *testing.T) {
	phy := newFakePhy()
	store := NewInMemorySavedNetworkStore()
	store.Put(SavedNetwork{ID: NetworkIdentifier{SSID: "home", SecurityType: SecurityWPA2Personal}})

	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	sme := newFakeSME()
	sme.scanObservations = [][]BSSDescription{{
		{BSSID: [6]byte{1}, SSID: "home", SecurityType: SecurityWPA2Personal, RSSIDBM: -40},
	}}
	// Network selection fetches its scan SME from PhyManager.
	phy.smes[1] = sme
	if err := mgr.AddIface(context.Background(), 1, "wlan0", sme); err != nil {
		t.Fatalf("AddIface: %v", err)
	}

	found, err := mgr.triggerNetworkSelection(context.Background())
	if err != nil {
		t.Fatalf("triggerNetworkSelection: %v", err)
	}
	if !found {
		t.Fatalf("expected a candidate to be found")
	}
}

func TestManager_TriggerNetworkSelectionNoIdleSlot(t *testing.T) {
	phy := newFakePhy()
	store := NewInMemorySavedNetworkStore()
	store.Put(SavedNetwork{ID: NetworkIdentifier{SSID: "home", SecurityType: SecurityWPA2Personal}})

	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	found, err := mgr.triggerNetworkSelection(context.Background())
	if err != nil {
		t.Fatalf("triggerNetworkSelection: %v", err)
	}
	if found {
		t.Fatalf("expected no candidate without any registered interface")
	}
}

func TestManager_HasWpa3Iface(t *testing.T) {
	phy := newFakePhy()
	phy.wpa3Client = true
	store := NewInMemorySavedNetworkStore()
	mgr := NewManager(phy, store, nil, testLogger())
	defer mgr.Close()

	if !mgr.HasWpa3Iface() {
		t.Fatalf("expected HasWpa3Iface to delegate to PhyManager")
	}
}
