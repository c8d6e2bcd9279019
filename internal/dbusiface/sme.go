package dbusiface

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

// sme.go implements wlan.SMETransport against one
// fi.w1.wpa_supplicant1.Interface object, grounded on the IWD reference
// client's Scan/Connect/Disconnect call shapes: a method call kicks off
// the operation, and a PropertiesChanged (or, for scans, a dedicated
// ScanDone) signal reports completion asynchronously.

// SME adapts one wpa_supplicant interface object into wlan.SMETransport.
type SME struct {
	conn   *Conn
	path   dbus.ObjectPath
	obj    dbus.BusObject
	logger *slog.Logger

	mu      sync.Mutex
	events  chan wlan.SMEEvent
	closed  bool
	stopFwd context.CancelFunc
}

// NewSME binds an SME adapter to one interface object path exported by the
// SME bus name.
func NewSME(conn *Conn, path dbus.ObjectPath, logger *slog.Logger) *SME {
	return &SME{
		conn:   conn,
		path:   path,
		obj:    conn.bus.Object(conn.cfg.SMEBusName, path),
		logger: logger.With(slog.String("component", "dbusiface.sme"), slog.String("path", string(path))),
	}
}

// Scan issues one Scan call and waits for the matching ScanDone signal,
// then reads back the resulting BSS list via the BSSs property and the
// per-BSS property bags. It does not retry; RetryingSMETransport owns
// that policy.
func (s *SME) Scan(ctx context.Context, req wlan.ScanRequest) ([]wlan.BSSDescription, error) {
	args := map[string]dbus.Variant{"Type": dbus.MakeVariant(scanTypeString(req.Kind))}
	if req.Kind == wlan.ScanActive && len(req.SSIDs) > 0 {
		ssids := make([][]byte, len(req.SSIDs))
		for i, ssid := range req.SSIDs {
			ssids[i] = []byte(ssid)
		}
		args["SSIDs"] = dbus.MakeVariant(ssids)
	}

	sigCh := s.conn.signalsFor(s.path)
	if err := s.obj.Call(ifaceIface+".Scan", 0, args).Err; err != nil {
		return nil, classifyDBusError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig, ok := <-sigCh:
			if !ok {
				return nil, wlan.ErrSMEUnavailable
			}
			if sig.Name != ifaceIface+".ScanDone" {
				continue
			}
			success, _ := firstBool(sig.Body)
			if !success {
				return nil, fmt.Errorf("sme scan: %w", wlan.ErrSMEBusy)
			}
			return s.fetchBSSList(ctx)
		}
	}
}

func (s *SME) fetchBSSList(ctx context.Context) ([]wlan.BSSDescription, error) {
	var bssPaths []dbus.ObjectPath
	if err := s.obj.Call(propsIface+".Get", 0, ifaceIface, "BSSs").Store(&bssPaths); err != nil {
		return nil, fmt.Errorf("get BSSs property: %w", err)
	}

	out := make([]wlan.BSSDescription, 0, len(bssPaths))
	for _, p := range bssPaths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		bss, err := s.fetchBSS(p)
		if err != nil {
			s.logger.Warn("skipping unreadable BSS object", slog.String("bss_path", string(p)), slog.String("err", err.Error()))
			continue
		}
		out = append(out, bss)
	}
	return out, nil
}

func (s *SME) fetchBSS(path dbus.ObjectPath) (wlan.BSSDescription, error) {
	obj := s.conn.bus.Object(s.conn.cfg.SMEBusName, path)
	var props map[string]dbus.Variant
	if err := obj.Call(propsIface+".GetAll", 0, bssIface).Store(&props); err != nil {
		return wlan.BSSDescription{}, err
	}

	var bss wlan.BSSDescription
	if mac, ok := propertyValue[[]byte](props, "BSSID"); ok && len(mac) == 6 {
		copy(bss.BSSID[:], mac)
	}
	if ssid, ok := propertyValue[[]byte](props, "SSID"); ok {
		bss.SSID = string(ssid)
	}
	if rssi, ok := propertyValue[int16](props, "Signal"); ok {
		bss.RSSIDBM = int8(clampInt(int(rssi), -128, 127))
	}
	if freq, ok := propertyValue[uint16](props, "Frequency"); ok {
		bss.Channel = freqToChannel(freq)
	}
	bss.SecurityType = securityFromWPA(props)
	return bss, nil
}

// Connect issues AddNetwork + SelectNetwork against the candidate, then
// blocks on the Interface's State property reaching "completed" (success)
// or a terminal disconnected state (failure). On success it starts the
// background forwarder that turns subsequent State/signal changes into
// SMEEvents.
func (s *SME) Connect(ctx context.Context, candidate wlan.ConnectionCandidate) (wlan.ConnectOutcome, error) {
	netPath, err := s.addNetwork(candidate)
	if err != nil {
		return wlan.ConnectOutcome{}, classifyDBusError(err)
	}

	sigCh := s.conn.signalsFor(s.path)
	if err := s.obj.Call(ifaceIface+".SelectNetwork", 0, netPath).Err; err != nil {
		return wlan.ConnectOutcome{}, classifyDBusError(err)
	}

	for {
		select {
		case <-ctx.Done():
			return wlan.ConnectOutcome{}, ctx.Err()
		case sig, ok := <-sigCh:
			if !ok {
				return wlan.ConnectOutcome{}, wlan.ErrSMEUnavailable
			}
			if sig.Name != propsIface+".PropertiesChanged" {
				continue
			}
			changed, ok := propertiesChangedMap(sig.Body)
			if !ok {
				continue
			}
			state, ok := propertyValue[string](changed, "State")
			if !ok {
				continue
			}
			switch state {
			case "completed":
				s.startForwarder()
				return wlan.ConnectOutcome{Success: true}, nil
			case "disconnected", "inactive":
				if credentialRejected(changed) {
					return wlan.ConnectOutcome{
						Success:              false,
						Reason:               wlan.DisconnectReasonCredentialsFailed,
						IsCredentialRejected: true,
					}, nil
				}
				return wlan.ConnectOutcome{Success: false, Reason: wlan.DisconnectReasonFailedToConnect}, nil
			}
		}
	}
}

func (s *SME) addNetwork(candidate wlan.ConnectionCandidate) (dbus.ObjectPath, error) {
	args := map[string]dbus.Variant{
		"ssid": dbus.MakeVariant([]byte(candidate.NetworkID.SSID)),
	}
	switch candidate.Credential.Kind {
	case wlan.CredentialPassword:
		args["key_mgmt"] = dbus.MakeVariant(keyMgmtFor(candidate.NetworkID.SecurityType))
		args["psk"] = dbus.MakeVariant(candidate.Credential.Password)
	case wlan.CredentialPSK:
		args["key_mgmt"] = dbus.MakeVariant(keyMgmtFor(candidate.NetworkID.SecurityType))
		args["psk"] = dbus.MakeVariant(hex.EncodeToString(candidate.Credential.PSK[:]))
	default:
		args["key_mgmt"] = dbus.MakeVariant("NONE")
	}

	var netPath dbus.ObjectPath
	err := s.obj.Call(ifaceIface+".AddNetwork", 0, args).Store(&netPath)
	return netPath, err
}

func keyMgmtFor(sec wlan.SecurityType) string {
	switch sec {
	case wlan.SecurityWPA2Enterprise, wlan.SecurityWPA3Enterprise:
		return "WPA-EAP"
	case wlan.SecurityWPA3Personal:
		return "SAE"
	case wlan.SecurityWEP:
		return "NONE"
	default:
		return "WPA-PSK"
	}
}

// startForwarder begins delivering PropertiesChanged-derived events on the
// channel returned by Events, until Disconnect or a transport-loss signal
// stops it.
func (s *SME) startForwarder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.events == nil {
		s.events = make(chan wlan.SMEEvent, 8)
	}
	fwdCtx, cancel := context.WithCancel(context.Background())
	s.stopFwd = cancel
	sigCh := s.conn.signalsFor(s.path)
	go s.forward(fwdCtx, sigCh)
}

func (s *SME) forward(ctx context.Context, sigCh <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				s.emit(wlan.SMEEvent{Kind: wlan.SMEEventConnectDrop})
				return
			}
			if sig.Name != propsIface+".PropertiesChanged" {
				continue
			}
			changed, ok := propertiesChangedMap(sig.Body)
			if !ok {
				continue
			}
			if state, ok := propertyValue[string](changed, "State"); ok && (state == "disconnected" || state == "inactive") {
				s.emit(wlan.SMEEvent{Kind: wlan.SMEEventDisconnect, Disconnect: wlan.DisconnectReasonDisconnectDetectedFromSme})
				return
			}
			if signal, ok := signalFromChanged(changed); ok {
				s.emit(wlan.SMEEvent{Kind: wlan.SMEEventSignalReport, Signal: signal})
			}
		}
	}
}

func (s *SME) emit(ev wlan.SMEEvent) {
	s.mu.Lock()
	ch := s.events
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		s.logger.Warn("dropped sme event, events channel full", slog.Int("kind", int(ev.Kind)))
	}
}

// Disconnect issues a Disconnect call and stops the event forwarder,
// closing the Events channel.
func (s *SME) Disconnect(ctx context.Context, reason wlan.DisconnectReason) error {
	s.logger.Debug("disconnecting", slog.String("reason", reason.String()))
	err := s.obj.Call(ifaceIface+".Disconnect", 0).Err

	s.mu.Lock()
	if s.stopFwd != nil {
		s.stopFwd()
		s.stopFwd = nil
	}
	if s.events != nil && !s.closed {
		close(s.events)
		s.closed = true
	}
	s.mu.Unlock()

	if err != nil {
		return classifyDBusError(err)
	}
	return nil
}

// Events returns the channel of post-connect notifications. It is created
// lazily so a caller may fetch it before the first successful Connect.
func (s *SME) Events() <-chan wlan.SMEEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(chan wlan.SMEEvent, 8)
	}
	return s.events
}

func scanTypeString(kind wlan.ScanKind) string {
	if kind == wlan.ScanActive {
		return "active"
	}
	return "passive"
}

func firstBool(body []interface{}) (bool, bool) {
	if len(body) == 0 {
		return false, false
	}
	b, ok := body[0].(bool)
	return b, ok
}

// propertiesChangedMap extracts the "changed properties" map from a
// standard org.freedesktop.DBus.Properties.PropertiesChanged signal body:
// (interface string, changed map[string]dbus.Variant, invalidated []string).
func propertiesChangedMap(body []interface{}) (map[string]dbus.Variant, bool) {
	if len(body) < 2 {
		return nil, false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	return changed, ok
}

// reason802_11HandshakeTimeout is the 802.11 DisconnectReason wpa_supplicant
// reports (IEEE 802.11-2020 Table 9-49, reason code 15,
// "4-Way Handshake timeout") when it tears a connection down because the
// peer never completed the handshake — the observable signature of a
// rejected PSK/password, since wpa_supplicant's D-Bus surface has no
// dedicated "bad credentials" boolean of its own.
const reason802_11HandshakeTimeout = 15

// credentialRejected reports whether the just-failed connect attempt's
// PropertiesChanged batch carries a DisconnectReason consistent with a
// rejected credential rather than a generic link failure.
func credentialRejected(changed map[string]dbus.Variant) bool {
	reason, ok := propertyValue[int32](changed, "DisconnectReason")
	if !ok {
		return false
	}
	return reason == reason802_11HandshakeTimeout || reason == -reason802_11HandshakeTimeout
}

func signalFromChanged(changed map[string]dbus.Variant) (wlan.SignalData, bool) {
	rssi, rssiOK := propertyValue[int16](changed, "Signal")
	if !rssiOK {
		return wlan.SignalData{}, false
	}
	snr, _ := propertyValue[int16](changed, "SNR")
	return wlan.SignalData{
		RSSIDBM: int8(clampInt(int(rssi), -128, 127)),
		SNRDB:   int8(clampInt(int(snr), -128, 127)),
	}, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// freqToChannel converts a 2.4/5/6 GHz center frequency in MHz to a
// channel number using the same band breakpoints the kernel's cfg80211
// uses; frequencies outside any known band map to 0.
func freqToChannel(freqMHz uint16) uint16 {
	switch {
	case freqMHz == 2484:
		return 14
	case freqMHz >= 2412 && freqMHz <= 2472:
		return (freqMHz - 2412) / 5 + 1
	case freqMHz >= 5180 && freqMHz <= 5885:
		return (freqMHz - 5000) / 5
	case freqMHz >= 5955 && freqMHz <= 7115:
		return (freqMHz - 5950) / 5
	default:
		return 0
	}
}

// securityFromWPA inspects the BSS's advertised RSN/WPA property bags to
// classify its SecurityType. wpa_supplicant exposes these as nested
// a{sv} maps keyed by cipher/key-mgmt suite names.
func securityFromWPA(props map[string]dbus.Variant) wlan.SecurityType {
	if _, ok := props["RSN"]; ok {
		rsn, _ := propertyValue[map[string]dbus.Variant](props, "RSN")
		if keyMgmt, ok := propertyValue[[]string](rsn, "KeyMgmt"); ok {
			for _, km := range keyMgmt {
				if strings.Contains(strings.ToUpper(km), "SAE") {
					return wlan.SecurityWPA3Personal
				}
				if strings.Contains(strings.ToUpper(km), "EAP") {
					return wlan.SecurityWPA2Enterprise
				}
			}
		}
		return wlan.SecurityWPA2Personal
	}
	if _, ok := props["WPA"]; ok {
		return wlan.SecurityWPA1
	}
	if priv, ok := propertyValue[uint16](props, "Privacy"); ok && priv != 0 {
		return wlan.SecurityWEP
	}
	return wlan.SecurityOpen
}

// classifyDBusError maps a raw godbus error onto the narrow error
// vocabulary SMETransport callers expect. wpa_supplicant's D-Bus errors
// don't carry a machine-readable "busy" code, so this matches on the
// D-Bus error name convention (<Interface>.Error.<Reason>) the same way
// the reference IWD client distinguishes NotConnected/Failed/InProgress.
func classifyDBusError(err error) error {
	if err == nil {
		return nil
	}
	var dbusErr dbus.Error
	if ok := dbusErrorAs(err, &dbusErr); ok {
		switch {
		case strings.HasSuffix(dbusErr.Name, ".InProgress"), strings.HasSuffix(dbusErr.Name, ".Busy"):
			return fmt.Errorf("%s: %w", dbusErr.Name, wlan.ErrSMEBusy)
		case strings.HasSuffix(dbusErr.Name, ".UnknownObject"), strings.HasSuffix(dbusErr.Name, ".ServiceUnknown"):
			return fmt.Errorf("%s: %w", dbusErr.Name, wlan.ErrSMEUnavailable)
		}
	}
	return fmt.Errorf("sme d-bus call: %w", err)
}

func dbusErrorAs(err error, target *dbus.Error) bool {
	de, ok := err.(dbus.Error)
	if !ok {
		return false
	}
	*target = de
	return true
}
