package wlan

import (
	"fmt"
	"time"
)

// SecurityType identifies the authentication/encryption scheme a network
// advertises or requires.
type SecurityType int

const (
	SecurityUnknown SecurityType = iota
	SecurityOpen
	SecurityWEP
	SecurityWPA1
	SecurityWPA2Personal
	SecurityWPA2Enterprise
	SecurityWPA3Personal
	SecurityWPA3Enterprise
)

func (s SecurityType) String() string {
	switch s {
	case SecurityOpen:
		return "open"
	case SecurityWEP:
		return "wep"
	case SecurityWPA1:
		return "wpa1"
	case SecurityWPA2Personal:
		return "wpa2-personal"
	case SecurityWPA2Enterprise:
		return "wpa2-enterprise"
	case SecurityWPA3Personal:
		return "wpa3-personal"
	case SecurityWPA3Enterprise:
		return "wpa3-enterprise"
	default:
		return "unknown"
	}
}

// NetworkIdentifier is the (SSID, SecurityType) pair that uniquely names a
// saved or observed network from the policy layer's point of view.
type NetworkIdentifier struct {
	SSID         string
	SecurityType SecurityType
}

func (n NetworkIdentifier) String() string {
	return fmt.Sprintf("%s/%s", n.SSID, n.SecurityType)
}

// CredentialKind distinguishes the shape of a Credential's secret material.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialPassword
	CredentialPSK
)

// Credential carries the secret material needed to authenticate to a
// network. The zero value is CredentialNone, valid for open networks.
type Credential struct {
	Kind     CredentialKind
	Password string
	PSK      [32]byte
}

// BSSDescription describes one observed basic service set: a single
// access point radio advertising a network. SSID/SecurityType are carried
// per-observation (as a real beacon/probe-response reports them), not
// looked up separately, so the aggregator (C2) can derive a
// NetworkIdentifier directly from each observation.
type BSSDescription struct {
	BSSID        [6]byte
	SSID         string
	SecurityType SecurityType
	RSSIDBM      int8
	SNRDB        int8
	Channel      uint16
	Timestamp    time.Time

	// ObservedInPassiveScan records whether this BSS was seen during the
	// passive sweep. The result aggregator (C2) treats this as sticky: a
	// later active-scan re-observation of the same BSSID never clears it.
	ObservedInPassiveScan bool
}

// NetworkID returns the NetworkIdentifier this observation belongs to.
func (b BSSDescription) NetworkID() NetworkIdentifier {
	return NetworkIdentifier{SSID: b.SSID, SecurityType: b.SecurityType}
}

func (b BSSDescription) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		b.BSSID[0], b.BSSID[1], b.BSSID[2], b.BSSID[3], b.BSSID[4], b.BSSID[5])
}

// ScanResult groups every observed BSS for a single network identifier,
// as produced by the result aggregator (C2) and handed to consumers by
// the result iterator (C3).
type ScanResult struct {
	ID         NetworkIdentifier
	Entries    []BSSDescription
	Compatible bool
}

// ConnectionCandidate is a fully resolved request to join a specific BSS
// of a specific network, carrying whatever credential the saved-networks
// store associated with it.
type ConnectionCandidate struct {
	NetworkID  NetworkIdentifier
	Credential Credential
	BSS        BSSDescription
}

// ScanReason distinguishes why a scan was initiated, for telemetry
// purposes (spec.md §4.4 step 6 gates the active-scan-SSIDs-requested
// metric on ScanReasonNetworkSelection specifically).
type ScanReason int

const (
	ScanReasonManual ScanReason = iota
	ScanReasonNetworkSelection
	ScanReasonPeriodicMonitor
)

// ConnectReason distinguishes why a connection attempt was initiated, for
// telemetry and retry-policy purposes.
type ConnectReason int

const (
	ConnectReasonIdleInterfaceConnect ConnectReason = iota
	ConnectReasonNewSavedNetwork
	ConnectReasonNetworkSelection
	ConnectReasonRetryAfterDisconnect
	ConnectReasonRoamSearch
)

// ConnectRequest carries a candidate plus the reason the state machine
// was asked to connect, which shapes retry and telemetry behavior.
type ConnectRequest struct {
	Candidate ConnectionCandidate
	Reason    ConnectReason
}

// DisconnectReason enumerates every cause the state machine or its
// collaborators may attribute a disconnection to.
type DisconnectReason int

const (
	DisconnectReasonUnknown DisconnectReason = iota
	DisconnectReasonFailedToConnect
	DisconnectReasonNetworkUnsaved
	DisconnectReasonNetworkConfigUpdated
	DisconnectReasonDisconnectDetectedFromSme
	DisconnectReasonProactiveNetworkSwitch
	DisconnectReasonRegulatoryRegionChange
	DisconnectReasonStartup
	DisconnectReasonRoamFailed
	DisconnectReasonRoamConnectionFailure
	DisconnectReasonIfaceDestroyed
	DisconnectReasonRemoveNetwork
	DisconnectReasonConnectionStopped
	DisconnectReasonConnectionFailedAfterRoamCancel
	DisconnectReasonFidlConnectRequest
	DisconnectReasonCredentialsFailed
)

func (d DisconnectReason) String() string {
	names := [...]string{
		"unknown",
		"failed_to_connect",
		"network_unsaved",
		"network_config_updated",
		"disconnect_detected_from_sme",
		"proactive_network_switch",
		"regulatory_region_change",
		"startup",
		"roam_failed",
		"roam_connection_failure",
		"iface_destroyed",
		"remove_network",
		"connection_stopped",
		"connection_failed_after_roam_cancel",
		"fidl_connect_request",
		"credentials_failed",
	}
	if int(d) < 0 || int(d) >= len(names) {
		return "unknown"
	}
	return names[d]
}

// SignalData is the latest RSSI/SNR sample pair observed for the current
// connection, updated from SME signal-report events.
type SignalData struct {
	RSSIDBM int8
	SNRDB   int8
}

// PastConnectionSummary records one prior connection's outcome.
// BssQualityData.PastConnections holds a list of them, but nothing in
// this package fills or reads that list: the Connected state does not
// load past connections and the quality sampler does not report them.
// The type comes from the original wlancfg source (see SPEC_FULL.md §4.1).
type PastConnectionSummary struct {
	BSSID       [6]byte
	ConnectedAt time.Time
	Uptime      time.Duration
	Disconnect  DisconnectReason
}

// BssQualityData is the rolling, EWMA-smoothed connection quality record
// the roaming sampler (C8) maintains for the currently connected BSS.
type BssQualityData struct {
	BSSID           [6]byte
	EWMARSSI        float64
	EWMASNR         float64
	SampleCount     uint32
	LastRoamScanAt  time.Time
	PastConnections []PastConnectionSummary
}

// InterfaceRole distinguishes the operating mode PhyManager assigned to
// an interface.
type InterfaceRole int

const (
	InterfaceRoleClient InterfaceRole = iota
	InterfaceRoleAP
	InterfaceRoleMesh
)

// InterfaceSlot is the interface manager's bookkeeping record for one
// client interface: its identity, its role, and the network
// configuration it is currently pursuing, if any. The state machine that
// owns the interface is held by the Manager alongside the slot.
type InterfaceSlot struct {
	IfaceID       uint16
	IfName        string
	Role          InterfaceRole
	CurrentConfig *NetworkIdentifier
}

// ApConfig describes one access-point-mode network the interface manager
// (C6) is asked to start via StartAp. Unlike a client NetworkIdentifier,
// an AP config names its own credential directly (there is no
// saved-networks lookup on the AP side).
type ApConfig struct {
	SSID         string
	SecurityType SecurityType
	Credential   Credential
	Channel      uint16
}

// NetworkID returns the NetworkIdentifier this AP config corresponds to,
// for matching against StopAp(ssid, credential) requests.
func (c ApConfig) NetworkID() NetworkIdentifier {
	return NetworkIdentifier{SSID: c.SSID, SecurityType: c.SecurityType}
}
