package wlan

import "sort"

// aggregator.go implements C2: folding a stream of raw BSS observations
// into one ScanResult per network identifier, sorted for stable delivery.

// ResultAggregator accumulates BSS observations across one or more scan
// passes (a passive pass followed by a targeted active pass) and projects
// them into per-network ScanResults.
type ResultAggregator struct {
	byNetwork map[NetworkIdentifier]*aggregateEntry
}

type aggregateEntry struct {
	entries    []BSSDescription
	seenBSSID  map[[6]byte]bool
	compatible bool
}

// NewResultAggregator returns an empty aggregator.
func NewResultAggregator() *ResultAggregator {
	return &ResultAggregator{byNetwork: make(map[NetworkIdentifier]*aggregateEntry)}
}

// Insert folds one raw observation into the running aggregate, keyed by
// the NetworkIdentifier the observation itself carries (the
// security-projection step of C2: SSID + SecurityType together name the
// network). IsCompatibleSecurity decides whether this particular
// observation is connectable by this driver.
//
// Within one network, BSSIDs are deduplicated: the first observation of
// a BSSID wins outright, later observations of the same BSSID are
// dropped. Because PerformScan always inserts the passive sweep before
// any directed active scan, this alone guarantees a later active-scan
// observation never displaces a passive one — ObservedInPassiveScan
// stays whatever the surviving first observation set it to.
func (a *ResultAggregator) Insert(bss BSSDescription) {
	id := bss.NetworkID()
	compatible := IsCompatibleSecurity(bss.SecurityType)
	e, ok := a.byNetwork[id]
	if !ok {
		e = &aggregateEntry{seenBSSID: make(map[[6]byte]bool)}
		a.byNetwork[id] = e
	}
	if !e.seenBSSID[bss.BSSID] {
		e.seenBSSID[bss.BSSID] = true
		e.entries = append(e.entries, bss)
	}
	// A network is compatible if any observed BSS for it is. All BSSs in
	// one entry share its SecurityType, so they agree; a WEP AP reusing an
	// SSID lands in an entry of its own.
	e.compatible = e.compatible || compatible
}

// Results returns the accumulated ScanResults, sorted lexicographically by
// SSID (spec.md §4.2's projection order and §8's iterator-ordering
// property); within a network, entries are ordered by descending RSSI so
// the strongest BSS sorts first for ResolveCandidates' benefit.
func (a *ResultAggregator) Results() []ScanResult {
	out := make([]ScanResult, 0, len(a.byNetwork))
	for id, e := range a.byNetwork {
		entries := append([]BSSDescription(nil), e.entries...)
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].RSSIDBM > entries[j].RSSIDBM
		})
		out = append(out, ScanResult{ID: id, Entries: entries, Compatible: e.compatible})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.SSID != out[j].ID.SSID {
			return out[i].ID.SSID < out[j].ID.SSID
		}
		return out[i].ID.SecurityType < out[j].ID.SecurityType
	})
	return out
}

// Len reports the number of distinct networks aggregated so far.
func (a *ResultAggregator) Len() int {
	return len(a.byNetwork)
}

// IsCompatibleSecurity reports whether this driver stack can join a
// network advertising the given security type. WEP and unknown/malformed
// advertisements are never joinable; everything else is.
func IsCompatibleSecurity(s SecurityType) bool {
	switch s {
	case SecurityWEP, SecurityUnknown:
		return false
	default:
		return true
	}
}

// ExternalSecurity is the collapsed 5-value security vocabulary spec.md
// §4.2 exposes across the external API surface, as opposed to the
// detailed internal SecurityType a BSS observation actually carries.
type ExternalSecurity int

const (
	ExternalSecurityNone ExternalSecurity = iota
	ExternalSecurityWep
	ExternalSecurityWpa
	ExternalSecurityWpa2
	ExternalSecurityWpa3
)

func (e ExternalSecurity) String() string {
	switch e {
	case ExternalSecurityNone:
		return "none"
	case ExternalSecurityWep:
		return "wep"
	case ExternalSecurityWpa:
		return "wpa"
	case ExternalSecurityWpa2:
		return "wpa2"
	case ExternalSecurityWpa3:
		return "wpa3"
	default:
		return "none"
	}
}

// ProjectExternalSecurity implements spec.md §4.2's external security
// projection: WPA3-family collapses to Wpa3 only when this station is
// itself WPA3-capable (wpa3Capable), otherwise to Wpa2; WPA2-family always
// collapses to Wpa2; WPA1 to Wpa; WEP to Wep; Open to None. Unknown has no
// external representation and is reported via ok=false so the caller can
// drop the result entirely, per spec.md §8's injectivity invariant over
// the five external values.
func ProjectExternalSecurity(s SecurityType, wpa3Capable bool) (ExternalSecurity, bool) {
	switch s {
	case SecurityOpen:
		return ExternalSecurityNone, true
	case SecurityWEP:
		return ExternalSecurityWep, true
	case SecurityWPA1:
		return ExternalSecurityWpa, true
	case SecurityWPA2Personal, SecurityWPA2Enterprise:
		return ExternalSecurityWpa2, true
	case SecurityWPA3Personal, SecurityWPA3Enterprise:
		if wpa3Capable {
			return ExternalSecurityWpa3, true
		}
		return ExternalSecurityWpa2, true
	default:
		return 0, false
	}
}
