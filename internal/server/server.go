// Package server exposes the connection manager's liveness and status
// surface over HTTP: the standard grpchealth service plus a small
// JSON-over-HTTP status API standing in for the full policy IPC surface
// spec.md §1 places out of scope.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

// Sentinel errors for the status API's request validation.
var (
	// ErrMissingIfaceID indicates a request was missing the iface_id field.
	ErrMissingIfaceID = errors.New("iface_id is required")

	// ErrMissingSSID indicates a connect request was missing the ssid field.
	ErrMissingSSID = errors.New("ssid is required")

	// ErrMissingAlpha2 indicates a set-country request was missing the
	// alpha2 field.
	ErrMissingAlpha2 = errors.New("alpha2 is required")
)

// liveServiceName is the value reported by grpchealth for this daemon,
// mirroring the teacher's static checker registration for its own BFD
// service name.
const liveServiceName = "wlanpolicyd.v1.PolicyService"

// Server is a thin HTTP adapter between the status API and wlan.Manager.
// Each handler delegates directly to the manager; no domain logic lives
// here, same division of responsibility as the teacher's BFDServer.
type Server struct {
	mgr    *wlan.Manager
	cache  *ResultCache
	logger *slog.Logger
}

// New builds the combined grpchealth + JSON status HTTP handler. mgr and
// cache must be non-nil; cache should be the same ResultCache instance
// registered with mgr via wlan.WithScanConsumers so /v1/scan-results
// reflects actual scan activity.
func New(mgr *wlan.Manager, cache *ResultCache, logger *slog.Logger) http.Handler {
	srv := &Server{
		mgr:    mgr,
		cache:  cache,
		logger: logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.Handle(grpchealth.NewHandler(
		grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName, liveServiceName),
		connect.WithInterceptors(LoggingInterceptor(logger), RecoveryInterceptor(logger)),
	))
	mux.HandleFunc("GET /v1/sessions", srv.handleListSessions)
	mux.HandleFunc("GET /v1/scan-results", srv.handleScanResults)
	mux.HandleFunc("POST /v1/connect", srv.handleConnect)
	mux.HandleFunc("POST /v1/disconnect", srv.handleDisconnect)
	mux.HandleFunc("POST /v1/set-country", srv.handleSetCountry)
	return mux
}

// -------------------------------------------------------------------------
// GET /v1/sessions
// -------------------------------------------------------------------------

type sessionDTO struct {
	IfaceID       uint16  `json:"iface_id"`
	IfName        string  `json:"if_name"`
	Role          string  `json:"role"`
	CurrentSSID   *string `json:"current_ssid,omitempty"`
	CurrentSecure *string `json:"current_security,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	slots := s.mgr.Slots()
	out := make([]sessionDTO, 0, len(slots))
	for _, slot := range slots {
		dto := sessionDTO{
			IfaceID: slot.IfaceID,
			IfName:  slot.IfName,
			Role:    roleString(slot.Role),
		}
		if slot.CurrentConfig != nil {
			ssid := slot.CurrentConfig.SSID
			sec := slot.CurrentConfig.SecurityType.String()
			dto.CurrentSSID = &ssid
			dto.CurrentSecure = &sec
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func roleString(r wlan.InterfaceRole) string {
	switch r {
	case wlan.InterfaceRoleAP:
		return "ap"
	case wlan.InterfaceRoleMesh:
		return "mesh"
	default:
		return "client"
	}
}

// -------------------------------------------------------------------------
// GET /v1/scan-results
// -------------------------------------------------------------------------

type bssDTO struct {
	BSSID   string `json:"bssid"`
	SSID    string `json:"ssid"`
	RSSIDBM int8   `json:"rssi_dbm"`
	SNRDB   int8   `json:"snr_db"`
	Channel uint16 `json:"channel"`
}

type scanResultDTO struct {
	SSID         string   `json:"ssid"`
	SecurityType string   `json:"security_type"`
	Compatible   bool     `json:"compatible"`
	Entries      []bssDTO `json:"entries"`
}

// handleScanResults serves the last scan's aggregated results, pulled
// through a fresh wlan.ResultIterator batch-by-batch exactly the way a
// streaming consumer would, so the size-bounded pull framing of C3 is
// exercised even though the transport here is a single JSON response.
func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	it := s.cache.Iterator()
	defer it.Close()

	var all []wlan.ScanResult
	for {
		batch, err := it.Next()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if batch == nil {
			break
		}
		all = append(all, batch...)
	}

	wpa3Capable := s.mgr.HasWpa3Iface()
	out := make([]scanResultDTO, 0, len(all))
	for _, res := range all {
		// Per spec.md §4.2/§8: a result whose security has no external
		// projection (Unknown) is dropped entirely, never surfaced with a
		// fabricated label.
		sec, ok := wlan.ProjectExternalSecurity(res.ID.SecurityType, wpa3Capable)
		if !ok {
			continue
		}

		entries := make([]bssDTO, 0, len(res.Entries))
		for _, bss := range res.Entries {
			entries = append(entries, bssDTO{
				BSSID:   hex.EncodeToString(bss.BSSID[:]),
				SSID:    bss.SSID,
				RSSIDBM: bss.RSSIDBM,
				SNRDB:   bss.SNRDB,
				Channel: bss.Channel,
			})
		}
		out = append(out, scanResultDTO{
			SSID:         res.ID.SSID,
			SecurityType: sec.String(),
			Compatible:   res.Compatible,
			Entries:      entries,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// -------------------------------------------------------------------------
// POST /v1/connect
// -------------------------------------------------------------------------

type connectRequestDTO struct {
	IfaceID      uint16 `json:"iface_id"`
	SSID         string `json:"ssid"`
	SecurityType string `json:"security_type"`
	Password     string `json:"password,omitempty"`
	BSSID        string `json:"bssid,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.SSID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingSSID)
		return
	}

	candidate := wlan.ConnectionCandidate{
		NetworkID: wlan.NetworkIdentifier{
			SSID:         req.SSID,
			SecurityType: securityFromString(req.SecurityType),
		},
	}
	// Leave candidate.BSS at its zero value when the caller did not name a
	// specific BSSID: per spec.md §4.5, an absent BSSDescription (detected
	// by ClientStateMachine.doConnect via an empty BSS.SSID) forces the
	// Connecting state to resolve one itself with a directed active scan
	// before it may call SME connect.
	if req.BSSID != "" {
		mac, err := hex.DecodeString(req.BSSID)
		if err != nil || len(mac) != 6 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bssid %q: invalid MAC", req.BSSID))
			return
		}
		candidate.BSS = wlan.BSSDescription{
			SSID:         req.SSID,
			SecurityType: securityFromString(req.SecurityType),
			Timestamp:    time.Now(),
		}
		copy(candidate.BSS.BSSID[:], mac)
	}
	if req.Password != "" {
		candidate.Credential = wlan.Credential{Kind: wlan.CredentialPassword, Password: req.Password}
	}

	err := s.mgr.Connect(r.Context(), req.IfaceID, wlan.ConnectRequest{
		Candidate: candidate,
		Reason:    wlan.ConnectReasonNetworkSelection,
	})
	if err != nil {
		writeError(w, statusForManagerError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func securityFromString(s string) wlan.SecurityType {
	switch s {
	case "open":
		return wlan.SecurityOpen
	case "wep":
		return wlan.SecurityWEP
	case "wpa1":
		return wlan.SecurityWPA1
	case "wpa2-personal":
		return wlan.SecurityWPA2Personal
	case "wpa2-enterprise":
		return wlan.SecurityWPA2Enterprise
	case "wpa3-personal":
		return wlan.SecurityWPA3Personal
	case "wpa3-enterprise":
		return wlan.SecurityWPA3Enterprise
	default:
		return wlan.SecurityUnknown
	}
}

// -------------------------------------------------------------------------
// POST /v1/disconnect
// -------------------------------------------------------------------------

type disconnectRequestDTO struct {
	IfaceID uint16 `json:"iface_id"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := s.mgr.Disconnect(r.Context(), req.IfaceID, wlan.DisconnectReasonFidlConnectRequest); err != nil {
		writeError(w, statusForManagerError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// -------------------------------------------------------------------------
// POST /v1/set-country
// -------------------------------------------------------------------------

type setCountryRequestDTO struct {
	Alpha2 string `json:"alpha2"`
}

func (s *Server) handleSetCountry(w http.ResponseWriter, r *http.Request) {
	var req setCountryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Alpha2 == "" {
		writeError(w, http.StatusBadRequest, ErrMissingAlpha2)
		return
	}

	if err := s.mgr.SetCountry(r.Context(), req.Alpha2); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// -------------------------------------------------------------------------
// Internal helpers
// -------------------------------------------------------------------------

func statusForManagerError(err error) int {
	switch {
	case errors.Is(err, wlan.ErrInterfaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, wlan.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, wlan.ErrNoClientInterfaces):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// -------------------------------------------------------------------------
// ResultCache — the scan result consumer backing /v1/scan-results
// -------------------------------------------------------------------------

// ResultCache implements wlan.ScanResultConsumer, draining each scan's
// ResultIterator into a plain slice that the HTTP status surface can read
// back out through a fresh iterator on demand.
type ResultCache struct {
	mu      sync.Mutex
	results []wlan.ScanResult
}

// NewResultCache constructs an empty result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{}
}

// Deliver drains it fully and replaces the cached result set.
func (c *ResultCache) Deliver(ctx context.Context, it *wlan.ResultIterator) error {
	var all []wlan.ScanResult
	for {
		batch, err := it.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		all = append(all, batch...)
	}
	c.mu.Lock()
	c.results = all
	c.mu.Unlock()
	return nil
}

// Iterator returns a fresh ResultIterator over the most recently cached
// scan results.
func (c *ResultCache) Iterator() *wlan.ResultIterator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wlan.NewResultIterator(c.results)
}
