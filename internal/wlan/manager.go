package wlan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// manager.go implements C6: the interface manager. It owns the inventory
// of client interface slots, spawns and tears down one ClientStateMachine
// goroutine per interface (the same decoupled-context spawn pattern as
// bfd.Manager.CreateSession/registerAndStart), and dispatches aggregated
// state-change notifications to external listeners.

type slotEntry struct {
	slot   InterfaceSlot
	fsm    *ClientStateMachine
	cancel context.CancelFunc
}

// apSlotEntry is the interface manager's bookkeeping record for one
// running AP-mode interface: which config it was started with and when,
// so StopAp/StopAllAps can emit an enabled-duration metric (spec.md §4.6).
type apSlotEntry struct {
	ifaceID   uint16
	config    ApConfig
	enabledAt time.Time
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithScanConsumers registers the consumers every PerformScan fans
// results out to (network selector, location service, external sink —
// spec.md §4.4 step 5).
func WithScanConsumers(consumers ...ScanResultConsumer) ManagerOption {
	return func(m *Manager) { m.consumers = consumers }
}

// Manager is the interface manager (C6). It is safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	slots       map[uint16]*slotEntry
	byIfName    map[string]uint16
	apSlots     map[NetworkIdentifier]*apSlotEntry
	phy         PhyManager
	store       SavedNetworkStore
	telemetry   TelemetrySink
	logger      *slog.Logger
	consumers   []ScanResultConsumer
	rawNotify   chan StateChange
	pubNotify   chan StateChange
	closed      bool
	dispatchCtx context.Context
	cancelAll   context.CancelFunc

	// clientsEnabledAt records when client connections were last (re-)
	// enabled, for the "log the elapsed connections-enabled duration" step
	// of StopClientConnections (spec.md §4.6). Zero means never enabled or
	// already recorded as disabled.
	clientsEnabledAt time.Time

	// selectionInFlight enforces "at most one in-flight network-selection
	// scan" (spec.md §4.6 network_selection_futures); selectionMu guards it
	// separately from mu so a selection attempt's scan/connect calls never
	// hold the slot-table lock.
	selectionMu       sync.Mutex
	selectionInFlight bool
}

// NewManager constructs an interface manager. phy and store must be
// non-nil.
func NewManager(phy PhyManager, store SavedNetworkStore, telemetry TelemetrySink, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if telemetry == nil {
		telemetry = NoopTelemetrySink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		slots:       make(map[uint16]*slotEntry),
		byIfName:    make(map[string]uint16),
		apSlots:     make(map[NetworkIdentifier]*apSlotEntry),
		phy:         phy,
		store:       store,
		telemetry:   telemetry,
		logger:      logger.With(slog.String("component", "interface_manager")),
		rawNotify:   make(chan StateChange, 64),
		pubNotify:   make(chan StateChange, 64),
		dispatchCtx: ctx,
		cancelAll:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StateChanges returns the channel of aggregated state-change
// notifications from every interface this manager owns.
func (m *Manager) StateChanges() <-chan StateChange {
	return m.pubNotify
}

// AddIface registers a newly created client interface and starts its
// state machine goroutine. The goroutine's context is decoupled from ctx
// (context.WithoutCancel) so a caller-scoped ctx cancelling does not tear
// down a session that should outlive this call — only m.Close or a later
// RemoveIface does.
func (m *Manager) AddIface(ctx context.Context, ifaceID uint16, ifName string, sme SMETransport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.slots[ifaceID]; exists {
		return fmt.Errorf("add iface %d: %w", ifaceID, ErrInterfaceExists)
	}

	retrying := NewRetryingSMETransport(sme)
	fsm := NewClientStateMachine(ifaceID, ifName, retrying, m.store, m.logger,
		WithTelemetrySink(m.telemetry),
		WithListenerChannel(m.rawNotify),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &slotEntry{
		slot:   InterfaceSlot{IfaceID: ifaceID, IfName: ifName, Role: InterfaceRoleClient},
		fsm:    fsm,
		cancel: cancel,
	}
	m.slots[ifaceID] = entry
	m.byIfName[ifName] = ifaceID

	go func() {
		if err := fsm.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("state machine exited with error",
				slog.Int("iface_id", int(ifaceID)), slog.String("err", err.Error()))
		}
		// Termination-handling (spec.md §4.6): the slot is now idle; kick
		// off network selection immediately rather than waiting for the
		// next connectivity-monitor tick, so long as the store has
		// candidates and no selection is already running.
		if len(m.store.All()) > 0 {
			if _, err := m.triggerNetworkSelection(runCtx); err != nil {
				m.logger.Warn("termination-triggered network selection failed",
					slog.Int("iface_id", int(ifaceID)), slog.String("err", err.Error()))
			}
		}
	}()

	m.telemetry.Emit(TelemetryEvent{Kind: TelemetryIfaceAdded, IfaceID: ifaceID})
	m.logger.Info("interface added", slog.Int("iface_id", int(ifaceID)), slog.String("name", ifName))
	return nil
}

// RemoveIface cancels the named interface's state machine and removes
// its slot. Safe to call for an interface already removed by a racing
// netlink event (see SPEC_FULL.md §9 TESTABLE PROPERTIES) — the second
// call is a no-op, never a double-cancel.
func (m *Manager) RemoveIface(ifaceID uint16) error {
	m.mu.Lock()
	entry, ok := m.slots[ifaceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("remove iface %d: %w", ifaceID, ErrInterfaceNotFound)
	}
	delete(m.slots, ifaceID)
	delete(m.byIfName, entry.slot.IfName)
	m.mu.Unlock()

	entry.cancel()
	m.telemetry.Emit(TelemetryEvent{Kind: TelemetryIfaceRemoved, IfaceID: ifaceID})
	m.logger.Info("interface removed", slog.Int("iface_id", int(ifaceID)))
	return nil
}

// Connect forwards a connect request to the named interface's state
// machine.
func (m *Manager) Connect(ctx context.Context, ifaceID uint16, req ConnectRequest) error {
	fsm, err := m.lookup(ifaceID)
	if err != nil {
		return err
	}
	return fsm.Connect(ctx, req)
}

// Disconnect forwards a disconnect request to the named interface's state
// machine.
func (m *Manager) Disconnect(ctx context.Context, ifaceID uint16, reason DisconnectReason) error {
	fsm, err := m.lookup(ifaceID)
	if err != nil {
		return err
	}
	return fsm.Disconnect(ctx, reason)
}

func (m *Manager) lookup(ifaceID uint16) (*ClientStateMachine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.slots[ifaceID]
	if !ok {
		return nil, fmt.Errorf("lookup iface %d: %w", ifaceID, ErrInterfaceNotFound)
	}
	return entry.fsm, nil
}

// Slots returns a snapshot of every interface slot this manager owns.
func (m *Manager) Slots() []InterfaceSlot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]InterfaceSlot, 0, len(m.slots))
	for _, e := range m.slots {
		s := e.slot
		s.CurrentConfig = currentNetworkPtr(e.fsm)
		out = append(out, s)
	}
	return out
}

func currentNetworkPtr(fsm *ClientStateMachine) *NetworkIdentifier {
	if fsm.State() == StateIdle {
		return nil
	}
	id := fsm.networkIDOrZero()
	return &id
}

// SetCountry applies a new regulatory domain. Per spec.md §4.6 and
// DESIGN.md's Open Question 3: snapshot the running AP configs, quiesce
// (destroy) every client interface and every AP, apply the new country
// code, then restore client interfaces and every snapshotted AP
// regardless of whether the country-code set itself succeeded. Only the
// "stop clients, stop APs, set code" prefix's failure is returned to the
// caller; restoration failures are logged, never masking that result.
func (m *Manager) SetCountry(ctx context.Context, alpha2 string) error {
	m.mu.RLock()
	ifaceIDs := make([]uint16, 0, len(m.slots))
	for id := range m.slots {
		ifaceIDs = append(ifaceIDs, id)
	}
	apConfigs := make([]ApConfig, 0, len(m.apSlots))
	for _, e := range m.apSlots {
		apConfigs = append(apConfigs, e.config)
	}
	m.mu.RUnlock()

	var prefixErr error
	for _, id := range ifaceIDs {
		if err := m.phy.DestroyClientInterface(ctx, id); err != nil {
			m.logger.Warn("quiesce before set-country failed", slog.Int("iface_id", int(id)), slog.String("err", err.Error()))
			prefixErr = errors.Join(prefixErr, fmt.Errorf("destroy client interface %d: %w", id, err))
		}
		_ = m.RemoveIface(id)
	}

	if err := m.StopAllAps(ctx); err != nil {
		m.logger.Warn("stopping aps before set-country failed", slog.String("err", err.Error()))
		prefixErr = errors.Join(prefixErr, fmt.Errorf("stop aps: %w", err))
	}

	if err := m.phy.SetCountry(ctx, alpha2); err != nil {
		prefixErr = errors.Join(prefixErr, fmt.Errorf("set country %s: %w", alpha2, err))
	}

	restored, restoreErr := m.phy.CreateAllClientInterfaces(ctx)
	if restoreErr != nil {
		m.logger.Error("failed to restore client interfaces after set-country",
			slog.String("err", restoreErr.Error()))
	} else {
		for _, slot := range restored {
			sme, err := m.phy.SMEFor(slot.IfaceID)
			if err != nil {
				m.logger.Error("no sme for restored interface", slog.Int("iface_id", int(slot.IfaceID)))
				continue
			}
			if err := m.AddIface(ctx, slot.IfaceID, slot.IfName, sme); err != nil {
				m.logger.Error("failed to re-register restored interface", slog.String("err", err.Error()))
			}
		}
	}

	for _, cfg := range apConfigs {
		if err := m.StartAp(ctx, cfg); err != nil {
			m.logger.Error("failed to restore ap after set-country",
				slog.String("ssid", cfg.SSID), slog.String("err", err.Error()))
		}
	}

	return prefixErr
}

// StartAp brings up one access-point-mode network. Per spec.md §4.6, an AP
// config names its own credential directly rather than going through the
// saved-networks store; the interface manager only tracks which config is
// bound to which PhyManager-supplied AP interface.
func (m *Manager) StartAp(ctx context.Context, cfg ApConfig) error {
	m.mu.Lock()
	if _, exists := m.apSlots[cfg.NetworkID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("start ap %s: %w", cfg.NetworkID(), ErrInterfaceExists)
	}
	m.mu.Unlock()

	slot, err := m.phy.CreateOrGetApIface(ctx)
	if err != nil {
		return fmt.Errorf("start ap %s: %w", cfg.NetworkID(), err)
	}
	if slot == nil {
		return fmt.Errorf("start ap %s: %w", cfg.NetworkID(), ErrNoApIface)
	}

	m.mu.Lock()
	m.apSlots[cfg.NetworkID()] = &apSlotEntry{ifaceID: slot.IfaceID, config: cfg, enabledAt: time.Now()}
	m.mu.Unlock()

	m.telemetry.Emit(TelemetryEvent{Kind: TelemetryApStarted, IfaceID: slot.IfaceID, NetworkID: cfg.NetworkID()})
	m.logger.Info("ap started", slog.String("ssid", cfg.SSID), slog.Int("iface_id", int(slot.IfaceID)))
	return nil
}

// StopAp tears down the AP identified by (ssid, security), recording its
// enabled-duration metric (spec.md §4.6: "on StopAp and StopAllAps, record
// per-AP enabled duration metrics").
func (m *Manager) StopAp(ctx context.Context, ssid string, sec SecurityType) error {
	id := NetworkIdentifier{SSID: ssid, SecurityType: sec}

	m.mu.Lock()
	entry, ok := m.apSlots[id]
	if ok {
		delete(m.apSlots, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("stop ap %s: %w", id, ErrApNotFound)
	}
	return m.stopApEntry(ctx, entry)
}

// StopAllAps tears down every running AP, continuing past individual
// failures and joining them into one error (spec.md §4.6: StopAllAps is
// driven the same way as StopAp, once per running AP).
func (m *Manager) StopAllAps(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*apSlotEntry, 0, len(m.apSlots))
	for id, e := range m.apSlots {
		entries = append(entries, e)
		delete(m.apSlots, id)
	}
	m.mu.Unlock()

	var errs error
	for _, e := range entries {
		if err := m.stopApEntry(ctx, e); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (m *Manager) stopApEntry(ctx context.Context, entry *apSlotEntry) error {
	duration := time.Since(entry.enabledAt)
	err := m.phy.DestroyApIface(ctx, entry.ifaceID)
	m.telemetry.Emit(TelemetryEvent{
		Kind:      TelemetryApStopped,
		IfaceID:   entry.ifaceID,
		NetworkID: entry.config.NetworkID(),
		Duration:  duration,
	})
	m.logger.Info("ap stopped",
		slog.String("ssid", entry.config.SSID),
		slog.Int("iface_id", int(entry.ifaceID)),
		slog.Duration("enabled_duration", duration),
	)
	if err != nil {
		return fmt.Errorf("stop ap %s: %w", entry.config.NetworkID(), err)
	}
	return nil
}

// HasWpa3Iface delegates to PhyManager (spec.md §4.6).
func (m *Manager) HasWpa3Iface() bool {
	return m.phy.HasWpa3Client()
}

// HasIdleIface reports whether any owned client interface currently has no
// state machine or an idle one (spec.md §4.6 HasIdleIface).
func (m *Manager) HasIdleIface() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.slots {
		if e.fsm == nil || e.fsm.State() == StateIdle {
			return true
		}
	}
	return false
}

// RecordIdleIface is a no-op here beyond its documented effect: unlike the
// original design, this implementation never stores current_config as a
// separate mutable field (Slots() derives it live from the owning state
// machine's State(), see currentNetworkPtr), so there is nothing to clear
// once the state machine has exited — State() already reports StateIdle.
// The method exists to keep the request surface matching spec.md §4.6's
// RecordIdleIface(iface_id).
func (m *Manager) RecordIdleIface(ifaceID uint16) error {
	m.mu.RLock()
	_, ok := m.slots[ifaceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("record idle iface %d: %w", ifaceID, ErrInterfaceNotFound)
	}
	return nil
}

// StartClientConnections asks PhyManager to create every client interface
// it can and registers any returned interface this manager does not
// already track (spec.md §4.6). It records the "enabled at" timestamp the
// first time connections are enabled; re-enabling while already enabled
// leaves the original timestamp untouched.
func (m *Manager) StartClientConnections(ctx context.Context) error {
	slots, err := m.phy.CreateAllClientInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("start client connections: %w", err)
	}

	for _, slot := range slots {
		m.mu.RLock()
		_, known := m.slots[slot.IfaceID]
		m.mu.RUnlock()
		if known {
			continue
		}
		sme, err := m.phy.SMEFor(slot.IfaceID)
		if err != nil {
			m.logger.Warn("no sme for newly started client interface",
				slog.Int("iface_id", int(slot.IfaceID)), slog.String("err", err.Error()))
			continue
		}
		if err := m.AddIface(ctx, slot.IfaceID, slot.IfName, sme); err != nil {
			m.logger.Warn("failed to register started client interface",
				slog.Int("iface_id", int(slot.IfaceID)), slog.String("err", err.Error()))
		}
	}

	m.mu.Lock()
	if m.clientsEnabledAt.IsZero() {
		m.clientsEnabledAt = time.Now()
	}
	m.mu.Unlock()
	return nil
}

// StopClientConnections disconnects every live state machine with reason,
// destroys every client interface, and emits a ConnectionsDisabled
// telemetry event along with the elapsed "connections enabled" duration
// (spec.md §4.6).
func (m *Manager) StopClientConnections(ctx context.Context, reason DisconnectReason) error {
	m.mu.RLock()
	entries := make([]*slotEntry, 0, len(m.slots))
	for _, e := range m.slots {
		entries = append(entries, e)
	}
	enabledAt := m.clientsEnabledAt
	m.mu.RUnlock()

	for _, e := range entries {
		if err := e.fsm.Disconnect(ctx, reason); err != nil {
			m.logger.Warn("failed to disconnect interface during stop-client-connections",
				slog.Int("iface_id", int(e.slot.IfaceID)), slog.String("err", err.Error()))
		}
	}

	var errs error
	for _, e := range entries {
		if err := m.phy.DestroyClientInterface(ctx, e.slot.IfaceID); err != nil {
			errs = errors.Join(errs, fmt.Errorf("destroy client interface %d: %w", e.slot.IfaceID, err))
		}
		_ = m.RemoveIface(e.slot.IfaceID)
	}

	m.telemetry.Emit(TelemetryEvent{Kind: TelemetryConnectionsDisabled})
	if !enabledAt.IsZero() {
		m.logger.Info("client connections disabled", slog.Duration("enabled_duration", time.Since(enabledAt)))
	}

	m.mu.Lock()
	m.clientsEnabledAt = time.Time{}
	m.mu.Unlock()
	return errs
}

const (
	connectivityMonitorMinInterval = 1 * time.Second
	connectivityMonitorMaxInterval = 10 * time.Second
)

// RunConnectivityMonitor drives spec.md §4.6's "periodic connectivity
// monitor": a timer starting at connectivityMonitorMinInterval. On each
// fire, if there is an idle client slot with saved networks, it attempts
// network selection; a fired attempt that yields no candidate doubles the
// interval (capped at connectivityMonitorMaxInterval), and a successful
// one resets it to the minimum. It runs until ctx is cancelled.
func (m *Manager) RunConnectivityMonitor(ctx context.Context) error {
	interval := connectivityMonitorMinInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if m.HasIdleIface() && len(m.store.All()) > 0 {
				found, err := m.triggerNetworkSelection(ctx)
				if err != nil {
					m.logger.Warn("periodic network selection failed", slog.String("err", err.Error()))
				}
				if found {
					interval = connectivityMonitorMinInterval
				} else {
					interval *= 2
					if interval > connectivityMonitorMaxInterval {
						interval = connectivityMonitorMaxInterval
					}
				}
			}
			timer.Reset(interval)
		}
	}
}

// triggerNetworkSelection implements spec.md §4.6's termination-handling
// and periodic-monitor network-selection step: it is a no-op (returns
// false, nil) if a selection is already in flight, scans on the first
// idle client slot it finds, resolves the result against the
// saved-networks store, and hands the first candidate (ResolveCandidates
// keeps the results' SSID order) to that slot's state machine. Returns
// whether a candidate was found.
func (m *Manager) triggerNetworkSelection(ctx context.Context) (bool, error) {
	m.selectionMu.Lock()
	if m.selectionInFlight {
		m.selectionMu.Unlock()
		return false, nil
	}
	m.selectionInFlight = true
	m.selectionMu.Unlock()
	defer func() {
		m.selectionMu.Lock()
		m.selectionInFlight = false
		m.selectionMu.Unlock()
	}()

	m.mu.RLock()
	var idle *slotEntry
	for _, e := range m.slots {
		if e.fsm.State() == StateIdle {
			idle = e
			break
		}
	}
	m.mu.RUnlock()
	if idle == nil {
		return false, nil
	}

	sme, err := m.phy.SMEFor(idle.slot.IfaceID)
	if err != nil {
		return false, fmt.Errorf("network selection: %w", err)
	}

	orch := NewScanOrchestrator(NewRetryingSMETransport(sme), m.store, m.telemetry, m.logger)
	results, err := orch.PerformScan(ctx, ScanReasonNetworkSelection, m.consumers)
	if err != nil {
		return false, fmt.Errorf("network selection scan: %w", err)
	}

	candidates := ResolveCandidates(m.store, results)
	if len(candidates) == 0 {
		return false, nil
	}

	best := candidates[0]
	m.telemetry.Emit(TelemetryEvent{Kind: TelemetryNetworkSelectionDecision, IfaceID: idle.slot.IfaceID, NetworkID: best.NetworkID})
	if err := idle.fsm.Connect(ctx, ConnectRequest{Candidate: best, Reason: ConnectReasonNetworkSelection}); err != nil {
		return false, fmt.Errorf("network selection connect: %w", err)
	}
	return true, nil
}

// RunDispatch reads every state change raised by owned state machines,
// updates slot bookkeeping, and forwards the change to external
// listeners. It runs until ctx is cancelled, the same single-select
// dispatcher shape as bfd.Manager.RunDispatch.
func (m *Manager) RunDispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-m.rawNotify:
			select {
			case m.pubNotify <- change:
			default:
				m.logger.Warn("public state change channel full, dropping notification")
			}
		}
	}
}

// PerformScan runs a scan on the named interface and fans the result out
// to the manager's configured consumers.
func (m *Manager) PerformScan(ctx context.Context, ifaceID uint16, sme SMETransport) ([]ScanResult, error) {
	orch := NewScanOrchestrator(NewRetryingSMETransport(sme), m.store, m.telemetry, m.logger)
	return orch.PerformScan(ctx, ScanReasonManual, m.consumers)
}

// Close cancels every owned state machine and marks the manager closed.
// AddIface called after Close returns ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*slotEntry, 0, len(m.slots))
	for _, e := range m.slots {
		entries = append(entries, e)
	}
	m.slots = make(map[uint16]*slotEntry)
	m.byIfName = make(map[string]uint16)
	m.mu.Unlock()

	g := new(errgroup.Group)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			e.cancel()
			return nil
		})
	}
	_ = g.Wait()
	m.cancelAll()
	return nil
}
