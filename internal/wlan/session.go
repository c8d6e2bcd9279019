package wlan

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// session.go implements C5: the per-interface ClientStateMachine. Each
// instance owns exactly one network interface and runs as a single
// goroutine with exactly one select statement per suspension point
// (spec.md §5), the same shape as bfd.Session.runLoop. External state
// reads go through atomics; every other field is goroutine-owned and
// touched only from Run.

// Retry policy constants (spec.md §4.5 Concrete Scenario values).
const (
	// MaxConnectionAttempts bounds how many times a single ConnectRequest
	// is retried before the state machine gives up and returns to Idle.
	MaxConnectionAttempts = 4

	// connectRetryBaseDelay is the multiplier in the backoff formula
	// 400 * (attempt+1) ms, where attempt is the zero-based failed
	// attempt number.
	connectRetryBaseDelay = 400 * time.Millisecond

	// connectivityMonitorBaseInterval is the connectivity monitor's
	// starting poll interval once Connected.
	connectivityMonitorBaseInterval = 1 * time.Second

	// connectivityMonitorMaxInterval is the ceiling the interval doubles
	// toward while the link remains healthy.
	connectivityMonitorMaxInterval = 10 * time.Second

	// connectivityMonitorRSSIFloor is the RSSI below which the monitor
	// halves its interval back down, to sample a degrading link more
	// often.
	connectivityMonitorRSSIFloor = -75
)

func connectRetryDelay(failedAttempt int) time.Duration {
	return connectRetryBaseDelay * time.Duration(failedAttempt+1)
}

// StateChange is delivered to listeners (the interface manager and, via
// it, any external policy-API consumer) on every FSM transition.
type StateChange struct {
	IfaceID    uint16
	Old        ConnectionState
	New        ConnectionState
	NetworkID  NetworkIdentifier
	Disconnect DisconnectReason
	Time       time.Time
}

// request is the sum type for messages sent to a running
// ClientStateMachine through its single request channel.
type request struct {
	connect    *ConnectRequest
	disconnect *DisconnectReason
}

var (
	// ErrAlreadyConnecting is returned by Connect when a connect attempt
	// is already in flight for a different network.
	ErrAlreadyConnecting = errors.New("state machine already connecting")
)

// ClientStateMachineOption configures a ClientStateMachine at
// construction, mirroring bfd.SessionOption.
type ClientStateMachineOption func(*ClientStateMachine)

// WithTelemetrySink overrides the default no-op telemetry sink.
func WithTelemetrySink(sink TelemetrySink) ClientStateMachineOption {
	return func(c *ClientStateMachine) { c.telemetry = sink }
}

// WithListenerChannel sets the channel StateChange notifications are
// published to. Sends are non-blocking; a full channel drops the
// notification and logs, matching bfd.Session.emitNotification.
func WithListenerChannel(ch chan<- StateChange) ClientStateMachineOption {
	return func(c *ClientStateMachine) { c.notifyCh = ch }
}

// ClientStateMachine drives one interface through connect/disconnect
// cycles per the pure transition table in fsm.go.
type ClientStateMachine struct {
	ifaceID uint16
	ifName  string
	sme     SMETransport
	store   SavedNetworkStore
	logger  *slog.Logger

	telemetry TelemetrySink
	notifyCh  chan<- StateChange

	// state is read by LookupState from other goroutines (e.g. a status
	// HTTP handler); only Run ever writes it.
	state atomic.Int32

	// requestCh carries Connect/Disconnect calls into the run loop.
	requestCh chan request

	// goroutine-owned mutable fields, touched only inside Run.
	currentNetwork *NetworkIdentifier
	currentBSS     BSSDescription
	attempt        int
	pendingConnect *ConnectRequest
	signal         SignalData
	quality        *BssQualityData

	// reconnectPending is set before firing an event that enters
	// StateDisconnecting whenever doDisconnect should, once the SME
	// disconnect call returns, drive the machine back into Connecting
	// rather than settling in Idle: a retry, a self-heal after an
	// unsolicited SME disconnect, or a superseding connect request.
	reconnectPending bool

	// pendingNextRequest holds a ConnectRequest for a different network
	// that arrived while one was already Connecting/Connected. doDisconnect
	// swaps it in as the new pendingConnect once the torn-down attempt's
	// SME disconnect completes.
	pendingNextRequest *ConnectRequest

	// pending* fields are set by executeAction and consumed at the end
	// of the current runLoop iteration to start/stop the retry timer and
	// connectivity monitor. Keeping this hand-off out of executeAction
	// itself means executeAction never touches a timer/ticker object and
	// can be reasoned about as a plain state mutator.
	pendingRetryDelay   time.Duration
	pendingMonitorStart bool
	pendingMonitorStop  bool
}

// NewClientStateMachine constructs a state machine for one interface. sme
// and store must be non-nil; logger must be non-nil.
func NewClientStateMachine(
	ifaceID uint16,
	ifName string,
	sme SMETransport,
	store SavedNetworkStore,
	logger *slog.Logger,
	opts ...ClientStateMachineOption,
) *ClientStateMachine {
	c := &ClientStateMachine{
		ifaceID:   ifaceID,
		ifName:    ifName,
		sme:       sme,
		store:     store,
		logger:    logger.With(slog.String("component", "client_fsm"), slog.String("iface", ifName)),
		telemetry: NoopTelemetrySink{},
		requestCh: make(chan request, 4),
	}
	c.state.Store(int32(StateIdle))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state. Safe to call from any
// goroutine.
func (c *ClientStateMachine) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IfaceID returns the interface this state machine owns.
func (c *ClientStateMachine) IfaceID() uint16 { return c.ifaceID }

// Connect asks the state machine to begin connecting to candidate. It is
// non-blocking; the actual attempt happens on the run-loop goroutine.
func (c *ClientStateMachine) Connect(ctx context.Context, req ConnectRequest) error {
	select {
	case c.requestCh <- request{connect: &req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect asks the state machine to tear down any current or
// in-progress connection.
func (c *ClientStateMachine) Disconnect(ctx context.Context, reason DisconnectReason) error {
	select {
	case c.requestCh <- request{disconnect: &reason}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the state machine's single-select event loop until ctx is
// cancelled. Run must be called exactly once.
func (c *ClientStateMachine) Run(ctx context.Context) error {
	c.logger.Info("client state machine started")
	defer c.logger.Info("client state machine stopped")

	var retryTimer *time.Timer
	var retryCh <-chan time.Time
	stopRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer = nil
			retryCh = nil
		}
	}
	defer stopRetry()

	var monitor *time.Ticker
	monitorInterval := connectivityMonitorBaseInterval
	stopMonitor := func() {
		if monitor != nil {
			monitor.Stop()
			monitor = nil
		}
	}
	defer stopMonitor()

	for {
		// Re-fetched every iteration rather than once before the loop:
		// a connect cycle's SME event stream does not outlive a
		// disconnect, and doDisconnect may have just driven the machine
		// through a full Disconnecting->Connecting hop synchronously
		// within the previous iteration. Fetching fresh each pass means
		// this select always listens on the stream for whatever
		// connection is current, never a stale closed one.
		smeEvents := c.sme.Events()

		var monitorCh <-chan time.Time
		if monitor != nil {
			monitorCh = monitor.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-c.requestCh:
			c.handleRequest(ctx, req)

		case ev, ok := <-smeEvents:
			if !ok {
				c.applyFSMEvent(ctx, EventSmeStreamClosed, DisconnectReasonDisconnectDetectedFromSme)
				continue
			}
			c.handleSMEEvent(ctx, ev)

		case <-retryCh:
			stopRetry()
			c.reconnectPending = true
			c.applyFSMEvent(ctx, EventRetryTimerFired, DisconnectReasonUnknown)

		case <-monitorCh:
			monitorInterval = c.runConnectivityCheck(monitorInterval)
			monitor.Reset(monitorInterval)
		}

		// Start/stop the retry timer and connectivity monitor based on
		// the actions just executed. These are idempotent: calling start
		// on an already-running timer/ticker replaces it cleanly.
		if c.pendingRetryDelay > 0 {
			stopRetry()
			retryTimer = time.NewTimer(c.pendingRetryDelay)
			retryCh = retryTimer.C
			c.pendingRetryDelay = 0
		}
		if c.pendingMonitorStart {
			stopMonitor()
			monitorInterval = connectivityMonitorBaseInterval
			monitor = time.NewTicker(monitorInterval)
			c.pendingMonitorStart = false
		}
		if c.pendingMonitorStop {
			stopMonitor()
			c.pendingMonitorStop = false
		}
	}
}

func (c *ClientStateMachine) handleRequest(ctx context.Context, req request) {
	switch {
	case req.connect != nil:
		c.handleConnectRequest(ctx, *req.connect)
	case req.disconnect != nil:
		c.handleDisconnectRequest(ctx, *req.disconnect)
	}
}

func (c *ClientStateMachine) handleConnectRequest(ctx context.Context, req ConnectRequest) {
	switch c.State() {
	case StateIdle:
		c.pendingConnect = &req
		c.attempt = 0
		id := req.Candidate.NetworkID
		c.currentNetwork = &id
		c.currentBSS = req.Candidate.BSS
		c.applyFSMEvent(ctx, EventConnectRequested, DisconnectReasonUnknown)

	case StateConnecting, StateConnected:
		if c.currentNetwork != nil && *c.currentNetwork == req.Candidate.NetworkID {
			c.logger.Debug("duplicate connect request for the in-flight network, ignoring",
				slog.String("network", req.Candidate.NetworkID.SSID))
			return
		}
		c.logger.Info("connect request supersedes in-flight attempt",
			slog.String("state", c.State().String()),
			slog.String("new_network", req.Candidate.NetworkID.SSID))
		c.pendingNextRequest = &req
		c.reconnectPending = true
		c.applyFSMEvent(ctx, EventConnectSuperseded, DisconnectReasonProactiveNetworkSwitch)

	default:
		c.logger.Warn("connect requested while disconnecting, ignoring", slog.String("state", c.State().String()))
	}
}

func (c *ClientStateMachine) handleDisconnectRequest(ctx context.Context, reason DisconnectReason) {
	switch c.State() {
	case StateConnecting, StateConnected:
		c.applyFSMEvent(ctx, EventDisconnectRequested, reason)
	default:
		c.logger.Debug("disconnect requested while already idle/disconnecting")
	}
}

func (c *ClientStateMachine) handleSMEEvent(ctx context.Context, ev SMEEvent) {
	switch ev.Kind {
	case SMEEventSignalReport:
		c.signal = ev.Signal
		velocity := c.updateQuality(ev.Signal)
		c.emitTelemetry(TelemetryEvent{
			Kind:         TelemetrySignalReport,
			NetworkID:    c.networkIDOrZero(),
			Signal:       ev.Signal,
			RSSIVelocity: velocity,
		})
	case SMEEventChannelSwitch:
		c.emitTelemetry(TelemetryEvent{Kind: TelemetryChannelSwitch, NetworkID: c.networkIDOrZero(), NewChannel: ev.NewChannel})
	case SMEEventDisconnect:
		if ev.IsSMEReconnecting {
			c.logger.Debug("sme reconnecting on its own, staying connected")
			return
		}
		if c.pendingConnect != nil {
			c.pendingConnect.Candidate.BSS = BSSDescription{}
		}
		c.currentBSS = BSSDescription{}
		c.attempt = 0
		c.reconnectPending = true
		c.applyFSMEvent(ctx, EventSmeDisconnected, ev.Disconnect)
	case SMEEventConnectDrop:
		c.applyFSMEvent(ctx, EventSmeStreamClosed, DisconnectReasonDisconnectDetectedFromSme)
	}
}

// applyFSMEvent runs the pure transition table, stores the new state, and
// then executes whatever actions the transition returned. The state is
// stored BEFORE actions run, not after: some actions (ActionIssueDisconnect
// via doDisconnect) synchronously fire a further FSM event once the SME
// call they issue completes. That nested call reads c.State() to look up
// its own transition, so it must see this transition's NewState already
// committed; storing after the action loop would let the nested call's
// correct final state be clobbered by this call's now-stale store.
func (c *ClientStateMachine) applyFSMEvent(ctx context.Context, event Event, reason DisconnectReason) {
	result := ApplyEvent(c.State(), event)
	if !result.Changed {
		c.logger.Debug("fsm event had no effect",
			slog.String("state", result.OldState.String()),
			slog.String("event", event.String()))
		return
	}
	c.logger.Info("fsm transition", slog.String("result", result.String()))
	c.state.Store(int32(result.NewState))
	for _, action := range result.Actions {
		c.executeAction(ctx, action, event, reason)
	}
}

func (c *ClientStateMachine) executeAction(ctx context.Context, action Action, event Event, reason DisconnectReason) {
	switch action {
	case ActionIssueConnect:
		c.doConnect(ctx)
	case ActionIssueDisconnect:
		c.doDisconnect(ctx, reason)
	case ActionStartRetryTimer:
		// c.attempt counts the attempts made so far, so the attempt that
		// just failed has the zero-based number c.attempt-1.
		c.pendingRetryDelay = connectRetryDelay(c.attempt - 1)
	case ActionEmitConnectAttempt:
		c.attempt++
		c.emitTelemetry(TelemetryEvent{
			Kind:      TelemetryConnectAttempt,
			Attempt:   c.attempt,
			NetworkID: c.networkIDOrZero(),
		})
	case ActionEmitConnectResult:
		c.emitTelemetry(TelemetryEvent{
			Kind:      TelemetryConnectResult,
			Attempt:   c.attempt,
			Success:   event == EventConnectSucceeded,
			NetworkID: c.networkIDOrZero(),
		})
	case ActionEmitDisconnect:
		c.emitTelemetry(TelemetryEvent{
			Kind:       TelemetryDisconnect,
			NetworkID:  c.networkIDOrZero(),
			Disconnect: reason,
		})
		if c.currentNetwork != nil {
			c.store.RecordConnectResult(*c.currentNetwork, false)
		}
		c.currentNetwork = nil
		c.pendingConnect = nil
		c.quality = nil
	case ActionNotifyListeners:
		c.notify(reason)
	case ActionStartConnectivityMonitor:
		c.pendingMonitorStart = true
		if c.currentNetwork != nil {
			c.store.RecordConnectResult(*c.currentNetwork, true)
		}
	case ActionStopConnectivityMonitor:
		c.pendingMonitorStop = true
	}
}

func (c *ClientStateMachine) networkIDOrZero() NetworkIdentifier {
	if c.currentNetwork == nil {
		return NetworkIdentifier{}
	}
	return *c.currentNetwork
}

func (c *ClientStateMachine) doConnect(ctx context.Context) {
	if c.pendingConnect == nil {
		return
	}
	if c.pendingConnect.Candidate.BSS.SSID == "" {
		// No BSSDescription was attached to this attempt (the self-heal
		// reconnect path strips it, and a caller-issued connect may name
		// only a NetworkIdentifier). Per spec.md §4.5, Connecting must run
		// a directed active scan for the target SSID before it may issue
		// an SME connect.
		bss, ok := c.resolveBSSByDirectedScan(ctx, c.pendingConnect.Candidate.NetworkID)
		if !ok {
			c.onConnectOutcome(ctx, false, DisconnectReasonFailedToConnect, false)
			return
		}
		c.pendingConnect.Candidate.BSS = bss
		c.currentBSS = bss
	}
	outcome, err := c.sme.Connect(ctx, c.pendingConnect.Candidate)
	if err != nil {
		c.logger.Warn("sme connect error", slog.String("err", err.Error()))
		c.onConnectOutcome(ctx, false, DisconnectReasonFailedToConnect, false)
		return
	}
	c.onConnectOutcome(ctx, outcome.Success, outcome.Reason, outcome.IsCredentialRejected)
}

// resolveBSSByDirectedScan issues a single SME active scan targeted at id's
// SSID and returns the strongest compatible observation, mirroring C4's
// perform_directed_active_scan variant (spec.md §4.4) as used by the
// reconnect path.
func (c *ClientStateMachine) resolveBSSByDirectedScan(ctx context.Context, id NetworkIdentifier) (BSSDescription, bool) {
	obs, err := c.sme.Scan(ctx, ScanRequest{Kind: ScanActive, SSIDs: []string{id.SSID}})
	if err != nil {
		c.logger.Warn("directed active scan failed", slog.String("ssid", id.SSID), slog.String("err", err.Error()))
		return BSSDescription{}, false
	}
	var best *BSSDescription
	for i := range obs {
		if obs[i].SSID != id.SSID || obs[i].SecurityType != id.SecurityType {
			continue
		}
		if best == nil || obs[i].RSSIDBM > best.RSSIDBM {
			best = &obs[i]
		}
	}
	if best == nil {
		c.logger.Warn("directed active scan found no matching bss", slog.String("ssid", id.SSID))
		return BSSDescription{}, false
	}
	return *best, true
}

func (c *ClientStateMachine) onConnectOutcome(ctx context.Context, success bool, reason DisconnectReason, credentialRejected bool) {
	if success {
		c.applyFSMEvent(ctx, EventConnectSucceeded, DisconnectReasonUnknown)
		return
	}
	if credentialRejected {
		// Per spec.md §8: a credential-rejected attempt never retries,
		// regardless of how many attempts remain.
		c.applyFSMEvent(ctx, EventConnectFailedCredentialRejected, DisconnectReasonCredentialsFailed)
		return
	}
	if c.attempt >= MaxConnectionAttempts {
		c.applyFSMEvent(ctx, EventConnectFailedExhausted, reason)
		return
	}
	c.applyFSMEvent(ctx, EventConnectFailedRetry, reason)
}

// doDisconnect runs on entry to Disconnecting: it issues the SME disconnect
// call and then, once it returns, decides whether the machine settles in
// Idle or immediately re-enters Connecting. reconnectPending was set by
// whichever event drove the machine into Disconnecting (a retry, a
// self-heal after an unsolicited SME disconnect, or a connect request that
// superseded the one in flight); pendingNextRequest carries the superseding
// request's candidate, if there was one, so it can become the new
// pendingConnect before EventDisconnectCompleteReconnect fires.
func (c *ClientStateMachine) doDisconnect(ctx context.Context, reason DisconnectReason) {
	if err := c.sme.Disconnect(ctx, reason); err != nil {
		c.logger.Warn("sme disconnect error", slog.String("err", err.Error()))
	}

	reconnect := c.reconnectPending
	c.reconnectPending = false

	if !reconnect {
		c.applyFSMEvent(ctx, EventDisconnectCompleteTerminal, reason)
		return
	}

	if c.pendingNextRequest != nil {
		next := c.pendingNextRequest
		c.pendingNextRequest = nil
		c.pendingConnect = next
		id := next.Candidate.NetworkID
		c.currentNetwork = &id
		c.currentBSS = next.Candidate.BSS
		c.attempt = 0
	}
	c.applyFSMEvent(ctx, EventDisconnectCompleteReconnect, reason)
}

func (c *ClientStateMachine) notify(reason DisconnectReason) {
	if c.notifyCh == nil {
		return
	}
	change := StateChange{
		IfaceID:    c.ifaceID,
		New:        c.State(),
		NetworkID:  c.networkIDOrZero(),
		Disconnect: reason,
		Time:       time.Now(),
	}
	select {
	case c.notifyCh <- change:
	default:
		c.logger.Warn("state change notification dropped, listener channel full")
	}
}

func (c *ClientStateMachine) emitTelemetry(ev TelemetryEvent) {
	ev.IfaceID = c.ifaceID
	ev.Time = time.Now()
	c.telemetry.Emit(ev)
}

// runConnectivityCheck samples the latest signal quality and returns the
// next poll interval: doubled (capped at connectivityMonitorMaxInterval)
// while the link stays above connectivityMonitorRSSIFloor, halved (capped
// at connectivityMonitorBaseInterval) once it drops below — so a healthy
// link is polled less often and a degrading one more often.
func (c *ClientStateMachine) runConnectivityCheck(current time.Duration) time.Duration {
	if int(c.signal.RSSIDBM) < connectivityMonitorRSSIFloor {
		next := current / 2
		if next < connectivityMonitorBaseInterval {
			next = connectivityMonitorBaseInterval
		}
		return next
	}
	next := current * 2
	if next > connectivityMonitorMaxInterval {
		next = connectivityMonitorMaxInterval
	}
	return next
}
