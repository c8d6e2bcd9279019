package wlan

import "fmt"

// fsm.go implements the pure state-transition table at the heart of C5,
// the same shape as internal/bfd/fsm.go: a package-level
// map[stateEvent]transition plus a side-effect-free ApplyEvent function.
// All side effects (issuing an SME call, starting a timer, emitting
// telemetry) are returned as Actions for the caller — session.go's
// runLoop — to execute; the table itself never touches a channel, timer,
// or transport.

// ConnectionState is one state of the per-interface connection state
// machine (spec.md §4.5).
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Event is one input to the connection state machine.
type Event int

const (
	// EventConnectRequested starts a fresh connect attempt from Idle.
	EventConnectRequested Event = iota
	// EventConnectSucceeded reports SME accepted the connect attempt.
	EventConnectSucceeded
	// EventConnectFailedRetry reports a failed attempt with retries
	// remaining under MaxConnectionAttempts.
	EventConnectFailedRetry
	// EventConnectFailedExhausted reports a failed attempt with no
	// retries remaining.
	EventConnectFailedExhausted
	// EventRetryTimerFired reports the retry backoff timer elapsed. Per
	// spec.md §4.5, a retry is not an in-place reconnect: it tears the
	// previous attempt down through Disconnecting before the next SME
	// connect call goes out.
	EventRetryTimerFired
	// EventDisconnectRequested is an externally requested disconnect
	// (network removed by a caller, proactive switch, etc).
	EventDisconnectRequested
	// EventSmeDisconnected reports SME observed an unsolicited link drop
	// while Connected. Self-heals: the caller clears the stale
	// BSSDescription and drives the machine back through Disconnecting
	// into a fresh Connecting cycle for the same network, rather than
	// terminating to Idle.
	EventSmeDisconnected
	// EventNetworkRemoved reports the saved-networks store dropped the
	// currently connected/connecting network.
	EventNetworkRemoved
	// EventConnectSuperseded reports a new ConnectRequest arrived for a
	// different network while one was already Connecting or Connected.
	// The in-flight attempt is torn down before the new one starts.
	EventConnectSuperseded
	// EventDisconnectCompleteReconnect reports the SME disconnect call
	// issued on entry to Disconnecting has returned, and the caller has
	// a next connect attempt queued (a retry, a self-heal, or a
	// superseding request).
	EventDisconnectCompleteReconnect
	// EventDisconnectCompleteTerminal reports the SME disconnect call
	// issued on entry to Disconnecting has returned and nothing is
	// queued to follow it; the machine settles in Idle.
	EventDisconnectCompleteTerminal
	// EventSmeStreamClosed reports the SME transport itself is gone
	// (its event channel closed, or it reported its proxy dropped).
	// Always fatal: the machine returns to Idle regardless of state.
	EventSmeStreamClosed
	// EventConnectFailedCredentialRejected reports a failed connect
	// attempt that SME attributed to a rejected credential. Per spec.md
	// §8's invariant, no further retry is attempted for that request
	// regardless of the current attempt count.
	EventConnectFailedCredentialRejected
)

func (e Event) String() string {
	names := [...]string{
		"connect_requested",
		"connect_succeeded",
		"connect_failed_retry",
		"connect_failed_exhausted",
		"retry_timer_fired",
		"disconnect_requested",
		"sme_disconnected",
		"network_removed",
		"connect_superseded",
		"disconnect_complete_reconnect",
		"disconnect_complete_terminal",
		"sme_stream_closed",
		"connect_failed_credential_rejected",
	}
	if int(e) < 0 || int(e) >= len(names) {
		return "unknown"
	}
	return names[e]
}

// Action is one side effect the caller must perform after ApplyEvent.
type Action int

const (
	ActionNone Action = iota
	ActionIssueConnect
	ActionIssueDisconnect
	ActionStartRetryTimer
	ActionEmitConnectAttempt
	ActionEmitConnectResult
	ActionEmitDisconnect
	ActionNotifyListeners
	ActionStartConnectivityMonitor
	ActionStopConnectivityMonitor
)

func (a Action) String() string {
	names := [...]string{
		"none",
		"issue_connect",
		"issue_disconnect",
		"start_retry_timer",
		"emit_connect_attempt",
		"emit_connect_result",
		"emit_disconnect",
		"notify_listeners",
		"start_connectivity_monitor",
		"stop_connectivity_monitor",
	}
	if int(a) < 0 || int(a) >= len(names) {
		return "unknown"
	}
	return names[a]
}

type stateEvent struct {
	state ConnectionState
	event Event
}

type transition struct {
	next    ConnectionState
	actions []Action
}

// fsmTable is the complete legal transition set for the connection state
// machine. Any (state, event) pair not present here is a no-op: ApplyEvent
// returns the unchanged state with Changed=false and no actions, which
// the caller logs as an unexpected event rather than treating as an error
// (spec.md §7: unexpected SME events are logged and ignored, not fatal).
//
// Every path out of Connecting/Connected funnels through Disconnecting:
// the table never transitions straight back to Connecting. The caller
// (session.go) decides, once the SME disconnect call actually completes,
// whether to fire EventDisconnectCompleteReconnect (a retry, a self-heal,
// or a superseding request is queued) or EventDisconnectCompleteTerminal
// (nothing queued, settle in Idle) — see ClientStateMachine.doDisconnect.
// EmitDisconnect/NotifyListeners fire at the terminal completion (and on
// the direct-to-Idle failure paths); the reconnecting completion emits a
// new connect attempt instead. Entry transitions into Disconnecting
// therefore only need to stop the connectivity monitor and issue the SME
// disconnect.
var fsmTable = map[stateEvent]transition{
	{StateIdle, EventConnectRequested}: {
		next:    StateConnecting,
		actions: []Action{ActionEmitConnectAttempt, ActionIssueConnect},
	},
	{StateConnecting, EventConnectSucceeded}: {
		next: StateConnected,
		actions: []Action{
			ActionEmitConnectResult,
			ActionNotifyListeners,
			ActionStartConnectivityMonitor,
		},
	},
	{StateConnecting, EventConnectFailedRetry}: {
		next:    StateConnecting,
		actions: []Action{ActionEmitConnectResult, ActionStartRetryTimer},
	},
	{StateConnecting, EventConnectFailedExhausted}: {
		next:    StateIdle,
		actions: []Action{ActionEmitConnectResult, ActionEmitDisconnect, ActionNotifyListeners},
	},
	{StateConnecting, EventConnectFailedCredentialRejected}: {
		next:    StateIdle,
		actions: []Action{ActionEmitConnectResult, ActionEmitDisconnect, ActionNotifyListeners},
	},
	{StateConnecting, EventRetryTimerFired}: {
		next:    StateDisconnecting,
		actions: []Action{ActionIssueDisconnect},
	},
	{StateConnecting, EventDisconnectRequested}: {
		next:    StateDisconnecting,
		actions: []Action{ActionIssueDisconnect},
	},
	{StateConnecting, EventConnectSuperseded}: {
		next:    StateDisconnecting,
		actions: []Action{ActionIssueDisconnect},
	},
	{StateConnecting, EventNetworkRemoved}: {
		next:    StateDisconnecting,
		actions: []Action{ActionIssueDisconnect},
	},
	{StateConnecting, EventSmeStreamClosed}: {
		next:    StateIdle,
		actions: []Action{ActionEmitConnectResult, ActionEmitDisconnect, ActionNotifyListeners},
	},
	{StateConnected, EventSmeDisconnected}: {
		next:    StateDisconnecting,
		actions: []Action{ActionStopConnectivityMonitor, ActionIssueDisconnect},
	},
	{StateConnected, EventDisconnectRequested}: {
		next:    StateDisconnecting,
		actions: []Action{ActionStopConnectivityMonitor, ActionIssueDisconnect},
	},
	{StateConnected, EventConnectSuperseded}: {
		next:    StateDisconnecting,
		actions: []Action{ActionStopConnectivityMonitor, ActionIssueDisconnect},
	},
	{StateConnected, EventNetworkRemoved}: {
		next:    StateDisconnecting,
		actions: []Action{ActionStopConnectivityMonitor, ActionIssueDisconnect},
	},
	{StateConnected, EventSmeStreamClosed}: {
		next:    StateIdle,
		actions: []Action{ActionStopConnectivityMonitor, ActionEmitDisconnect, ActionNotifyListeners},
	},
	{StateDisconnecting, EventDisconnectCompleteReconnect}: {
		next:    StateConnecting,
		actions: []Action{ActionEmitConnectAttempt, ActionIssueConnect},
	},
	{StateDisconnecting, EventDisconnectCompleteTerminal}: {
		next:    StateIdle,
		actions: []Action{ActionEmitDisconnect, ActionNotifyListeners},
	},
	{StateDisconnecting, EventSmeStreamClosed}: {
		next:    StateIdle,
		actions: []Action{ActionEmitDisconnect, ActionNotifyListeners},
	},
}

// FSMResult is the outcome of one ApplyEvent call.
type FSMResult struct {
	OldState ConnectionState
	NewState ConnectionState
	Actions  []Action
	Changed  bool
}

// ApplyEvent computes the next state and required actions for (state,
// event). It is a pure function: no channel, timer, or transport access,
// so it can be exhaustively table-tested without any goroutine.
func ApplyEvent(state ConnectionState, event Event) FSMResult {
	t, ok := fsmTable[stateEvent{state, event}]
	if !ok {
		return FSMResult{OldState: state, NewState: state, Changed: false}
	}
	return FSMResult{
		OldState: state,
		NewState: t.next,
		Actions:  t.actions,
		Changed:  t.next != state || len(t.actions) > 0,
	}
}

// String renders a FSMResult for logging.
func (r FSMResult) String() string {
	return fmt.Sprintf("%s -> %s (actions=%v)", r.OldState, r.NewState, r.Actions)
}
