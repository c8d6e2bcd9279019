package wlan

import "testing"

func TestApplyEvent_IdleToConnecting(t *testing.T) {
	result := ApplyEvent(StateIdle, EventConnectRequested)
	if !result.Changed {
		t.Fatalf("expected transition to be marked changed")
	}
	if result.NewState != StateConnecting {
		t.Fatalf("new state = %s, want connecting", result.NewState)
	}
	wantActions := []Action{ActionEmitConnectAttempt, ActionIssueConnect}
	if !actionsEqual(result.Actions, wantActions) {
		t.Fatalf("actions = %v, want %v", result.Actions, wantActions)
	}
}

func TestApplyEvent_ConnectSucceeds(t *testing.T) {
	result := ApplyEvent(StateConnecting, EventConnectSucceeded)
	if result.NewState != StateConnected {
		t.Fatalf("new state = %s, want connected", result.NewState)
	}
	if !containsAction(result.Actions, ActionStartConnectivityMonitor) {
		t.Fatalf("expected connectivity monitor to start on connect success")
	}
}

func TestApplyEvent_RetryStaysInConnecting(t *testing.T) {
	result := ApplyEvent(StateConnecting, EventConnectFailedRetry)
	if result.NewState != StateConnecting {
		t.Fatalf("new state = %s, want connecting (retry)", result.NewState)
	}
	if !containsAction(result.Actions, ActionStartRetryTimer) {
		t.Fatalf("expected retry timer action")
	}
}

func TestApplyEvent_ExhaustedReturnsToIdle(t *testing.T) {
	result := ApplyEvent(StateConnecting, EventConnectFailedExhausted)
	if result.NewState != StateIdle {
		t.Fatalf("new state = %s, want idle", result.NewState)
	}
	if !containsAction(result.Actions, ActionEmitDisconnect) {
		t.Fatalf("expected disconnect telemetry on exhaustion")
	}
}

func TestApplyEvent_CredentialRejectedReturnsToIdle(t *testing.T) {
	// Unlike EventConnectFailedRetry, a credential rejection must never
	// loop back into Connecting, regardless of how many attempts remain.
	result := ApplyEvent(StateConnecting, EventConnectFailedCredentialRejected)
	if result.NewState != StateIdle {
		t.Fatalf("new state = %s, want idle", result.NewState)
	}
	if !containsAction(result.Actions, ActionEmitDisconnect) {
		t.Fatalf("expected disconnect telemetry on credential rejection")
	}
}

func TestApplyEvent_ConnectedDisconnectBySme(t *testing.T) {
	// An unsolicited SME disconnect from Connected funnels through
	// Disconnecting, not straight to Idle: the caller (ClientStateMachine.
	// doDisconnect) decides once the SME disconnect call itself completes
	// whether to self-heal back into Connecting or settle in Idle.
	result := ApplyEvent(StateConnected, EventSmeDisconnected)
	if result.NewState != StateDisconnecting {
		t.Fatalf("new state = %s, want disconnecting", result.NewState)
	}
	if !containsAction(result.Actions, ActionStopConnectivityMonitor) {
		t.Fatalf("expected connectivity monitor to stop")
	}
	if !containsAction(result.Actions, ActionIssueDisconnect) {
		t.Fatalf("expected sme disconnect to be issued")
	}
}

func TestApplyEvent_UnknownPairIsNoop(t *testing.T) {
	result := ApplyEvent(StateIdle, EventSmeDisconnected)
	if result.Changed {
		t.Fatalf("expected no-op for an illegal (state, event) pair")
	}
	if result.NewState != StateIdle {
		t.Fatalf("state must not change on a no-op")
	}
	if len(result.Actions) != 0 {
		t.Fatalf("no-op must not return actions")
	}
}

func TestApplyEvent_DisconnectDuringConnecting(t *testing.T) {
	result := ApplyEvent(StateConnecting, EventDisconnectRequested)
	if result.NewState != StateDisconnecting {
		t.Fatalf("new state = %s, want disconnecting", result.NewState)
	}
}

func containsAction(actions []Action, target Action) bool {
	for _, a := range actions {
		if a == target {
			return true
		}
	}
	return false
}

func actionsEqual(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
