// Package netmon watches for Wi-Fi client interface hotplug (creation,
// removal, carrier state changes) so the connection manager can react to
// interfaces appearing and disappearing without polling.
package netmon

import (
	"context"
	"log/slog"
)

// -------------------------------------------------------------------------
// Interface Monitor — network interface state change detection
// -------------------------------------------------------------------------

// Event represents a network interface state change.
type Event struct {
	// IfName is the network interface name (e.g., "wlan0").
	IfName string

	// IfIndex is the kernel interface index.
	IfIndex int

	// Up indicates whether the interface transitioned to Up (true) or
	// Down (false). This maps to IFF_UP | IFF_RUNNING in the kernel.
	Up bool

	// Removed indicates the interface itself was destroyed (RTM_DELLINK),
	// as distinct from merely transitioning down.
	Removed bool
}

// Monitor watches for network interface state changes and emits events
// when client interfaces are created, destroyed, or change carrier state.
//
// Implementations may use NETLINK_ROUTE (Linux) or polling as the
// underlying mechanism. The interface is kept minimal so the wlan.Manager
// can react to interface hotplug without depending on a specific OS
// mechanism.
//
// Usage:
//
//	mon, err := netmon.NewLinuxMonitor(logger)
//	if err != nil {
//	    return err
//	}
//	events := mon.Events()
//	go func() {
//	    for ev := range events {
//	        handleLinkChange(ev)
//	    }
//	}()
//	mon.Run(ctx) // blocks until ctx is cancelled
type Monitor interface {
	// Run starts monitoring interface state changes. It blocks until ctx
	// is cancelled. Detected events are sent to the channel returned by
	// Events(). Run must be called at most once.
	Run(ctx context.Context) error

	// Events returns a read-only channel that receives interface state
	// change events. The channel is created at construction time and is
	// closed when Run returns. Callers should drain the channel after
	// Run completes.
	Events() <-chan Event

	// Close releases any resources held by the monitor. If Run is still
	// active, the caller should cancel the context first.
	Close() error
}

// -------------------------------------------------------------------------
// StubMonitor — no-op implementation
// -------------------------------------------------------------------------

// StubMonitor is a no-op implementation of Monitor that never emits
// events. It is used on non-Linux platforms or when interface monitoring
// is disabled, and as a deterministic fake in tests that don't exercise
// hotplug behavior.
type StubMonitor struct {
	events chan Event
	logger *slog.Logger
}

// NewStubMonitor creates a no-op interface monitor.
func NewStubMonitor(logger *slog.Logger) *StubMonitor {
	return &StubMonitor{
		events: make(chan Event, 16),
		logger: logger.With(slog.String("component", "netmon.stub")),
	}
}

// Run blocks until ctx is cancelled, then closes the events channel.
func (m *StubMonitor) Run(ctx context.Context) error {
	m.logger.Info("stub interface monitor started (no-op)")
	<-ctx.Done()
	close(m.events)
	m.logger.Info("stub interface monitor stopped")
	return nil
}

// Events returns the (always empty) event channel.
func (m *StubMonitor) Events() <-chan Event {
	return m.events
}

// Close is a no-op for the stub monitor.
func (m *StubMonitor) Close() error {
	return nil
}
