package wlan

import (
	"log/slog"
	"time"
)

// telemetry.go implements C7: a fire-and-forget typed event sink. Every
// emit is non-blocking; a full sink drops the event and logs once,
// matching the teacher's emitNotification drop-on-backpressure policy in
// internal/bfd/session.go.

// TelemetryEventKind enumerates every event the state machine, scan
// orchestrator, and interface manager report.
type TelemetryEventKind int

const (
	TelemetryConnectAttempt TelemetryEventKind = iota
	TelemetryConnectResult
	TelemetryDisconnect
	TelemetryScanStarted
	TelemetryScanCompleted
	TelemetryRoamScanTriggered
	TelemetryIfaceAdded
	TelemetryIfaceRemoved
	TelemetryApStarted
	TelemetryApStopped
	TelemetryConnectionsDisabled
	TelemetryNetworkSelectionDecision
	TelemetrySignalReport
	TelemetryChannelSwitch
	TelemetryActiveScanSsidsRequested
)

// TelemetryEvent is the single event type passed to a TelemetrySink. Only
// the fields relevant to Kind are populated.
type TelemetryEvent struct {
	Kind       TelemetryEventKind
	Time       time.Time
	IfaceID    uint16
	NetworkID  NetworkIdentifier
	Attempt    int
	Success    bool
	Disconnect DisconnectReason
	ScanFound  int

	// Duration carries a completed AP's enabled-duration on
	// TelemetryApStopped.
	Duration time.Duration

	// Signal and RSSIVelocity carry the latest sample and its signed
	// change from the previous EWMA RSSI on TelemetrySignalReport.
	Signal       SignalData
	RSSIVelocity float64

	// NewChannel carries the channel switched to on TelemetryChannelSwitch.
	NewChannel uint8

	// ActiveScanSsidCount carries the raw (unbucketed) number of SSIDs
	// requested in a directed active scan on
	// TelemetryActiveScanSsidsRequested; ActiveScanSsidBucket carries the
	// bucket label spec.md §4.4 step 6 assigns it.
	ActiveScanSsidCount  int
	ActiveScanSsidBucket string
}

// TelemetrySink receives fire-and-forget telemetry events. Emit MUST NOT
// block the caller; implementations that need to block internally (e.g.
// a network-backed exporter) must buffer and drop, never synchronously
// wait on the caller's goroutine.
type TelemetrySink interface {
	Emit(ev TelemetryEvent)
}

// NoopTelemetrySink discards every event. Used when no sink is configured.
type NoopTelemetrySink struct{}

func (NoopTelemetrySink) Emit(TelemetryEvent) {}

// ChannelTelemetrySink fans events out to a bounded channel, dropping and
// logging once per drop if the channel is full — the same non-blocking
// send pattern as bfd.Session.emitNotification.
type ChannelTelemetrySink struct {
	ch     chan TelemetryEvent
	logger *slog.Logger
}

// NewChannelTelemetrySink returns a sink backed by a channel of the given
// capacity. Callers drain Events() to consume them.
func NewChannelTelemetrySink(capacity int, logger *slog.Logger) *ChannelTelemetrySink {
	return &ChannelTelemetrySink{
		ch:     make(chan TelemetryEvent, capacity),
		logger: logger.With(slog.String("component", "telemetry")),
	}
}

// Events returns the channel consumers should range over.
func (c *ChannelTelemetrySink) Events() <-chan TelemetryEvent {
	return c.ch
}

func (c *ChannelTelemetrySink) Emit(ev TelemetryEvent) {
	select {
	case c.ch <- ev:
	default:
		c.logger.Warn("telemetry event dropped, channel full", slog.Int("kind", int(ev.Kind)))
	}
}

// MultiTelemetrySink fans one event out to several sinks, used to drive
// both the Prometheus-backed collector and any in-process listeners from
// the same emit call.
type MultiTelemetrySink struct {
	sinks []TelemetrySink
}

// NewMultiTelemetrySink combines sinks into one.
func NewMultiTelemetrySink(sinks ...TelemetrySink) *MultiTelemetrySink {
	return &MultiTelemetrySink{sinks: sinks}
}

func (m *MultiTelemetrySink) Emit(ev TelemetryEvent) {
	for _, s := range m.sinks {
		s.Emit(ev)
	}
}
