// Package wlanmetrics provides a Prometheus-backed implementation of
// wlan.TelemetrySink, the same GaugeVec/CounterVec shape as the
// teacher's original bfdmetrics package.
package wlanmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

const (
	namespace = "wlanpolicyd"
	subsystem = "client"
)

// Label names for client connection metrics.
const (
	labelIface = "iface"
	labelSSID  = "ssid"
)

// Collector holds every Prometheus metric the connection core emits.
type Collector struct {
	ConnectAttempts  *prometheus.CounterVec
	ConnectSuccesses *prometheus.CounterVec
	ConnectFailures  *prometheus.CounterVec
	Disconnects      *prometheus.CounterVec
	ScansStarted     *prometheus.CounterVec
	ScanResultsFound *prometheus.GaugeVec
	InterfacesUp     prometheus.Gauge
}

// NewCollector creates and registers a Collector against reg. If reg is
// nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := newMetrics()
	reg.MustRegister(
		c.ConnectAttempts,
		c.ConnectSuccesses,
		c.ConnectFailures,
		c.Disconnects,
		c.ScansStarted,
		c.ScanResultsFound,
		c.InterfacesUp,
	)
	return c
}

func newMetrics() *Collector {
	ifaceLabels := []string{labelIface}
	ifaceSSIDLabels := []string{labelIface, labelSSID}

	return &Collector{
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connect_attempts_total",
			Help: "Total connect attempts issued to SME.",
		}, ifaceSSIDLabels),

		ConnectSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connect_successes_total",
			Help: "Total successful SME connect attempts.",
		}, ifaceSSIDLabels),

		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connect_failures_total",
			Help: "Total failed SME connect attempts.",
		}, ifaceSSIDLabels),

		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "disconnects_total",
			Help: "Total disconnects, labeled by interface.",
		}, ifaceLabels),

		ScansStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "scans_started_total",
			Help: "Total scans started per interface.",
		}, ifaceLabels),

		ScanResultsFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "scan_results_found",
			Help: "Networks found by the most recent scan on each interface.",
		}, ifaceLabels),

		InterfacesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "interfaces_up",
			Help: "Number of client interfaces currently registered.",
		}),
	}
}

// Sink adapts Collector to wlan.TelemetrySink, translating typed events
// into metric increments.
type Sink struct {
	c *Collector
}

// NewSink wraps c as a wlan.TelemetrySink.
func NewSink(c *Collector) *Sink {
	return &Sink{c: c}
}

func (s *Sink) Emit(ev wlan.TelemetryEvent) {
	iface := ifaceLabel(ev.IfaceID)
	ssid := ev.NetworkID.SSID

	switch ev.Kind {
	case wlan.TelemetryConnectAttempt:
		s.c.ConnectAttempts.WithLabelValues(iface, ssid).Inc()
	case wlan.TelemetryConnectResult:
		if ev.Success {
			s.c.ConnectSuccesses.WithLabelValues(iface, ssid).Inc()
		} else {
			s.c.ConnectFailures.WithLabelValues(iface, ssid).Inc()
		}
	case wlan.TelemetryDisconnect:
		s.c.Disconnects.WithLabelValues(iface).Inc()
	case wlan.TelemetryScanStarted:
		s.c.ScansStarted.WithLabelValues(iface).Inc()
	case wlan.TelemetryScanCompleted:
		s.c.ScanResultsFound.WithLabelValues(iface).Set(float64(ev.ScanFound))
	case wlan.TelemetryIfaceAdded:
		s.c.InterfacesUp.Inc()
	case wlan.TelemetryIfaceRemoved:
		s.c.InterfacesUp.Dec()
	}
}

func ifaceLabel(ifaceID uint16) string {
	if ifaceID == 0 {
		return "unknown"
	}
	return "iface" + itoa(int(ifaceID))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
