package wlanmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	wlanmetrics "github.com/openwlan/wlanpolicyd/internal/metrics"
	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wlanmetrics.NewCollector(reg)

	if c.ConnectAttempts == nil || c.ConnectSuccesses == nil || c.ConnectFailures == nil {
		t.Fatal("connect metrics not initialized")
	}
	if c.Disconnects == nil || c.ScansStarted == nil || c.ScanResultsFound == nil || c.InterfacesUp == nil {
		t.Fatal("scan/interface metrics not initialized")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSink_ConnectLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wlanmetrics.NewCollector(reg)
	sink := wlanmetrics.NewSink(c)

	id := wlan.NetworkIdentifier{SSID: "office"}
	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryConnectAttempt, IfaceID: 1, NetworkID: id})
	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryConnectResult, Success: true, IfaceID: 1, NetworkID: id})

	if v := counterValue(t, c.ConnectAttempts, "iface1", "office"); v != 1 {
		t.Errorf("ConnectAttempts = %v, want 1", v)
	}
	if v := counterValue(t, c.ConnectSuccesses, "iface1", "office"); v != 1 {
		t.Errorf("ConnectSuccesses = %v, want 1", v)
	}
	if v := counterValue(t, c.ConnectFailures, "iface1", "office"); v != 0 {
		t.Errorf("ConnectFailures = %v, want 0", v)
	}
}

func TestSink_InterfaceLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wlanmetrics.NewCollector(reg)
	sink := wlanmetrics.NewSink(c)

	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryIfaceAdded, IfaceID: 1})
	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryIfaceAdded, IfaceID: 2})
	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryIfaceRemoved, IfaceID: 1})

	if v := gaugeValue(t, c.InterfacesUp); v != 1 {
		t.Errorf("InterfacesUp = %v, want 1", v)
	}
}

func TestSink_ScanCompleted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wlanmetrics.NewCollector(reg)
	sink := wlanmetrics.NewSink(c)

	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryScanStarted, IfaceID: 1})
	sink.Emit(wlan.TelemetryEvent{Kind: wlan.TelemetryScanCompleted, IfaceID: 1, ScanFound: 7})

	if v := counterValue(t, c.ScansStarted, "iface1"); v != 1 {
		t.Errorf("ScansStarted = %v, want 1", v)
	}
	if v := gaugeValueVec(t, c.ScanResultsFound, "iface1"); v != 7 {
		t.Errorf("ScanResultsFound = %v, want 7", v)
	}
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValueVec(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
