package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetricFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func matchesLabels(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; !ok || v != lp.GetValue() {
			return false
		}
	}
	return true
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	family := findMetricFamily(t, registry, name)
	if family == nil {
		t.Fatalf("metric family %s not found", name)
	}
	for _, m := range family.GetMetric() {
		if matchesLabels(m, labels) {
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no metric %s with labels %v found", name, labels)
	return 0
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	family := findMetricFamily(t, registry, name)
	if family == nil {
		t.Fatalf("metric family %s not found", name)
	}
	for _, m := range family.GetMetric() {
		if matchesLabels(m, labels) {
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("no metric %s with labels %v found", name, labels)
	return 0
}
