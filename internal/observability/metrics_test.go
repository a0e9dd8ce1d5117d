package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/dama-controller/core"
	"github.com/signalsfoundry/dama-controller/model"
)

func TestCollectorRecordsCapacityFigures(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDamaCollector(1, reg)
	if err != nil {
		t.Fatalf("NewDamaCollector: %v", err)
	}

	collector.GroupCapacity("Standard", 1, 5000)
	collector.CategoryCapacity("Standard", 5000)
	collector.GatewayCapacity(5000)

	if got := testutil.ToFloat64(collector.GroupCapacityKb.WithLabelValues("Standard", "1")); got != 5000 {
		t.Fatalf("dama_group_capacity_kb = %v, want 5000", got)
	}
	if got := testutil.ToFloat64(collector.CategoryCapacityKb.WithLabelValues("Standard")); got != 5000 {
		t.Fatalf("dama_category_capacity_kb = %v, want 5000", got)
	}
	if got := testutil.ToFloat64(collector.GatewayCapacityKb); got != 5000 {
		t.Fatalf("dama_gateway_capacity_kb = %v, want 5000", got)
	}
}

func TestCollectorAggregatesSimulatedTerminals(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDamaCollector(1, reg)
	if err != nil {
		t.Fatalf("NewDamaCollector: %v", err)
	}

	collector.TerminalRbdc(3, 512)
	collector.TerminalRbdc(model.SimulatedAggregateID, 2048)

	if got := testutil.ToFloat64(collector.TerminalRbdcKbps.WithLabelValues("3")); got != 512 {
		t.Fatalf("terminal 3 rbdc = %v, want 512", got)
	}
	if got := testutil.ToFloat64(collector.TerminalRbdcKbps.WithLabelValues("simulated")); got != 2048 {
		t.Fatalf("simulated rbdc = %v, want 2048", got)
	}
}

func TestCycleDoneRecordsRemainingAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDamaCollector(2, reg)
	if err != nil {
		t.Fatalf("NewDamaCollector: %v", err)
	}

	collector.CycleDone(7, []core.RemainingCapacity{
		{Category: "Standard", Group: 1, RemainingKb: 120},
		{Category: "Standard", Group: 3, RemainingKb: 30},
		{Category: "Premium", Group: 2, RemainingKb: 0},
	}, 3*time.Millisecond)

	if got := testutil.ToFloat64(collector.GroupRemainingKb.WithLabelValues("Standard", "1")); got != 120 {
		t.Fatalf("remaining Standard/1 = %v, want 120", got)
	}
	if got := testutil.ToFloat64(collector.GroupRemainingKb.WithLabelValues("Premium", "2")); got != 0 {
		t.Fatalf("remaining Premium/2 = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.CategoryRemainingKb.WithLabelValues("Standard")); got != 150 {
		t.Fatalf("dama_category_remaining_kb Standard = %v, want 150", got)
	}
	if got := testutil.ToFloat64(collector.CategoryRemainingKb.WithLabelValues("Premium")); got != 0 {
		t.Fatalf("dama_category_remaining_kb Premium = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.GatewayRemainingKb); got != 150 {
		t.Fatalf("dama_gateway_remaining_kb = %v, want 150", got)
	}
	if got := testutil.ToFloat64(collector.CyclesTotal); got != 1 {
		t.Fatalf("dama_cycles_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "dama_cycle_duration_seconds"); count != 1 {
		t.Fatalf("dama_cycle_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestMetricsHandlerExposesDamaProbes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDamaCollector(1, reg)
	if err != nil {
		t.Fatalf("NewDamaCollector: %v", err)
	}
	collector.GroupCapacity("Standard", 1, 900)
	collector.RbdcPhase(2, 60, 50)
	collector.VbdcPhase(1, 40, 40)
	collector.FcaPhase(10)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"dama_group_capacity_kb",
		"dama_rbdc_requests",
		"dama_rbdc_alloc_kbps",
		"dama_vbdc_alloc_kb",
		"dama_fca_alloc_kbps",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestDuplicateRegistrationIsTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewDamaCollector(1, reg); err != nil {
		t.Fatalf("first NewDamaCollector: %v", err)
	}
	if _, err := NewDamaCollector(1, reg); err != nil {
		t.Fatalf("second NewDamaCollector: %v", err)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string) uint64 {
	t.Helper()

	var families []*dto.MetricFamily
	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if h := m.GetHistogram(); h != nil {
				return h.GetSampleCount()
			}
		}
	}
	return 0
}
