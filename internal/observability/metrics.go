package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/dama-controller/core"
	"github.com/signalsfoundry/dama-controller/model"
)

// DamaCollector bundles the Prometheus probes of one controller instance and
// implements core.TelemetryObserver, so the allocation phases publish through
// it without knowing about Prometheus. Capacity figures mirror the carrier /
// category / gateway granularity of the capacity refresh.
type DamaCollector struct {
	gatherer prometheus.Gatherer

	GroupCapacityKb     *prometheus.GaugeVec
	CategoryCapacityKb  *prometheus.GaugeVec
	GatewayCapacityKb   prometheus.Gauge
	GroupRemainingKb    *prometheus.GaugeVec
	CategoryRemainingKb *prometheus.GaugeVec
	GatewayRemainingKb  prometheus.Gauge

	TerminalRbdcKbps *prometheus.GaugeVec
	TerminalVbdcKb   *prometheus.GaugeVec
	TerminalFcaKbps  *prometheus.GaugeVec

	RbdcRequests    prometheus.Gauge
	RbdcRequestKbps prometheus.Gauge
	RbdcAllocKbps   prometheus.Gauge
	VbdcRequests    prometheus.Gauge
	VbdcRequestKb   prometheus.Gauge
	VbdcAllocKb     prometheus.Gauge
	FcaAllocKbps    prometheus.Gauge

	CycleDuration prometheus.Histogram
	CyclesTotal   prometheus.Counter
}

var _ core.TelemetryObserver = (*DamaCollector)(nil)

// NewDamaCollector registers the DAMA probes against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewDamaCollector(spot uint8, reg prometheus.Registerer) (*DamaCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	spotLabel := prometheus.Labels{"spot": strconv.Itoa(int(spot))}

	groupCapacity, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_group_capacity_kb",
		Help:        "Up/return capacity available per carrier group this frame, in kilobits.",
		ConstLabels: spotLabel,
	}, []string{"category", "group"}), "dama_group_capacity_kb")
	if err != nil {
		return nil, err
	}
	categoryCapacity, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_category_capacity_kb",
		Help:        "Up/return capacity available per category this frame, in kilobits.",
		ConstLabels: spotLabel,
	}, []string{"category"}), "dama_category_capacity_kb")
	if err != nil {
		return nil, err
	}
	gatewayCapacity, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dama_gateway_capacity_kb",
		Help:        "Total up/return capacity available this frame, in kilobits.",
		ConstLabels: spotLabel,
	}), "dama_gateway_capacity_kb")
	if err != nil {
		return nil, err
	}
	groupRemaining, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_group_remaining_kb",
		Help:        "Capacity left unallocated per carrier group after the cycle, in kilobits.",
		ConstLabels: spotLabel,
	}, []string{"category", "group"}), "dama_group_remaining_kb")
	if err != nil {
		return nil, err
	}
	categoryRemaining, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_category_remaining_kb",
		Help:        "Capacity left unallocated per category after the cycle, in kilobits.",
		ConstLabels: spotLabel,
	}, []string{"category"}), "dama_category_remaining_kb")
	if err != nil {
		return nil, err
	}
	gatewayRemaining, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dama_gateway_remaining_kb",
		Help:        "Total capacity left unallocated after the cycle, in kilobits.",
		ConstLabels: spotLabel,
	}), "dama_gateway_remaining_kb")
	if err != nil {
		return nil, err
	}

	terminalRbdc, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_terminal_rbdc_kbps",
		Help:        "RBDC allocation per terminal, in kbit/s. Simulated traffic is aggregated.",
		ConstLabels: spotLabel,
	}, []string{"terminal"}), "dama_terminal_rbdc_kbps")
	if err != nil {
		return nil, err
	}
	terminalVbdc, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_terminal_vbdc_kb",
		Help:        "VBDC allocation per terminal, in kilobits. Simulated traffic is aggregated.",
		ConstLabels: spotLabel,
	}, []string{"terminal"}), "dama_terminal_vbdc_kb")
	if err != nil {
		return nil, err
	}
	terminalFca, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dama_terminal_fca_kbps",
		Help:        "FCA allocation per terminal, in kbit/s. Simulated traffic is aggregated.",
		ConstLabels: spotLabel,
	}, []string{"terminal"}), "dama_terminal_fca_kbps")
	if err != nil {
		return nil, err
	}

	c := &DamaCollector{
		gatherer:            gatherer,
		GroupCapacityKb:     groupCapacity,
		CategoryCapacityKb:  categoryCapacity,
		GatewayCapacityKb:   gatewayCapacity,
		GroupRemainingKb:    groupRemaining,
		CategoryRemainingKb: categoryRemaining,
		GatewayRemainingKb:  gatewayRemaining,
		TerminalRbdcKbps:    terminalRbdc,
		TerminalVbdcKb:      terminalVbdc,
		TerminalFcaKbps:     terminalFca,
	}

	phaseGauges := []struct {
		target *prometheus.Gauge
		name   string
		help   string
	}{
		{&c.RbdcRequests, "dama_rbdc_requests", "Number of non-zero RBDC requests this frame."},
		{&c.RbdcRequestKbps, "dama_rbdc_request_kbps", "Sum of RBDC requests this frame, in kbit/s."},
		{&c.RbdcAllocKbps, "dama_rbdc_alloc_kbps", "Sum of RBDC allocations this frame, in kbit/s."},
		{&c.VbdcRequests, "dama_vbdc_requests", "Number of non-zero VBDC requests this frame."},
		{&c.VbdcRequestKb, "dama_vbdc_request_kb", "Sum of outstanding VBDC backlog this frame, in kilobits."},
		{&c.VbdcAllocKb, "dama_vbdc_alloc_kb", "Sum of VBDC allocations this frame, in kilobits."},
		{&c.FcaAllocKbps, "dama_fca_alloc_kbps", "Sum of FCA allocations this frame, in kbit/s."},
	}
	for _, pg := range phaseGauges {
		g, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        pg.name,
			Help:        pg.help,
			ConstLabels: spotLabel,
		}), pg.name)
		if err != nil {
			return nil, err
		}
		*pg.target = g
	}

	cycleDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "dama_cycle_duration_seconds",
		Help:        "Duration of one full allocation cycle.",
		Buckets:     []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		ConstLabels: spotLabel,
	}), "dama_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}
	c.CycleDuration = cycleDuration

	cyclesTotal, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dama_cycles_total",
		Help:        "Number of completed allocation cycles.",
		ConstLabels: spotLabel,
	}), "dama_cycles_total")
	if err != nil {
		return nil, err
	}
	c.CyclesTotal = cyclesTotal

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DamaCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ---- core.TelemetryObserver ----

func (c *DamaCollector) GroupCapacity(category string, group model.CarrierGroupID, totalKb uint) {
	c.GroupCapacityKb.WithLabelValues(category, strconv.Itoa(int(group))).Set(float64(totalKb))
}

func (c *DamaCollector) CategoryCapacity(category string, totalKb uint) {
	c.CategoryCapacityKb.WithLabelValues(category).Set(float64(totalKb))
}

func (c *DamaCollector) GatewayCapacity(totalKb uint) {
	c.GatewayCapacityKb.Set(float64(totalKb))
}

func (c *DamaCollector) TerminalRbdc(id model.TerminalID, rateKbps uint) {
	c.TerminalRbdcKbps.WithLabelValues(terminalLabel(id)).Set(float64(rateKbps))
}

func (c *DamaCollector) RbdcPhase(requestCount, requestKbps, allocKbps uint) {
	c.RbdcRequests.Set(float64(requestCount))
	c.RbdcRequestKbps.Set(float64(requestKbps))
	c.RbdcAllocKbps.Set(float64(allocKbps))
}

func (c *DamaCollector) TerminalVbdc(id model.TerminalID, volKb uint) {
	c.TerminalVbdcKb.WithLabelValues(terminalLabel(id)).Set(float64(volKb))
}

func (c *DamaCollector) VbdcPhase(requestCount, requestKb, allocKb uint) {
	c.VbdcRequests.Set(float64(requestCount))
	c.VbdcRequestKb.Set(float64(requestKb))
	c.VbdcAllocKb.Set(float64(allocKb))
}

func (c *DamaCollector) TerminalFca(id model.TerminalID, rateKbps uint) {
	c.TerminalFcaKbps.WithLabelValues(terminalLabel(id)).Set(float64(rateKbps))
}

func (c *DamaCollector) FcaPhase(allocKbps uint) {
	c.FcaAllocKbps.Set(float64(allocKbps))
}

func (c *DamaCollector) CycleDone(frame uint, remaining []core.RemainingCapacity, elapsed time.Duration) {
	byCategory := make(map[string]uint)
	var gatewayKb uint
	for _, r := range remaining {
		c.GroupRemainingKb.WithLabelValues(r.Category, strconv.Itoa(int(r.Group))).Set(float64(r.RemainingKb))
		byCategory[r.Category] += r.RemainingKb
		gatewayKb += r.RemainingKb
	}
	for category, kb := range byCategory {
		c.CategoryRemainingKb.WithLabelValues(category).Set(float64(kb))
	}
	c.GatewayRemainingKb.Set(float64(gatewayKb))
	c.CycleDuration.Observe(elapsed.Seconds())
	c.CyclesTotal.Inc()
}

func terminalLabel(id model.TerminalID) string {
	if id == model.SimulatedAggregateID {
		return "simulated"
	}
	return strconv.Itoa(int(id))
}

// ---- registration helpers ----

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
