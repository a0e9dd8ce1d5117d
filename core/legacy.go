package core

import (
	"context"
	"math"
	"sort"

	"github.com/signalsfoundry/dama-controller/internal/logging"
	"github.com/signalsfoundry/dama-controller/model"
)

// LegacyDamaCtrl is the legacy DVB-RCS2 allocation strategy: fair-share RBDC
// with credit-based remainder redistribution, ascending-volume greedy VBDC,
// and credit-ordered FCA slices.
type LegacyDamaCtrl struct {
	*DamaCtrl
}

// NewLegacyDamaCtrl builds the legacy controller variant.
func NewLegacyDamaCtrl(cfg Config, log logging.Logger, observer TelemetryObserver) (*LegacyDamaCtrl, error) {
	base, err := NewDamaCtrl(cfg, log, observer)
	if err != nil {
		return nil, err
	}
	return &LegacyDamaCtrl{DamaCtrl: base}, nil
}

// RunFrame executes one allocation cycle with this strategy.
func (l *LegacyDamaCtrl) RunFrame(ctx context.Context) error {
	return l.DamaCtrl.RunFrame(ctx, l)
}

// UpdateCarriersAndFmts recomputes every carrier group's capacity from its
// current MODCOD and resets the remaining-capacity counters the three phases
// will consume. A group whose MODCOD cannot be resolved serves from its last
// successfully refreshed total; this degrades that group's freshness, not
// the cycle.
func (l *LegacyDamaCtrl) UpdateCarriersAndFmts(ctx context.Context) error {
	var gatewayKb uint
	for _, cat := range l.categories {
		var categoryKb uint
		for _, g := range cat.CarrierGroups() {
			totalKb, err := g.RefreshCapacity()
			if err != nil {
				l.log.Error(ctx, "capacity refresh failed, serving last refreshed capacity",
					logging.Int("frame", int(l.frame)),
					logging.String("category", cat.Label()),
					logging.Int("group", int(g.ID())),
					logging.Any("error", err))
				continue
			}
			l.log.Debug(ctx, "carrier group capacity refreshed",
				logging.Int("frame", int(l.frame)),
				logging.String("category", cat.Label()),
				logging.Int("group", int(g.ID())),
				logging.Int("capacity_pktpf", int(g.RemainingCapacity())),
				logging.Int("capacity_kb", int(totalKb)))

			l.observer.GroupCapacity(cat.Label(), g.ID(), totalKb)
			categoryKb += totalKb
			gatewayKb += totalKb
		}
		l.observer.CategoryCapacity(cat.Label(), categoryKb)
	}
	l.observer.GatewayCapacity(gatewayKb)
	return nil
}

// ComputeRbdc runs the RBDC phase over every carrier group.
func (l *LegacyDamaCtrl) ComputeRbdc(ctx context.Context) error {
	var requestCount, requestKbps, allocKbps uint
	for _, cat := range l.categories {
		for _, g := range cat.CarrierGroups() {
			count, reqKbps, grantKbps := l.computeRbdcPerGroup(ctx, cat, g)
			requestCount += count
			requestKbps += reqKbps
			allocKbps += grantKbps
		}
	}
	l.observer.RbdcPhase(requestCount, requestKbps, allocKbps)
	return nil
}

// ComputeVbdc runs the VBDC phase over every carrier group, consuming the
// capacity the RBDC phase left.
func (l *LegacyDamaCtrl) ComputeVbdc(ctx context.Context) error {
	var requestCount, requestKb, allocKb uint
	for _, cat := range l.categories {
		for _, g := range cat.CarrierGroups() {
			count, reqKb, grantKb := l.computeVbdcPerGroup(ctx, cat, g)
			requestCount += count
			requestKb += reqKb
			allocKb += grantKb
		}
	}
	l.observer.VbdcPhase(requestCount, requestKb, allocKb)
	return nil
}

// ComputeFca distributes whatever capacity survived RBDC and VBDC, in fixed
// slices. Disabled entirely when the configured rate is zero.
func (l *LegacyDamaCtrl) ComputeFca(ctx context.Context) error {
	if l.fcaKbps == 0 {
		l.log.Debug(ctx, "no fca, skip", logging.Int("frame", int(l.frame)))
		return nil
	}

	var allocKbps uint
	for _, cat := range l.categories {
		for _, g := range cat.CarrierGroups() {
			allocKbps += l.computeFcaPerGroup(ctx, cat, g)
		}
	}
	l.observer.FcaPhase(allocKbps)
	return nil
}

// computeRbdcPerGroup runs the RBDC phase for one carrier group. Terminals
// are served their fair share of the group's remaining capacity; truncation
// losses accrue as credit and are redistributed one packet-slot at a time in
// descending-credit order.
func (l *LegacyDamaCtrl) computeRbdcPerGroup(ctx context.Context, cat *Category, g *CarrierGroup) (requestCount, requestKbps, allocKbps uint) {
	conv := g.Converter()
	terminals := l.terminalsOn(ctx, g)

	if g.RemainingCapacity() == 0 {
		l.log.Debug(ctx, "skipping rbdc: no capacity",
			logging.Int("frame", int(l.frame)),
			logging.String("category", cat.Label()),
			logging.Int("group", int(g.ID())))
		l.emitRbdcAllocations(terminals, conv)
		return 0, 0, 0
	}

	// Gather requests in pktpf, indexed alongside terminals.
	requests := make([]uint, len(terminals))
	var totalRequestPktpf uint
	for i, t := range terminals {
		requests[i] = conv.KbpsToPktpf(t.RequiredRbdc())
		totalRequestPktpf += requests[i]
		if requests[i] > 0 {
			requestCount++
		}
	}
	requestKbps = conv.PktpfToKbps(totalRequestPktpf)

	if totalRequestPktpf == 0 {
		l.log.Debug(ctx, "no rbdc request this frame",
			logging.Int("frame", int(l.frame)),
			logging.String("category", cat.Label()),
			logging.Int("group", int(g.ID())))
		l.emitRbdcAllocations(terminals, conv)
		return requestCount, 0, 0
	}

	// Fair share. Under 1 means capacity exceeds demand: clamp to exactly 1
	// so no terminal sees an artificial limitation.
	fairShare := float64(totalRequestPktpf) / float64(g.RemainingCapacity())
	if fairShare < 1.0 {
		fairShare = 1.0
		allocKbps = conv.PktpfToKbps(totalRequestPktpf)
	} else {
		allocKbps = conv.PktpfToKbps(g.RemainingCapacity())
	}

	l.log.Debug(ctx, "rbdc fair share",
		logging.Int("frame", int(l.frame)),
		logging.Int("group", int(g.ID())),
		logging.Int("total_request_pktpf", int(totalRequestPktpf)),
		logging.Any("fair_share", fairShare))

	// First pass: serve the integer part of each fair share, banking the
	// truncated fraction as credit when truncation actually occurred.
	for i, t := range terminals {
		fairPktpf := float64(requests[i]) / fairShare
		grant := uint(math.Floor(fairPktpf))
		t.SetRbdcAllocation(grant)
		if err := g.Spend(grant); err != nil {
			l.log.Error(ctx, "rbdc integer pass overspent, failing group for this cycle",
				logging.Int("group", int(g.ID())),
				logging.Any("error", err))
			g.SetRemainingCapacity(0)
			return requestCount, requestKbps, allocKbps
		}
		if fairShare > 1.0 {
			t.AddRbdcCredit(conv.PktpfToKbpsExact(fairPktpf - float64(grant)))
		}
	}

	// Second pass: spend accumulated credit on the leftover capacity, one
	// packet slot per terminal, highest credit first.
	if fairShare > 1.0 {
		ordered := byDescendingCredit(terminals)
		slotKbps := conv.PktpfToKbpsExact(1)
		for _, t := range ordered {
			if g.RemainingCapacity() == 0 {
				break
			}
			if t.RbdcCredit() <= slotKbps {
				continue
			}
			if max := t.MaxRbdcKbps(); max > 0 {
				if maxPktpf := conv.KbpsToPktpf(max); maxPktpf <= t.RbdcAllocation()+1 {
					continue
				}
			}
			t.SetRbdcAllocation(t.RbdcAllocation() + 1)
			t.AddRbdcCredit(-slotKbps)
			if err := g.Spend(1); err != nil {
				l.log.Error(ctx, "rbdc decimal pass overspent",
					logging.Int("group", int(g.ID())),
					logging.Any("error", err))
				g.SetRemainingCapacity(0)
				break
			}
		}
	}

	l.emitRbdcAllocations(terminals, conv)
	return requestCount, requestKbps, allocKbps
}

// computeVbdcPerGroup runs the VBDC phase for one carrier group: smallest
// backlog first, each terminal served in full while capacity lasts, then one
// partial grant and nothing after it.
func (l *LegacyDamaCtrl) computeVbdcPerGroup(ctx context.Context, cat *Category, g *CarrierGroup) (requestCount, requestKb, allocKb uint) {
	conv := g.Converter()
	terminals := l.terminalsOn(ctx, g)

	if g.RemainingCapacity() == 0 {
		l.log.Debug(ctx, "skipping vbdc: no capacity",
			logging.Int("frame", int(l.frame)),
			logging.String("category", cat.Label()),
			logging.Int("group", int(g.ID())))
		l.emitVbdcAllocations(terminals, conv)
		return 0, 0, 0
	}
	if len(terminals) == 0 {
		return 0, 0, 0
	}

	ordered := byAscendingVbdc(terminals)
	exhausted := false
	for _, t := range ordered {
		request := t.RequiredVbdc()
		if request == 0 {
			continue
		}
		requestCount++
		requestKb += conv.PktToKbits(request)
		if exhausted {
			continue
		}

		if request <= g.RemainingCapacity() {
			t.SetVbdcAllocation(request)
			if err := g.Spend(request); err != nil {
				l.log.Error(ctx, "vbdc overspent, failing group for this cycle",
					logging.Int("group", int(g.ID())),
					logging.Any("error", err))
				g.SetRemainingCapacity(0)
				exhausted = true
				continue
			}
			allocKb += conv.PktToKbits(request)
		} else {
			// Partial service for this terminal, zero for the rest.
			partial := g.RemainingCapacity()
			t.SetVbdcAllocation(partial)
			g.SetRemainingCapacity(0)
			allocKb += conv.PktToKbits(partial)
			exhausted = true
			l.log.Debug(ctx, "vbdc partial grant",
				logging.Int("frame", int(l.frame)),
				logging.Int("terminal", int(t.ID())),
				logging.Int("granted_pkt", int(partial)),
				logging.Int("requested_pkt", int(request)))
		}
	}

	l.emitVbdcAllocations(terminals, conv)
	return requestCount, requestKb, allocKb
}

// computeFcaPerGroup distributes fixed free-capacity slices for one group,
// highest RBDC credit first, ending with one partial slice when the capacity
// runs out.
func (l *LegacyDamaCtrl) computeFcaPerGroup(ctx context.Context, cat *Category, g *CarrierGroup) (allocKbps uint) {
	conv := g.Converter()
	terminals := l.terminalsOn(ctx, g)
	if len(terminals) == 0 {
		return 0
	}

	if g.RemainingCapacity() == 0 {
		l.log.Debug(ctx, "skipping fca: no capacity",
			logging.Int("frame", int(l.frame)),
			logging.String("category", cat.Label()),
			logging.Int("group", int(g.ID())))
		l.emitFcaAllocations(terminals, conv)
		return 0
	}

	slicePktpf := conv.KbpsToPktpf(l.fcaKbps)
	if slicePktpf == 0 {
		l.emitFcaAllocations(terminals, conv)
		return 0
	}

	ordered := byDescendingCredit(terminals)
	for _, t := range ordered {
		if g.RemainingCapacity() == 0 {
			break
		}
		if g.RemainingCapacity() > slicePktpf {
			t.SetFcaAllocation(slicePktpf)
			if err := g.Spend(slicePktpf); err != nil {
				l.log.Error(ctx, "fca overspent",
					logging.Int("group", int(g.ID())),
					logging.Any("error", err))
				g.SetRemainingCapacity(0)
				break
			}
		} else {
			t.SetFcaAllocation(g.RemainingCapacity())
			g.SetRemainingCapacity(0)
		}
		allocKbps += conv.PktpfToKbps(t.FcaAllocation())
	}

	l.emitFcaAllocations(terminals, conv)
	return allocKbps
}

// emitRbdcAllocations reports per-terminal RBDC grants, aggregating the
// simulated generators under one id.
func (l *LegacyDamaCtrl) emitRbdcAllocations(terminals []*TerminalContext, conv *UnitConverter) {
	var simPktpf uint
	var simSeen bool
	for _, t := range terminals {
		if t.ID().IsSimulated() {
			simPktpf += t.RbdcAllocation()
			simSeen = true
			continue
		}
		l.observer.TerminalRbdc(t.ID(), conv.PktpfToKbps(t.RbdcAllocation()))
	}
	if simSeen {
		l.observer.TerminalRbdc(model.SimulatedAggregateID, conv.PktpfToKbps(simPktpf))
	}
}

func (l *LegacyDamaCtrl) emitVbdcAllocations(terminals []*TerminalContext, conv *UnitConverter) {
	var simPkt uint
	var simSeen bool
	for _, t := range terminals {
		if t.ID().IsSimulated() {
			simPkt += t.VbdcAllocation()
			simSeen = true
			continue
		}
		l.observer.TerminalVbdc(t.ID(), conv.PktToKbits(t.VbdcAllocation()))
	}
	if simSeen {
		l.observer.TerminalVbdc(model.SimulatedAggregateID, conv.PktToKbits(simPkt))
	}
}

func (l *LegacyDamaCtrl) emitFcaAllocations(terminals []*TerminalContext, conv *UnitConverter) {
	var simPktpf uint
	var simSeen bool
	for _, t := range terminals {
		if t.ID().IsSimulated() {
			simPktpf += t.FcaAllocation()
			simSeen = true
			continue
		}
		l.observer.TerminalFca(t.ID(), conv.PktpfToKbps(t.FcaAllocation()))
	}
	if simSeen {
		l.observer.TerminalFca(model.SimulatedAggregateID, conv.PktpfToKbps(simPktpf))
	}
}

// byDescendingCredit returns the terminals sorted by RBDC credit, highest
// first, stable so encounter order breaks ties.
func byDescendingCredit(terminals []*TerminalContext) []*TerminalContext {
	out := make([]*TerminalContext, len(terminals))
	copy(out, terminals)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RbdcCredit() > out[j].RbdcCredit()
	})
	return out
}

// byAscendingVbdc returns the terminals sorted by outstanding backlog,
// smallest first, stable so encounter order breaks ties. Smallest-first
// maximizes the number of terminals whose backlog clears completely.
func byAscendingVbdc(terminals []*TerminalContext) []*TerminalContext {
	out := make([]*TerminalContext, len(terminals))
	copy(out, terminals)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequiredVbdc() < out[j].RequiredVbdc()
	})
	return out
}
