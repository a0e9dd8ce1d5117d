package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/dama-controller/internal/logging"
	"github.com/signalsfoundry/dama-controller/model"
)

// DamaController is the strategy interface shared by allocation variants.
// The four operations run strictly in this order, once per frame, over every
// category and carrier group.
type DamaController interface {
	UpdateCarriersAndFmts(ctx context.Context) error
	ComputeRbdc(ctx context.Context) error
	ComputeVbdc(ctx context.Context) error
	ComputeFca(ctx context.Context) error
}

// Config is the explicit configuration handed to a controller at
// construction. There is no ambient global configuration.
type Config struct {
	// SpotID identifies the satellite spot this controller instance serves.
	SpotID uint8

	// FrameDuration is the allocation period.
	FrameDuration time.Duration

	// FcaKbps is the free-capacity-allocation slice rate; 0 disables FCA.
	FcaKbps uint

	Scenario *model.Scenario
}

// cycleState tracks where the orchestration state machine stands within one
// frame. Transitions are strictly sequential; re-entry is a scheduling bug.
type cycleState int

const (
	stateIdle cycleState = iota
	stateCapacityRefreshed
	stateRbdcComputed
	stateVbdcComputed
	stateFcaComputed
)

// DamaCtrl holds the resource model and lifecycle shared by every DAMA
// variant: the category/carrier-group tree, the terminal arena, and the
// terminal-to-group affectation. It is confined to the single goroutine that
// drives the spot's frame timer; it does no locking of its own.
type DamaCtrl struct {
	spotID        uint8
	frameDuration time.Duration
	fcaKbps       uint

	categories      []*Category
	categoryByLabel map[string]*Category

	// terminals is the arena; carrier groups reference entries by id.
	terminals   map[model.TerminalID]*TerminalContext
	affectation map[model.TerminalID]*CarrierGroup

	ceilings       map[model.TerminalID]uint
	defaultMaxRbdc uint

	log      logging.Logger
	observer TelemetryObserver

	state cycleState
	frame uint
}

// NewDamaCtrl validates the configuration and builds the resource model.
// Configuration errors are fatal: the controller refuses to start.
func NewDamaCtrl(cfg Config, log logging.Logger, observer TelemetryObserver) (*DamaCtrl, error) {
	if cfg.Scenario == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrBadScenario)
	}
	if cfg.FrameDuration <= 0 {
		return nil, fmt.Errorf("%w: frame duration must be positive", ErrBadScenario)
	}
	if log == nil {
		log = logging.Noop()
	}
	if observer == nil {
		observer = NoopTelemetry{}
	}

	modcods, err := model.NewModcodTable(cfg.Scenario.Modcods)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScenario, err)
	}

	d := &DamaCtrl{
		spotID:          cfg.SpotID,
		frameDuration:   cfg.FrameDuration,
		fcaKbps:         cfg.FcaKbps,
		categoryByLabel: make(map[string]*Category),
		terminals:       make(map[model.TerminalID]*TerminalContext),
		affectation:     make(map[model.TerminalID]*CarrierGroup),
		ceilings:        make(map[model.TerminalID]uint),
		defaultMaxRbdc:  cfg.Scenario.DefaultMaxRbdcKbps,
		log:             log.With(logging.Int("spot", int(cfg.SpotID))),
		observer:        observer,
	}

	for _, cdef := range cfg.Scenario.Categories {
		if _, dup := d.categoryByLabel[cdef.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrBadScenario, cdef.Label)
		}
		cat, err := NewCategory(cdef, cfg.FrameDuration, modcods)
		if err != nil {
			return nil, err
		}
		d.categories = append(d.categories, cat)
		d.categoryByLabel[cdef.Label] = cat
	}
	if len(d.categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrBadScenario)
	}

	for _, tdef := range cfg.Scenario.Terminals {
		d.ceilings[tdef.ID] = tdef.MaxRbdcKbps
	}

	return d, nil
}

// SpotID returns the spot this controller serves.
func (d *DamaCtrl) SpotID() uint8 { return d.spotID }

// Frame returns the current superframe counter.
func (d *DamaCtrl) Frame() uint { return d.frame }

// FcaKbps returns the configured free-capacity slice rate.
func (d *DamaCtrl) FcaKbps() uint { return d.fcaKbps }

// Categories returns the categories in configuration order.
func (d *DamaCtrl) Categories() []*Category { return d.categories }

// Logon creates the terminal's context and maps it onto a carrier group. The
// RBDC ceiling comes from the scenario when configured, otherwise from the
// scenario default.
func (d *DamaCtrl) Logon(id model.TerminalID, category string, group model.CarrierGroupID) error {
	if _, exists := d.terminals[id]; exists {
		return fmt.Errorf("%w: %d", ErrTerminalExists, id)
	}

	g, err := d.resolveGroup(category, group)
	if err != nil {
		return err
	}

	maxRbdc, ok := d.ceilings[id]
	if !ok || maxRbdc == 0 {
		maxRbdc = d.defaultMaxRbdc
	}

	d.terminals[id] = NewTerminalContext(model.TerminalDefinition{ID: id, MaxRbdcKbps: maxRbdc})
	d.affectation[id] = g
	g.AttachTerminal(id)

	d.log.Info(context.Background(), "terminal logon",
		logging.Int("terminal", int(id)),
		logging.String("category", category),
		logging.Int("group", int(group)))
	return nil
}

// Logoff destroys the terminal's context. Credit does not survive logoff.
func (d *DamaCtrl) Logoff(id model.TerminalID) error {
	if _, exists := d.terminals[id]; !exists {
		return fmt.Errorf("%w: %d", ErrTerminalNotFound, id)
	}
	if g := d.affectation[id]; g != nil {
		g.DetachTerminal(id)
	}
	delete(d.affectation, id)
	delete(d.terminals, id)

	d.log.Info(context.Background(), "terminal logoff", logging.Int("terminal", int(id)))
	return nil
}

// SetTerminalAffectation remaps a terminal onto another carrier group, e.g.
// after a DRA change. Credit and backlog move with the terminal.
func (d *DamaCtrl) SetTerminalAffectation(id model.TerminalID, category string, group model.CarrierGroupID) error {
	if _, exists := d.terminals[id]; !exists {
		return fmt.Errorf("%w: %d", ErrTerminalNotFound, id)
	}
	g, err := d.resolveGroup(category, group)
	if err != nil {
		return err
	}
	if prev := d.affectation[id]; prev != nil {
		prev.DetachTerminal(id)
	}
	d.affectation[id] = g
	g.AttachTerminal(id)
	return nil
}

// SetCarrierModcod records a new MODCOD assignment from link adaptation. An
// id missing from the MODCOD table is not rejected here; the next capacity
// refresh detects it and keeps the previous capacity.
func (d *DamaCtrl) SetCarrierModcod(category string, group model.CarrierGroupID, modcod model.ModcodID) error {
	g, err := d.resolveGroup(category, group)
	if err != nil {
		return err
	}
	g.SetModcod(modcod)
	return nil
}

// ApplyRequests records the decoded capacity requests for the coming frame.
// A request for an unknown terminal is a transient lookup failure: logged,
// skipped, never fatal.
func (d *DamaCtrl) ApplyRequests(ctx context.Context, reqs []model.CapacityRequest) {
	for _, req := range reqs {
		t, ok := d.terminals[req.TerminalID]
		if !ok {
			d.log.Error(ctx, "capacity request for unknown terminal",
				logging.Int("terminal", int(req.TerminalID)),
				logging.Int("frame", int(d.frame)))
			continue
		}
		t.SetRequiredRbdc(req.RbdcKbps)
		t.AddVbdcRequest(req.VbdcPkt)
	}
}

// RunFrame executes one full allocation cycle through the given strategy:
// capacity refresh, then RBDC, VBDC and FCA, strictly in that order. A
// re-entrant call is a scheduling violation and is the only error surfaced;
// phase-local failures are absorbed and logged by the phases themselves.
func (d *DamaCtrl) RunFrame(ctx context.Context, strategy DamaController) error {
	if d.state != stateIdle {
		return fmt.Errorf("%w: frame %d fired in state %d", ErrCycleOverlap, d.frame, d.state)
	}
	start := time.Now()
	d.frame++

	for _, t := range d.terminals {
		t.ResetAllocations()
	}

	if err := strategy.UpdateCarriersAndFmts(ctx); err != nil {
		d.log.Error(ctx, "capacity refresh failed", logging.Any("error", err))
	}
	d.state = stateCapacityRefreshed

	if err := strategy.ComputeRbdc(ctx); err != nil {
		d.log.Error(ctx, "rbdc phase failed", logging.Any("error", err))
	}
	d.state = stateRbdcComputed

	if err := strategy.ComputeVbdc(ctx); err != nil {
		d.log.Error(ctx, "vbdc phase failed", logging.Any("error", err))
	}
	d.state = stateVbdcComputed

	if err := strategy.ComputeFca(ctx); err != nil {
		d.log.Error(ctx, "fca phase failed", logging.Any("error", err))
	}
	d.state = stateFcaComputed

	d.observer.CycleDone(d.frame, d.remainingCapacities(), time.Since(start))
	d.state = stateIdle
	return nil
}

// Grants snapshots the per-terminal allocations of the cycle that just
// completed, ordered by terminal id. Terminals without a carrier-group
// mapping contribute zero.
func (d *DamaCtrl) Grants() []model.TerminalGrant {
	out := make([]model.TerminalGrant, 0, len(d.terminals))
	for id, t := range d.terminals {
		grant := model.TerminalGrant{
			TerminalID: id,
			RbdcPktpf:  t.RbdcAllocation(),
			VbdcPkt:    t.VbdcAllocation(),
			FcaPktpf:   t.FcaAllocation(),
		}
		if g := d.affectation[id]; g != nil {
			conv := g.Converter()
			grant.RbdcKbps = conv.PktpfToKbps(t.RbdcAllocation())
			grant.VbdcKb = conv.PktToKbits(t.VbdcAllocation())
			grant.FcaKbps = conv.PktpfToKbps(t.FcaAllocation())
		}
		out = append(out, grant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TerminalID < out[j].TerminalID })
	return out
}

// Terminal returns the context for id, or nil.
func (d *DamaCtrl) Terminal(id model.TerminalID) *TerminalContext {
	return d.terminals[id]
}

// resolveGroup finds a carrier group by category label and group id.
func (d *DamaCtrl) resolveGroup(category string, group model.CarrierGroupID) (*CarrierGroup, error) {
	cat, ok := d.categoryByLabel[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	g := cat.CarrierGroup(group)
	if g == nil {
		return nil, fmt.Errorf("%w: %d in category %q", ErrUnknownCarrierGroup, group, category)
	}
	return g, nil
}

// terminalsOn resolves a group's terminal ids against the arena. An id the
// arena no longer knows is a transient lookup failure: that terminal
// contributes and receives nothing this phase.
func (d *DamaCtrl) terminalsOn(ctx context.Context, g *CarrierGroup) []*TerminalContext {
	ids := g.Terminals()
	out := make([]*TerminalContext, 0, len(ids))
	for _, id := range ids {
		t, ok := d.terminals[id]
		if !ok {
			d.log.Error(ctx, "terminal unmapped from carrier group mid-cycle",
				logging.Int("terminal", int(id)),
				logging.Int("group", int(g.ID())),
				logging.Int("frame", int(d.frame)))
			continue
		}
		out = append(out, t)
	}
	return out
}

// remainingCapacities reports every group's leftover capacity after the
// cycle, converted to kilobits through the group's own converter.
func (d *DamaCtrl) remainingCapacities() []RemainingCapacity {
	var out []RemainingCapacity
	for _, cat := range d.categories {
		for _, g := range cat.CarrierGroups() {
			out = append(out, RemainingCapacity{
				Category:    cat.Label(),
				Group:       g.ID(),
				RemainingKb: g.Converter().PktToKbits(g.RemainingCapacity()),
			})
		}
	}
	return out
}
