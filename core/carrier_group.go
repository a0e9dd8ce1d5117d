package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/dama-controller/model"
)

// CarrierGroup is a set of physical carriers sharing one MODCOD assignment
// and one capacity pool. It owns the group's unit converter and the ids of
// the terminals mapped to it for the current frame; the terminal contexts
// themselves live in the controller's arena.
type CarrierGroup struct {
	id         model.CarrierGroupID
	carrierIDs []model.CarrierID

	// symbolsPerFrame is derived once from the carriers' symbol rates and
	// the frame duration; the MODCOD turns it into a capacity each frame.
	symbolsPerFrame uint64

	modcod model.ModcodID
	conv   *UnitConverter

	// totalPktpf is the last successfully refreshed capacity; a frame whose
	// refresh fails serves from this figure rather than from whatever the
	// previous frame left unallocated.
	totalPktpf     uint
	remainingPktpf uint

	// terminals in encounter (attach) order; stable ordering is what makes
	// the phases' tie-breaking deterministic.
	terminals []model.TerminalID
}

// NewCarrierGroup builds a group from its definition. The converter is
// group-local: it carries the group's packet size.
func NewCarrierGroup(def model.CarrierGroupDefinition, frameDuration time.Duration, modcods *model.ModcodTable) (*CarrierGroup, error) {
	if len(def.Carriers) == 0 {
		return nil, fmt.Errorf("carrier group %d: no carriers", def.ID)
	}
	conv, err := NewUnitConverter(frameDuration, def.PacketSizeBits, modcods)
	if err != nil {
		return nil, fmt.Errorf("carrier group %d: %w", def.ID, err)
	}
	if _, ok := modcods.Get(def.ModcodID); !ok {
		return nil, fmt.Errorf("carrier group %d: %w: modcod %d", def.ID, ErrUnknownModcod, def.ModcodID)
	}

	frameSec := frameDuration.Seconds()
	var symbols uint64
	ids := make([]model.CarrierID, 0, len(def.Carriers))
	for _, c := range def.Carriers {
		if c.SymbolRate <= 0 {
			return nil, fmt.Errorf("carrier group %d: carrier %d: symbol rate must be positive", def.ID, c.ID)
		}
		symbols += uint64(c.SymbolRate * frameSec)
		ids = append(ids, c.ID)
	}

	return &CarrierGroup{
		id:              def.ID,
		carrierIDs:      ids,
		symbolsPerFrame: symbols,
		modcod:          def.ModcodID,
		conv:            conv,
	}, nil
}

// ID returns the group id.
func (g *CarrierGroup) ID() model.CarrierGroupID { return g.id }

// CarrierIDs returns the physical carriers in the group.
func (g *CarrierGroup) CarrierIDs() []model.CarrierID { return g.carrierIDs }

// Converter returns the group-local unit converter.
func (g *CarrierGroup) Converter() *UnitConverter { return g.conv }

// Modcod returns the group's current MODCOD id.
func (g *CarrierGroup) Modcod() model.ModcodID { return g.modcod }

// SetModcod records a new MODCOD assignment from link adaptation. The id is
// not validated here: an unknown id surfaces at the next capacity refresh,
// which keeps the previous frame's capacity and logs the failure.
func (g *CarrierGroup) SetModcod(id model.ModcodID) { g.modcod = id }

// RefreshCapacity recomputes the group's total capacity from the current
// MODCOD and resets the remaining-capacity counter to it. It returns the
// total in kilobits per frame for telemetry. On failure the group falls back
// to its last successfully refreshed total, so a stuck MODCOD degrades the
// figure's freshness, not the group's availability.
func (g *CarrierGroup) RefreshCapacity() (uint, error) {
	totalKb, err := g.conv.SymToKbits(g.modcod, g.symbolsPerFrame)
	if err != nil {
		g.remainingPktpf = g.totalPktpf
		return 0, err
	}
	g.totalPktpf = g.conv.KbitsToPkt(totalKb)
	g.remainingPktpf = g.totalPktpf
	return totalKb, nil
}

// RemainingCapacity returns the capacity still unallocated, in pktpf.
func (g *CarrierGroup) RemainingCapacity() uint { return g.remainingPktpf }

// SetRemainingCapacity overwrites the remaining-capacity counter.
func (g *CarrierGroup) SetRemainingCapacity(pktpf uint) { g.remainingPktpf = pktpf }

// Spend decrements the remaining capacity, guarding the non-negativity
// invariant: overspending is a bug in the calling phase, not a terminal
// condition.
func (g *CarrierGroup) Spend(pktpf uint) error {
	if pktpf > g.remainingPktpf {
		return fmt.Errorf("%w: spend %d pktpf with %d remaining on group %d",
			ErrNegativeCapacity, pktpf, g.remainingPktpf, g.id)
	}
	g.remainingPktpf -= pktpf
	return nil
}

// AttachTerminal maps a terminal onto the group. Order of attachment is
// preserved.
func (g *CarrierGroup) AttachTerminal(id model.TerminalID) {
	for _, existing := range g.terminals {
		if existing == id {
			return
		}
	}
	g.terminals = append(g.terminals, id)
}

// DetachTerminal removes a terminal from the group.
func (g *CarrierGroup) DetachTerminal(id model.TerminalID) {
	for i, existing := range g.terminals {
		if existing == id {
			g.terminals = append(g.terminals[:i], g.terminals[i+1:]...)
			return
		}
	}
}

// Terminals returns the ids mapped to the group, in attach order.
func (g *CarrierGroup) Terminals() []model.TerminalID { return g.terminals }
