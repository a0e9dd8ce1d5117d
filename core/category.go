package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/dama-controller/model"
)

// Category is a named, ordered collection of carrier groups sharing one
// terminal-affectation policy. It is static for a run.
type Category struct {
	label  string
	groups []*CarrierGroup
}

// NewCategory builds a category and its carrier groups from configuration.
func NewCategory(def model.CategoryDefinition, frameDuration time.Duration, modcods *model.ModcodTable) (*Category, error) {
	if def.Label == "" {
		return nil, fmt.Errorf("%w: empty category label", ErrBadScenario)
	}
	if len(def.CarrierGroups) == 0 {
		return nil, fmt.Errorf("%w: category %q has no carrier groups", ErrBadScenario, def.Label)
	}

	cat := &Category{label: def.Label}
	seen := make(map[model.CarrierGroupID]bool, len(def.CarrierGroups))
	for _, gdef := range def.CarrierGroups {
		if seen[gdef.ID] {
			return nil, fmt.Errorf("%w: category %q: duplicate carrier group %d",
				ErrBadScenario, def.Label, gdef.ID)
		}
		seen[gdef.ID] = true

		group, err := NewCarrierGroup(gdef, frameDuration, modcods)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", def.Label, err)
		}
		cat.groups = append(cat.groups, group)
	}
	return cat, nil
}

// Label returns the category label.
func (c *Category) Label() string { return c.label }

// CarrierGroups returns the category's carrier groups in configuration order.
func (c *Category) CarrierGroups() []*CarrierGroup { return c.groups }

// CarrierGroup returns the group with the given id, or nil.
func (c *Category) CarrierGroup(id model.CarrierGroupID) *CarrierGroup {
	for _, g := range c.groups {
		if g.ID() == id {
			return g
		}
	}
	return nil
}

// RemainingCapacityKb sums the groups' remaining capacity, converted to
// kilobits per frame through each group's own converter. Reporting only.
func (c *Category) RemainingCapacityKb() uint {
	var total uint
	for _, g := range c.groups {
		total += g.Converter().PktToKbits(g.RemainingCapacity())
	}
	return total
}
