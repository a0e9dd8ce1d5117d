package model

import "fmt"

// ModcodID identifies one modulation/coding scheme in the MODCOD table.
type ModcodID uint8

// ModcodDefinition describes the efficiency of one MODCOD. BitsPerSymbol is
// the spectral efficiency after coding, i.e. useful bits carried per symbol.
type ModcodDefinition struct {
	ID            ModcodID
	Name          string // e.g. "QPSK 3/4"
	Modulation    string // e.g. "QPSK"
	CodingRate    string // e.g. "3/4"
	BitsPerSymbol float64
}

// ModcodTable maps MODCOD ids to their definitions. It is built once from
// configuration and read-only afterwards.
type ModcodTable struct {
	defs map[ModcodID]ModcodDefinition
}

// NewModcodTable builds a table, rejecting duplicate ids and non-positive
// efficiencies.
func NewModcodTable(defs []ModcodDefinition) (*ModcodTable, error) {
	t := &ModcodTable{defs: make(map[ModcodID]ModcodDefinition, len(defs))}
	for _, d := range defs {
		if d.BitsPerSymbol <= 0 {
			return nil, fmt.Errorf("modcod %d (%s): bits per symbol must be positive, got %g",
				d.ID, d.Name, d.BitsPerSymbol)
		}
		if _, exists := t.defs[d.ID]; exists {
			return nil, fmt.Errorf("duplicate modcod id %d", d.ID)
		}
		t.defs[d.ID] = d
	}
	return t, nil
}

// Get returns the definition for id, and whether it exists.
func (t *ModcodTable) Get(id ModcodID) (ModcodDefinition, bool) {
	d, ok := t.defs[id]
	return d, ok
}

// Len returns the number of MODCODs in the table.
func (t *ModcodTable) Len() int {
	return len(t.defs)
}
