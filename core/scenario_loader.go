package core

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/signalsfoundry/dama-controller/model"
)

// internal JSON shapes - kept unexported so we're free to evolve them.
type scenarioJSON struct {
	Modcods            []modcodJSON   `json:"modcods"`
	Categories         []categoryJSON `json:"categories"`
	Terminals          []terminalJSON `json:"terminals"`
	DefaultMaxRbdcKbps uint           `json:"default_max_rbdc_kbps"`
}

type modcodJSON struct {
	ID            uint8   `json:"id"`
	Name          string  `json:"name"`
	Modulation    string  `json:"modulation"`
	CodingRate    string  `json:"coding_rate"`
	BitsPerSymbol float64 `json:"bits_per_symbol"`
}

type categoryJSON struct {
	Label         string             `json:"label"`
	CarrierGroups []carrierGroupJSON `json:"carrier_groups"`
}

type carrierGroupJSON struct {
	ID             uint          `json:"id"`
	ModcodID       uint8         `json:"modcod_id"`
	PacketSizeBits uint          `json:"packet_size_bits"`
	Carriers       []carrierJSON `json:"carriers"`
}

type carrierJSON struct {
	ID         uint    `json:"id"`
	SymbolRate float64 `json:"symbol_rate"`
}

type terminalJSON struct {
	ID          uint16 `json:"id"`
	MaxRbdcKbps uint   `json:"max_rbdc_kbps"`
}

// LoadScenario reads the return-link topology from JSON: the MODCOD table,
// the category -> carrier-group -> carrier tree, and the configured terminal
// ceilings. It fails on JSON and structural errors; deeper invariants
// (duplicate ids, unknown MODCOD references) are enforced by the controller
// constructor, which is the fatal-at-startup path either way.
func LoadScenario(r io.Reader) (*model.Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrBadScenario, err)
	}

	if len(payload.Modcods) == 0 {
		return nil, fmt.Errorf("%w: no modcods", ErrBadScenario)
	}
	if len(payload.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrBadScenario)
	}

	s := &model.Scenario{
		DefaultMaxRbdcKbps: payload.DefaultMaxRbdcKbps,
	}

	for _, m := range payload.Modcods {
		s.Modcods = append(s.Modcods, model.ModcodDefinition{
			ID:            model.ModcodID(m.ID),
			Name:          m.Name,
			Modulation:    m.Modulation,
			CodingRate:    m.CodingRate,
			BitsPerSymbol: m.BitsPerSymbol,
		})
	}

	for _, c := range payload.Categories {
		if c.Label == "" {
			return nil, fmt.Errorf("%w: category with empty label", ErrBadScenario)
		}
		cdef := model.CategoryDefinition{Label: c.Label}
		for _, g := range c.CarrierGroups {
			if g.PacketSizeBits == 0 {
				return nil, fmt.Errorf("%w: category %q group %d: zero packet size",
					ErrBadScenario, c.Label, g.ID)
			}
			if len(g.Carriers) == 0 {
				return nil, fmt.Errorf("%w: category %q group %d: no carriers",
					ErrBadScenario, c.Label, g.ID)
			}
			gdef := model.CarrierGroupDefinition{
				ID:             model.CarrierGroupID(g.ID),
				ModcodID:       model.ModcodID(g.ModcodID),
				PacketSizeBits: g.PacketSizeBits,
			}
			for _, car := range g.Carriers {
				gdef.Carriers = append(gdef.Carriers, model.CarrierDefinition{
					ID:         model.CarrierID(car.ID),
					SymbolRate: car.SymbolRate,
				})
			}
			cdef.CarrierGroups = append(cdef.CarrierGroups, gdef)
		}
		s.Categories = append(s.Categories, cdef)
	}

	for _, t := range payload.Terminals {
		id := model.TerminalID(t.ID)
		if id.IsSimulated() {
			return nil, fmt.Errorf("%w: terminal %d is in the simulated id range", ErrBadScenario, t.ID)
		}
		s.Terminals = append(s.Terminals, model.TerminalDefinition{
			ID:          id,
			MaxRbdcKbps: t.MaxRbdcKbps,
		})
	}

	return s, nil
}
