package core

import (
	"testing"
	"time"

	"github.com/signalsfoundry/dama-controller/model"
)

// Test topology: one category, one carrier group, packet size 1000 bits,
// frame 10 ms, MODCOD efficiency 1 bit/symbol. With those numbers the
// conversions stay readable: 1 pktpf == 100 kbit/s == 1 kb of volume.
const (
	testFrameDuration = 10 * time.Millisecond
	kbpsPerPkt        = 100
)

func testScenario(capacityPktpf uint, terminals ...model.TerminalDefinition) *model.Scenario {
	return &model.Scenario{
		Modcods: []model.ModcodDefinition{
			{ID: 1, Name: "QPSK 1/2", Modulation: "QPSK", CodingRate: "1/2", BitsPerSymbol: 1.0},
		},
		Categories: []model.CategoryDefinition{
			{
				Label: "Standard",
				CarrierGroups: []model.CarrierGroupDefinition{
					{
						ID:             1,
						ModcodID:       1,
						PacketSizeBits: 1000,
						Carriers: []model.CarrierDefinition{
							// capacity pktpf = symbolRate * 0.01 s / 1000 bits
							{ID: 1, SymbolRate: float64(capacityPktpf) * 100000},
						},
					},
				},
			},
		},
		Terminals:          terminals,
		DefaultMaxRbdcKbps: 100000,
	}
}

func newTestController(t *testing.T, capacityPktpf uint, fcaKbps uint, terminals ...model.TerminalDefinition) *LegacyDamaCtrl {
	t.Helper()

	ctrl, err := NewLegacyDamaCtrl(Config{
		SpotID:        1,
		FrameDuration: testFrameDuration,
		FcaKbps:       fcaKbps,
		Scenario:      testScenario(capacityPktpf, terminals...),
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewLegacyDamaCtrl: %v", err)
	}
	for _, def := range terminals {
		if err := ctrl.Logon(def.ID, "Standard", 1); err != nil {
			t.Fatalf("Logon(%d): %v", def.ID, err)
		}
	}
	return ctrl
}

func testGroup(t *testing.T, ctrl *LegacyDamaCtrl) *CarrierGroup {
	t.Helper()
	g := ctrl.Categories()[0].CarrierGroups()[0]
	if g == nil {
		t.Fatalf("test carrier group missing")
	}
	return g
}
