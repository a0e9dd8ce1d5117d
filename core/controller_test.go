package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/dama-controller/model"
)

// recordingObserver captures the order and payload of telemetry callbacks.
type recordingObserver struct {
	NoopTelemetry

	calls        []string
	gatewayKb    uint
	terminalRbdc map[model.TerminalID]uint
	terminalVbdc map[model.TerminalID]uint
	remaining    []RemainingCapacity
	frames       []uint

	// reenter, when set, tries to start another cycle from inside CycleDone.
	reenter    func(context.Context) error
	reenterErr error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		terminalRbdc: make(map[model.TerminalID]uint),
		terminalVbdc: make(map[model.TerminalID]uint),
	}
}

func (r *recordingObserver) GroupCapacity(string, model.CarrierGroupID, uint) {
	r.calls = append(r.calls, "group_capacity")
}

func (r *recordingObserver) GatewayCapacity(totalKb uint) {
	r.gatewayKb = totalKb
}

func (r *recordingObserver) TerminalRbdc(id model.TerminalID, rateKbps uint) {
	r.terminalRbdc[id] = rateKbps
}

func (r *recordingObserver) RbdcPhase(uint, uint, uint) {
	r.calls = append(r.calls, "rbdc")
}

func (r *recordingObserver) TerminalVbdc(id model.TerminalID, volKb uint) {
	r.terminalVbdc[id] = volKb
}

func (r *recordingObserver) VbdcPhase(uint, uint, uint) {
	r.calls = append(r.calls, "vbdc")
}

func (r *recordingObserver) FcaPhase(uint) {
	r.calls = append(r.calls, "fca")
}

func (r *recordingObserver) CycleDone(frame uint, remaining []RemainingCapacity, _ time.Duration) {
	r.calls = append(r.calls, "cycle_done")
	r.frames = append(r.frames, frame)
	r.remaining = remaining
	if r.reenter != nil {
		r.reenterErr = r.reenter(context.Background())
		r.reenter = nil
	}
}

func newObservedController(t *testing.T, capacityPktpf, fcaKbps uint, obs TelemetryObserver, terminals ...model.TerminalDefinition) *LegacyDamaCtrl {
	t.Helper()
	ctrl, err := NewLegacyDamaCtrl(Config{
		SpotID:        1,
		FrameDuration: testFrameDuration,
		FcaKbps:       fcaKbps,
		Scenario:      testScenario(capacityPktpf, terminals...),
	}, nil, obs)
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

func TestNewDamaCtrlRejectsBadConfig(t *testing.T) {
	valid := testScenario(10)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"nil scenario", Config{FrameDuration: testFrameDuration}},
		{"zero frame duration", Config{Scenario: valid}},
		{"no categories", Config{FrameDuration: testFrameDuration, Scenario: &model.Scenario{
			Modcods: valid.Modcods,
		}}},
		{"duplicate modcod", Config{FrameDuration: testFrameDuration, Scenario: &model.Scenario{
			Modcods: []model.ModcodDefinition{
				{ID: 1, BitsPerSymbol: 1.0},
				{ID: 1, BitsPerSymbol: 2.0},
			},
			Categories: valid.Categories,
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDamaCtrl(tc.cfg, nil, nil); !errors.Is(err, ErrBadScenario) {
				t.Fatalf("NewDamaCtrl error = %v, want ErrBadScenario", err)
			}
		})
	}
}

func TestLogonDuplicateAndLogoffUnknown(t *testing.T) {
	ctrl := newTestController(t, 10, 0, model.TerminalDefinition{ID: 1})

	if err := ctrl.Logon(1, "Standard", 1); !errors.Is(err, ErrTerminalExists) {
		t.Fatalf("duplicate logon error = %v, want ErrTerminalExists", err)
	}
	if err := ctrl.Logon(2, "Premium", 1); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("logon unknown category error = %v, want ErrUnknownCategory", err)
	}
	if err := ctrl.Logon(2, "Standard", 9); !errors.Is(err, ErrUnknownCarrierGroup) {
		t.Fatalf("logon unknown group error = %v, want ErrUnknownCarrierGroup", err)
	}
	if err := ctrl.Logoff(7); !errors.Is(err, ErrTerminalNotFound) {
		t.Fatalf("logoff unknown error = %v, want ErrTerminalNotFound", err)
	}
	if err := ctrl.Logoff(1); err != nil {
		t.Fatalf("logoff: %v", err)
	}
	if ctrl.Terminal(1) != nil {
		t.Fatalf("terminal context survived logoff")
	}
	if got := len(testGroup(t, ctrl).Terminals()); got != 0 {
		t.Fatalf("group still references %d terminals after logoff", got)
	}
}

func TestLogoffDropsCreditAndBacklog(t *testing.T) {
	ctrl := newTestController(t, 10, 0, model.TerminalDefinition{ID: 1})
	ctrl.Terminal(1).AddRbdcCredit(75)
	ctrl.Terminal(1).AddVbdcRequest(5)

	if err := ctrl.Logoff(1); err != nil {
		t.Fatalf("logoff: %v", err)
	}
	if err := ctrl.Logon(1, "Standard", 1); err != nil {
		t.Fatalf("re-logon: %v", err)
	}
	if credit := ctrl.Terminal(1).RbdcCredit(); credit != 0 {
		t.Fatalf("credit survived logoff: %v", credit)
	}
	if backlog := ctrl.Terminal(1).RequiredVbdc(); backlog != 0 {
		t.Fatalf("backlog survived logoff: %d", backlog)
	}
}

func TestSetTerminalAffectationMovesTerminal(t *testing.T) {
	scenario := testScenario(10, model.TerminalDefinition{ID: 1})
	scenario.Categories[0].CarrierGroups = append(scenario.Categories[0].CarrierGroups,
		model.CarrierGroupDefinition{
			ID:             2,
			ModcodID:       1,
			PacketSizeBits: 1000,
			Carriers:       []model.CarrierDefinition{{ID: 2, SymbolRate: 500000}},
		})

	ctrl, err := NewLegacyDamaCtrl(Config{
		SpotID:        1,
		FrameDuration: testFrameDuration,
		Scenario:      scenario,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewLegacyDamaCtrl: %v", err)
	}
	if err := ctrl.Logon(1, "Standard", 1); err != nil {
		t.Fatalf("Logon: %v", err)
	}
	ctrl.Terminal(1).AddVbdcRequest(3)

	if err := ctrl.SetTerminalAffectation(1, "Standard", 2); err != nil {
		t.Fatalf("SetTerminalAffectation: %v", err)
	}
	groups := ctrl.Categories()[0].CarrierGroups()
	if got := len(groups[0].Terminals()); got != 0 {
		t.Fatalf("old group still holds %d terminals", got)
	}
	if got := len(groups[1].Terminals()); got != 1 {
		t.Fatalf("new group holds %d terminals, want 1", got)
	}
	// Backlog travels with the terminal.
	if got := ctrl.Terminal(1).RequiredVbdc(); got != 3 {
		t.Fatalf("backlog after reaffectation = %d, want 3", got)
	}

	if err := ctrl.SetTerminalAffectation(9, "Standard", 2); !errors.Is(err, ErrTerminalNotFound) {
		t.Fatalf("reaffect unknown error = %v, want ErrTerminalNotFound", err)
	}
}

func TestApplyRequestsSkipsUnknownTerminal(t *testing.T) {
	ctrl := newTestController(t, 100, 0, model.TerminalDefinition{ID: 1})

	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 9, RbdcKbps: 500},
		{TerminalID: 1, RbdcKbps: 10 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if got := ctrl.Terminal(1).RbdcAllocation(); got != 10 {
		t.Fatalf("terminal 1 rbdc = %d pktpf, want 10", got)
	}
}

func TestRbdcRequestReplacedEachFrame(t *testing.T) {
	ctrl := newTestController(t, 100, 0, model.TerminalDefinition{ID: 1})

	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 10 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	// A new request replaces the old rate outright.
	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 2 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if got := ctrl.Terminal(1).RbdcAllocation(); got != 2 {
		t.Fatalf("terminal 1 rbdc = %d pktpf, want 2 after replacement", got)
	}
}

func TestRunFramePhaseOrderAndCycleDone(t *testing.T) {
	obs := newRecordingObserver()
	ctrl := newObservedController(t, 10, 2*kbpsPerPkt, obs, model.TerminalDefinition{ID: 1})

	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 4 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	want := []string{"group_capacity", "rbdc", "vbdc", "fca", "cycle_done"}
	if len(obs.calls) != len(want) {
		t.Fatalf("observer calls = %v, want %v", obs.calls, want)
	}
	for i, name := range want {
		if obs.calls[i] != name {
			t.Fatalf("call %d = %q, want %q (all: %v)", i, obs.calls[i], name, obs.calls)
		}
	}
	if obs.gatewayKb != 10 {
		t.Fatalf("gateway capacity = %d kb, want 10", obs.gatewayKb)
	}
	if len(obs.frames) != 1 || obs.frames[0] != 1 {
		t.Fatalf("cycle frames = %v, want [1]", obs.frames)
	}
	// 10 - 4 rbdc - 2 fca slice (one terminal) = 4 pktpf = 4 kb left.
	if len(obs.remaining) != 1 || obs.remaining[0].RemainingKb != 4 {
		t.Fatalf("remaining = %+v, want one entry of 4 kb", obs.remaining)
	}
	if obs.remaining[0].Category != "Standard" || obs.remaining[0].Group != 1 {
		t.Fatalf("remaining identity = %+v", obs.remaining[0])
	}
}

func TestRunFrameRejectsReentrantCycle(t *testing.T) {
	obs := newRecordingObserver()
	ctrl := newObservedController(t, 10, 0, obs, model.TerminalDefinition{ID: 1})
	obs.reenter = ctrl.RunFrame

	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if !errors.Is(obs.reenterErr, ErrCycleOverlap) {
		t.Fatalf("re-entrant RunFrame error = %v, want ErrCycleOverlap", obs.reenterErr)
	}
	// The outer cycle completes and the next frame runs normally.
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame after overlap: %v", err)
	}
	if got := ctrl.Frame(); got != 2 {
		t.Fatalf("frame counter = %d, want 2", got)
	}
}

func TestStaleCapacityKeptWhenModcodUnknown(t *testing.T) {
	ctrl := newTestController(t, 10, 0, model.TerminalDefinition{ID: 1})

	// A loaded first frame drains the group completely.
	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 10 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if got := testGroup(t, ctrl).RemainingCapacity(); got != 0 {
		t.Fatalf("remaining after loaded frame = %d, want 0", got)
	}

	// Link adaptation reports a MODCOD the table does not know. The refresh
	// fails, but the group keeps serving from its last refreshed total
	// rather than from the drained leftover.
	if err := ctrl.SetCarrierModcod("Standard", 1, 99); err != nil {
		t.Fatalf("SetCarrierModcod: %v", err)
	}
	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 4 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if got := ctrl.Terminal(1).RbdcAllocation(); got != 4 {
		t.Fatalf("terminal 1 rbdc = %d pktpf, want 4 on stale capacity", got)
	}

	if err := ctrl.SetCarrierModcod("Premium", 1, 1); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("SetCarrierModcod unknown category error = %v, want ErrUnknownCategory", err)
	}
}

func TestGrantsSortedAndConverted(t *testing.T) {
	ctrl := newTestController(t, 100, 0,
		model.TerminalDefinition{ID: 3},
		model.TerminalDefinition{ID: 1},
		model.TerminalDefinition{ID: 2},
	)

	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 3, RbdcKbps: 5 * kbpsPerPkt},
		{TerminalID: 1, VbdcPkt: 2},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	grants := ctrl.Grants()
	if len(grants) != 3 {
		t.Fatalf("grants length = %d, want 3", len(grants))
	}
	for i, id := range []model.TerminalID{1, 2, 3} {
		if grants[i].TerminalID != id {
			t.Fatalf("grants order = %v", grants)
		}
	}
	if grants[0].VbdcPkt != 2 || grants[0].VbdcKb != 2 {
		t.Fatalf("grant for terminal 1 = %+v, want 2 pkt / 2 kb vbdc", grants[0])
	}
	if grants[2].RbdcPktpf != 5 || grants[2].RbdcKbps != 5*kbpsPerPkt {
		t.Fatalf("grant for terminal 3 = %+v, want 5 pktpf / 500 kbps rbdc", grants[2])
	}
}

func TestSimulatedTerminalsAggregatedInTelemetry(t *testing.T) {
	obs := newRecordingObserver()
	ctrl := newObservedController(t, 100, 0, obs, model.TerminalDefinition{ID: 1})

	// IDs above the broadcast id are simulated traffic generators.
	for _, id := range []model.TerminalID{40, 41} {
		if err := ctrl.Logon(id, "Standard", 1); err != nil {
			t.Fatalf("Logon(%d): %v", id, err)
		}
	}

	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 10 * kbpsPerPkt},
		{TerminalID: 40, RbdcKbps: 3 * kbpsPerPkt},
		{TerminalID: 41, RbdcKbps: 4 * kbpsPerPkt},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	if got := obs.terminalRbdc[1]; got != 10*kbpsPerPkt {
		t.Fatalf("terminal 1 reported rbdc = %d kbps, want %d", got, 10*kbpsPerPkt)
	}
	if got := obs.terminalRbdc[model.SimulatedAggregateID]; got != 7*kbpsPerPkt {
		t.Fatalf("simulated aggregate rbdc = %d kbps, want %d", got, 7*kbpsPerPkt)
	}
	if _, leaked := obs.terminalRbdc[40]; leaked {
		t.Fatalf("simulated terminal 40 reported individually")
	}
	if _, leaked := obs.terminalRbdc[41]; leaked {
		t.Fatalf("simulated terminal 41 reported individually")
	}
}
