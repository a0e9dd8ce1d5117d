package core

import (
	"context"
	"testing"

	"github.com/signalsfoundry/dama-controller/model"
)

func TestFcaFixedSlicesWithFinalPartial(t *testing.T) {
	// Slice of 3 pktpf (300 kbit/s) against 5 pktpf of free capacity: one
	// full slice, one partial, nothing for the third terminal.
	ctrl := newTestController(t, 5, 3*kbpsPerPkt,
		model.TerminalDefinition{ID: 1},
		model.TerminalDefinition{ID: 2},
		model.TerminalDefinition{ID: 3},
	)

	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	var got []uint
	for _, id := range []model.TerminalID{1, 2, 3} {
		got = append(got, ctrl.Terminal(id).FcaAllocation())
	}
	var total uint
	for _, pktpf := range got {
		total += pktpf
	}
	if total != 5 {
		t.Fatalf("fca total = %d pktpf, want 5 (allocs %v)", total, got)
	}
	full, partial, zero := 0, 0, 0
	for _, pktpf := range got {
		switch pktpf {
		case 3:
			full++
		case 2:
			partial++
		case 0:
			zero++
		}
	}
	if full != 1 || partial != 1 || zero != 1 {
		t.Fatalf("fca slices = %v, want one full, one partial, one empty", got)
	}
}

func TestFcaDisabledWhenRateZero(t *testing.T) {
	ctrl := newTestController(t, 10, 0,
		model.TerminalDefinition{ID: 1},
	)

	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	if got := ctrl.Terminal(1).FcaAllocation(); got != 0 {
		t.Fatalf("fca = %d pktpf, want 0 when disabled", got)
	}
	if got := testGroup(t, ctrl).RemainingCapacity(); got != 10 {
		t.Fatalf("remaining capacity = %d, want 10 untouched", got)
	}
}

func TestFcaOnlyAfterRbdcAndVbdcServed(t *testing.T) {
	ctrl := newTestController(t, 10, 2*kbpsPerPkt,
		model.TerminalDefinition{ID: 1},
		model.TerminalDefinition{ID: 2},
	)

	ctrl.ApplyRequests(context.Background(), []model.CapacityRequest{
		{TerminalID: 1, RbdcKbps: 4 * kbpsPerPkt},
		{TerminalID: 2, VbdcPkt: 3},
	})
	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	// 10 - 4 rbdc - 3 vbdc = 3 pktpf free: one full 2-pktpf slice and one
	// partial of 1.
	var totalFca uint
	for _, id := range []model.TerminalID{1, 2} {
		totalFca += ctrl.Terminal(id).FcaAllocation()
	}
	if totalFca != 3 {
		t.Fatalf("fca total = %d pktpf, want 3", totalFca)
	}
	if got := testGroup(t, ctrl).RemainingCapacity(); got != 0 {
		t.Fatalf("remaining capacity = %d, want 0", got)
	}
}

func TestFcaPrefersHighestCredit(t *testing.T) {
	ctrl := newTestController(t, 2, 2*kbpsPerPkt,
		model.TerminalDefinition{ID: 1},
		model.TerminalDefinition{ID: 2},
	)

	// Only one 2-pktpf slice fits; it must go to the terminal with the
	// higher accumulated credit regardless of attach order.
	ctrl.Terminal(2).AddRbdcCredit(75)

	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	if got := ctrl.Terminal(2).FcaAllocation(); got != 2 {
		t.Fatalf("terminal 2 fca = %d pktpf, want 2 (highest credit)", got)
	}
	if got := ctrl.Terminal(1).FcaAllocation(); got != 0 {
		t.Fatalf("terminal 1 fca = %d pktpf, want 0", got)
	}
}

func TestFcaSliceSmallerThanOnePacketGrantsNothing(t *testing.T) {
	// 50 kbit/s converts to zero packets per frame; the phase must be a
	// no-op rather than a spin over zero-size slices.
	ctrl := newTestController(t, 10, 50,
		model.TerminalDefinition{ID: 1},
	)

	if err := ctrl.RunFrame(context.Background()); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	if got := ctrl.Terminal(1).FcaAllocation(); got != 0 {
		t.Fatalf("fca = %d pktpf, want 0 for sub-packet slice", got)
	}
	if got := testGroup(t, ctrl).RemainingCapacity(); got != 10 {
		t.Fatalf("remaining capacity = %d, want 10", got)
	}
}
