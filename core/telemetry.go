package core

import (
	"time"

	"github.com/signalsfoundry/dama-controller/model"
)

// RemainingCapacity is one carrier group's leftover capacity at the end of a
// cycle, for reporting.
type RemainingCapacity struct {
	Category    string
	Group       model.CarrierGroupID
	RemainingKb uint
}

// TelemetryObserver receives capacity and allocation figures as the cycle
// progresses. The allocation phases never talk to a metrics backend directly;
// they report through this interface so the algorithm stays testable in
// isolation. Allocations of simulated terminals arrive aggregated under
// model.SimulatedAggregateID.
//
// Implementations are invoked from the controller's single frame-driving
// goroutine and must not call back into the controller.
type TelemetryObserver interface {
	// Capacity refresh, kilobits per frame.
	GroupCapacity(category string, group model.CarrierGroupID, totalKb uint)
	CategoryCapacity(category string, totalKb uint)
	GatewayCapacity(totalKb uint)

	// RBDC phase.
	TerminalRbdc(id model.TerminalID, rateKbps uint)
	RbdcPhase(requestCount, requestKbps, allocKbps uint)

	// VBDC phase.
	TerminalVbdc(id model.TerminalID, volKb uint)
	VbdcPhase(requestCount, requestKb, allocKb uint)

	// FCA phase.
	TerminalFca(id model.TerminalID, rateKbps uint)
	FcaPhase(allocKbps uint)

	// End of cycle.
	CycleDone(frame uint, remaining []RemainingCapacity, elapsed time.Duration)
}

// NoopTelemetry discards every report. Useful default and test observer.
type NoopTelemetry struct{}

func (NoopTelemetry) GroupCapacity(string, model.CarrierGroupID, uint)  {}
func (NoopTelemetry) CategoryCapacity(string, uint)                     {}
func (NoopTelemetry) GatewayCapacity(uint)                              {}
func (NoopTelemetry) TerminalRbdc(model.TerminalID, uint)               {}
func (NoopTelemetry) RbdcPhase(uint, uint, uint)                        {}
func (NoopTelemetry) TerminalVbdc(model.TerminalID, uint)               {}
func (NoopTelemetry) VbdcPhase(uint, uint, uint)                        {}
func (NoopTelemetry) TerminalFca(model.TerminalID, uint)                {}
func (NoopTelemetry) FcaPhase(uint)                                     {}
func (NoopTelemetry) CycleDone(uint, []RemainingCapacity, time.Duration) {}
