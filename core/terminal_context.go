package core

import (
	"github.com/signalsfoundry/dama-controller/model"
)

// TerminalContext is the per-terminal allocation record. Requests and
// allocations are frame-transient; identity, the RBDC ceiling, the VBDC
// backlog and the RBDC credit persist across frames for the registration
// lifetime.
type TerminalContext struct {
	id          model.TerminalID
	maxRbdcKbps uint

	// Frame inputs. rbdcReqKbps is replaced every frame; vbdcBacklogPkt is
	// the outstanding backlog, fed by requests and drained by grants.
	rbdcReqKbps    uint
	vbdcBacklogPkt uint

	// Frame outputs, reset at the start of every allocation cycle.
	rbdcAllocPktpf uint
	vbdcAllocPkt   uint
	fcaAllocPktpf  uint

	// rbdcCreditKbps is the fractional rate entitlement carried across
	// frames so integer truncation stays fair in the long run. Never
	// negative.
	rbdcCreditKbps float64
}

// NewTerminalContext creates the context for a freshly logged-on terminal.
func NewTerminalContext(def model.TerminalDefinition) *TerminalContext {
	return &TerminalContext{
		id:          def.ID,
		maxRbdcKbps: def.MaxRbdcKbps,
	}
}

// ID returns the terminal id.
func (t *TerminalContext) ID() model.TerminalID { return t.id }

// MaxRbdcKbps returns the configured RBDC ceiling.
func (t *TerminalContext) MaxRbdcKbps() uint { return t.maxRbdcKbps }

// SetRequiredRbdc records the rate requested for the coming frame, capped at
// the terminal's ceiling.
func (t *TerminalContext) SetRequiredRbdc(rateKbps uint) {
	if t.maxRbdcKbps > 0 && rateKbps > t.maxRbdcKbps {
		rateKbps = t.maxRbdcKbps
	}
	t.rbdcReqKbps = rateKbps
}

// RequiredRbdc returns the rate requested for the coming frame.
func (t *TerminalContext) RequiredRbdc() uint { return t.rbdcReqKbps }

// AddVbdcRequest adds volume to the outstanding backlog.
func (t *TerminalContext) AddVbdcRequest(volPkt uint) {
	t.vbdcBacklogPkt += volPkt
}

// RequiredVbdc returns the live outstanding backlog in packets. It shrinks as
// grants are issued, so requests observed by the VBDC phase are net of all
// previous allocations.
func (t *TerminalContext) RequiredVbdc() uint { return t.vbdcBacklogPkt }

// ResetAllocations clears the frame-transient grants. Requests, backlog and
// credit are untouched.
func (t *TerminalContext) ResetAllocations() {
	t.rbdcAllocPktpf = 0
	t.vbdcAllocPkt = 0
	t.fcaAllocPktpf = 0
}

// SetRbdcAllocation records the RBDC grant for the current frame.
func (t *TerminalContext) SetRbdcAllocation(pktpf uint) { t.rbdcAllocPktpf = pktpf }

// RbdcAllocation returns the RBDC grant for the current frame.
func (t *TerminalContext) RbdcAllocation() uint { return t.rbdcAllocPktpf }

// SetVbdcAllocation records the VBDC grant and drains the same amount from
// the outstanding backlog.
func (t *TerminalContext) SetVbdcAllocation(volPkt uint) {
	t.vbdcAllocPkt = volPkt
	if volPkt >= t.vbdcBacklogPkt {
		t.vbdcBacklogPkt = 0
	} else {
		t.vbdcBacklogPkt -= volPkt
	}
}

// VbdcAllocation returns the VBDC grant for the current frame.
func (t *TerminalContext) VbdcAllocation() uint { return t.vbdcAllocPkt }

// SetFcaAllocation records the FCA grant for the current frame.
func (t *TerminalContext) SetFcaAllocation(pktpf uint) { t.fcaAllocPktpf = pktpf }

// FcaAllocation returns the FCA grant for the current frame.
func (t *TerminalContext) FcaAllocation() uint { return t.fcaAllocPktpf }

// AddRbdcCredit adjusts the credit balance. The balance is clamped at zero:
// credit is an entitlement, never a debt.
func (t *TerminalContext) AddRbdcCredit(deltaKbps float64) {
	t.rbdcCreditKbps += deltaKbps
	if t.rbdcCreditKbps < 0 {
		t.rbdcCreditKbps = 0
	}
}

// RbdcCredit returns the current credit balance in kbit/s.
func (t *TerminalContext) RbdcCredit() float64 { return t.rbdcCreditKbps }
