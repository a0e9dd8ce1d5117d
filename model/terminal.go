package model

// TerminalID identifies a satellite terminal (ST) on the return link. IDs are
// assigned at logon and stay stable for the registration lifetime.
type TerminalID uint16

// BroadcastTalID is the highest id a real terminal can carry. IDs strictly
// above it belong to simulated traffic generators, which take part in the
// allocation like any terminal but are aggregated separately in telemetry.
const BroadcastTalID TerminalID = 0x1F

// SimulatedAggregateID is the pseudo-id under which the allocations of all
// simulated terminals are reported.
const SimulatedAggregateID TerminalID = 0

// IsSimulated reports whether the id belongs to a simulated traffic generator.
func (id TerminalID) IsSimulated() bool {
	return id > BroadcastTalID
}

// TerminalDefinition is the static, configuration-supplied description of a
// terminal: its identity and RBDC ceiling.
type TerminalDefinition struct {
	ID TerminalID

	// MaxRbdcKbps is the highest RBDC rate the terminal may ever be granted.
	MaxRbdcKbps uint
}

// CapacityRequest carries one terminal's aggregated demand for a frame, as
// decoded from its capacity-request messages by the (out-of-scope) wire layer.
type CapacityRequest struct {
	TerminalID TerminalID

	// RbdcKbps is the requested rate. It replaces the previous frame's value.
	RbdcKbps uint

	// VbdcPkt is additional backlog volume, in packets. It adds to the
	// terminal's outstanding backlog rather than replacing it.
	VbdcPkt uint
}

// TerminalGrant is the per-terminal output of one allocation cycle, consumed
// by the transmission-plan encoder.
type TerminalGrant struct {
	TerminalID TerminalID

	RbdcPktpf uint
	VbdcPkt   uint
	FcaPktpf  uint

	// Converted figures, for the plan encoder and telemetry.
	RbdcKbps uint
	VbdcKb   uint
	FcaKbps  uint
}
