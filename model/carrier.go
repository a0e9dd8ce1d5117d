package model

// CarrierID identifies one physical return-link carrier.
type CarrierID uint

// CarrierGroupID identifies a carrier group within its category.
type CarrierGroupID uint

// CarrierDefinition describes one physical carrier.
type CarrierDefinition struct {
	ID CarrierID

	// SymbolRate in symbols per second.
	SymbolRate float64
}

// CarrierGroupDefinition describes a set of carriers sharing one MODCOD
// assignment and one capacity pool.
type CarrierGroupDefinition struct {
	ID       CarrierGroupID
	Carriers []CarrierDefinition

	// ModcodID is the group's initial MODCOD; link adaptation may change it
	// at runtime.
	ModcodID ModcodID

	// PacketSizeBits is the fixed link-layer packet size used on this group.
	PacketSizeBits uint
}

// CategoryDefinition is a named group of carrier groups sharing one
// terminal-affectation policy.
type CategoryDefinition struct {
	Label         string
	CarrierGroups []CarrierGroupDefinition
}

// Scenario is the full return-link topology loaded at startup: the MODCOD
// table, the category -> carrier-group -> carrier tree, and the terminals
// known from configuration.
type Scenario struct {
	Modcods    []ModcodDefinition
	Categories []CategoryDefinition
	Terminals  []TerminalDefinition

	// DefaultMaxRbdcKbps applies to terminals logging on without a
	// configuration entry.
	DefaultMaxRbdcKbps uint
}
