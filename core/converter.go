package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/dama-controller/model"
)

// UnitConverter converts between the units of the allocation phases: rates in
// kbit/s, volumes in kilobits or packets, and the common internal capacity
// unit, packets per frame (pktpf). A converter is specific to one carrier
// group: it is parameterized by the frame duration, the group's link-layer
// packet size and the MODCOD efficiency table.
//
// Integer conversions truncate toward zero; callers that care about the
// discarded fraction (the RBDC phase) account for it via credit tracking.
type UnitConverter struct {
	frameDuration  time.Duration
	packetSizeBits uint
	modcods        *model.ModcodTable
}

// NewUnitConverter validates its parameters and builds a converter.
func NewUnitConverter(frameDuration time.Duration, packetSizeBits uint, modcods *model.ModcodTable) (*UnitConverter, error) {
	if frameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %v", frameDuration)
	}
	if packetSizeBits == 0 {
		return nil, fmt.Errorf("packet size must be positive")
	}
	if modcods == nil || modcods.Len() == 0 {
		return nil, fmt.Errorf("empty modcod table")
	}
	return &UnitConverter{
		frameDuration:  frameDuration,
		packetSizeBits: packetSizeBits,
		modcods:        modcods,
	}, nil
}

// frameMs returns the frame duration in milliseconds as a float, so that
// kbit/s multiplied by it yields bits per frame.
func (c *UnitConverter) frameMs() float64 {
	return float64(c.frameDuration) / float64(time.Millisecond)
}

// KbpsToPktpf converts a rate in kbit/s to whole packets per frame.
func (c *UnitConverter) KbpsToPktpf(rateKbps uint) uint {
	bitsPerFrame := float64(rateKbps) * c.frameMs()
	return uint(bitsPerFrame / float64(c.packetSizeBits))
}

// PktpfToKbps converts whole packets per frame to a rate in kbit/s,
// truncating toward zero.
func (c *UnitConverter) PktpfToKbps(pktpf uint) uint {
	return uint(c.PktpfToKbpsExact(float64(pktpf)))
}

// PktpfToKbpsExact is the lossless real-valued form of PktpfToKbps, used for
// credit accounting where truncation would defeat long-run fairness.
func (c *UnitConverter) PktpfToKbpsExact(pktpf float64) float64 {
	return pktpf * float64(c.packetSizeBits) / c.frameMs()
}

// PktToKbits converts a volume in packets to kilobits, truncating.
func (c *UnitConverter) PktToKbits(volPkt uint) uint {
	return uint(float64(volPkt) * float64(c.packetSizeBits) / 1000.0)
}

// KbitsToPkt converts a volume in kilobits to whole packets, truncating.
func (c *UnitConverter) KbitsToPkt(volKb uint) uint {
	return uint(float64(volKb) * 1000.0 / float64(c.packetSizeBits))
}

// SymToKbits converts a symbol count to kilobits under the given MODCOD's
// spectral efficiency. It fails on an unknown MODCOD id.
func (c *UnitConverter) SymToKbits(id model.ModcodID, symbols uint64) (uint, error) {
	def, ok := c.modcods.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: modcod %d", ErrUnknownModcod, id)
	}
	return uint(float64(symbols) * def.BitsPerSymbol / 1000.0), nil
}

// PacketSizeBits returns the link-layer packet size this converter assumes.
func (c *UnitConverter) PacketSizeBits() uint {
	return c.packetSizeBits
}

// FrameDuration returns the frame duration this converter assumes.
func (c *UnitConverter) FrameDuration() time.Duration {
	return c.frameDuration
}
