// Package nb implements the packet buffer — the carrier of a single packet
// across the datalink, network, transport, and application layers. It has
// zero external dependencies, mirroring the teacher's zero-dependency core
// package convention.
package nb

// Flag is a pipeline disposition/direction bit. The flag set is a
// lightweight state machine (see package doc on Buffer): exactly one of
// {RX, TX} holds throughout a buffer's life, and ARRIVED/DROPPED/REUSE
// govern whether the pipeline may still mutate or must free the buffer.
type Flag uint16

const (
	// RX marks a buffer that arrived from a driver.
	RX Flag = 1 << iota
	// TX marks a buffer composed for transmission.
	TX
	// ARRIVED marks a buffer consumed by its final handler; the buffer may
	// be freed unless REUSE is also set.
	ARRIVED
	// DROPPED marks a buffer no layer may mutate further; disposable by
	// upstream callers.
	DROPPED
	// BCAST marks a buffer whose destination is a broadcast address.
	BCAST
	// UNICAST marks a buffer whose destination is this device's unicast
	// address.
	UNICAST
	// MULTICAST marks a buffer whose destination is a multicast address
	// (always paired with DROPPED — multicast delivery is a non-goal).
	MULTICAST
	// NOCSUM marks a buffer whose checksum must not be (re)verified —
	// set on a defragmented whole, whose checksum covered only the
	// individual wire fragments.
	NOCSUM
	// REUSE marks a buffer whose final handler has taken ownership; the
	// pipeline must not free it.
	REUSE
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }
