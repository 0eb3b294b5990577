// Package ethernet implements datalink framing (spec §4.E): decoding an
// inbound frame into its network-layer window plus EtherType, and
// composing an outbound frame from a network-layer payload plus a
// resolved next-hop link address. Header layout follows the teacher's
// decodeEthernet (internal/core/decoder/ethernet.go); VLAN tags are out
// of scope here (not named by the spec), matching its "no non-Ethernet
// datalink media" implicit boundary.
package ethernet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/nbstack/nbstack/internal/demux"
	"github.com/nbstack/nbstack/internal/destcache"
	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
)

const (
	HeaderLen = 14

	TypeIPv4 uint16 = 0x0800
	TypeARP  uint16 = 0x0806
)

// Device is the narrow view of internal/device.Device that ethernet_input
// needs, kept minimal so this package does not import internal/device;
// the stack wiring layer installs Input as the device's rxHandler.
type Device interface {
	Name() string
	HWAddr() net.HardwareAddr
}

// Input decodes the 14-byte Ethernet header at the front of b's datalink
// window, publishes the network-layer window over the remaining bytes,
// sets b.Protocol to the EtherType, classifies the destination address,
// and dispatches through table. Frames shorter than HeaderLen are marked
// DROPPED (spec §4.E edge case: truncated header), and so is a unicast
// frame whose destination address isn't dev's own hw-address — it's a
// frame addressed to a different station that reached this device anyway.
func Input(dev Device, b *nb.Buffer, table *demux.Table) {
	data := b.Window(nb.Datalink)
	if len(data) < HeaderLen {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(dev.Name(), "ethernet").Inc()
		return
	}

	dstMAC := data[0:6]
	etherType := binary.BigEndian.Uint16(data[12:14])

	switch {
	case isBroadcast(dstMAC):
		b.SetFlag(nb.BCAST)
	case isMulticast(dstMAC):
		b.SetFlag(nb.MULTICAST)
	default:
		b.SetFlag(nb.UNICAST)
		if !bytes.Equal(dstMAC, dev.HWAddr()) {
			b.MarkDropped()
			metrics.DropsTotal.WithLabelValues(dev.Name(), "ethernet").Inc()
			return
		}
	}

	if err := b.SetData(nb.Network, HeaderLen, len(data)-HeaderLen); err != nil {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(dev.Name(), "ethernet").Inc()
		return
	}
	b.Protocol = etherType

	table.Dispatch(b)
}

// Output composes a 14-byte Ethernet header in front of b's network-layer
// window and hands the completed frame to write. The next-hop link
// address is resolved from dest by nextHopIP (spec §4.C: no dynamic
// neighbor discovery, so an unresolved destination is a hard failure, not
// a queued probe).
func Output(dev Device, b *nb.Buffer, dest *destcache.Cache, nextHopIP []byte, etherType uint16, write func(*nb.Buffer) error) error {
	hw, ok := dest.Find(nextHopIP)
	if !ok {
		b.MarkDropped()
		return fmt.Errorf("ethernet: no destination cache entry for next hop %v", net.IP(nextHopIP))
	}

	payload := b.Window(nb.Network)
	header := make([]byte, HeaderLen+len(payload))
	copy(header[0:6], hw)
	copy(header[6:12], dev.HWAddr())
	binary.BigEndian.PutUint16(header[12:14], etherType)
	copy(header[HeaderLen:], payload)

	b.CpyData(nb.Datalink, header)
	return write(b)
}

func isBroadcast(mac []byte) bool {
	for _, b := range mac {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func isMulticast(mac []byte) bool {
	return len(mac) > 0 && mac[0]&0x01 != 0
}
