package ipv4

import (
	"net"

	"github.com/nbstack/nbstack/internal/demux"
	"github.com/nbstack/nbstack/internal/destcache"
	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
)

// Device is the narrow view internal/network/ipv4 needs of a device: its
// name (for metrics/logging), its configured local address/mask (for
// broadcast/unicast classification and next-hop choice), its gateway,
// and its destination cache (not consulted by this package: Output leaves
// link-address resolution to its write callback).
type Device interface {
	Name() string
	LocalIP() net.IP
	Mask() net.IPMask
	Gateway() net.IP
	Destinations() *destcache.Cache
}

// Reassembler accepts a fragment and returns the defragmented buffer once
// every fragment in its bucket has arrived, or ok=false while the bucket
// is still incomplete. See internal/network/ipv4/reassembly.
type Reassembler interface {
	Add(b *nb.Buffer, h Header) (whole *nb.Buffer, ok bool)
}

// Input validates and classifies an IPv4 datagram already positioned at
// b's network-layer window (published there by ethernet.Input), then
// either routes it to reasm for fragment reassembly or publishes the
// transport-layer window and dispatches through table. Matches
// ipv4_input in original_source/source/ipv4/ip-input.c: bogus
// version/header-length drops immediately; broadcast is flagged but
// still delivered locally; multicast is flagged and dropped (non-goal);
// a unicast datagram not addressed to this device is dropped.
func Input(dev Device, b *nb.Buffer, reasm Reassembler, table *demux.Table) {
	data := b.Window(nb.Network)
	h, err := ParseHeader(data)
	if err != nil {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(dev.Name(), "ipv4").Inc()
		return
	}

	if int(h.TotalLen) < h.HeaderLen() || int(h.TotalLen) > len(data) {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(dev.Name(), "ipv4").Inc()
		return
	}

	classify(dev, b, h)
	if b.Is(nb.MULTICAST) {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(dev.Name(), "ipv4").Inc()
		return
	}
	if b.Is(nb.DROPPED) {
		metrics.DropsTotal.WithLabelValues(dev.Name(), "ipv4").Inc()
		return
	}

	netOff := b.Offset(nb.Network)
	if err := b.SetData(nb.Network, netOff, h.HeaderLen()); err != nil {
		b.MarkDropped()
		return
	}
	if err := b.SetData(nb.Transport, netOff+h.HeaderLen(), int(h.TotalLen)-h.HeaderLen()); err != nil {
		b.MarkDropped()
		return
	}

	if h.IsFragment() {
		whole, ok := reasm.Add(b, h)
		if !ok {
			return
		}
		b = whole
		h, err = ParseHeader(b.Window(nb.Network))
		if err != nil {
			b.MarkDropped()
			return
		}
	}

	b.Protocol = uint16(h.Protocol)
	table.Dispatch(b)
}

func classify(dev Device, b *nb.Buffer, h Header) {
	dst := net.IPv4(h.Dst[0], h.Dst[1], h.Dst[2], h.Dst[3])
	local := dev.LocalIP()
	mask := dev.Mask()

	if dst.Equal(net.IPv4bcast) || (local != nil && mask != nil && isSubnetBroadcast(dst, local, mask)) {
		b.SetFlag(nb.BCAST)
		return
	}
	if dst.IsMulticast() {
		b.SetFlag(nb.MULTICAST)
		return
	}

	b.SetFlag(nb.UNICAST)
	if local != nil && !local.Equal(net.IPv4zero) && !dst.Equal(local) {
		b.MarkDropped()
	}
}

func isSubnetBroadcast(dst, local net.IP, mask net.IPMask) bool {
	l4, lm4 := local.To4(), mask
	d4 := dst.To4()
	if l4 == nil || d4 == nil || len(lm4) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if d4[i] != l4[i]|^lm4[i] {
			return false
		}
	}
	return true
}

func sameSubnet(dst, local net.IP, mask net.IPMask) bool {
	l4, d4 := local.To4(), dst.To4()
	if l4 == nil || d4 == nil || len(mask) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if d4[i]&mask[i] != l4[i]&mask[i] {
			return false
		}
	}
	return true
}

// Output composes an IPv4 header around payload and hands the resulting
// datagram to write together with its next-hop address: dst itself when
// dst is in the local subnet, otherwise the configured gateway (there is
// no routing table beyond that). Output does not consult the destination
// cache; resolving the next hop's link address is left to write.
func Output(dev Device, b *nb.Buffer, src, dst [4]byte, protocol uint8, id uint16, ttl uint8, payload []byte, write func(nextHop []byte, b *nb.Buffer) error) error {
	h := Header{
		TotalLen: uint16(MinHeaderLen + len(payload)),
		ID:       id,
		TTL:      ttl,
		Protocol: protocol,
		Src:      src,
		Dst:      dst,
	}
	datagram := Marshal(h, payload)
	b.CpyData(nb.Network, datagram)

	nextHop := dst[:]
	local, mask := dev.LocalIP(), dev.Mask()
	if local != nil && mask != nil && !sameSubnet(net.IPv4(dst[0], dst[1], dst[2], dst[3]), local, mask) {
		if gw := dev.Gateway(); gw != nil && !gw.Equal(net.IPv4zero) {
			if gw4 := gw.To4(); gw4 != nil {
				nextHop = gw4
			}
		}
	}

	return write(nextHop, b)
}
