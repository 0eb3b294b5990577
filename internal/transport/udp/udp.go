// Package udp implements UDP input and output (spec §4.H), grounded on
// original_source/source/transport/udp.c and the teacher's decodeUDP
// (internal/core/decoder/transport.go) for header layout.
package udp

import (
	"encoding/binary"

	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
	"github.com/nbstack/nbstack/internal/socket"
)

const (
	HeaderLen = 8
	protoUDP  = 17
)

// Header is a decoded UDP header.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Input verifies the checksum (when present — UDP checksums are
// optional) and delivers the payload to the socket bound to (dstAddr,
// dport). A checksum field of 0 means "no checksum" and skips
// verification, as does NOCSUM on a reassembled buffer; a field of
// 0xFFFF is rewritten to 0 before verifying, following udp_input's
// `hdr->csum == 0xFFFF -> 0x0` convention. A nonzero verification result
// drops the datagram, and an unmatched port drops it as port-unreachable.
func Input(devName string, b *nb.Buffer, srcAddr, dstAddr [4]byte, sockets *socket.Table) {
	data := b.Window(nb.Transport)
	if len(data) < HeaderLen {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(devName, "udp").Inc()
		return
	}

	h := Header{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint16(data[4:6]),
		Checksum: binary.BigEndian.Uint16(data[6:8]),
	}

	if !b.Is(nb.NOCSUM) && h.Checksum != 0 {
		if h.Checksum == 0xFFFF {
			// The sender's computed checksum was zero; 0 is reserved to
			// mean "no checksum", so 0xFFFF stands in for it on the wire.
			// Zero the field in place before re-summing, exactly as the
			// sender's own zero checksum would have summed.
			data[6], data[7] = 0, 0
		}
		if verify := nb.ChecksumWithPseudoHeader(data, srcAddr, dstAddr, protoUDP); verify != 0 {
			b.MarkDropped()
			metrics.DropsTotal.WithLabelValues(devName, "udp").Inc()
			return
		}
	}

	appLen := len(data) - HeaderLen
	off := b.Offset(nb.Transport)
	if appLen > 0 {
		if err := b.SetData(nb.Application, off+HeaderLen, appLen); err != nil {
			b.MarkDropped()
			return
		}
	}

	if appLen == 0 {
		b.MarkArrived()
		return
	}

	sock, ok := sockets.Find(dstAddr, h.DstPort)
	if !ok {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(devName, "udp").Inc()
		return
	}
	sock.Receive(b)
	b.MarkArrived()
}

// Output composes a UDP header in front of payload and returns the
// complete segment, leaving checksum computation to the caller (who
// knows the IPv4 pseudo-header) via ChecksumOver.
func Output(srcPort, dstPort uint16, payload []byte) []byte {
	segment := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(segment[0:2], srcPort)
	binary.BigEndian.PutUint16(segment[2:4], dstPort)
	binary.BigEndian.PutUint16(segment[4:6], uint16(len(segment)))
	copy(segment[HeaderLen:], payload)
	return segment
}

// ChecksumOver computes the UDP checksum over segment (produced by
// Output) with the IPv4 pseudo-header folded in, and rewrites a computed
// zero to 0xFFFF (0 is reserved to mean "no checksum").
func ChecksumOver(segment []byte, src, dst [4]byte) uint16 {
	segment[6], segment[7] = 0, 0
	csum := nb.ChecksumWithPseudoHeader(segment, src, dst, protoUDP)
	if csum == 0 {
		csum = 0xFFFF
	}
	binary.BigEndian.PutUint16(segment[6:8], csum)
	return csum
}
