// Package ipv4 implements IPv4 input and output (spec §4.F): header
// parsing and validation, broadcast/multicast/unicast classification
// against a device's configured address, fragment hand-off to
// internal/network/ipv4/reassembly, transport dispatch, and a composed
// output path. Classification follows
// original_source/source/ipv4/ip-input.c's ipv4_input byte-for-byte;
// header field layout follows the teacher's decodeIPv4
// (internal/core/decoder/ip.go).
package ipv4

import (
	"encoding/binary"

	"github.com/nbstack/nbstack/internal/nb"
)

const (
	MinHeaderLen = 20

	ProtoICMP = 1
	ProtoUDP  = 17

	flagDF = 0x2
	flagMF = 0x1
)

// Header is a decoded IPv4 header (host byte order throughout).
type Header struct {
	Version    uint8
	IHL        uint8 // header length in 32-bit words
	TotalLen   uint16
	ID         uint16
	DF         bool
	MF         bool
	FragOffset uint16 // in 8-byte units, per RFC 791
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	Src        [4]byte
	Dst        [4]byte
}

// HeaderLen returns the header length in bytes.
func (h Header) HeaderLen() int { return int(h.IHL) * 4 }

// IsFragment reports whether h describes a fragment: MF set, or a
// nonzero fragment offset (spec §4.F/§4.G boundary condition).
func (h Header) IsFragment() bool { return h.MF || h.FragOffset != 0 }

// ParseHeader decodes an IPv4 header from the front of data. Returns
// ErrBadVersion for a non-4 version nibble and ErrBadHeaderLen for an
// IHL that names fewer than MinHeaderLen bytes or more than are present.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < 1 {
		return Header{}, nb.ErrTooShort
	}
	version := data[0] >> 4
	if version != 4 {
		return Header{}, nb.ErrBadVersion
	}
	ihl := data[0] & 0x0F
	hdrLen := int(ihl) * 4
	if hdrLen < MinHeaderLen || hdrLen > len(data) {
		return Header{}, nb.ErrBadHeaderLen
	}

	flagsFrag := binary.BigEndian.Uint16(data[6:8])

	h := Header{
		Version:    4,
		IHL:        ihl,
		TotalLen:   binary.BigEndian.Uint16(data[2:4]),
		ID:         binary.BigEndian.Uint16(data[4:6]),
		DF:         flagsFrag&(flagDF<<13) != 0,
		MF:         flagsFrag&(flagMF<<13) != 0,
		FragOffset: flagsFrag & 0x1FFF,
		TTL:        data[8],
		Protocol:   data[9],
		Checksum:   binary.BigEndian.Uint16(data[10:12]),
	}
	copy(h.Src[:], data[12:16])
	copy(h.Dst[:], data[16:20])
	return h, nil
}

// Marshal writes h followed by payload into a new header-plus-payload
// buffer, computing the header checksum over the freshly composed bytes.
func Marshal(h Header, payload []byte) []byte {
	hdrLen := MinHeaderLen
	out := make([]byte, hdrLen+len(payload))
	out[0] = (4 << 4) | uint8(hdrLen/4)
	out[1] = 0 // DSCP/ECN unused
	binary.BigEndian.PutUint16(out[2:4], uint16(hdrLen+len(payload)))
	binary.BigEndian.PutUint16(out[4:6], h.ID)

	var flagsFrag uint16
	if h.DF {
		flagsFrag |= flagDF << 13
	}
	if h.MF {
		flagsFrag |= flagMF << 13
	}
	flagsFrag |= h.FragOffset & 0x1FFF
	binary.BigEndian.PutUint16(out[6:8], flagsFrag)

	out[8] = h.TTL
	out[9] = h.Protocol
	copy(out[12:16], h.Src[:])
	copy(out[16:20], h.Dst[:])

	csum := nb.InternetChecksum(out[0:hdrLen])
	binary.BigEndian.PutUint16(out[10:12], csum)

	copy(out[hdrLen:], payload)
	return out
}
