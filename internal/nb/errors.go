package nb

import "errors"

// Sentinel errors shared across the decode pipeline. Every per-packet
// error below resolves to the buffer being marked DROPPED and control
// returning to the poll loop — none of them are fatal to the pipeline.
var (
	// ErrTooShort covers the Format error kind: a window is shorter than
	// the header it's supposed to carry.
	ErrTooShort = errors.New("nbstack: buffer too short for header")
	// ErrBadVersion covers a bogus IP version field.
	ErrBadVersion = errors.New("nbstack: unsupported IP version")
	// ErrBadHeaderLen covers a bogus IHL/header-length field.
	ErrBadHeaderLen = errors.New("nbstack: invalid header length")
	// ErrBadTotalLen covers a bogus total-length field.
	ErrBadTotalLen = errors.New("nbstack: invalid total length")
	// ErrNotForUs covers the Addressed-elsewhere error kind.
	ErrNotForUs = errors.New("nbstack: destination address mismatch")
	// ErrUnsupported covers the Unsupported error kind (multicast,
	// non-UDP/ICMP transport protocols).
	ErrUnsupported = errors.New("nbstack: unsupported protocol")
	// ErrFragmentOverlap covers the Overlap error kind.
	ErrFragmentOverlap = errors.New("nbstack: overlapping IP fragment")
	// ErrNoSocket covers the Port-unreachable error kind.
	ErrNoSocket = errors.New("nbstack: no socket bound to destination")
	// ErrNoHandler names the no-matching-protocol-handler case; demux
	// reports that case by marking the buffer DROPPED, not by returning
	// this error.
	ErrNoHandler = errors.New("nbstack: no protocol handler registered")
	// ErrChecksum covers a checksum verification failure.
	ErrChecksum = errors.New("nbstack: checksum mismatch")
)
