package nb

import "fmt"

// Layer identifies one of the four layer-scoped windows a Buffer exposes.
type Layer int

const (
	Datalink Layer = iota
	Network
	Transport
	Application
	numLayers
)

// LayerMask selects a subset of layers, e.g. for Alloc or Clone.
type LayerMask uint8

const (
	MaskDatalink    LayerMask = 1 << Datalink
	MaskNetwork     LayerMask = 1 << Network
	MaskTransport   LayerMask = 1 << Transport
	MaskApplication LayerMask = 1 << Application
)

func (m LayerMask) has(l Layer) bool { return m&(1<<l) != 0 }

// window is a (offset, size) slice into Buffer.data.
type window struct {
	offset int
	size   int
}

// Owner tracks which single collection currently holds a Buffer on its
// intrusive list hook (see list.go). Per the spec's design notes, this is
// an explicit tag rather than a bare generic-collection membership, so the
// "on at most one list at a time" invariant is enforced, not assumed.
type Owner int

const (
	OwnerNone Owner = iota
	OwnerBacklog

	// OwnerFragmentBucket and OwnerSocketQueue are reserved tags, not yet
	// assigned by any List: reassembly keeps its fragments in a plain
	// offset-ordered []*fragment (the per-fragment offset/length/mf
	// metadata InsertBefore's List has no field for), and socket delivery
	// is synchronous, so neither has an actual intrusive list to own. Use
	// these if that changes rather than minting a third Owner value.
	OwnerFragmentBucket
	OwnerSocketQueue
)

// DeviceHandle is the minimal view of an owning device a Buffer needs. The
// concrete *device.Device implements this without nb importing device,
// avoiding an import cycle (the "container-of" problem in the spec's
// design notes is solved here by composition through a narrow interface
// instead of an embedded back-pointer).
type DeviceHandle interface {
	Name() string
}

// Buffer ("nb" in the spec) carries a single packet across layers. Windows
// are adjusted as the buffer ascends the stack: a handler consumes bytes
// from its layer and publishes the next layer's window over the same
// backing region, so that the windows never overlap and their
// concatenation is a contiguous prefix of data.
type Buffer struct {
	data    []byte
	windows [numLayers]window

	flags    Flag
	Protocol uint16
	dev      DeviceHandle

	// intrusive list hook; see list.go. Exactly one of {owner ==
	// OwnerNone, b is linked into exactly one List} holds at all times.
	owner      Owner
	next, prev *Buffer
}

// Alloc returns a Buffer backed by a size-byte region, with the layers
// named in mask pre-reserved (zero-sized until Set/CpyData populates
// them). RX/TX are left unset; the caller must set exactly one.
func Alloc(mask LayerMask, size int) *Buffer {
	b := &Buffer{data: make([]byte, 0, size)}
	for l := Layer(0); l < numLayers; l++ {
		if mask.has(l) {
			b.windows[l] = window{offset: 0, size: 0}
		}
	}
	return b
}

// Device returns the owning device, or nil if unset.
func (b *Buffer) Device() DeviceHandle { return b.dev }

// SetDevice assigns the owning device. Called once by the producer (driver
// or socket) before the buffer enters the pipeline.
func (b *Buffer) SetDevice(d DeviceHandle) { b.dev = d }

// Flags returns the current flag set.
func (b *Buffer) Flags() Flag { return b.flags }

// Is reports whether all bits in mask are set.
func (b *Buffer) Is(mask Flag) bool { return b.flags.has(mask) }

// SetFlag ORs bit into the flag set.
func (b *Buffer) SetFlag(bit Flag) { b.flags |= bit }

// ClearFlag clears bit from the flag set.
func (b *Buffer) ClearFlag(bit Flag) { b.flags &^= bit }

// MarkDropped sets DROPPED. Once set, no further layer may mutate data;
// it is the caller's responsibility to stop processing immediately after.
func (b *Buffer) MarkDropped() { b.flags |= DROPPED }

// MarkArrived sets ARRIVED: the buffer has reached its final handler and
// may be freed by the pipeline unless REUSE is also set.
func (b *Buffer) MarkArrived() { b.flags |= ARRIVED }

// MarkReused sets REUSE: the final handler has taken ownership of the
// buffer and the pipeline must not free it.
func (b *Buffer) MarkReused() { b.flags |= REUSE }

// Disposable reports whether the poll loop (or any other owner) should
// free this buffer now: DROPPED or ARRIVED, and not REUSE.
func (b *Buffer) Disposable() bool {
	if b.flags.has(REUSE) {
		return false
	}
	return b.flags.has(DROPPED) || b.flags.has(ARRIVED)
}

// Window returns layer's current bytes as a slice of the backing region
// (no copy), so writes through it change the buffer.
func (b *Buffer) Window(l Layer) []byte {
	w := b.windows[l]
	return b.data[w.offset : w.offset+w.size]
}

// Len returns the size of layer's window.
func (b *Buffer) Len(l Layer) int { return b.windows[l].size }

// Offset returns the absolute backing-array offset of layer's window.
// Handlers that narrow their own window and then publish the next layer's
// window need this to stay anchored in the same backing array rather
// than resetting to 0 (which would silently alias the wrong bytes).
func (b *Buffer) Offset(l Layer) int { return b.windows[l].offset }

// SetData points layer at data[offset:offset+size] — a view into the
// buffer's existing backing region, no copy. Used when ascending layers:
// the network handler publishes nb.SetData(Transport, hdrLen, payloadLen)
// over bytes already present from the datalink read.
func (b *Buffer) SetData(l Layer, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > cap(b.data) {
		return fmt.Errorf("nb: SetData(%d): offset=%d size=%d exceeds backing capacity %d", l, offset, size, cap(b.data))
	}
	if offset+size > len(b.data) {
		b.data = b.data[:offset+size]
	}
	b.windows[l] = window{offset: offset, size: size}
	return nil
}

// CpyData copies src into the backing region at the current end and
// points layer at the copied range. Used by producers (drivers, socket
// writes) that don't already have the bytes positioned in-place.
func (b *Buffer) CpyData(l Layer, src []byte) {
	start := len(b.data)
	b.data = append(b.data, src...)
	b.windows[l] = window{offset: start, size: len(src)}
}

// Realloc grows layer's backing region to newSize while preserving every
// other window's contents. It assumes layer is the last active window in
// the buffer (true of its one caller, IPv4 reassembly growing the
// transport window before any application-layer window exists) — see
// DESIGN.md.
func (b *Buffer) Realloc(l Layer, newSize int) {
	w := b.windows[l]
	prefix := make([]byte, w.offset, w.offset+newSize)
	copy(prefix, b.data[:w.offset])
	b.data = append(prefix, make([]byte, newSize)...)
	b.windows[l] = window{offset: w.offset, size: newSize}
	for next := l + 1; next < numLayers; next++ {
		b.windows[next] = window{}
	}
}

// Clone produces an independent copy containing only the layers named in
// mask, laid out back to back in layer order from offset 0 of the clone's
// own backing region.
// Used by fragment reassembly to decouple a fragment's lifetime from the
// driver-owned original.
func (b *Buffer) Clone(mask LayerMask) *Buffer {
	clone := &Buffer{flags: b.flags &^ (DROPPED | ARRIVED | REUSE), Protocol: b.Protocol, dev: b.dev}
	var total int
	for l := Layer(0); l < numLayers; l++ {
		if mask.has(l) {
			total += b.windows[l].size
		}
	}
	clone.data = make([]byte, 0, total)
	for l := Layer(0); l < numLayers; l++ {
		if mask.has(l) {
			clone.CpyData(l, b.Window(l))
		}
	}
	return clone
}
