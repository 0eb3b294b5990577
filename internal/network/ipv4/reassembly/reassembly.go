// Package reassembly implements IPv4 fragment reassembly (spec §4.G),
// grounded directly on original_source/source/ipv4/frag.c: fragments are
// collected into a bucket keyed by (source, destination, identification,
// protocol), kept in offset order, and defragmented once every offset up
// to the final fragment (MF unset) is contiguously present.
//
// Overlap policy is the original estack policy, not the teacher's: an
// incoming fragment that overlaps a fragment already held in the bucket
// is dropped outright (ipfrag_try_add_packet's "we already have the
// packet or there is overlap, drop the packet in both scenarios"). This
// is the opposite of the teacher's own reassembly.go, which trims the
// overlap and keeps both (BSD-Right) — see DESIGN.md.
package reassembly

import (
	"sync"
	"time"

	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
	"github.com/nbstack/nbstack/internal/network/ipv4"
)

type bucketKey struct {
	src, dst [4]byte
	id       uint16
	protocol uint8
}

type fragment struct {
	buf    *nb.Buffer
	offset int
	length int
	mf     bool
}

type bucket struct {
	fragments []*fragment
	lastRecv  bool
	createdAt time.Time
}

// Engine holds in-progress fragment buckets for one stack instance.
// Injected explicitly into ipv4.Input rather than held as a package
// singleton (Open Question decision in DESIGN.md), so tests and multiple
// stack instances don't share reassembly state.
type Engine struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	ttl     time.Duration
}

// NewEngine returns an Engine that evicts incomplete buckets older than
// ttl. ttl <= 0 disables the sweeper (buckets live forever) — only
// appropriate in tests.
func NewEngine(ttl time.Duration) *Engine {
	return &Engine{buckets: make(map[bucketKey]*bucket), ttl: ttl}
}

// Add inserts the fragment carried by b (whose transport window already
// holds this fragment's payload and whose network window holds its
// header) into the appropriate bucket. It returns (whole, true) once the
// bucket is complete, having marked b ARRIVED and consumed it into the
// bucket's own clone chain. While incomplete it returns (nil, false). An
// overlapping fragment is marked DROPPED and (nil, false) is returned.
func (e *Engine) Add(b *nb.Buffer, h ipv4.Header) (*nb.Buffer, bool) {
	key := bucketKey{src: h.Src, dst: h.Dst, id: h.ID, protocol: h.Protocol}
	offset := int(h.FragOffset) * 8
	length := b.Len(nb.Transport)

	clone := b.Clone(nb.MaskNetwork | nb.MaskTransport)
	frag := &fragment{buf: clone, offset: offset, length: length, mf: h.MF}

	e.mu.Lock()
	bk, ok := e.buckets[key]
	if !ok {
		bk = &bucket{createdAt: time.Now()}
		e.buckets[key] = bk
		metrics.ReassemblyActiveBuckets.Inc()
	}

	inserted := false
	for i, existing := range bk.fragments {
		if offset == existing.offset || (offset < existing.offset+existing.length && offset+length > existing.offset) {
			e.mu.Unlock()
			// b, not the clone just inserted into frag — the clone never
			// reaches a bucket on this path.
			b.MarkDropped()
			metrics.ReassemblyDroppedOverlap.Inc()
			return nil, false
		}
		if offset < existing.offset {
			bk.fragments = append(bk.fragments[:i], append([]*fragment{frag}, bk.fragments[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		bk.fragments = append(bk.fragments, frag)
	}
	b.MarkArrived()

	// last_recv only latches once the final (mf=0) fragment has actually
	// been inserted, not merely observed — an mf=0 fragment dropped for
	// overlap above must not make defragment think the run is complete.
	if !h.MF {
		bk.lastRecv = true
	}

	if !bk.lastRecv {
		e.mu.Unlock()
		return nil, false
	}

	whole, complete := defragment(bk)
	if !complete {
		e.mu.Unlock()
		return nil, false
	}
	delete(e.buckets, key)
	metrics.ReassemblyActiveBuckets.Dec()
	e.mu.Unlock()

	return whole, true
}

// defragment validates that bk's fragments form a contiguous run from
// offset 0 through the final (MF-unset) fragment, and if so concatenates
// their payloads into the first fragment's transport window, growing it
// via Realloc. Mirrors ipfrag_defragment/ipfrag_try_add_packet's
// validation pass in frag.c.
func defragment(bk *bucket) (*nb.Buffer, bool) {
	if len(bk.fragments) == 0 {
		return nil, false
	}

	expected := 0
	total := 0
	for _, f := range bk.fragments {
		if f.offset != expected {
			return nil, false
		}
		expected = f.offset + f.length
		total += f.length
	}

	// The run must actually end in the final fragment, not merely reach a
	// byte offset last_recv once latched at — belt-and-suspenders against
	// Add ever marking lastRecv true for a run that doesn't end in mf=0.
	if bk.fragments[len(bk.fragments)-1].mf {
		return nil, false
	}

	// Snapshot every fragment's payload before growing first's backing
	// array: first is also bk.fragments[0].buf, so Realloc would zero its
	// own window out from under it before this loop could read it back.
	payloads := make([][]byte, len(bk.fragments))
	for i, f := range bk.fragments {
		payloads[i] = append([]byte(nil), f.buf.Window(nb.Transport)...)
	}

	first := bk.fragments[0].buf
	first.Realloc(nb.Transport, total)
	dst := first.Window(nb.Transport)

	pos := 0
	for i, f := range bk.fragments {
		copy(dst[pos:pos+f.length], payloads[i])
		pos += f.length
	}

	first.SetFlag(nb.NOCSUM)
	return first, true
}

// Sweep evicts buckets older than the configured ttl and reports how many
// were evicted. Intended to be called periodically by the stack's
// orchestration loop (spec §4.G's timeout requirement — an attacker who
// never sends the final fragment must not hold memory forever).
func (e *Engine) Sweep(now time.Time) int {
	if e.ttl <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for key, bk := range e.buckets {
		if now.Sub(bk.createdAt) > e.ttl {
			delete(e.buckets, key)
			evicted++
			metrics.ReassemblyActiveBuckets.Dec()
			metrics.ReassemblyTimeouts.Inc()
		}
	}
	return evicted
}

// ActiveBuckets reports the number of incomplete buckets currently held.
func (e *Engine) ActiveBuckets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buckets)
}
