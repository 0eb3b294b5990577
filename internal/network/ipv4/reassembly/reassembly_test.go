package reassembly

import (
	"testing"
	"time"

	"github.com/nbstack/nbstack/internal/nb"
	"github.com/nbstack/nbstack/internal/network/ipv4"
)

func fragBuffer(t *testing.T, payload []byte, headerBytes int) *nb.Buffer {
	t.Helper()
	b := nb.Alloc(nb.MaskNetwork|nb.MaskTransport, headerBytes+len(payload))
	full := make([]byte, headerBytes+len(payload))
	copy(full[headerBytes:], payload)
	b.CpyData(nb.Network, full)
	if err := b.SetData(nb.Network, 0, headerBytes); err != nil {
		t.Fatalf("SetData network: %v", err)
	}
	if err := b.SetData(nb.Transport, headerBytes, len(payload)); err != nil {
		t.Fatalf("SetData transport: %v", err)
	}
	return b
}

func header(id uint16, offset8 uint16, mf bool) ipv4.Header {
	return ipv4.Header{
		Version:    4,
		IHL:        5,
		ID:         id,
		MF:         mf,
		FragOffset: offset8,
		Protocol:   ipv4.ProtoUDP,
		Src:        [4]byte{10, 0, 0, 1},
		Dst:        [4]byte{10, 0, 0, 2},
	}
}

func TestReassembleInOrder(t *testing.T) {
	e := NewEngine(0)

	f0 := fragBuffer(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, 20)
	whole, ok := e.Add(f0, header(1, 0, true))
	if ok {
		t.Fatal("expected incomplete bucket after first fragment")
	}

	f1 := fragBuffer(t, []byte{8, 9, 10, 11}, 20)
	whole, ok = e.Add(f1, header(1, 1, false)) // offset 1*8=8
	if !ok {
		t.Fatal("expected complete bucket after final fragment")
	}

	got := whole.Window(nb.Transport)
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("reassembled payload len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reassembled payload[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if !whole.Is(nb.NOCSUM) {
		t.Fatal("expected NOCSUM set on defragmented buffer")
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	e := NewEngine(0)

	f1 := fragBuffer(t, []byte{8, 9, 10, 11}, 20)
	_, ok := e.Add(f1, header(2, 1, false))
	if ok {
		t.Fatal("expected incomplete bucket: first fragment missing")
	}

	f0 := fragBuffer(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, 20)
	whole, ok := e.Add(f0, header(2, 0, true))
	if !ok {
		t.Fatal("expected complete bucket once gap filled")
	}
	if len(whole.Window(nb.Transport)) != 12 {
		t.Fatalf("reassembled len = %d, want 12", len(whole.Window(nb.Transport)))
	}
}

func TestOverlapDropsIncomingFragment(t *testing.T) {
	e := NewEngine(0)

	f0 := fragBuffer(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, 20)
	e.Add(f0, header(3, 0, true)) // occupies byte offset [0,8)

	// Same starting offset as the already-accepted fragment: a direct
	// overlap, which must be dropped rather than replacing or trimming.
	overlap := fragBuffer(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, 20)
	_, ok := e.Add(overlap, header(3, 0, false))
	if ok {
		t.Fatal("overlapping fragment must not complete the bucket")
	}
	if !overlap.Is(nb.DROPPED) {
		t.Fatal("expected overlapping fragment marked DROPPED")
	}
}

// TestOverlappingFinalFragmentDoesNotCompleteBucket guards against lastRecv
// latching true off a dropped fragment: a duplicate mf=0 fragment overlapping
// an already-held fragment must not make a later, genuinely non-final
// fragment look like it completes the datagram.
func TestOverlappingFinalFragmentDoesNotCompleteBucket(t *testing.T) {
	e := NewEngine(0)

	f0 := fragBuffer(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, 20) // offset [0,8), mf=1
	if _, ok := e.Add(f0, header(5, 0, true)); ok {
		t.Fatal("expected incomplete bucket after first fragment")
	}

	// Overlaps f0 exactly and falsely claims to be the last fragment; must
	// be dropped without marking the bucket's run complete.
	dup := fragBuffer(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, 20)
	if _, ok := e.Add(dup, header(5, 0, false)); ok {
		t.Fatal("overlapping duplicate must not complete the bucket")
	}
	if !dup.Is(nb.DROPPED) {
		t.Fatal("expected overlapping duplicate marked DROPPED")
	}

	// A genuinely non-final fragment that merely extends the contiguous
	// run must still leave the bucket incomplete — not emit a truncated
	// datagram on the strength of the dropped fragment above.
	f1 := fragBuffer(t, []byte{8, 9, 10, 11}, 20) // offset [8,12), mf=1
	if _, ok := e.Add(f1, header(5, 1, true)); ok {
		t.Fatal("non-final fragment must not complete the bucket")
	}

	if got := e.ActiveBuckets(); got != 1 {
		t.Fatalf("ActiveBuckets() = %d, want 1 (bucket must still be open)", got)
	}
}

func TestSweepEvictsStaleIncompleteBuckets(t *testing.T) {
	e := NewEngine(10 * time.Millisecond)

	f1 := fragBuffer(t, []byte{8, 9, 10, 11}, 20)
	e.Add(f1, header(4, 1, false))

	if got := e.ActiveBuckets(); got != 1 {
		t.Fatalf("ActiveBuckets() = %d, want 1", got)
	}

	evicted := e.Sweep(time.Now().Add(time.Hour))
	if evicted != 1 {
		t.Fatalf("Sweep evicted %d, want 1", evicted)
	}
	if got := e.ActiveBuckets(); got != 0 {
		t.Fatalf("ActiveBuckets() after sweep = %d, want 0", got)
	}
}
