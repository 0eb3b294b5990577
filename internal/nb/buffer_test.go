package nb

import "testing"

func TestAllocAndCpyData(t *testing.T) {
	b := Alloc(MaskDatalink, 64)
	frame := []byte{0x01, 0x02, 0x03, 0x04}
	b.CpyData(Datalink, frame)

	if got := b.Len(Datalink); got != len(frame) {
		t.Fatalf("Len(Datalink) = %d, want %d", got, len(frame))
	}
	if string(b.Window(Datalink)) != string(frame) {
		t.Fatalf("Window(Datalink) = %v, want %v", b.Window(Datalink), frame)
	}
}

func TestSetDataIsAView(t *testing.T) {
	b := Alloc(MaskDatalink, 32)
	b.CpyData(Datalink, make([]byte, 20))

	if err := b.SetData(Network, 14, 6); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if b.Len(Network) != 6 {
		t.Fatalf("Len(Network) = %d, want 6", b.Len(Network))
	}

	// Windows must not overlap and must concatenate as a contiguous
	// prefix: network starts exactly where datalink's declared header
	// ends.
	if b.windows[Network].offset != 14 {
		t.Fatalf("Network offset = %d, want 14", b.windows[Network].offset)
	}
}

func TestSetDataRejectsOutOfBounds(t *testing.T) {
	b := Alloc(MaskDatalink, 8)
	b.CpyData(Datalink, make([]byte, 8))
	if err := b.SetData(Network, 4, 100); err == nil {
		t.Fatal("expected error for out-of-bounds SetData")
	}
}

func TestFlagLifecycle(t *testing.T) {
	b := Alloc(MaskDatalink, 8)
	b.SetFlag(RX)

	if !b.Is(RX) || b.Is(TX) {
		t.Fatalf("expected RX only, got flags=%v", b.Flags())
	}
	if b.Disposable() {
		t.Fatal("fresh buffer should not be disposable")
	}

	b.MarkDropped()
	if !b.Disposable() {
		t.Fatal("dropped buffer should be disposable")
	}

	b2 := Alloc(MaskDatalink, 8)
	b2.MarkArrived()
	b2.MarkReused()
	if b2.Disposable() {
		t.Fatal("REUSE must prevent disposal even when ARRIVED")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := Alloc(MaskNetwork|MaskTransport, 32)
	b.CpyData(Network, []byte{1, 2, 3, 4})
	b.CpyData(Transport, []byte{5, 6, 7, 8})

	clone := b.Clone(MaskNetwork | MaskTransport)
	clone.Window(Transport)[0] = 0xFF

	if b.Window(Transport)[0] == 0xFF {
		t.Fatal("mutating clone must not affect original backing region")
	}
	if clone.Len(Network) != 4 || clone.Len(Transport) != 4 {
		t.Fatalf("clone windows wrong size: network=%d transport=%d", clone.Len(Network), clone.Len(Transport))
	}
}

func TestReallocPreservesPriorWindows(t *testing.T) {
	b := Alloc(MaskNetwork|MaskTransport, 32)
	b.CpyData(Network, []byte{0xAA, 0xBB})
	b.CpyData(Transport, []byte{0x01, 0x02, 0x03})

	b.Realloc(Transport, 10)
	if b.Len(Transport) != 10 {
		t.Fatalf("Len(Transport) after Realloc = %d, want 10", b.Len(Transport))
	}
	if string(b.Window(Network)) != "\xaa\xbb" {
		t.Fatalf("Network window corrupted by Realloc: %v", b.Window(Network))
	}
}

func TestListMembershipInvariant(t *testing.T) {
	backlog := NewList(OwnerBacklog)
	bucket := NewList(OwnerFragmentBucket)

	b := Alloc(MaskDatalink, 8)
	backlog.PushBack(b)

	if b.Owner() != OwnerBacklog {
		t.Fatalf("Owner() = %v, want OwnerBacklog", b.Owner())
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic attaching a buffer already on a list")
		}
	}()
	bucket.PushBack(b) // must panic: b is still owned by backlog
}

func TestListPopFrontOrdering(t *testing.T) {
	l := NewList(OwnerBacklog)
	a, b, c := Alloc(MaskDatalink, 1), Alloc(MaskDatalink, 1), Alloc(MaskDatalink, 1)
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if got := l.PopFront(); got != a {
		t.Fatal("PopFront did not return FIFO head")
	}
	if got := l.PopFront(); got != b {
		t.Fatal("PopFront did not return FIFO head")
	}
	if a.Owner() != OwnerNone {
		t.Fatal("popped buffer must be detached (OwnerNone)")
	}
}
