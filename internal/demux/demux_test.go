package demux

import (
	"testing"

	"github.com/nbstack/nbstack/internal/nb"
)

func TestDispatchKnownProtocol(t *testing.T) {
	tab := NewTable("eth0")
	var got uint16
	tab.Register(0x0800, func(b *nb.Buffer) { got = b.Protocol })

	b := nb.Alloc(nb.MaskNetwork, 0)
	b.Protocol = 0x0800
	tab.Dispatch(b)

	if got != 0x0800 {
		t.Fatalf("handler not invoked with expected protocol: got %x", got)
	}
	if b.Is(nb.DROPPED) {
		t.Fatal("buffer should not be dropped when a handler exists")
	}
}

func TestDispatchUnknownProtocolDrops(t *testing.T) {
	tab := NewTable("eth0")
	b := nb.Alloc(nb.MaskNetwork, 0)
	b.Protocol = 0x86DD // IPv6, unregistered (non-goal)

	tab.Dispatch(b)

	if !b.Is(nb.DROPPED) {
		t.Fatal("expected buffer marked DROPPED for unregistered protocol")
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	tab := NewTable("eth0")
	tab.Register(0x0800, func(b *nb.Buffer) {})
	tab.Unregister(0x0800)

	if tab.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Unregister", tab.Len())
	}

	b := nb.Alloc(nb.MaskNetwork, 0)
	b.Protocol = 0x0800
	tab.Dispatch(b)
	if !b.Is(nb.DROPPED) {
		t.Fatal("expected drop after handler unregistered")
	}
}
