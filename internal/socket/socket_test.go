package socket

import (
	"testing"

	"github.com/nbstack/nbstack/internal/nb"
)

func TestFindExactMatch(t *testing.T) {
	tab := New()
	addr := [4]byte{192, 168, 1, 10}
	tab.Bind(addr, 5353, func(b *nb.Buffer) {})

	s, ok := tab.Find(addr, 5353)
	if !ok {
		t.Fatal("expected exact match")
	}
	if s.Port != 5353 {
		t.Fatalf("Port = %d, want 5353", s.Port)
	}
}

func TestFindWildcardFallback(t *testing.T) {
	tab := New()
	tab.Bind([4]byte{}, 53, func(b *nb.Buffer) {})

	s, ok := tab.Find([4]byte{10, 0, 0, 1}, 53)
	if !ok {
		t.Fatal("expected wildcard match for unbound specific address")
	}
	if s.Addr != (zeroAddr) {
		t.Fatal("expected wildcard socket returned")
	}
}

func TestFindPrefersExactOverWildcard(t *testing.T) {
	tab := New()
	tab.Bind([4]byte{}, 53, func(b *nb.Buffer) {})
	addr := [4]byte{10, 0, 0, 1}
	var exactCalled bool
	tab.Bind(addr, 53, func(b *nb.Buffer) { exactCalled = true })

	s, ok := tab.Find(addr, 53)
	if !ok {
		t.Fatal("expected match")
	}
	if s.Addr != addr {
		t.Fatal("expected exact-match socket preferred over wildcard")
	}
	s.Receive(nil)
	if !exactCalled {
		t.Fatal("expected exact socket's receiver invoked")
	}
}

func TestUnbindRemovesSocket(t *testing.T) {
	tab := New()
	unbind := tab.Bind([4]byte{10, 0, 0, 1}, 1234, func(b *nb.Buffer) {})
	unbind()

	if tab.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after unbind", tab.Len())
	}
	if _, ok := tab.Find([4]byte{10, 0, 0, 1}, 1234); ok {
		t.Fatal("expected no match after unbind")
	}
}
