// Package socket implements the socket table (spec §4.I): the mapping
// from a bound (address, port) pair to the application callback that
// receives delivered datagrams, with zero-address entries matching any
// destination address (INADDR_ANY-style wildcard bind), grounded on
// socket_find's call site in original_source/source/transport/udp.c.
package socket

import (
	"sync"

	"github.com/nbstack/nbstack/internal/nb"
)

// Receiver is invoked with a buffer whose application-layer window holds
// the delivered payload.
type Receiver func(b *nb.Buffer)

// Socket is one bound (address, port) registration.
type Socket struct {
	Addr    [4]byte
	Port    uint16
	Receive Receiver
}

// Table is the process-wide socket table. Lookup is a linear scan, sized
// for the handful of bound sockets a constrained embedded target — the
// domain this spec descends from — actually holds.
type Table struct {
	mu      sync.RWMutex
	sockets []*Socket
}

// New returns an empty socket table.
func New() *Table {
	return &Table{}
}

// Bind registers a socket listening on addr:port. addr may be the zero
// address ([4]byte{}) to match any destination address, per spec §4.I's
// wildcard-bind rule. Returns an unbind function.
func (t *Table) Bind(addr [4]byte, port uint16, recv Receiver) (unbind func()) {
	s := &Socket{Addr: addr, Port: port, Receive: recv}
	t.mu.Lock()
	t.sockets = append(t.sockets, s)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, e := range t.sockets {
			if e == s {
				t.sockets = append(t.sockets[:i], t.sockets[i+1:]...)
				return
			}
		}
	}
}

var zeroAddr [4]byte

// Find returns the socket bound to (addr, port), preferring an exact
// address match over a wildcard (zero-address) bind when both exist.
func (t *Table) Find(addr [4]byte, port uint16) (*Socket, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var wildcard *Socket
	for _, s := range t.sockets {
		if s.Port != port {
			continue
		}
		if s.Addr == addr {
			return s, true
		}
		if s.Addr == zeroAddr {
			wildcard = s
		}
	}
	if wildcard != nil {
		return wildcard, true
	}
	return nil, false
}

// Len reports the number of bound sockets.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sockets)
}
