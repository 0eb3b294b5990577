// Package demux implements protocol demultiplexing (spec §4.D): dispatch
// of a buffer to the handler registered for its 16-bit protocol tag,
// shaped as a lighter single-device analogue of a transport demuxer's
// registration/lookup table.
package demux

import (
	"sync"

	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
)

// Handler decodes buffers carrying one protocol tag.
type Handler func(*nb.Buffer)

// Table is a protocol-tag to Handler registry. The stack wiring layer
// owns one Table per device per layer: a datalink table keyed by
// EtherType (the stack registers IPv4) driving ethernet.Input's dispatch,
// and a network table keyed by IP protocol number (the stack registers
// UDP) driving ipv4.Input's.
type Table struct {
	mu       sync.RWMutex
	handlers map[uint16]Handler
	devName  string // label used on drop-counter metrics
}

// NewTable returns an empty demux table. devName labels the
// nbstack_drops_total metric when Dispatch finds no handler.
func NewTable(devName string) *Table {
	return &Table{handlers: make(map[uint16]Handler), devName: devName}
}

// Register binds tag to fn, replacing any existing handler.
func (t *Table) Register(tag uint16, fn Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[tag] = fn
}

// Unregister removes the handler for tag, if any.
func (t *Table) Unregister(tag uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, tag)
}

// Dispatch looks up the handler for b.Protocol and invokes it. If no
// handler is registered, b is marked DROPPED and the drop is counted
// against stage "demux" — spec §4.D's "unhandled protocol" edge case.
func (t *Table) Dispatch(b *nb.Buffer) {
	t.mu.RLock()
	fn, ok := t.handlers[b.Protocol]
	t.mu.RUnlock()

	if !ok {
		b.MarkDropped()
		metrics.DropsTotal.WithLabelValues(t.devName, "demux").Inc()
		return
	}
	fn(b)
}

// Len reports the number of registered protocol tags.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}
