package nb

import "fmt"

// List is the intrusive doubly-linked list the device backlog is built
// from (fragment buckets keep their own offset-ordered slice instead). Per
// the spec's design notes, membership is tracked
// through the Buffer's own Owner tag rather than by wrapping Buffer in a
// generic container — a Buffer can be linked into at most one List at a
// time, enforced by PushBack/InsertBefore below, not merely documented.
type List struct {
	head, tail *Buffer
	owner      Owner
	len        int
}

// NewList returns an empty list whose members will be tagged with owner.
func NewList(owner Owner) *List {
	return &List{owner: owner}
}

// Len returns the number of buffers currently linked into l.
func (l *List) Len() int { return l.len }

// Front returns the head of the list, or nil if empty.
func (l *List) Front() *Buffer { return l.head }

// Back returns the tail of the list, or nil if empty.
func (l *List) Back() *Buffer { return l.tail }

// Next returns the buffer following b in whatever list currently holds it,
// or nil if b is the tail or unattached.
func (b *Buffer) Next() *Buffer { return b.next }

// Prev returns the buffer preceding b in whatever list currently holds it.
func (b *Buffer) Prev() *Buffer { return b.prev }

// Owner reports which collection currently owns b.
func (b *Buffer) Owner() Owner { return b.owner }

// PushBack appends b to the end of l. Panics if b is already linked into a
// list — the spec's "at most one list" invariant is a programmer error to
// violate, not a recoverable runtime condition.
func (l *List) PushBack(b *Buffer) {
	l.mustBeUnattached(b)
	b.prev, b.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = b
	} else {
		l.head = b
	}
	l.tail = b
	b.owner = l.owner
	l.len++
}

// InsertBefore links b immediately before mark, which must already be a
// member of l.
func (l *List) InsertBefore(b, mark *Buffer) {
	l.mustBeUnattached(b)
	if mark == nil || mark.owner != l.owner {
		panic("nb: InsertBefore: mark is not a member of this list")
	}
	b.prev = mark.prev
	b.next = mark
	if mark.prev != nil {
		mark.prev.next = b
	} else {
		l.head = b
	}
	mark.prev = b
	b.owner = l.owner
	l.len++
}

// Remove detaches b from l and resets its owner to OwnerNone, making it
// eligible to join a different list.
func (l *List) Remove(b *Buffer) {
	if b.owner != l.owner {
		return
	}
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		l.head = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		l.tail = b.prev
	}
	b.prev, b.next = nil, nil
	b.owner = OwnerNone
	l.len--
}

// PopFront removes and returns the head of l, or nil if empty.
func (l *List) PopFront() *Buffer {
	b := l.head
	if b == nil {
		return nil
	}
	l.Remove(b)
	return b
}

func (l *List) mustBeUnattached(b *Buffer) {
	if b.owner != OwnerNone {
		panic(fmt.Sprintf("nb: buffer already owned by %v, cannot join another list", b.owner))
	}
}
