package gc

import "github.com/tidalgc/tracegc/internal/gcpage"

// Cell is the guarded interior-mutability primitive spec.md §4.4
// requires: "the collector does not assume types are immutable; any
// interior mutability must go through a guarded cell that invokes the
// write barrier on acquire-mut." A Cell[T] holds one Ptr[T] field of a
// GC-managed struct; reading it is free, but changing it must go
// through SetCell so the generational and incremental barriers run.
//
// Cell must be Bound to its containing object's header once, right
// after that object is allocated — the same way a field's offset is
// fixed at struct-definition time. An unbound Cell behaves like a
// plain Ptr holder: Get and SetCell still work, but no barrier fires, so it
// must never hold an old-generation-to-young-generation edge.
type Cell[T any] struct {
	owner *gcpage.ObjectHeader
	val   Ptr[T]
}

// Bind records owner as the object this cell's mutations should be
// attributed to for dirty-bit and SATB bookkeeping.
func (c *Cell[T]) Bind(owner *gcpage.ObjectHeader) { c.owner = owner }

// Get reads the cell's current value. Reads never touch the write
// barrier (spec.md §4.4 only gates mutation).
func (c *Cell[T]) Get() Ptr[T] { return c.val }

// SetCell overwrites cell's value and runs both halves of the write
// barrier against the collector that owns cell's containing object
// (spec.md §4.4): the always-on generational barrier, and, only while
// an incremental mark is in flight, the SATB record of the old value
// plus the Dijkstra insertion of the new one. h's thread id identifies
// the calling mutator's SATB buffer.
//
// This is a free function rather than a method because Go forbids a
// method from introducing its own type parameter beyond its receiver's.
func SetCell[T any](c *Collector, h *Handle, cell *Cell[T], newVal Ptr[T]) {
	old := cell.val
	cell.val = newVal
	c.writeBarrier(h.ThreadID(), cell.owner, old.hdr, newVal.hdr)
}
