package gc

import (
	"unsafe"

	"github.com/tidalgc/tracegc/internal/gcpage"
	"github.com/tidalgc/tracegc/internal/gctrace"
)

// Ptr is the user-facing smart-pointer surface from spec.md §6: a
// thin, copyable handle onto an ObjectHeader. It carries no GC logic
// of its own — every operation delegates straight to the header it
// wraps, the way the teacher's own runtime.eface/runtime.iface headers
// are bare (type, data) pairs with all behavior living in the runtime
// functions that operate on them.
type Ptr[T any] struct {
	hdr *gcpage.ObjectHeader
}

// Allocate boxes value behind the collector's BiBOP allocator and
// returns a Ptr to it (spec.md §6 "allocate(value, trace_fn) -> object
// pointer"). value's trace function is derived automatically: if *T
// implements gctrace.Traceable, TraceRefs is called during marking;
// otherwise value is treated as a leaf with no outgoing references.
func Allocate[T any](c *Collector, h *Handle, value *T) (Ptr[T], error) {
	if c.closed.Load() {
		return Ptr[T]{}, ErrClosed
	}
	size := uint32(unsafe.Sizeof(*value))
	trace := gctrace.MakeTraceFunc(value)
	hdr := c.allocFor(h, size, value, trace)
	c.metrics.RecordAllocation(1)
	return Ptr[T]{hdr: hdr}, nil
}

// Clone bumps the informational strong count and returns the same
// logical object (spec.md §6: "bumping strong count — strong count is
// metadata; it does not pin the object; only handle scopes do").
func (p Ptr[T]) Clone() Ptr[T] {
	if p.hdr != nil {
		p.hdr.Strong.Add(1)
	}
	return p
}

// TryDeref returns the pointed-to value, or ErrNotAlive if the value
// has been dropped but the slot is retained for outstanding weak
// references (spec.md §6 "try_deref(object) -> Option<&T>").
func (p Ptr[T]) TryDeref() (*T, error) {
	if p.hdr == nil {
		return nil, ErrNotAlive
	}
	if !p.hdr.Alive() {
		return nil, ErrNotAlive
	}
	v, _ := p.hdr.Value.(*T)
	return v, nil
}

// StrongCount reports the informational strong-reference count
// (spec.md §9: "treat strong_count as informational only").
func (p Ptr[T]) StrongCount() int64 {
	if p.hdr == nil {
		return 0
	}
	return p.hdr.Strong.Load()
}

// WeakCount reports the live weak-reference count.
func (p Ptr[T]) WeakCount() int64 {
	if p.hdr == nil {
		return 0
	}
	return p.hdr.Weak.Load()
}

// Weak derives a weak reference to the same object, incrementing the
// weak count.
func (p Ptr[T]) Weak() WeakPtr[T] {
	if p.hdr != nil {
		p.hdr.Weak.Add(1)
	}
	return WeakPtr[T]{hdr: p.hdr}
}

// Drop records that the caller is done with p, feeding the default
// collect condition's "drops_since_last" counter (spec.md §6
// "set_collect_condition ... default: drops-since-last > live-count")
// and decrementing the informational strong count that Clone raised.
// Go has no deterministic destructors, so unlike the source language's
// Drop trait this is an explicit call a caller makes when it knows a
// value has gone out of scope for good; skipping it only delays when
// the default condition recommends a collection, it never causes a
// leak or a premature reclaim since reachability tracing is what
// actually decides liveness.
func Drop[T any](c *Collector, p Ptr[T]) {
	if p.hdr == nil {
		return
	}
	p.hdr.Strong.Add(-1)
	c.dropsSinceLast.Add(1)
	c.liveCount.Add(-1)
}

// Header exposes the underlying ObjectHeader, for a Traceable
// implementation's TraceRefs method to pass to v.Visit. Most callers
// never need this directly — it exists because TraceRefs must report
// outgoing Ptr[T] fields as raw gcpage references, the same way the
// teacher's runtime trace functions walk a type's GC-relevant fields
// by offset rather than through a higher-level wrapper.
func (p Ptr[T]) Header() *gcpage.ObjectHeader { return p.hdr }

// WeakPtr is a weak reference: it does not keep the pointee alive past
// a collection that finds it otherwise unreachable, but the slot
// itself is retained (a tombstone) until every WeakPtr referencing it
// is dropped (spec.md §9 "Weak references").
type WeakPtr[T any] struct {
	hdr *gcpage.ObjectHeader
}

// TryDeref behaves exactly like Ptr.TryDeref.
func (w WeakPtr[T]) TryDeref() (*T, error) {
	if w.hdr == nil || !w.hdr.Alive() {
		return nil, ErrNotAlive
	}
	v, _ := w.hdr.Value.(*T)
	return v, nil
}

// Release drops this weak reference, decrementing the weak count.
// Once it reaches zero on a slot whose value the sweeper already
// tombstoned, the slot is reclaimed outright (spec.md §4.7, §9).
func (w WeakPtr[T]) Release() {
	if w.hdr != nil {
		w.hdr.ReleaseWeak()
	}
}
