// Package barrier implements the write barriers from spec.md §4.4: a
// generational barrier that is always active, and an incremental
// SATB + Dijkstra barrier that is active only during the Marking
// phase. The incremental barrier gates its slow path behind a single
// relaxed atomic load of the incremental phase word, mirroring the
// teacher's writeBarrier.enabled fast-path check in mbarrier.go; the
// generational barrier does not read the phase at all.
package barrier

import (
	"sync"

	"github.com/tidalgc/tracegc/internal/gcpage"
	"github.com/tidalgc/tracegc/internal/heap"
)

// PhaseSource reports whether the incremental marker is in its Marking
// phase. Implemented by internal/mark.IncrementalState; declared here
// (rather than importing internal/mark) to avoid a package cycle, the
// same pattern internal/heap uses for LazySweeper.
type PhaseSource interface {
	IsMarking() bool
}

// MarkEnqueuer attempts to mark ref black and, if it was previously
// white, enqueue it for tracing. Implemented by internal/mark's
// worklist.
type MarkEnqueuer interface {
	TryMarkAndEnqueue(ref *gcpage.ObjectHeader)
}

// Barrier bundles the two write-barrier concerns. A zero-value Barrier
// runs only the generational half (Enqueue/Phase nil means "never
// marking"), which is harmless but never wired that way in practice —
// package gc always supplies both.
type Barrier struct {
	Phase   PhaseSource
	Enqueue MarkEnqueuer

	// RememberedBufferLen bounds each thread's SATB buffer (spec.md §6
	// Config.remembered_buffer_len, default 32).
	RememberedBufferLen int

	satbMu sync.Mutex
	satb   map[uint64]*satbBuffer
}

// New constructs a Barrier with the spec's default remembered-buffer
// length. Phase/Enqueue are filled in by package gc once the mark
// engine exists.
func New() *Barrier {
	return &Barrier{RememberedBufferLen: 32, satb: make(map[uint64]*satbBuffer)}
}

// Generational runs the always-on half of the barrier (spec.md §4.4
// "Generational barrier"): mutations on young pages are a no-op;
// mutations on old pages set the slot's dirty bit and, the first time,
// publish the page onto the owning heap's dirty_pages list.
func (b *Barrier) Generational(h *heap.LocalHeap, page *gcpage.PageHeader, slot int) {
	if !page.IsOld() {
		return
	}
	page.Dirty.Set(slot)
	h.MarkDirty(page)
}

// Incremental runs the Marking-only half (spec.md §4.4 "Incremental
// barrier"): SATB records the field's old value, and the Dijkstra
// insertion barrier brings the new value into the wavefront if it
// isn't marked yet. threadID identifies the mutator's SATB buffer.
//
// The fast-path check is a single relaxed load of the phase word via
// PhaseSource; when marking isn't active this is the only cost paid.
func (b *Barrier) Incremental(threadID uint64, oldVal, newVal *gcpage.ObjectHeader) {
	if b.Phase == nil || !b.Phase.IsMarking() {
		return
	}
	if oldVal != nil {
		b.satbRecord(threadID, oldVal)
	}
	if newVal != nil && b.Enqueue != nil {
		b.Enqueue.TryMarkAndEnqueue(newVal)
	}
}

// satbBuffer is the "~32 entries" per-thread buffer spec.md §4.4
// describes. On overflow it flushes every buffered pointer straight
// into the global worklist (the first of the two equivalent strategies
// spec.md offers; the coarser "just dirty the page" alternative is
// noted there too but not needed once we have a worklist handy).
type satbBuffer struct {
	entries []*gcpage.ObjectHeader
}

func (b *Barrier) satbRecord(threadID uint64, ref *gcpage.ObjectHeader) {
	b.satbMu.Lock()
	buf, ok := b.satb[threadID]
	if !ok {
		buf = &satbBuffer{entries: make([]*gcpage.ObjectHeader, 0, b.RememberedBufferLen)}
		b.satb[threadID] = buf
	}
	buf.entries = append(buf.entries, ref)
	full := len(buf.entries) >= b.RememberedBufferLen
	var flushed []*gcpage.ObjectHeader
	if full {
		flushed = buf.entries
		buf.entries = make([]*gcpage.ObjectHeader, 0, b.RememberedBufferLen)
	}
	b.satbMu.Unlock()

	if flushed != nil && b.Enqueue != nil {
		for _, ref := range flushed {
			b.Enqueue.TryMarkAndEnqueue(ref)
		}
	}
}

// FlushAll forces every thread's SATB buffer into the worklist. Called
// at Snapshot/FinalMark boundaries so no buffered pointer is lost
// between slices (spec.md §4.6 termination contract: "no pending SATB
// buffers").
func (b *Barrier) FlushAll() {
	b.satbMu.Lock()
	pending := make(map[uint64][]*gcpage.ObjectHeader, len(b.satb))
	for id, buf := range b.satb {
		if len(buf.entries) > 0 {
			pending[id] = buf.entries
			buf.entries = make([]*gcpage.ObjectHeader, 0, b.RememberedBufferLen)
		}
	}
	b.satbMu.Unlock()

	if b.Enqueue == nil {
		return
	}
	for _, refs := range pending {
		for _, ref := range refs {
			b.Enqueue.TryMarkAndEnqueue(ref)
		}
	}
}
