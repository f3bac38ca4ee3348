package heap

import (
	"github.com/tidalgc/tracegc/internal/gcpage"
)

// LazySweeper is implemented by internal/sweep's Engine. Kept as an
// interface here (rather than importing internal/sweep directly) so
// the allocator and the sweeper can depend on each other's contracts
// without a package cycle: sweep needs heap.LocalHeap, heap needs only
// this narrow callback.
type LazySweeper interface {
	// LazySweepPage reclaims up to budget dead slots from p and
	// reports how many it freed (spec.md §4.7 lazy_sweep_page).
	LazySweepPage(p *gcpage.PageHeader, budget int) (freed int)
}

// MarkPhaseSource is implemented by internal/mark's IncrementalState.
// Same cycle-avoidance rationale as LazySweeper.
type MarkPhaseSource interface {
	// IsMarking reports whether the Marking phase is active, gating
	// both the mark-black-on-allocation rule (spec.md §4.2) and the
	// incremental write barrier's fast-path check (spec.md §4.4).
	IsMarking() bool
}

// Allocator implements spec.md §4.2: an O(1) bump fast path, and a
// slow path that tries a lazy sweep, then the page's own free list,
// then acquires a fresh page from the OS.
type Allocator struct {
	Sweeper LazySweeper
	Phase   MarkPhaseSource

	// LazySweepBudget bounds slow-path sweep work (spec.md §4.7:
	// "budget=16").
	LazySweepBudget int
}

// NewAllocator wires an allocator with the spec's default lazy-sweep
// budget. Sweeper/Phase may be set after construction since the
// collector wires them in dependency order (heap before sweep/mark).
func NewAllocator() *Allocator {
	return &Allocator{LazySweepBudget: 16}
}

// AllocSmall services a small-object request (size <= the largest size
// class). It is the fast/slow path described in spec.md §4.2.
func (a *Allocator) AllocSmall(h *LocalHeap, ownerThread uint64, size uint32, value any, trace gcpage.TraceFunc) *gcpage.ObjectHeader {
	classIdx, blockSize, ok := gcpage.ClassIndexFor(size)
	if !ok {
		return a.AllocLarge(h, ownerThread, size, value, trace)
	}

	page := h.TLAB(classIdx)
	if page == nil || page.FreeListHead.Load() < 0 {
		page = a.refillTLAB(h, ownerThread, classIdx, blockSize)
	}
	slot := page.PopFreeSlot()
	if slot < 0 {
		// The page we just refilled with was itself exhausted by a
		// racing lazy sweep reclaiming nothing; retry once against a
		// brand-new page rather than looping unboundedly.
		page = a.acquirePage(h, ownerThread, blockSize, false)
		h.SetTLAB(classIdx, page)
		slot = page.PopFreeSlot()
	}
	return a.install(h, page, slot, value, trace)
}

// refillTLAB implements the slow-path search order from spec.md §4.2:
// (1) lazy-sweep a NEEDS_SWEEP page of the matching class, (2) fall
// back to any owned page whose free list is non-empty, (3) acquire a
// fresh page from the OS.
func (a *Allocator) refillTLAB(h *LocalHeap, ownerThread uint64, classIdx int, blockSize uint32) *gcpage.PageHeader {
	for _, p := range h.AllPages() {
		if p.IsLarge() || p.BlockSize != blockSize {
			continue
		}
		if p.HasFlag(gcpage.FlagNeedsSweep) && a.Sweeper != nil {
			a.Sweeper.LazySweepPage(p, a.LazySweepBudget)
		}
		if p.FreeListHead.Load() >= 0 {
			h.SetTLAB(classIdx, p)
			return p
		}
	}
	p := a.acquirePage(h, ownerThread, blockSize, false)
	h.SetTLAB(classIdx, p)
	return p
}

func (a *Allocator) acquirePage(h *LocalHeap, ownerThread uint64, blockSize uint32, large bool) *gcpage.PageHeader {
	p := gcpage.NewPageHeader(ownerThread, blockSize, large)
	h.AdoptPage(p)
	return p
}

// AllocLarge services a request larger than the widest size class: a
// dedicated LARGE page, inserted into the large-object map (spec.md
// §4.2 "Large objects").
func (a *Allocator) AllocLarge(h *LocalHeap, ownerThread uint64, size uint32, value any, trace gcpage.TraceFunc) *gcpage.ObjectHeader {
	page := a.acquirePage(h, ownerThread, size, true)
	slot := page.PopFreeSlot()
	return a.install(h, page, slot, value, trace)
}

func (a *Allocator) install(h *LocalHeap, page *gcpage.PageHeader, slot int, value any, trace gcpage.TraceFunc) *gcpage.ObjectHeader {
	hdr := gcpage.NewObjectHeader(page, slot, value, trace)
	page.Slots[slot] = hdr
	page.Allocated.Set(slot)

	if page.IsOld() {
		h.OldAllocated.Add(int64(page.BlockSize))
	} else {
		h.YoungAllocated.Add(int64(page.BlockSize))
	}

	// "Mark black on allocation": during incremental marking, a new
	// slot is immediately marked live so it can't be collected before
	// the wavefront reaches it (spec.md §4.2, §4.6).
	if a.Phase != nil && a.Phase.IsMarking() {
		page.Mark.Set(slot)
	}
	return hdr
}
