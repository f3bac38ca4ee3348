// Package sweep implements spec.md §4.7: eager sweeping of large and
// orphan pages, lazy per-page sweeping driven from the allocator's slow
// path, weak-reference tombstone retention, and end-of-major-collection
// promotion.
//
// The teacher's collector does its sweeping inline in mgcsweep.go,
// walking mheap's span lists; this package generalizes that shape to
// the BiBOP page headers in internal/gcpage, split the same way
// mgcsweep.go splits "sweepone" (one page, lazy) from the full
// background sweep loop (eager, whole-heap).
package sweep

import (
	"math/bits"
	"sync/atomic"

	"github.com/tidalgc/tracegc/internal/gcpage"
	"github.com/tidalgc/tracegc/internal/heap"
)

// Engine implements heap.LazySweeper and drives both the lazy and
// eager sweep paths described in spec.md §4.7.
type Engine struct {
	pendingSweepPages atomic.Int64
	objectsReclaimed  atomic.Int64
	bytesReclaimed    atomic.Int64
	pagesPromoted     atomic.Int64
}

// New builds a sweep engine with its counters zeroed.
func New() *Engine {
	return &Engine{}
}

// MarkPending flags every page in pages as needing a sweep before its
// free list can be trusted (spec.md §4.7: pages transition to
// NEEDS_SWEEP, not straight back to usable, at the end of a mark
// phase). It also records each page's dead-slot count so the all-dead
// fast path can be taken without rescanning. Already-NEEDS_SWEEP pages
// are left alone.
func (e *Engine) MarkPending(pages []*gcpage.PageHeader) {
	for _, p := range pages {
		if p.HasFlag(gcpage.FlagNeedsSweep) {
			continue
		}
		dead := uint32(0)
		for w := 0; w < gcpage.BitmapWords; w++ {
			dead += uint32(bits.OnesCount64(p.Allocated.Word(w) &^ p.Mark.Word(w)))
		}
		p.DeadCount.Store(dead)
		p.SetFlag(gcpage.FlagNeedsSweep)
		e.pendingSweepPages.Add(1)
	}
}

// LazySweepPage implements heap.LazySweeper and spec.md §4.7's
// lazy_sweep_page(page, budget): it reclaims up to budget dead slots
// from p, returning how many it actually reclaimed (tombstoned slots
// count — their value is dropped even though the allocation is
// retained for outstanding weak references). budget <= 0 means
// unbounded, the eager-sweep mode.
//
// An entirely dead page takes the all-dead fast path: the free list is
// rebuilt word-at-a-time over the bitmaps instead of slot-by-slot,
// regardless of budget (spec.md §4.7 "the 'all-dead' fast path rebuilds
// the free list in O(1) over bitmap words").
// 注释：预算用完但还有死槽位时保留NEEDS_SWEEP和标记位图，下次继续；全死页走逐字快速路径
func (e *Engine) LazySweepPage(p *gcpage.PageHeader, budget int) int {
	if !p.HasFlag(gcpage.FlagNeedsSweep) {
		return 0
	}

	if budget <= 0 || p.Mark.AllZero() {
		reclaimed := e.retireTombstones(p)
		reclaimed += p.RebuildFreeListFromBitmaps()
		e.finishPage(p)
		e.recordReclaim(p, reclaimed)
		return reclaimed
	}

	freed := 0
	remaining := false
	for w := 0; w < gcpage.BitmapWords; w++ {
		dead := p.Allocated.Word(w) &^ p.Mark.Word(w)
		if dead == 0 {
			continue
		}
		for b := 0; b < 64; b++ {
			if dead&(1<<uint(b)) == 0 {
				continue
			}
			idx := w*64 + b
			if idx >= p.ObjCount {
				break
			}
			if freed >= budget {
				remaining = true
				break
			}
			hdr := p.Slots[idx]
			if hdr != nil && hdr.Weak.Load() > 0 {
				// Weakly referenced: tombstone, keep the allocation.
				if hdr.Alive() {
					hdr.SetAlive(false)
					hdr.Value = nil
					freed++
				}
				continue
			}
			p.Allocated.Clear(idx)
			p.PushFreeSlot(idx)
			freed++
		}
		if remaining {
			break
		}
	}
	if remaining {
		// Budget exhausted with reclaimable slots left: keep the flag
		// and the mark bitmap so the next call can resume.
		p.DeadCount.Store(deadCountMinus(p, freed))
		e.recordReclaim(p, freed)
		return freed
	}
	e.finishPage(p)
	e.recordReclaim(p, freed)
	return freed
}

func (e *Engine) recordReclaim(p *gcpage.PageHeader, slots int) {
	if slots == 0 {
		return
	}
	e.objectsReclaimed.Add(int64(slots))
	e.bytesReclaimed.Add(int64(slots) * int64(p.BlockSize))
}

func deadCountMinus(p *gcpage.PageHeader, n int) uint32 {
	cur := p.DeadCount.Load()
	if uint32(n) >= cur {
		return 0
	}
	return cur - uint32(n)
}

// finishPage closes out a completed sweep: the surviving mark bits are
// cleared for the next cycle, NEEDS_SWEEP drops, and the dead count
// resets.
func (e *Engine) finishPage(p *gcpage.PageHeader) {
	p.Mark.ClearAll()
	p.DeadCount.Store(0)
	p.ClearFlag(gcpage.FlagNeedsSweep)
	e.pendingSweepPages.Add(-1)
}

// retireTombstones flips dead-but-weakly-referenced slots to not-alive
// and drops their values, instead of letting the free list reclaim
// them outright — spec.md §4.7 "weak reference tombstone retention":
// the slot is only actually freed once its Weak count also reaches
// zero. It returns how many slots it newly tombstoned (each counts as
// a reclaimed object — the value is gone).
func (e *Engine) retireTombstones(p *gcpage.PageHeader) int {
	n := 0
	for i := 0; i < p.ObjCount; i++ {
		hdr := p.Slots[i]
		if hdr == nil || !hdr.Alive() {
			continue
		}
		if p.Mark.Test(i) {
			continue // survived this cycle
		}
		if hdr.Weak.Load() > 0 {
			hdr.SetAlive(false)
			hdr.Value = nil
			n++
		}
	}
	return n
}

// EagerSweepAll sweeps every NEEDS_SWEEP page in pages to completion,
// returning the number of slots reclaimed. Run at the start of a
// collection cycle so no page enters the mark phase with stale sweep
// debt, and over young pages at the end of a minor collection.
func (e *Engine) EagerSweepAll(pages []*gcpage.PageHeader) int {
	total := 0
	for _, p := range pages {
		if p.HasFlag(gcpage.FlagNeedsSweep) {
			total += e.LazySweepPage(p, 0)
		}
	}
	return total
}

// SweepOrphans eagerly sweeps every page in reg's orphan list using
// the mark bits of the just-finished mark phase, and unregisters any
// orphan page left with no allocated slots (spec.md §4.7: orphan pages
// are never lazy-swept). Pages that still hold live or tombstoned
// objects stay registered and are swept again at the next major
// collection.
func (e *Engine) SweepOrphans(reg *heap.Registry) int {
	total := 0
	var empty []*gcpage.PageHeader
	for _, p := range reg.OrphanPages() {
		if !p.HasFlag(gcpage.FlagNeedsSweep) {
			p.SetFlag(gcpage.FlagNeedsSweep)
			e.pendingSweepPages.Add(1)
		}
		total += e.LazySweepPage(p, 0)
		if p.Allocated.AllZero() {
			empty = append(empty, p)
		}
	}
	reg.RemoveOrphans(empty)
	return total
}

// PromotePages advances every page in pages to the old generation at
// the end of a major collection (spec.md §4.7 "Promotion: page-granular,
// happens at the end of a major collection for every page that survived").
// The caller decides which pages survived; a page holding nothing at
// all should be left out so it stays young and goes back into
// bump-allocation service.
func (e *Engine) PromotePages(pages []*gcpage.PageHeader) int {
	n := 0
	for _, p := range pages {
		if p.IsOld() {
			continue
		}
		p.Promote()
		e.pagesPromoted.Add(1)
		n++
	}
	return n
}

// PendingSweepPages answers spec.md §4.7's pending_sweep_pages() public
// operation.
func (e *Engine) PendingSweepPages() int64 { return e.pendingSweepPages.Load() }

// ObjectsReclaimed is the cumulative slot-reclaim counter feeding
// internal/metrics.
func (e *Engine) ObjectsReclaimed() int64 { return e.objectsReclaimed.Load() }

// BytesReclaimed is the cumulative reclaimed-byte counter (slots
// reclaimed times their page's block size).
func (e *Engine) BytesReclaimed() int64 { return e.bytesReclaimed.Load() }

// PagesPromoted is the cumulative promotion counter feeding
// internal/metrics.
func (e *Engine) PagesPromoted() int64 { return e.pagesPromoted.Load() }

// SweepPending implements spec.md §4.7's sweep_pending(n) operation: it
// sweeps up to n NEEDS_SWEEP pages drawn from pages to completion, for
// callers that want to pay down the sweep debt proactively rather than
// waiting on allocation slow paths to trigger it.
func (e *Engine) SweepPending(pages []*gcpage.PageHeader, n int) int {
	swept := 0
	for _, p := range pages {
		if swept >= n {
			break
		}
		if !p.HasFlag(gcpage.FlagNeedsSweep) {
			continue
		}
		e.LazySweepPage(p, 0)
		swept++
	}
	return swept
}
