package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalgc/tracegc/internal/gcpage"
	"github.com/tidalgc/tracegc/internal/heap"
)

func allocAll(p *gcpage.PageHeader) []*gcpage.ObjectHeader {
	headers := make([]*gcpage.ObjectHeader, 0, p.ObjCount)
	for {
		slot := p.PopFreeSlot()
		if slot < 0 {
			break
		}
		hdr := gcpage.NewObjectHeader(p, slot, slot, nil)
		p.Slots[slot] = hdr
		p.Allocated.Set(slot)
		headers = append(headers, hdr)
	}
	return headers
}

func TestLazySweepPageHonorsBudget(t *testing.T) {
	p := gcpage.NewPageHeader(1, 16, false)
	headers := allocAll(p)
	require.Greater(t, len(headers), 17)

	// Mark only the first object as a survivor so the page is not
	// all-dead and the budgeted per-slot path runs.
	p.Mark.Set(headers[0].Slot)
	e := New()
	e.MarkPending([]*gcpage.PageHeader{p})

	reclaimed := e.LazySweepPage(p, 16)
	assert.Equal(t, 16, reclaimed)
	// Budget exhausted with dead slots left: the page stays pending and
	// keeps its mark bits so the next call can resume.
	assert.True(t, p.HasFlag(gcpage.FlagNeedsSweep))
	assert.True(t, p.Mark.Test(headers[0].Slot))

	// An unbounded call finishes the job.
	rest := e.LazySweepPage(p, 0)
	assert.Equal(t, len(headers)-1-16, rest)
	assert.False(t, p.HasFlag(gcpage.FlagNeedsSweep))
	assert.Equal(t, int64(len(headers)-1), e.ObjectsReclaimed())

	// The survivor's slot must remain allocated; everything else free.
	assert.True(t, p.Allocated.Test(headers[0].Slot))
	for _, h := range headers[1:] {
		assert.False(t, p.Allocated.Test(h.Slot))
	}
	// Completion clears the surviving mark bit for the next cycle.
	assert.False(t, p.Mark.Test(headers[0].Slot))
}

func TestLazySweepPageAllDeadFastPathIgnoresBudget(t *testing.T) {
	p := gcpage.NewPageHeader(1, 16, false)
	headers := allocAll(p)
	require.NotEmpty(t, headers)

	// Nothing marked: the page is entirely dead and is reclaimed in one
	// word-at-a-time pass no matter how small the budget is.
	e := New()
	e.MarkPending([]*gcpage.PageHeader{p})
	reclaimed := e.LazySweepPage(p, 1)
	assert.Equal(t, len(headers), reclaimed)
	assert.False(t, p.HasFlag(gcpage.FlagNeedsSweep))
	assert.True(t, p.Allocated.AllZero())
}

func TestLazySweepPageSkipsPagesNotFlagged(t *testing.T) {
	p := gcpage.NewPageHeader(1, 16, false)
	allocAll(p)
	e := New()
	assert.Equal(t, 0, e.LazySweepPage(p, 16))
}

func TestRetireTombstonesKeepsWeaklyReferencedDeadSlotAllocated(t *testing.T) {
	p := gcpage.NewPageHeader(1, 16, false)
	headers := allocAll(p)
	require.NotEmpty(t, headers)

	dead := headers[0]
	dead.Weak.Add(1) // outstanding weak reference
	// Nothing is marked: every slot, including dead, looks unmarked.
	e := New()
	e.MarkPending([]*gcpage.PageHeader{p})

	reclaimed := e.LazySweepPage(p, 0)
	// The tombstoned slot counts as reclaimed: its value is dropped even
	// though the allocation stays behind for the weak reference.
	assert.Equal(t, len(headers), reclaimed)

	assert.False(t, dead.Alive())
	assert.Nil(t, dead.Value)
	// The tombstoned slot keeps its allocated bit: spec.md §4.7/§9 require
	// the allocation to survive until the last weak reference releases.
	assert.True(t, p.Allocated.Test(dead.Slot))

	// Every other dead, non-weak-referenced slot is freed normally.
	for _, h := range headers[1:] {
		assert.False(t, p.Allocated.Test(h.Slot))
	}

	// Releasing the last weak reference reclaims the slot for real.
	dead.ReleaseWeak()
	assert.False(t, p.Allocated.Test(dead.Slot))
}

func TestPromotePagesSetsOldGeneration(t *testing.T) {
	p1 := gcpage.NewPageHeader(1, 16, false)
	p2 := gcpage.NewPageHeader(1, 16, false)
	e := New()
	promoted := e.PromotePages([]*gcpage.PageHeader{p1, p2})
	assert.Equal(t, 2, promoted)
	assert.True(t, p1.IsOld())
	assert.True(t, p2.IsOld())
	assert.Equal(t, int64(2), e.PagesPromoted())
}

func TestSweepPendingRespectsN(t *testing.T) {
	pages := make([]*gcpage.PageHeader, 3)
	for i := range pages {
		pages[i] = gcpage.NewPageHeader(1, 16, false)
		allocAll(pages[i])
	}
	e := New()
	e.MarkPending(pages)
	require.Equal(t, int64(3), e.PendingSweepPages())

	swept := e.SweepPending(pages, 2)
	assert.Equal(t, 2, swept)
	assert.Equal(t, int64(1), e.PendingSweepPages())
}

func TestSweepOrphansReclaimsAndUnregistersEmptyPages(t *testing.T) {
	reg := heap.NewRegistry()
	h := reg.Acquire()
	lh := h.Heap()
	p := gcpage.NewPageHeader(h.ThreadID(), 16, false)
	lh.AdoptPage(p)
	allocAll(p)

	// Thread exit: the page lands in the orphan registry, fully dead.
	h.Release()
	require.Equal(t, 1, reg.OrphanPageCount())
	require.True(t, p.IsOrphan())

	e := New()
	reclaimed := e.SweepOrphans(reg)
	assert.Greater(t, reclaimed, 0)
	assert.True(t, p.Allocated.AllZero())
	// Emptied orphan pages leave the registry for good.
	assert.Equal(t, 0, reg.OrphanPageCount())
}
