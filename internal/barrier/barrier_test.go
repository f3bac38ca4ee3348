package barrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalgc/tracegc/internal/gcpage"
	"github.com/tidalgc/tracegc/internal/heap"
)

type alwaysMarking struct{ marking bool }

func (a *alwaysMarking) IsMarking() bool { return a.marking }

type recordingEnqueuer struct {
	enqueued []*gcpage.ObjectHeader
}

func (r *recordingEnqueuer) TryMarkAndEnqueue(ref *gcpage.ObjectHeader) {
	r.enqueued = append(r.enqueued, ref)
}

func newObj() *gcpage.ObjectHeader {
	p := gcpage.NewPageHeader(1, 16, false)
	slot := p.PopFreeSlot()
	hdr := gcpage.NewObjectHeader(p, slot, nil, nil)
	p.Slots[slot] = hdr
	p.Allocated.Set(slot)
	return hdr
}

func TestGenerationalBarrierSkipsYoungPages(t *testing.T) {
	h := heap.NewRegistry().Acquire()
	defer h.Release()

	b := New()
	p := gcpage.NewPageHeader(1, 16, false) // young by default
	b.Generational(h.Heap(), p, 3)

	assert.False(t, p.Dirty.Test(3))
	assert.Equal(t, 0, h.Heap().DirtyPageCount())
}

func TestGenerationalBarrierDirtiesOldPagesOnce(t *testing.T) {
	h := heap.NewRegistry().Acquire()
	defer h.Release()

	b := New()
	p := gcpage.NewPageHeader(1, 16, false)
	p.Promote()

	b.Generational(h.Heap(), p, 2)
	b.Generational(h.Heap(), p, 5) // second mutation must not double-list the page

	assert.True(t, p.Dirty.Test(2))
	assert.True(t, p.Dirty.Test(5))
	assert.Equal(t, 1, h.Heap().DirtyPageCount())
}

func TestIncrementalBarrierIsNoopOutsideMarking(t *testing.T) {
	b := New()
	b.Phase = &alwaysMarking{marking: false}
	enq := &recordingEnqueuer{}
	b.Enqueue = enq

	old := newObj()
	next := newObj()
	b.Incremental(1, old, next)

	assert.Empty(t, enq.enqueued)
}

func TestIncrementalBarrierEnqueuesNewValueDuringMarking(t *testing.T) {
	b := New()
	b.Phase = &alwaysMarking{marking: true}
	enq := &recordingEnqueuer{}
	b.Enqueue = enq

	next := newObj()
	b.Incremental(1, nil, next)

	require.Len(t, enq.enqueued, 1)
	assert.Same(t, next, enq.enqueued[0])
}

func TestSATBBufferFlushesAtRememberedBufferLen(t *testing.T) {
	b := New()
	b.RememberedBufferLen = 2
	b.Phase = &alwaysMarking{marking: true}
	enq := &recordingEnqueuer{}
	b.Enqueue = enq

	a, c := newObj(), newObj()
	b.Incremental(7, a, nil) // buffered, not flushed yet
	assert.Empty(t, enq.enqueued)

	b.Incremental(7, c, nil) // buffer now full, flushes both old values
	assert.Len(t, enq.enqueued, 2)
}

func TestFlushAllDrainsPendingSATBEntries(t *testing.T) {
	b := New()
	b.Phase = &alwaysMarking{marking: true}
	enq := &recordingEnqueuer{}
	b.Enqueue = enq

	old := newObj()
	b.Incremental(9, old, nil) // single entry, buffer not yet full
	assert.Empty(t, enq.enqueued)

	b.FlushAll()
	require.Len(t, enq.enqueued, 1)
	assert.Same(t, old, enq.enqueued[0])
}
