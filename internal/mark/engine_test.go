package mark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

type chainValue struct {
	name string
	next *gcpage.ObjectHeader
}

func traceFor(v *chainValue) gcpage.TraceFunc {
	return func(vis gcpage.Visitor) {
		if v.next != nil {
			vis.Visit(v.next)
		}
	}
}

func allocChainNode(name string, next *gcpage.ObjectHeader) *gcpage.ObjectHeader {
	p := gcpage.NewPageHeader(1, 64, false)
	slot := p.PopFreeSlot()
	v := &chainValue{name: name, next: next}
	hdr := gcpage.NewObjectHeader(p, slot, v, traceFor(v))
	p.Slots[slot] = hdr
	p.Allocated.Set(slot)
	return hdr
}

func TestMarkSTWFollowsChainAndMarksEveryNode(t *testing.T) {
	tail := allocChainNode("tail", nil)
	mid := allocChainNode("mid", tail)
	head := allocChainNode("head", mid)

	e := NewEngine(2, 64)
	stats := e.MarkSTW([]*gcpage.ObjectHeader{head}, gcpage.KindMajor)

	assert.Equal(t, int64(3), stats.ObjectsMarked)
	assert.True(t, head.Page.Mark.Test(head.Slot))
	assert.True(t, mid.Page.Mark.Test(mid.Slot))
	assert.True(t, tail.Page.Mark.Test(tail.Slot))
}

func TestMarkSTWDoesNotDoubleMarkACycle(t *testing.T) {
	a := allocChainNode("a", nil)
	b := allocChainNode("b", a)
	a.Value.(*chainValue).next = b // a -> b -> a

	e := NewEngine(4, 64)
	stats := e.MarkSTW([]*gcpage.ObjectHeader{a}, gcpage.KindMajor)

	// Exactly two distinct nodes should ever be enqueued and traced,
	// regardless of how many times the cycle is walked.
	assert.Equal(t, int64(2), stats.ObjectsMarked)
}

func TestMinorVisitorSkipsOldGenerationEdges(t *testing.T) {
	oldChild := allocChainNode("old-child", nil)
	oldChild.Page.Promote()
	root := allocChainNode("root", oldChild)

	e := NewEngine(2, 64)
	stats := e.MarkSTW([]*gcpage.ObjectHeader{root}, gcpage.KindMinor)

	assert.Equal(t, int64(1), stats.ObjectsMarked)
	assert.False(t, oldChild.Page.Mark.Test(oldChild.Slot))
}

func TestAssignPagesRoutesByOwnerThread(t *testing.T) {
	e := NewEngine(4, 64)
	pages := []*gcpage.PageHeader{
		gcpage.NewPageHeader(1, 16, false),
		gcpage.NewPageHeader(2, 16, false),
		gcpage.NewPageHeader(1, 16, false),
	}
	e.AssignPages(pages)

	w1 := e.workerForThread(1)
	w2 := e.workerForThread(2)
	total := 0
	for _, w := range e.Workers() {
		total += len(w.OwnedPages)
	}
	assert.Equal(t, len(pages), total)
	require.NotNil(t, w1)
	require.NotNil(t, w2)
}

func TestRunIncrementalSliceRespectsBudget(t *testing.T) {
	var prev *gcpage.ObjectHeader
	for i := 0; i < 10; i++ {
		prev = allocChainNode("n", prev)
	}
	e := NewEngine(2, 64)
	if prev.Page.Mark.TrySet(prev.Slot) {
		e.enqueueIncremental(prev)
	}

	marked := e.RunIncrementalSlice(3)
	assert.LessOrEqual(t, marked, 3)
	assert.True(t, marked > 0)
}
