package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFindsSlotFromExactAndInteriorAddress(t *testing.T) {
	h := newLocalHeap(1)
	a := NewAllocator()
	hdr := a.AllocSmall(h, 1, 16, "v", noopTrace)

	addr := hdr.Page.SlotAddr(hdr.Slot)
	got, ok := h.Resolve(addr)
	require.True(t, ok)
	assert.Same(t, hdr, got)

	// Mid-slot interior pointer resolves to the same containing object.
	got, ok = h.Resolve(addr + 7)
	require.True(t, ok)
	assert.Same(t, hdr, got)
}

func TestResolveRejectsUnmanagedAndFreeAddresses(t *testing.T) {
	h := newLocalHeap(1)
	a := NewAllocator()
	hdr := a.AllocSmall(h, 1, 16, "v", noopTrace)

	// A word pointing at no page of this heap is simply not a pointer.
	_, ok := h.Resolve(0xdeadbeef0000)
	assert.False(t, ok)

	// An address within the page header, before the first slot, does
	// not resolve.
	_, ok = h.Resolve(hdr.Page.Base + 1)
	assert.False(t, ok)

	// A free slot's address does not resolve either.
	free := hdr.Page.PopFreeSlot()
	require.GreaterOrEqual(t, free, 0)
	_, ok = h.Resolve(hdr.Page.SlotAddr(free))
	assert.False(t, ok)
}

func TestResolveFindsLargeObject(t *testing.T) {
	h := newLocalHeap(1)
	a := NewAllocator()
	hdr := a.AllocLarge(h, 1, 1<<16, "big", noopTrace)

	got, ok := h.Resolve(hdr.Page.SlotAddr(0))
	require.True(t, ok)
	assert.Same(t, hdr, got)
}

func TestConservativeScanDeduplicatesAndSkipsJunk(t *testing.T) {
	h := newLocalHeap(1)
	a := NewAllocator()
	x := a.AllocSmall(h, 1, 16, "x", noopTrace)
	y := a.AllocSmall(h, 1, 16, "y", noopTrace)

	words := []uintptr{
		x.Page.SlotAddr(x.Slot),
		x.Page.SlotAddr(x.Slot) + 3, // interior duplicate of x
		y.Page.SlotAddr(y.Slot),
		0,            // nil word
		0xfeedface00, // junk that resolves nowhere
	}
	pinned := h.ConservativeScan(words)
	assert.Len(t, pinned, 2)
	assert.Contains(t, pinned, x)
	assert.Contains(t, pinned, y)
}
