package gcpage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPageHeaderFreeListCoversEverySlot(t *testing.T) {
	p := NewPageHeader(1, 16, false)
	seen := make(map[int]bool)
	for {
		slot := p.PopFreeSlot()
		if slot < 0 {
			break
		}
		require.False(t, seen[slot], "slot %d popped twice", slot)
		seen[slot] = true
	}
	assert.Equal(t, p.ObjCount, len(seen))
}

func TestPageBaseMasksToPageBoundary(t *testing.T) {
	p := NewPageHeader(1, 16, false)
	addr := p.SlotAddr(3)
	assert.Equal(t, p.Base, PageBase(addr))
}

func TestSlotIndexForAddrRoundTrips(t *testing.T) {
	p := NewPageHeader(1, 32, false)
	for i := 0; i < p.ObjCount; i++ {
		addr := p.SlotAddr(i)
		idx, ok := p.SlotIndexForAddr(addr)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
}

func TestFlagsSetHasClear(t *testing.T) {
	p := NewPageHeader(1, 16, false)
	assert.False(t, p.HasFlag(FlagNeedsSweep))
	p.SetFlag(FlagNeedsSweep)
	assert.True(t, p.HasFlag(FlagNeedsSweep))
	p.ClearFlag(FlagNeedsSweep)
	assert.False(t, p.HasFlag(FlagNeedsSweep))
}

func TestPromoteTransitionsGeneration(t *testing.T) {
	p := NewPageHeader(1, 16, false)
	assert.False(t, p.IsOld())
	p.Promote()
	assert.True(t, p.IsOld())
}

// TestRebuildFreeListFromBitmapsPreservesPreexistingFreeSlots guards the
// bug where a first draft of the rebuild only linked newly-dead slots,
// silently losing every slot that was already free before the rebuild.
func TestRebuildFreeListFromBitmapsPreservesPreexistingFreeSlots(t *testing.T) {
	p := NewPageHeader(1, 16, false)
	require.GreaterOrEqual(t, p.ObjCount, 4)

	// Allocate three slots, leave the rest free.
	a := p.PopFreeSlot()
	b := p.PopFreeSlot()
	c := p.PopFreeSlot()
	for _, s := range []int{a, b, c} {
		p.Allocated.Set(s)
	}
	// Only a survives (is marked); b and c are dead.
	p.Mark.Set(a)

	reclaimed := p.RebuildFreeListFromBitmaps()
	assert.Equal(t, 2, reclaimed) // b and c were reclaimed

	free := make(map[int]bool)
	for {
		slot := p.PopFreeSlot()
		if slot < 0 {
			break
		}
		free[slot] = true
	}
	// Every slot except the survivor 'a' must be back on the free list,
	// including the slots that were never allocated to begin with.
	assert.False(t, free[a])
	assert.True(t, free[b])
	assert.True(t, free[c])
	assert.Equal(t, p.ObjCount-1, len(free))
}

func TestRebuildFreeListFromBitmapsAllDeadFastPath(t *testing.T) {
	p := NewPageHeader(1, 16, false)
	for i := 0; i < p.ObjCount; i++ {
		slot := p.PopFreeSlot()
		require.GreaterOrEqual(t, slot, 0)
		p.Allocated.Set(slot)
	}
	require.Equal(t, int32(-1), p.FreeListHead.Load())

	reclaimed := p.RebuildFreeListFromBitmaps()
	assert.Equal(t, p.ObjCount, reclaimed)
	assert.GreaterOrEqual(t, p.FreeListHead.Load(), int32(0))
}
