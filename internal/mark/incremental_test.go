package mark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

func TestIncrementalStateLifecycle(t *testing.T) {
	root := allocChainNode("root", nil)
	e := NewEngine(2, 64)
	s := NewIncrementalState(e, IncrementalConfig{IncrementSize: 10, SliceTimeout: 50 * time.Millisecond, MaxDirtyPages: 1000})

	assert.Equal(t, PhaseIdle, s.Phase())
	assert.False(t, s.IsMarking())

	s.BeginSnapshot([]*gcpage.PageHeader{root.Page}, []*gcpage.ObjectHeader{root})
	assert.Equal(t, PhaseMarking, s.Phase())
	assert.True(t, s.IsMarking())

	for !s.Done() {
		reason := s.RunSlice(0)
		require.Equal(t, FallbackNone, reason)
	}

	s.BeginFinalMark()
	assert.True(t, s.IsMarking())
	s.FinishFinalMark()
	assert.Equal(t, PhaseSweeping, s.Phase())
	assert.False(t, s.IsMarking())

	s.FinishSweeping()
	assert.Equal(t, PhaseIdle, s.Phase())

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.ObjectsMarked)
	assert.False(t, snap.FallbackOccurred)
}

func TestIncrementalStateFallsBackOnMaxDirtyPages(t *testing.T) {
	root := allocChainNode("root", nil)
	e := NewEngine(2, 64)
	s := NewIncrementalState(e, IncrementalConfig{IncrementSize: 10, SliceTimeout: time.Second, MaxDirtyPages: 5})

	s.BeginSnapshot([]*gcpage.PageHeader{root.Page}, []*gcpage.ObjectHeader{root})
	reason := s.RunSlice(6)
	assert.Equal(t, FallbackMaxDirtyPages, reason)
	assert.True(t, s.Snapshot().FallbackOccurred)
}

func TestIncrementalStateFallsBackOnWorklistGrowth(t *testing.T) {
	root := allocChainNode("root", nil)
	e := NewEngine(2, 64)
	s := NewIncrementalState(e, IncrementalConfig{IncrementSize: 10, SliceTimeout: time.Second, MaxDirtyPages: 1000})

	s.BeginSnapshot([]*gcpage.PageHeader{root.Page}, []*gcpage.ObjectHeader{root})
	// Manually inflate the worklist far beyond 10x its initial size of 1.
	for i := 0; i < 50; i++ {
		e.inFlight.Add(1)
	}
	reason := s.RunSlice(0)
	assert.Equal(t, FallbackWorklistGrowth, reason)
}

func TestDefaultIncrementalConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultIncrementalConfig()
	assert.Equal(t, 1000, cfg.IncrementSize)
	assert.Equal(t, 1000, cfg.MaxDirtyPages)
	assert.Equal(t, 50*time.Millisecond, cfg.SliceTimeout)
}
