package mark

import (
	"sync/atomic"
	"time"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// Phase is one state of spec.md §4.6's incremental-marking state
// machine: Idle -> Snapshot -> Marking <-> FinalMark -> Sweeping -> Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSnapshot
	PhaseMarking
	PhaseFinalMark
	PhaseSweeping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSnapshot:
		return "snapshot"
	case PhaseMarking:
		return "marking"
	case PhaseFinalMark:
		return "final_mark"
	case PhaseSweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

// FallbackReason names why an incremental cycle gave up and fell back
// to a stop-the-world major collection (spec.md §4.6 "Fallback
// triggers").
type FallbackReason string

const (
	FallbackNone           FallbackReason = ""
	FallbackMaxDirtyPages  FallbackReason = "max_dirty_pages"
	FallbackSliceTimeout   FallbackReason = "slice_timeout_ms"
	FallbackWorklistGrowth FallbackReason = "worklist_10x_growth"
)

// IncrementalConfig holds the tunables spec.md §6 lists for incremental
// marking, with its stated defaults.
type IncrementalConfig struct {
	IncrementSize int           // objects marked per slice; default 1000
	SliceTimeout  time.Duration // default 50ms
	MaxDirtyPages int           // default 1000
}

// DefaultIncrementalConfig returns spec.md §6's literal defaults.
func DefaultIncrementalConfig() IncrementalConfig {
	return IncrementalConfig{
		IncrementSize: 1000,
		SliceTimeout:  50 * time.Millisecond,
		MaxDirtyPages: 1000,
	}
}

// IncrementalState drives the incremental-marking state machine. It
// implements both heap.MarkPhaseSource and barrier.PhaseSource via
// IsMarking, so the allocator and the write barrier see the same
// phase word the mark engine itself advances.
type IncrementalState struct {
	cfg    IncrementalConfig
	engine *Engine

	phase atomic.Int32 // Phase, stored as int32

	initialWorklistSize atomic.Int64
	slicesRun           atomic.Int64
	objectsMarked       atomic.Int64
	dirtyPagesScanned   atomic.Int64
	fallbackOccurred    atomic.Bool
	fallbackReason      atomic.Value // FallbackReason
}

// NewIncrementalState builds a state machine bound to engine, starting
// Idle.
func NewIncrementalState(engine *Engine, cfg IncrementalConfig) *IncrementalState {
	s := &IncrementalState{cfg: cfg, engine: engine}
	s.phase.Store(int32(PhaseIdle))
	s.fallbackReason.Store(FallbackNone)
	return s
}

// Phase reports the current state.
func (s *IncrementalState) Phase() Phase { return Phase(s.phase.Load()) }

// IsMarking reports whether mutators must run the SATB/Dijkstra
// barrier — true during both Marking and FinalMark (spec.md §4.6: the
// barrier stays live until the final stop-the-world catch-up
// completes).
func (s *IncrementalState) IsMarking() bool {
	switch s.Phase() {
	case PhaseMarking, PhaseFinalMark:
		return true
	default:
		return false
	}
}

// BeginSnapshot runs the Snapshot step and leaves the state in
// Marking: it clears mark bitmaps on the given pages, marks and
// enqueues the roots, and records the root set's size as the
// worklist's initial size for the 10x-growth fallback trigger.
func (s *IncrementalState) BeginSnapshot(pages []*gcpage.PageHeader, roots []*gcpage.ObjectHeader) {
	s.phase.Store(int32(PhaseSnapshot))
	s.engine.ResetMarkBitmaps(pages)
	s.slicesRun.Store(0)
	s.objectsMarked.Store(0)
	s.dirtyPagesScanned.Store(0)
	s.fallbackOccurred.Store(false)
	s.fallbackReason.Store(FallbackNone)

	for _, r := range roots {
		if r == nil {
			continue
		}
		if r.Page.Mark.TrySet(r.Slot) {
			s.engine.enqueueIncremental(r)
		}
	}
	s.initialWorklistSize.Store(s.engine.WorklistSize())
	s.phase.Store(int32(PhaseMarking))
}

// RunSlice executes one marking increment (spec.md §4.6 "Marking:
// incremental, slice-scheduled"). It returns the fallback reason if
// this slice tripped a fallback trigger, or FallbackNone otherwise.
func (s *IncrementalState) RunSlice(dirtyPageCount int) FallbackReason {
	if s.Phase() != PhaseMarking {
		return FallbackNone
	}

	if dirtyPageCount > s.cfg.MaxDirtyPages {
		s.triggerFallback(FallbackMaxDirtyPages)
		return FallbackMaxDirtyPages
	}
	if init := s.initialWorklistSize.Load(); init > 0 && s.engine.WorklistSize() > init*10 {
		s.triggerFallback(FallbackWorklistGrowth)
		return FallbackWorklistGrowth
	}

	deadline := time.Now().Add(s.cfg.SliceTimeout)
	budget := s.cfg.IncrementSize
	marked := 0
	for marked < budget {
		remaining := budget - marked
		if remaining > 64 {
			remaining = 64
		}
		n := s.engine.RunIncrementalSlice(remaining)
		marked += n
		if n == 0 {
			break // worklist drained; nothing left to mark this slice
		}
		if time.Now().After(deadline) {
			s.triggerFallback(FallbackSliceTimeout)
			return FallbackSliceTimeout
		}
	}
	s.slicesRun.Add(1)
	s.objectsMarked.Add(int64(marked))
	s.dirtyPagesScanned.Add(int64(dirtyPageCount))
	return FallbackNone
}

// triggerFallback records that this cycle gave up incremental pacing;
// the caller (package gc) still must run an actual STW mark/sweep,
// this only flips the bookkeeping.
func (s *IncrementalState) triggerFallback(reason FallbackReason) {
	s.fallbackOccurred.Store(true)
	s.fallbackReason.Store(reason)
}

// Done reports whether the worklist has drained and no SATB buffers
// remain — the FinalMark entry condition (spec.md §4.6 termination
// contract). Caller is responsible for flushing SATB buffers first via
// barrier.Barrier.FlushAll.
func (s *IncrementalState) Done() bool {
	return s.engine.WorklistEmpty()
}

// BeginFinalMark transitions Marking -> FinalMark: a short
// stop-the-world pass that re-marks anything SATB/Dijkstra buffered
// between the last slice and the pause (spec.md §4.6 "FinalMark:
// bounded stop-the-world").
func (s *IncrementalState) BeginFinalMark() {
	s.phase.Store(int32(PhaseFinalMark))
}

// FinishFinalMark drains whatever the final catch-up enqueued, fully
// stop-the-world, then advances to Sweeping.
func (s *IncrementalState) FinishFinalMark() {
	for !s.engine.WorklistEmpty() {
		if s.engine.RunIncrementalSlice(256) == 0 {
			break
		}
	}
	s.phase.Store(int32(PhaseSweeping))
}

// FinishSweeping returns the state machine to Idle, ready for the next
// cycle.
func (s *IncrementalState) FinishSweeping() {
	s.phase.Store(int32(PhaseIdle))
}

// Stats is the subset of spec.md §6's per-cycle snapshot this state
// machine is responsible for.
type Stats struct {
	Phase             string
	SlicesRun         int64
	ObjectsMarked     int64
	DirtyPagesScanned int64
	FallbackOccurred  bool
	FallbackReason    FallbackReason
}

// Snapshot reads the current cycle's incremental-marking stats.
func (s *IncrementalState) Snapshot() Stats {
	return Stats{
		Phase:             s.Phase().String(),
		SlicesRun:         s.slicesRun.Load(),
		ObjectsMarked:     s.objectsMarked.Load(),
		DirtyPagesScanned: s.dirtyPagesScanned.Load(),
		FallbackOccurred:  s.fallbackOccurred.Load(),
		FallbackReason:    s.fallbackReason.Load().(FallbackReason),
	}
}
