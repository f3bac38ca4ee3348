// Package gc is the public facade: it wires internal/gcpage,
// internal/gctrace, internal/heap, internal/barrier, internal/mark,
// internal/sweep, internal/handshake, internal/handle,
// internal/metrics and internal/obslog into the Collector spec.md §6
// describes, and exposes the generic Ptr[T]/WeakPtr[T] smart-pointer
// adapter on top.
package gc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tidalgc/tracegc/internal/barrier"
	"github.com/tidalgc/tracegc/internal/gcpage"
	"github.com/tidalgc/tracegc/internal/handshake"
	"github.com/tidalgc/tracegc/internal/heap"
	"github.com/tidalgc/tracegc/internal/mark"
	"github.com/tidalgc/tracegc/internal/metrics"
	"github.com/tidalgc/tracegc/internal/obslog"
	"github.com/tidalgc/tracegc/internal/sweep"
	"go.uber.org/multierr"
)

// CollectInfo is passed to a custom collect-condition predicate
// (spec.md §6 "set_collect_condition(fn(CollectInfo) -> bool)").
type CollectInfo struct {
	LiveCount       int64
	DropsSinceLast  int64
	BytesAllocated  int64
}

// CollectionType matches spec.md §6's metrics enum.
type CollectionType uint8

const (
	CollectionNone CollectionType = iota
	CollectionMinor
	CollectionMajor
	CollectionIncrementalMajor
)

// Collector is a garbage collector instance. One per process is the
// normal arrangement, but each Collector carries its own thread
// registry, heaps, metrics and mark state, so nothing prevents more
// (see DESIGN.md).
type Collector struct {
	cfg Config

	reg     *heap.Registry
	barrier *barrier.Barrier
	engine  *mark.Engine
	incr    *mark.IncrementalState
	sweep   *sweep.Engine
	metrics *metrics.Registry
	log     *obslog.Logger
	hs      *handshake.Coordinator
	alloc   *heap.Allocator

	condMu    sync.Mutex
	condition func(CollectInfo) bool

	collectMu sync.Mutex // serializes Collect/CollectMinor against each other

	liveCount      atomic.Int64
	dropsSinceLast atomic.Int64
	bytesAllocated atomic.Int64
	totalCollections atomic.Int64

	// allocTick drives the adaptive lazy-sweep check on the allocation
	// safepoint (spec.md §4.7): one sweep per 200 allocations, plus one
	// per 16 allocations once the sweep debt passes 10% of the heap.
	allocTick atomic.Int64

	closed atomic.Bool
}

// New builds a Collector from opts layered onto DefaultConfig.
func New(opts ...Option) *Collector {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := heap.NewRegistry()
	c := &Collector{
		cfg:     cfg,
		reg:     reg,
		barrier: barrier.New(),
		engine:  mark.NewEngine(cfg.Parallel.MaxWorkers, cfg.Parallel.QueueCapacity),
		sweep:   sweep.New(),
		metrics: metrics.New(),
		log:     obslog.Nop(),
		hs:      handshake.New(reg),
		alloc:   heap.NewAllocator(),
	}
	c.barrier.RememberedBufferLen = cfg.Incremental.RememberedBufferLen
	c.incr = mark.NewIncrementalState(c.engine, cfg.Incremental.toInternal())
	c.barrier.Phase = c.incr
	c.barrier.Enqueue = c.engine
	c.alloc.Sweeper = c.sweep
	c.alloc.Phase = c.incr
	c.alloc.LazySweepBudget = cfg.LazySweepBudget
	c.condition = defaultCollectCondition
	return c
}

// writeBarrier runs the generational and incremental write barriers
// against owner's containing page/slot (spec.md §4.4). It is the
// implementation behind SetCell; owner nil (an unbound Cell) is a
// silent no-op rather than a panic, since an unbound cell has
// explicitly opted out of barrier coverage.
func (c *Collector) writeBarrier(threadID uint64, owner *gcpage.ObjectHeader, oldVal, newVal *gcpage.ObjectHeader) {
	if owner == nil {
		return
	}
	if tcb, ok := c.reg.Lookup(owner.Page.OwnerThread); ok {
		c.barrier.Generational(tcb.Heap, owner.Page, owner.Slot)
	}
	c.barrier.Incremental(threadID, oldVal, newVal)
}

// SetLogger replaces the no-op logger with one that actually emits
// structured log entries (spec.md's ambient observability stack; see
// SPEC_FULL.md §1).
func (c *Collector) SetLogger(l *obslog.Logger) { c.log = l }

func defaultCollectCondition(info CollectInfo) bool {
	// spec.md §6 default: "drops-since-last > live-count".
	return info.DropsSinceLast > info.LiveCount
}

// SetCollectCondition installs a custom predicate deciding whether an
// allocation-triggered check should request a collection (spec.md §6
// "set_collect_condition").
func (c *Collector) SetCollectCondition(fn func(CollectInfo) bool) {
	c.condMu.Lock()
	defer c.condMu.Unlock()
	if fn == nil {
		fn = defaultCollectCondition
	}
	c.condition = fn
}

// ShouldCollect evaluates the current collect condition against live
// counters, for adapters that want to opportunistically check rather
// than unconditionally calling Collect() on every allocation.
func (c *Collector) ShouldCollect() bool {
	c.condMu.Lock()
	fn := c.condition
	c.condMu.Unlock()
	return fn(CollectInfo{
		LiveCount:      c.liveCount.Load(),
		DropsSinceLast: c.dropsSinceLast.Load(),
		BytesAllocated: c.bytesAllocated.Load(),
	})
}

// allocFor services Ptr.Allocate: it runs the allocation safepoint
// (park if a handshake is outstanding, occasionally pay down sweep
// debt), then dispatches to the small or large path and records the
// live counter.
func (c *Collector) allocFor(h *Handle, size uint32, value any, trace gcpage.TraceFunc) *gcpage.ObjectHeader {
	c.YieldNow(h)
	c.maybeLazySweep()

	lh := h.h.Heap()
	var hdr *gcpage.ObjectHeader
	if _, _, ok := gcpage.ClassIndexFor(size); ok {
		hdr = c.alloc.AllocSmall(lh, h.ThreadID(), size, value, trace)
	} else {
		hdr = c.alloc.AllocLarge(lh, h.ThreadID(), size, value, trace)
	}
	c.liveCount.Add(1)
	c.bytesAllocated.Add(int64(size))
	return hdr
}

// maybeLazySweep is the allocator safepoint's adaptive sweep check
// (spec.md §4.7): every 200th check sweeps one page; in addition,
// every 16th check tests whether pending sweep pages exceed 10% of the
// heap and, if so, sweeps one page, bounding heap growth without a
// background sweeper. A counter
// stands in for the spec's ~0.5% probability so the schedule is
// deterministic under replay.
func (c *Collector) maybeLazySweep() {
	pending := c.sweep.PendingSweepPages()
	if pending == 0 {
		return
	}
	tick := c.allocTick.Add(1)
	if tick%200 == 0 {
		c.SweepPending(1)
		return
	}
	// The 10%-of-heap pressure check walks every heap's page list, so
	// it runs on a coarser stride than the allocation itself.
	if tick%16 == 0 {
		if total := int64(len(c.allPages())); total > 0 && pending*10 > total {
			c.SweepPending(1)
		}
	}
}

// YieldNow is the cooperative safepoint spec.md §6 describes: a
// mutator goroutine calls it between units of work to let an
// outstanding handshake request proceed.
func (c *Collector) YieldNow(h *Handle) {
	if c.hs.Requested() {
		c.hs.CheckIn(h.ThreadID())
	}
}

func (c *Collector) allRoots() []*gcpage.ObjectHeader {
	var roots []*gcpage.ObjectHeader
	for _, t := range c.reg.AllTCBs() {
		if t.Handles != nil {
			t.Handles.VisitRoots(func(r *gcpage.ObjectHeader) { roots = append(roots, r) })
		}
		if t.AsyncScopes != nil {
			t.AsyncScopes.VisitRoots(func(r *gcpage.ObjectHeader) { roots = append(roots, r) })
		}
	}
	return roots
}

// allPages snapshots every page the collector is responsible for:
// each registered heap's pages plus the orphan registry's. Orphan
// pages must stay in the set so their mark bitmaps are reset and their
// still-reachable objects marked like any other page's.
func (c *Collector) allPages() []*gcpage.PageHeader {
	var pages []*gcpage.PageHeader
	for _, t := range c.reg.AllTCBs() {
		pages = append(pages, t.Heap.AllPages()...)
	}
	pages = append(pages, c.reg.OrphanPages()...)
	return pages
}

// Collect requests a full major collection and blocks until it
// completes (spec.md §6 "collect() -- request full major collection;
// blocks until complete"). It runs the handshake, an eager sweep of
// pages still flagged NEEDS_SWEEP, a full parallel mark (incremental,
// sliced across the configured budget, when c.cfg.Incremental.Enabled;
// a single stop-the-world pass otherwise — spec.md §4.6 treats
// incremental marking as the default mode, not a separate entry
// point), an eager sweep of orphan, large and entirely dead pages
// (other surviving pages are only flagged NEEDS_SWEEP for the lazy
// sweeper), and end-of-cycle page promotion.
func (c *Collector) Collect() Stats {
	return c.runMajor(c.cfg.Incremental.Enabled)
}

// CollectIncrementalSlices runs a full incremental-marking cycle: a
// Snapshot, repeated RunSlice calls until the worklist drains or a
// fallback trigger fires, a bounded FinalMark, and Sweeping — instead
// of one uninterrupted stop-the-world pass (spec.md §4.6). If
// incremental marking is disabled in this Collector's config, it falls
// straight back to Collect().
func (c *Collector) CollectIncrementalSlices() Stats {
	if !c.cfg.Incremental.Enabled {
		return c.runMajor(false)
	}
	return c.runMajor(true)
}

func (c *Collector) runMajor(incremental bool) Stats {
	if c.closed.Load() {
		return Stats{}
	}
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	start := time.Now()
	c.hs.RequestAndWait(0)
	defer c.hs.Release()

	pages := c.allPages()
	bytesBefore := c.sweep.BytesReclaimed()

	// Pay down last cycle's sweep debt before mark bits are cleared: a
	// page still flagged NEEDS_SWEEP encodes liveness in its mark
	// bitmap, and resetting that bitmap first would reclaim its
	// survivors.
	reclaimedPre := c.sweep.EagerSweepAll(pages)

	roots := c.allRoots()
	var objectsMarked, dirtyScanned, slices int64
	var clearDur, markDur time.Duration
	fallback := mark.FallbackNone
	if incremental {
		clearStart := time.Now()
		c.log.PhaseTransition(mark.PhaseIdle.String(), mark.PhaseSnapshot.String())
		c.incr.BeginSnapshot(pages, roots)
		c.log.PhaseTransition(mark.PhaseSnapshot.String(), mark.PhaseMarking.String())
		clearDur = time.Since(clearStart)
		markStart := time.Now()
		for !c.incr.Done() {
			dirty := 0
			for _, t := range c.reg.AllTCBs() {
				dirty += t.Heap.DirtyPageCount()
			}
			reason := c.incr.RunSlice(dirty)
			if reason != mark.FallbackNone {
				fallback = reason
				c.log.Fallback(string(reason))
				break
			}
		}
		c.barrier.FlushAll()
		c.incr.BeginFinalMark()
		c.log.PhaseTransition(mark.PhaseMarking.String(), mark.PhaseFinalMark.String())
		c.incr.FinishFinalMark()
		c.log.PhaseTransition(mark.PhaseFinalMark.String(), mark.PhaseSweeping.String())
		markDur = time.Since(markStart)
		snap := c.incr.Snapshot()
		objectsMarked = snap.ObjectsMarked
		dirtyScanned = snap.DirtyPagesScanned
		slices = snap.SlicesRun
	} else {
		// The Snapshot step's "clear mark bits" applies to a
		// stop-the-world cycle too: a bit left set from a prior cycle
		// keeps an unrooted object looking reachable forever.
		clearStart := time.Now()
		c.engine.ResetMarkBitmaps(pages)
		clearDur = time.Since(clearStart)
		markStart := time.Now()
		c.engine.AssignPages(pages)
		stats := c.engine.MarkSTW(roots, gcpage.KindMajor)
		markDur = time.Since(markStart)
		objectsMarked = stats.ObjectsMarked
	}

	// Post-mark sweep policy (spec.md §4.7): orphan and large pages are
	// swept eagerly; an entirely dead small page is reclaimed right away
	// through the all-dead fast path; pages with surviving content are
	// flagged NEEDS_SWEEP and left for the lazy sweeper.
	sweepStart := time.Now()
	reclaimedPost := c.sweep.SweepOrphans(c.reg)
	var deferred, surviving []*gcpage.PageHeader
	for _, p := range pages {
		if p.IsOrphan() || p.Allocated.AllZero() {
			continue
		}
		if p.IsLarge() || p.Mark.AllZero() {
			c.sweep.MarkPending([]*gcpage.PageHeader{p})
			reclaimedPost += c.sweep.LazySweepPage(p, 0)
			if !p.Allocated.AllZero() {
				surviving = append(surviving, p)
			}
			continue
		}
		deferred = append(deferred, p)
		surviving = append(surviving, p)
	}
	c.sweep.MarkPending(deferred)
	promoted := c.sweep.PromotePages(surviving)
	sweepDur := time.Since(sweepStart)

	if incremental {
		c.incr.FinishSweeping()
		c.log.PhaseTransition(mark.PhaseSweeping.String(), mark.PhaseIdle.String())
	}

	reclaimed := int64(reclaimedPre + reclaimedPost)
	c.liveCount.Add(-reclaimed)
	c.dropsSinceLast.Store(0)
	total := c.totalCollections.Add(1)

	var objectsSurviving, bytesSurviving int64
	for _, p := range pages {
		n := int64(p.Allocated.CountSet())
		objectsSurviving += n
		bytesSurviving += n * int64(p.BlockSize)
	}

	duration := time.Since(start)
	c.metrics.Record(metrics.Snapshot{
		Kind:              metrics.KindMajor,
		StartedAt:         start,
		Duration:          duration,
		ClearDuration:     clearDur,
		MarkDuration:      markDur,
		SweepDuration:     sweepDur,
		ObjectsMarked:     objectsMarked,
		ObjectsReclaimed:  reclaimed,
		ObjectsSurviving:  objectsSurviving,
		BytesReclaimed:    c.sweep.BytesReclaimed() - bytesBefore,
		BytesSurviving:    bytesSurviving,
		PagesPromoted:     int64(promoted),
		DirtyPagesScanned: dirtyScanned,
		SlicesExecuted:    slices,
		TotalCollections:  total,
		FallbackOccurred:  fallback != mark.FallbackNone,
		FallbackReason:    string(fallback),
	})
	c.log.CycleCompleted("major", objectsMarked, reclaimed, int64(duration))

	return Stats{
		Duration:          duration,
		ObjectsMarked:     objectsMarked,
		ObjectsReclaimed:  reclaimed,
		DirtyPagesScanned: dirtyScanned,
		FallbackOccurred:  fallback != mark.FallbackNone,
		FallbackReason:    string(fallback),
		Type:              collectionTypeFor(incremental),
	}
}

func collectionTypeFor(incremental bool) CollectionType {
	if incremental {
		return CollectionIncrementalMajor
	}
	return CollectionMajor
}

// CollectMinor requests a minor (young-generation) collection (spec.md
// §4.8, §6 "collect_minor()"). Only young pages are marked and swept;
// old pages contribute edges through the dirty-page snapshot.
func (c *Collector) CollectMinor() Stats {
	if c.closed.Load() {
		return Stats{}
	}
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	start := time.Now()
	c.hs.RequestAndWait(0)
	defer c.hs.Release()

	tcbs := c.reg.AllTCBs()
	var youngPages []*gcpage.PageHeader
	for _, t := range tcbs {
		for _, p := range t.Heap.AllPages() {
			if !p.IsOld() {
				youngPages = append(youngPages, p)
			}
		}
	}

	// Same ordering discipline as a major cycle: finish outstanding
	// sweep debt on the pages about to be re-marked, then clear their
	// mark bitmaps.
	bytesBefore := c.sweep.BytesReclaimed()
	c.sweep.EagerSweepAll(youngPages)
	c.engine.ResetMarkBitmaps(youngPages)

	var dirtyScanned int64
	v := &minorVisitor{}

	for _, t := range tcbs {
		if t.Handles != nil {
			t.Handles.VisitRoots(v.Visit)
		}
		if t.AsyncScopes != nil {
			t.AsyncScopes.VisitRoots(v.Visit)
		}

		snapshot := t.Heap.DrainDirtySnapshot()
		for _, p := range snapshot {
			dirtyScanned++
			for i := 0; i < p.ObjCount; i++ {
				if !p.Dirty.Test(i) {
					continue
				}
				// The dirty old object itself is not a collection
				// candidate; only the young edges its trace reports
				// are.
				if hdr := p.Slots[i]; hdr != nil {
					hdr.Trace(v)
				}
				p.Dirty.Clear(i)
			}
			p.ClearFlag(gcpage.FlagDirtyListed)
		}
	}

	sweepStart := time.Now()
	c.sweep.MarkPending(youngPages)
	reclaimed := c.sweep.EagerSweepAll(youngPages)
	sweepDur := time.Since(sweepStart)

	var objectsSurviving, bytesSurviving int64
	for _, p := range youngPages {
		n := int64(p.Allocated.CountSet())
		objectsSurviving += n
		bytesSurviving += n * int64(p.BlockSize)
	}

	c.liveCount.Add(-int64(reclaimed))
	total := c.totalCollections.Add(1)
	duration := time.Since(start)
	c.metrics.Record(metrics.Snapshot{
		Kind:              metrics.KindMinor,
		StartedAt:         start,
		Duration:          duration,
		SweepDuration:     sweepDur,
		ObjectsMarked:     v.marked,
		ObjectsReclaimed:  int64(reclaimed),
		ObjectsSurviving:  objectsSurviving,
		BytesReclaimed:    c.sweep.BytesReclaimed() - bytesBefore,
		BytesSurviving:    bytesSurviving,
		DirtyPagesScanned: dirtyScanned,
		TotalCollections:  total,
	})
	c.log.CycleCompleted("minor", v.marked, int64(reclaimed), int64(duration))

	return Stats{
		Duration:          duration,
		ObjectsMarked:     v.marked,
		ObjectsReclaimed:  int64(reclaimed),
		DirtyPagesScanned: dirtyScanned,
		Type:              CollectionMinor,
	}
}

// minorVisitor implements gcpage.Visitor for §4.8's minor collection:
// it marks and recursively traces any newly-discovered young object,
// never following an edge into the old generation.
type minorVisitor struct {
	marked int64
}

func (v *minorVisitor) Kind() gcpage.VisitorKind { return gcpage.KindMinor }

func (v *minorVisitor) Visit(ref *gcpage.ObjectHeader) {
	if ref == nil || ref.Page.IsOld() {
		return
	}
	if !ref.Page.Mark.TrySet(ref.Slot) {
		return
	}
	v.marked++
	ref.Trace(v)
}

// SweepPending implements spec.md §6's "sweep_pending(n) -> n_actually_swept".
func (c *Collector) SweepPending(n int) int {
	return c.sweep.SweepPending(c.allPages(), n)
}

// PendingSweepPages implements spec.md §6's "pending_sweep_pages() -> count".
func (c *Collector) PendingSweepPages() int64 {
	return c.sweep.PendingSweepPages()
}

// Stats is the snapshot returned from a single Collect/CollectMinor
// call, a convenience subset of the ring-buffer Snapshot.
type Stats struct {
	Duration          time.Duration
	ObjectsMarked     int64
	ObjectsReclaimed  int64
	DirtyPagesScanned int64
	FallbackOccurred  bool
	FallbackReason    string
	Type              CollectionType
}

// Metrics exposes the read-only metrics registry (spec.md §6
// "Metrics (read-only)").
func (c *Collector) Metrics() *metrics.Registry { return c.metrics }

// TotalCollections is the cumulative collection count across both
// kinds.
func (c *Collector) TotalCollections() int64 { return c.totalCollections.Load() }

// Close shuts the collector down. It is safe to call once; subsequent
// calls are no-ops. A handle still registered at Close is a leak on
// the caller's side — its heap's pages can never be reclaimed — so it
// is reported as an error alongside any failure flushing the event
// log, the two joined with multierr rather than the second silently
// discarded.
func (c *Collector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if n := c.reg.ParticipantCount(); n > 0 {
		err = multierr.Append(err, errors.Errorf("gc: %d handle(s) still registered at Close", n))
	}
	err = multierr.Append(err, wrap(c.log.Sync(), "flush gc event log"))
	return err
}
