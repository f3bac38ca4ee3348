package mark

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// DefaultMaxWorkers is spec.md §6's parallel-marking max_workers
// default: min(cpu_count, 16).
func DefaultMaxWorkers() int {
	n := runtime.NumCPU()
	if n > 16 {
		return 16
	}
	if n < 1 {
		return 1
	}
	return n
}

// Engine is the parallel mark engine from spec.md §4.5. It also
// satisfies barrier.MarkEnqueuer (visitor.go) so the incremental write
// barrier can route discoveries through the same worker assignment.
type Engine struct {
	QueueCapacity int
	workers       []*Worker
	assign        map[uint64]int // owner thread id -> worker index

	// inFlight counts items that have been enqueued but not yet
	// traced. Termination (spec.md §4.5 step 6) is simplified from the
	// spec's idle-round/reconvergence dance to "inFlight reaches zero"
	// — equivalent in effect (all deques end up empty, no worker is
	// marking) and race-free by construction.
	inFlight atomic.Int64

	// incrementalIdx is the round-robin cursor enqueueIncremental uses
	// to pick a worker for roots and barrier discoveries made outside
	// of an active MarkSTW call, so they still reach a worker's queue
	// (spec.md §4.2, §4.4).
	incrementalIdx atomic.Int64
}

// NewEngine builds an engine with up to maxWorkers workers (clamped to
// spec.md's 16) and the given deque capacity.
func NewEngine(maxWorkers, queueCapacity int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers()
	}
	if maxWorkers > 16 {
		maxWorkers = 16
	}
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	e := &Engine{QueueCapacity: queueCapacity, assign: make(map[uint64]int)}
	e.workers = make([]*Worker, maxWorkers)
	for i := range e.workers {
		e.workers[i] = newWorker(i, 0, queueCapacity)
	}
	return e
}

// NumWorkers reports how many workers this engine runs.
func (e *Engine) NumWorkers() int { return len(e.workers) }

// Workers exposes the worker slice, for metrics and tests that inspect
// per-worker mark counts (spec.md §8 Scenario C).
func (e *Engine) Workers() []*Worker { return e.workers }

// AssignPages implements spec.md §4.5 step 1: each page is assigned to
// the worker whose index corresponds to the page's owner thread, for
// cache locality. Since there may be more owning threads than workers
// (capped at 16), threads are bucketed by a deterministic hash so the
// same thread always lands on the same worker within one cycle.
func (e *Engine) AssignPages(pages []*gcpage.PageHeader) {
	n := len(e.workers)
	for _, w := range e.workers {
		w.OwnedPages = w.OwnedPages[:0]
	}
	e.assign = make(map[uint64]int, len(pages))
	for _, p := range pages {
		idx, ok := e.assign[p.OwnerThread]
		if !ok {
			idx = int(p.OwnerThread % uint64(n))
			e.assign[p.OwnerThread] = idx
		}
		e.workers[idx].OwnedPages = append(e.workers[idx].OwnedPages, p)
	}
}

func (e *Engine) workerForThread(threadID uint64) *Worker {
	n := len(e.workers)
	if idx, ok := e.assign[threadID]; ok {
		return e.workers[idx]
	}
	return e.workers[int(threadID%uint64(n))]
}

// enqueue routes a newly claimed object to its owning page's worker
// (spec.md §4.5 step 5). from is the worker currently tracing, used to
// decide whether this is a local push or a cross-worker handoff.
func (e *Engine) enqueue(ref *gcpage.ObjectHeader, from *Worker) {
	e.inFlight.Add(1)
	target := e.workerForThread(ref.Page.OwnerThread)
	if target == from && target.Deque.Push(ref) {
		return
	}
	if target == from {
		// Local deque briefly full: fall back to the inbox rather
		// than drop the item (spec.md §7 treats a full queue as
		// expected, not an error — we still need to process ref).
		target.pushRemote(ref)
		return
	}
	target.pushRemote(ref)
}

// enqueueIncremental is the barrier/allocator entry point outside of a
// MarkSTW call: it round-robins across workers so incremental
// discoveries still spread across the pool instead of piling onto one
// worker's inbox.
func (e *Engine) enqueueIncremental(ref *gcpage.ObjectHeader) {
	e.inFlight.Add(1)
	idx := int(e.incrementalIdx.Add(1)) % len(e.workers)
	w := e.workers[idx]
	if !w.Deque.Push(ref) {
		w.pushRemote(ref)
	}
}

// popAny tries, in order: the worker's own LIFO deque, its remote
// inbox, then a round-robin steal attempt against every other worker
// (spec.md §4.5 step 3–4, tie-break: "fixed rotation from the
// stealer's index").
func (e *Engine) popAny(w *Worker) (*gcpage.ObjectHeader, bool) {
	if item, ok := w.Deque.Pop(); ok {
		return item, true
	}
	if item, ok := w.drainRemoteOne(); ok {
		return item, true
	}
	n := len(e.workers)
	for i := 1; i < n; i++ {
		victim := e.workers[(w.Index+i)%n]
		if victim == w {
			continue
		}
		if item, ok := victim.Deque.Steal(); ok {
			return item, true
		}
	}
	return nil, false
}

// RootStats summarizes a single mark pass for the metrics snapshot.
type RootStats struct {
	ObjectsMarked int64
}

// MarkSTW runs a full stop-the-world parallel mark pass: it pushes
// roots to their owning workers, then runs every worker concurrently
// until the shared in-flight counter drains to zero (spec.md §4.5
// steps 2–6).
func (e *Engine) MarkSTW(roots []*gcpage.ObjectHeader, kind gcpage.VisitorKind) RootStats {
	for _, w := range e.workers {
		w.Marked.Store(0)
	}
	for _, r := range roots {
		if r == nil {
			continue
		}
		if !r.Page.Mark.TrySet(r.Slot) {
			continue
		}
		e.inFlight.Add(1)
		target := e.workerForThread(r.Page.OwnerThread)
		if !target.Deque.Push(r) {
			target.pushRemote(r)
		}
	}

	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go e.runWorker(w, kind, &wg)
	}
	wg.Wait()

	var total int64
	for _, w := range e.workers {
		total += w.Marked.Load()
	}
	return RootStats{ObjectsMarked: total}
}

func (e *Engine) runWorker(w *Worker, kind gcpage.VisitorKind, wg *sync.WaitGroup) {
	defer wg.Done()
	v := &visitor{kind: kind, engine: e, self: w}

	// Owned pages are not scanned wholesale here: every reachable slot
	// arrives through the deque/inbox, either as a root MarkSTW already
	// routed to this worker or as an edge another worker discovered.
	// OwnedPages exists for the routing locality in enqueue, not as a
	// work source.
	for {
		item, ok := e.popAny(w)
		if !ok {
			if e.inFlight.Load() == 0 {
				return
			}
			runtime.Gosched()
			continue
		}
		item.Trace(v)
		w.Marked.Add(1)
		e.inFlight.Add(-1)
	}
}

// RunIncrementalSlice drains up to budget items from the global
// in-flight work using every worker concurrently, honoring
// incremental marking's per-slice budget (spec.md §4.6 "each slice
// marks up to increment_size objects... across the worker pool"). It
// returns how many objects it actually marked.
func (e *Engine) RunIncrementalSlice(budget int) int {
	if budget <= 0 {
		return 0
	}
	var marked atomic.Int64
	remaining := atomic.Int64{}
	remaining.Store(int64(budget))

	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			v := &visitor{kind: gcpage.KindMajor, engine: e, self: w}
			for remaining.Add(-1) >= 0 {
				item, ok := e.popAny(w)
				if !ok {
					remaining.Add(1) // give the slot back; nothing to do right now
					return
				}
				item.Trace(v)
				w.Marked.Add(1)
				e.inFlight.Add(-1)
				marked.Add(1)
			}
		}(w)
	}
	wg.Wait()
	return int(marked.Load())
}

// WorklistEmpty reports whether every deque and inbox is drained and
// no items are in flight (spec.md §4.6 termination contract part (a)).
func (e *Engine) WorklistEmpty() bool {
	return e.inFlight.Load() == 0
}

// WorklistSize is an approximate count of outstanding work, used by
// the incremental state machine's "grows beyond 10x initial size"
// fallback trigger (spec.md §4.6).
func (e *Engine) WorklistSize() int64 {
	return e.inFlight.Load()
}

// ResetMarkBitmaps clears the mark bitmap of every page in pages, run
// at Snapshot time (spec.md §4.6 "clear mark bits").
func (e *Engine) ResetMarkBitmaps(pages []*gcpage.PageHeader) {
	for _, p := range pages {
		p.Mark.ClearAll()
	}
}
