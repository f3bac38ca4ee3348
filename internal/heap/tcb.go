// Package heap implements the per-thread heap described in spec.md §3
// ("LocalHeap") and §4.2 ("Allocator"): one TLAB per size class, a
// large-object map, generation byte counters, and the dirty-page list
// the generational write barrier publishes into.
//
// Go goroutines are M:N scheduled onto OS threads and have no stable,
// user-visible identity the way spec.md's "per-thread heap" assumes.
// This package adapts the model with an explicit Handle acquired once
// per worker goroutine (mirroring how a connection pool or an arena
// allocator hands out a token for the duration of a unit of work)
// rather than guessing at goroutine identity through the runtime's own
// internals. See DESIGN.md, "internal/heap" entry.
package heap

import (
	"sync"
	"sync/atomic"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// HandleRoots is implemented by internal/handle's sync handle-scope
// chain. It lets the marker enumerate precise roots without this
// package depending on internal/handle.
type HandleRoots interface {
	VisitRoots(visit func(*gcpage.ObjectHeader))
}

// AsyncRootSource is implemented by internal/handle's async-scope
// registry, for the same reason.
type AsyncRootSource interface {
	VisitRoots(visit func(*gcpage.ObjectHeader))
}

// TCB is the per-thread registry entry from spec.md §3
// "ThreadControlBlock": thread id, owning heap, and the root sources a
// marker walks during root enumeration (spec.md §4.10).
type TCB struct {
	ThreadID    uint64
	Heap        *LocalHeap
	Handles     HandleRoots
	AsyncScopes AsyncRootSource
}

// Registry tracks every participating goroutine's TCB plus the pages
// left behind by departed ones. One Registry belongs to one collector
// instance; keeping it instance-scoped (rather than package-global)
// means two collectors in one process — or two tests in one binary —
// never see each other's heaps or orphans.
type Registry struct {
	mu         sync.Mutex
	tcbs       map[uint64]*TCB
	nextThread atomic.Uint64

	orphanMu sync.Mutex
	orphans  []*gcpage.PageHeader
}

// NewRegistry builds an empty thread registry.
func NewRegistry() *Registry {
	return &Registry{tcbs: make(map[uint64]*TCB)}
}

// Handle is the token a goroutine holds for the duration of a unit of
// work; it owns exactly one LocalHeap and TCB.
type Handle struct {
	tcb *TCB
	reg *Registry
}

// Acquire creates a fresh LocalHeap and TCB and registers it, returning
// a Handle the caller must Release when the goroutine is done
// allocating (spec.md §3 LocalHeap lifecycle: "created lazily on first
// allocation, destroyed on thread exit").
func (r *Registry) Acquire() *Handle {
	id := r.nextThread.Add(1)
	lh := newLocalHeap(id)
	tcb := &TCB{ThreadID: id, Heap: lh}
	r.mu.Lock()
	r.tcbs[id] = tcb
	r.mu.Unlock()
	return &Handle{tcb: tcb, reg: r}
}

// TCB returns the handle's thread-control block.
func (h *Handle) TCB() *TCB { return h.tcb }

// Heap returns the handle's owned heap.
func (h *Handle) Heap() *LocalHeap { return h.tcb.Heap }

// ThreadID returns the handle's stable thread identity.
func (h *Handle) ThreadID() uint64 { return h.tcb.ThreadID }

// Release ends the handle's participation: its pages are handed to the
// registry's orphan list (spec.md §9 Open Question 2; resolved in
// SPEC_FULL.md §4) and the TCB is unregistered so the handshake no
// longer waits on it.
func (h *Handle) Release() {
	h.reg.mu.Lock()
	delete(h.reg.tcbs, h.tcb.ThreadID)
	h.reg.mu.Unlock()
	h.reg.orphanPages(h.tcb.Heap)
}

// AllTCBs returns a snapshot of every registered thread, for root
// enumeration and the handshake's participant count.
func (r *Registry) AllTCBs() []*TCB {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TCB, 0, len(r.tcbs))
	for _, t := range r.tcbs {
		out = append(out, t)
	}
	return out
}

// ParticipantCount is the number of threads the handshake must bring to
// a safepoint (spec.md §4.9 dispatch rule).
func (r *Registry) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tcbs)
}

// Lookup finds a registered TCB by thread id, used by the write
// barrier to reach the heap owning a mutated page.
func (r *Registry) Lookup(id uint64) (*TCB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tcbs[id]
	return t, ok
}
