package gc

import (
	"github.com/tidalgc/tracegc/internal/handle"
	"github.com/tidalgc/tracegc/internal/heap"
)

// Handle is the per-goroutine token from spec.md §3's LocalHeap model,
// acquired once per unit of work and released when done (see
// internal/heap's package doc for why Go needs this where the
// original assumes a stable OS thread identity).
type Handle struct {
	h       *heap.Handle
	scope   *handle.HandleScope
	async   *handle.AsyncHandleScope
	collector *Collector
}

// AcquireHandle registers a fresh LocalHeap/TCB with the collector and
// returns a Handle the caller must Release when finished.
func (c *Collector) AcquireHandle() *Handle {
	h := c.reg.Acquire()
	scope := handle.NewHandleScope()
	async := handle.NewAsyncHandleScope()
	h.TCB().Handles = scope
	h.TCB().AsyncScopes = async
	return &Handle{h: h, scope: scope, async: async, collector: c}
}

// Release ends this goroutine's participation in the collector: its
// pages become orphaned and available for eager sweep at the next
// major collection (spec.md §9 Open Question 2; resolved in
// SPEC_FULL.md §4).
func (hd *Handle) Release() { hd.h.Release() }

// Scope returns the goroutine's sync handle-scope chain, for taking
// precise GC roots across a block of code (spec.md §4.10).
func (hd *Handle) Scope() *handle.HandleScope { return hd.scope }

// AsyncScope returns the goroutine's async handle-scope registry, for
// roots that must survive a yield point (spec.md §4.10).
func (hd *Handle) AsyncScope() *handle.AsyncHandleScope { return hd.async }

// NewEscapableScope opens a nested scope on this handle's sync chain
// that pre-reserves one parent slot, letting exactly one handle
// allocated inside it escape to the parent scope before Close discards
// the rest (spec.md §4.10 "EscapableScope").
func (hd *Handle) NewEscapableScope() *handle.EscapableScope {
	return handle.NewEscapableScope(hd.scope)
}

// ThreadID is this handle's stable numeric identity within the
// collector.
func (hd *Handle) ThreadID() uint64 { return hd.h.ThreadID() }
