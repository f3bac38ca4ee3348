// Package mark implements the parallel mark engine and the
// incremental-marking state machine from spec.md §4.5–§4.6.
//
// The teacher's garbage collector does not use a work-stealing deque
// between markers (see DESIGN.md); its scheduler does, though, for
// goroutines. Deque below reproduces the shape of proc.go's
// runqput/runqget/runqsteal — LIFO push/pop on the owner, FIFO steal
// from anyone else, top/bottom indices with acquire/release/CAS
// ordering — generalized from a fixed-size goroutine ring buffer to a
// fixed-size Chase-Lev deque of object headers.
package mark

import (
	"sync/atomic"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// DefaultQueueCapacity is spec.md §6's parallel-marking
// queue_capacity default. Must be a power of two (the deque masks
// indices instead of taking a modulus).
const DefaultQueueCapacity = 1024

// Deque is a fixed-capacity Chase-Lev work-stealing deque (spec.md
// §4.5, GLOSSARY "Chase–Lev deque"). Push and Pop are single-producer
// operations only the owning worker may call; Steal may be called by
// any other worker concurrently.
type Deque struct {
	buf    []*gcpage.ObjectHeader
	mask   uint64
	top    atomic.Uint64 // steal index: Acquire on read, AcqRel on the steal CAS
	bottom atomic.Uint64 // owner index: Release on write (publishes a push)
}

// NewDeque allocates a deque of the given power-of-two capacity.
func NewDeque(capacity int) *Deque {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Deque{buf: make([]*gcpage.ObjectHeader, n), mask: uint64(n - 1)}
}

// Push appends item to the bottom (owner-only, LIFO side). It reports
// false if the deque is at capacity — spec.md §7 treats "queue full" as
// an expected condition, not an error: the caller routes the item to
// the global worklist instead.
func (d *Deque) Push(item *gcpage.ObjectHeader) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t >= uint64(len(d.buf)) {
		return false
	}
	d.buf[b&d.mask] = item
	d.bottom.Store(b + 1)
	return true
}

// Pop removes and returns the most recently pushed item (owner-only,
// LIFO). It reports false if the deque was empty, racing a stealer
// lost the last element, or underflow.
// 注释：LIFO弹出，只有所有者协程调用；最后一个元素与steal存在竞争，需要CAS仲裁
func (d *Deque) Pop() (*gcpage.ObjectHeader, bool) {
	b := d.bottom.Load()
	if b == 0 {
		return nil, false
	}
	b--
	d.bottom.Store(b)
	t := d.top.Load()
	if t > b {
		// Empty: restore bottom and bail.
		d.bottom.Store(b + 1)
		return nil, false
	}
	item := d.buf[b&d.mask]
	if t == b {
		// Last element: race a concurrent Steal for it.
		if !d.top.CompareAndSwap(t, t+1) {
			item = nil
		}
		d.bottom.Store(b + 1)
		if item == nil {
			return nil, false
		}
	}
	return item, true
}

// Steal removes and returns the least recently pushed item (FIFO side,
// any non-owner worker). It reports false if the deque looked empty or
// a racing Pop/Steal won the element first.
// 注释：FIFO窃取，可被任意其它worker调用；CAS失败说明被抢先，不是错误
func (d *Deque) Steal() (*gcpage.ObjectHeader, bool) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return nil, false
	}
	item := d.buf[t&d.mask]
	if !d.top.CompareAndSwap(t, t+1) {
		return nil, false
	}
	return item, true
}

// Len is an approximate size, for metrics/tests only — it is racy by
// construction against concurrent push/pop/steal.
func (d *Deque) Len() int {
	b := d.bottom.Load()
	t := d.top.Load()
	if b < t {
		return 0
	}
	return int(b - t)
}
