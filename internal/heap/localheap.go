package heap

import (
	"sync"
	"sync/atomic"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// LocalHeap is the per-thread heap from spec.md §3. Pages, TLABs and
// the large-object map are owner-thread-only (no lock, per spec.md §5);
// DirtyPages is multi-writer and mutex-protected because any thread
// holding a shared reference can dirty one of this heap's old pages.
type LocalHeap struct {
	ThreadID uint64

	tlabs [gcpage.NumSizeClasses]*gcpage.PageHeader

	pagesMu sync.Mutex // guards Pages/pageIndex only against concurrent GC-worker reads during a paused handshake
	Pages   []*gcpage.PageHeader
	pageIndex map[uint64]*gcpage.PageHeader // O(1) "small_pages" validity check, keyed by PageHeader.ID

	largeMu     sync.Mutex
	LargeObjects map[uintptr]*gcpage.PageHeader // keyed by page Base

	YoungAllocated atomic.Int64
	OldAllocated   atomic.Int64

	dirtyMu        sync.Mutex
	DirtyPages     []*gcpage.PageHeader
	DirtySnapshot  []*gcpage.PageHeader
	dirtyAvg       float64 // rolling average, pre-sizes the next snapshot's capacity
}

func newLocalHeap(threadID uint64) *LocalHeap {
	return &LocalHeap{
		ThreadID:     threadID,
		pageIndex:    make(map[uint64]*gcpage.PageHeader),
		LargeObjects: make(map[uintptr]*gcpage.PageHeader),
	}
}

// TLAB returns the page currently being bump-allocated from for the
// given size class, or nil if none is active yet.
func (h *LocalHeap) TLAB(classIdx int) *gcpage.PageHeader {
	return h.tlabs[classIdx]
}

// SetTLAB installs p as the active page for classIdx.
func (h *LocalHeap) SetTLAB(classIdx int, p *gcpage.PageHeader) {
	h.tlabs[classIdx] = p
}

// AdoptPage links a freshly acquired page into this heap's bookkeeping
// (spec.md §4.2 slow path step 3: "acquire a fresh page from the OS").
func (h *LocalHeap) AdoptPage(p *gcpage.PageHeader) {
	h.pagesMu.Lock()
	h.Pages = append(h.Pages, p)
	h.pageIndex[p.ID] = p
	h.pagesMu.Unlock()
	if p.IsLarge() {
		h.largeMu.Lock()
		h.LargeObjects[p.Base] = p
		h.largeMu.Unlock()
	}
}

// PageByID answers the O(1) "small_pages" validity check from spec.md
// §4.1.
func (h *LocalHeap) PageByID(id uint64) (*gcpage.PageHeader, bool) {
	h.pagesMu.Lock()
	defer h.pagesMu.Unlock()
	p, ok := h.pageIndex[id]
	return p, ok
}

// AllPages returns a snapshot of every page this heap owns, for the
// marker's page-ownership assignment (spec.md §4.5 step 1).
func (h *LocalHeap) AllPages() []*gcpage.PageHeader {
	h.pagesMu.Lock()
	defer h.pagesMu.Unlock()
	out := make([]*gcpage.PageHeader, len(h.Pages))
	copy(out, h.Pages)
	return out
}

// ResolveLarge looks up addr in the large-object map by masking to a
// page-aligned base first (spec.md §4.1: "if not present [in
// small_pages], consult large_object_map").
func (h *LocalHeap) ResolveLarge(addr uintptr) (*gcpage.PageHeader, bool) {
	base := gcpage.PageBase(addr)
	h.largeMu.Lock()
	defer h.largeMu.Unlock()
	p, ok := h.LargeObjects[base]
	return p, ok
}

// MarkDirty adds p to the dirty-page list if it isn't already listed,
// double-checking the DIRTY_LISTED flag under the lock the way spec.md
// §4.4 prescribes ("acquire the owning heap's dirty_pages mutex,
// double-check the flag, push ... set the flag with release
// ordering").
func (h *LocalHeap) MarkDirty(p *gcpage.PageHeader) {
	if p.HasFlag(gcpage.FlagDirtyListed) {
		return
	}
	h.dirtyMu.Lock()
	if !p.HasFlag(gcpage.FlagDirtyListed) {
		h.DirtyPages = append(h.DirtyPages, p)
		p.SetFlag(gcpage.FlagDirtyListed)
	}
	h.dirtyMu.Unlock()
}

// DrainDirtySnapshot drains DirtyPages into DirtySnapshot at the start
// of a minor collection (spec.md §4.8 input). Pages added by a racing
// mutator after the drain are left for DirtyPages and picked up by the
// next minor collection (spec.md §4.8 step 6).
func (h *LocalHeap) DrainDirtySnapshot() []*gcpage.PageHeader {
	h.dirtyMu.Lock()
	defer h.dirtyMu.Unlock()
	h.DirtySnapshot = h.DirtyPages
	if n := float64(len(h.DirtySnapshot)); n > 0 {
		h.dirtyAvg = h.dirtyAvg*0.75 + n*0.25
	}
	cap := int(h.dirtyAvg) + 4
	h.DirtyPages = make([]*gcpage.PageHeader, 0, cap)
	return h.DirtySnapshot
}

// DirtyPageCount reports the live dirty-page list length, used by the
// incremental-marking fallback trigger (spec.md §4.6).
func (h *LocalHeap) DirtyPageCount() int {
	h.dirtyMu.Lock()
	defer h.dirtyMu.Unlock()
	return len(h.DirtyPages)
}
