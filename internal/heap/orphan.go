package heap

import (
	"github.com/tidalgc/tracegc/internal/gcpage"
)

// orphanPages marks every page a departing heap owned as FlagOrphan and
// files it in the registry's orphan list (spec.md §9 Open Question 2;
// SPEC_FULL.md §4 resolves the registry design).
func (r *Registry) orphanPages(h *LocalHeap) {
	pages := h.AllPages()
	if len(pages) == 0 {
		return
	}
	for _, p := range pages {
		p.SetFlag(gcpage.FlagOrphan)
	}
	r.orphanMu.Lock()
	r.orphans = append(r.orphans, pages...)
	r.orphanMu.Unlock()
}

// OrphanPages returns a snapshot of the orphan list without draining
// it. Orphan pages stay registered across collections so their mark
// bits are reset and their still-reachable objects marked like any
// other page's; only pages emptied by the sweep leave the list
// (spec.md §4.7: "Eager sweep applies to ... orphan pages").
func (r *Registry) OrphanPages() []*gcpage.PageHeader {
	r.orphanMu.Lock()
	defer r.orphanMu.Unlock()
	out := make([]*gcpage.PageHeader, len(r.orphans))
	copy(out, r.orphans)
	return out
}

// RemoveOrphans drops the given pages from the orphan list, called by
// the sweeper once an orphan page holds no allocated slots at all.
func (r *Registry) RemoveOrphans(dead []*gcpage.PageHeader) {
	if len(dead) == 0 {
		return
	}
	drop := make(map[uint64]bool, len(dead))
	for _, p := range dead {
		drop[p.ID] = true
	}
	r.orphanMu.Lock()
	kept := r.orphans[:0]
	for _, p := range r.orphans {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	r.orphans = kept
	r.orphanMu.Unlock()
}

// OrphanPageCount reports the orphan list's current size, for metrics
// and tests.
func (r *Registry) OrphanPageCount() int {
	r.orphanMu.Lock()
	defer r.orphanMu.Unlock()
	return len(r.orphans)
}
