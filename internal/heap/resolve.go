package heap

import (
	"fmt"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// Resolve implements spec.md §4.1's interior-pointer resolution against
// this heap: addr is masked down to a page boundary, validated against
// the heap's own page index (the O(1) "small_pages" check), then
// against the large-object map, and finally divided down to a slot.
// Interior pointers — addresses landing mid-slot — resolve to the
// containing object. A word that doesn't point into any managed slot
// returns false; that is an expected condition, not an error (spec.md
// §7).
func (h *LocalHeap) Resolve(addr uintptr) (*gcpage.ObjectHeader, bool) {
	base := gcpage.PageBase(addr)
	if base == 0 {
		return nil, false
	}
	p, ok := h.PageByID(uint64(base / gcpage.PageSize))
	if !ok {
		p, ok = h.ResolveLarge(addr)
		if !ok {
			return nil, false
		}
	}
	if p.Magic != gcpage.Magic {
		// A page the heap itself handed out must carry the magic; a
		// mismatch means the header was corrupted (spec.md §7 "invariant
		// violation ... fatal").
		panic(fmt.Sprintf("heap: page %d has invalid magic %#x", p.ID, p.Magic))
	}
	idx, ok := p.SlotIndexForAddr(addr)
	if !ok {
		return nil, false
	}
	if !p.Allocated.Test(idx) {
		return nil, false
	}
	hdr := p.Slots[idx]
	if hdr == nil {
		return nil, false
	}
	return hdr, true
}

// ConservativeScan resolves every word in words against this heap and
// returns the distinct objects they pin, the §4.10 "stack scanning"
// primitive: any word that happens to look like a managed address
// roots its target. False positives cost retention only, never
// safety, because the collector is non-moving (spec.md §9). Go gives a
// library no portable view of a goroutine's native stack, so callers
// hand in the candidate words themselves — typically a shadow stack of
// slot addresses an adapter maintains; see DESIGN.md.
func (h *LocalHeap) ConservativeScan(words []uintptr) []*gcpage.ObjectHeader {
	var out []*gcpage.ObjectHeader
	seen := make(map[*gcpage.ObjectHeader]bool, len(words))
	for _, w := range words {
		hdr, ok := h.Resolve(w)
		if !ok || seen[hdr] {
			continue
		}
		seen[hdr] = true
		out = append(out, hdr)
	}
	return out
}
