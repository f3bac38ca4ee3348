package mark

import "github.com/tidalgc/tracegc/internal/gcpage"

// visitor implements gcpage.Visitor (spec.md §4.3). Both the minor and
// major kinds share the same try-mark-and-route logic; only the
// old-generation skip differs.
type visitor struct {
	kind   gcpage.VisitorKind
	engine *Engine
	self   *Worker
}

func (v *visitor) Kind() gcpage.VisitorKind { return v.kind }

// Visit resolves ref, attempts to claim it via the mark bitmap's
// CAS-based try_mark, and if newly claimed, routes it to its owning
// page's worker (spec.md §4.3 steps a–c, §4.5 step 5).
// 注释：先尝试CAS标记，只有真正标记成功的那一个调用者才会把对象路由出去
func (v *visitor) Visit(ref *gcpage.ObjectHeader) {
	if ref == nil {
		return
	}
	if v.kind == gcpage.KindMinor && ref.Page.IsOld() {
		return // minor visitor never follows edges into the old generation
	}
	if !ref.Page.Mark.TrySet(ref.Slot) {
		return
	}
	v.engine.enqueue(ref, v.self)
}

// TryMarkAndEnqueue implements barrier.MarkEnqueuer: the Dijkstra
// insertion barrier and SATB flush both route through the same
// claim-then-route path a visitor uses, via the engine's always-major
// incremental worklist (spec.md §4.4, §4.6: new allocations and
// barrier-discovered objects are brought into the wavefront with a
// major-style visit, since incremental marking does not distinguish
// generations the way a dedicated minor collection does).
func (e *Engine) TryMarkAndEnqueue(ref *gcpage.ObjectHeader) {
	if ref == nil {
		return
	}
	if !ref.Page.Mark.TrySet(ref.Slot) {
		return
	}
	e.enqueueIncremental(ref)
}
