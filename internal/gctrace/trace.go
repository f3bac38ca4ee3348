// Package gctrace defines the trace-and-visitor protocol every
// GC-managed value must satisfy (spec.md §4.3). The erased "vtable"
// pattern this mirrors is the same one the teacher uses for runtime
// type descriptors (typekind.go/type.go): a function captured once at
// allocation time, dispatched through an interface rather than a raw
// function pointer because Go has no first-class function-pointer
// field that survives gob/reflection the way the spec's description
// assumes.
package gctrace

import "github.com/tidalgc/tracegc/internal/gcpage"

// Traceable is implemented by every type stored behind a managed
// pointer. TraceRefs must call v.Visit for every outgoing managed
// reference; a leaf type with no such references can embed NoRefs.
type Traceable interface {
	TraceRefs(v gcpage.Visitor)
}

// NoRefs is embedded by leaf types (no outgoing managed references) so
// they satisfy Traceable without writing an empty method by hand.
type NoRefs struct{}

func (NoRefs) TraceRefs(gcpage.Visitor) {}

// MakeTraceFunc captures the erased trace dispatch for value at
// allocation time (spec.md §3: "the trace function pointer is set at
// allocation and never changes"). A value that isn't Traceable is
// treated as a leaf with no outgoing references — this lets plain
// scalar payloads be boxed without requiring boilerplate.
func MakeTraceFunc(value any) gcpage.TraceFunc {
	t, ok := value.(Traceable)
	if !ok {
		return func(gcpage.Visitor) {}
	}
	return func(v gcpage.Visitor) { t.TraceRefs(v) }
}
