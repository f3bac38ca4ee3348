package main

import (
	"fmt"

	"github.com/tidalgc/tracegc/gc"
	"github.com/tidalgc/tracegc/internal/gcpage"
)

// Node is a minimal linked-list-with-a-back-edge shape, enough to
// exercise both ordinary reachability and the cyclic-reachability
// scenario a tracing collector must survive. next is a gc.Cell rather
// than a bare gc.Ptr field because mutating it after allocation must
// run the write barrier (spec.md §4.4) — that's the only path by which
// an old-generation node can come to point at a young one.
type Node struct {
	Name string
	next gc.Cell[Node]
}

// TraceRefs implements gctrace.Traceable: it reports the outgoing Next
// edge, if any, to the visitor.
func (n *Node) TraceRefs(v gcpage.Visitor) {
	if ref := n.next.Get().Header(); ref != nil {
		v.Visit(ref)
	}
}

// bindAndAllocate allocates node and binds its Cell fields to the
// resulting object header, the one-time wiring step every guarded-cell
// field needs right after allocation (see gc.Cell's doc comment).
func bindAndAllocate(c *gc.Collector, h *gc.Handle, node *Node) gc.Ptr[Node] {
	p, err := gc.Allocate(c, h, node)
	if err != nil {
		panic(err)
	}
	node.next.Bind(p.Header())
	return p
}

// setNext links target into owner's Cell through the guarded-cell API
// so the generational/incremental write barriers run on the mutation.
func setNext(c *gc.Collector, h *gc.Handle, owner *Node, target gc.Ptr[Node]) {
	gc.SetCell(c, h, &owner.next, target)
}

// buildChain allocates n linked nodes under handle h, returning the
// head.
func buildChain(c *gc.Collector, h *gc.Handle, n int) gc.Ptr[Node] {
	var prev *Node
	var head gc.Ptr[Node]
	for i := 0; i < n; i++ {
		node := &Node{Name: fmt.Sprintf("node-%d", i)}
		p := bindAndAllocate(c, h, node)
		if i == 0 {
			head = p
		} else {
			setNext(c, h, prev, p)
		}
		prev = node
	}
	return head
}

// buildCycle allocates two nodes, a and b, and links a -> b -> a, the
// shape spec.md §8 Scenario A describes.
func buildCycle(c *gc.Collector, h *gc.Handle) (gc.Ptr[Node], gc.Ptr[Node]) {
	nodeA := &Node{Name: "a"}
	nodeB := &Node{Name: "b"}
	a := bindAndAllocate(c, h, nodeA)
	b := bindAndAllocate(c, h, nodeB)
	setNext(c, h, nodeA, b)
	setNext(c, h, nodeB, a)
	return a, b
}
