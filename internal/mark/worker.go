package mark

import (
	"sync"
	"sync/atomic"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

// Worker is one marker's state: a Chase-Lev deque for its own
// LIFO/steal traffic, the pages it owns for this cycle, and a mark
// counter (spec.md §4.5 "Worker state").
type Worker struct {
	Index    int
	ThreadID uint64 // NewEngine leaves this 0; page routing goes through Engine.assign
	Deque    *Deque
	OwnedPages []*gcpage.PageHeader
	Marked   atomic.Int64

	// remote is the inbox other workers use to hand this worker edges
	// that resolved to one of its owned pages (spec.md §4.5 step 5:
	// "Cross-worker pushes use the steal-end semantics"). A plain
	// mutex-protected inbox is used instead of a second lock-free ring
	// because only the deque's push/pop/steal triangle needs to be
	// lock-free for the algorithm's correctness.
	remoteMu sync.Mutex
	remote   []*gcpage.ObjectHeader
}

func newWorker(index int, threadID uint64, queueCap int) *Worker {
	return &Worker{Index: index, ThreadID: threadID, Deque: NewDeque(queueCap)}
}

// pushRemote hands ref to this worker from another worker's visitor.
func (w *Worker) pushRemote(ref *gcpage.ObjectHeader) {
	w.remoteMu.Lock()
	w.remote = append(w.remote, ref)
	w.remoteMu.Unlock()
}

// drainRemoteOne pops a single item out of the inbox, if any.
func (w *Worker) drainRemoteOne() (*gcpage.ObjectHeader, bool) {
	w.remoteMu.Lock()
	defer w.remoteMu.Unlock()
	n := len(w.remote)
	if n == 0 {
		return nil, false
	}
	item := w.remote[n-1]
	w.remote = w.remote[:n-1]
	return item, true
}
