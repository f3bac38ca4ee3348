package mark

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalgc/tracegc/internal/gcpage"
)

func newTestHeader(slot int) *gcpage.ObjectHeader {
	p := gcpage.NewPageHeader(1, 16, false)
	return gcpage.NewObjectHeader(p, slot, slot, nil)
}

func TestDequePushPopLIFO(t *testing.T) {
	d := NewDeque(8)
	a, b, c := newTestHeader(0), newTestHeader(1), newTestHeader(2)
	require.True(t, d.Push(a))
	require.True(t, d.Push(b))
	require.True(t, d.Push(c))

	got, ok := d.Pop()
	require.True(t, ok)
	assert.Same(t, c, got)

	got, ok = d.Pop()
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestDequeStealFIFO(t *testing.T) {
	d := NewDeque(8)
	a, b := newTestHeader(0), newTestHeader(1)
	require.True(t, d.Push(a))
	require.True(t, d.Push(b))

	got, ok := d.Steal()
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestDequeEmptyPopAndSteal(t *testing.T) {
	d := NewDeque(4)
	_, ok := d.Pop()
	assert.False(t, ok)
	_, ok = d.Steal()
	assert.False(t, ok)
}

func TestDequePushRespectsCapacity(t *testing.T) {
	d := NewDeque(2) // rounds up to 2, a power of two
	require.True(t, d.Push(newTestHeader(0)))
	require.True(t, d.Push(newTestHeader(1)))
	assert.False(t, d.Push(newTestHeader(2)))
}

// TestDequeConcurrentStealNeverDuplicates pushes N items on the owner
// side and races several stealers against owner Pop calls; every item
// must be observed exactly once across both paths.
func TestDequeConcurrentStealNeverDuplicates(t *testing.T) {
	const n = 2000
	d := NewDeque(4096)
	headers := make([]*gcpage.ObjectHeader, n)
	for i := range headers {
		headers[i] = newTestHeader(i)
		require.True(t, d.Push(headers[i]))
	}

	seen := make([]int32, n)
	var seenMu sync.Mutex
	mark := func(h *gcpage.ObjectHeader) {
		idx := h.Value.(int)
		seenMu.Lock()
		seen[idx]++
		seenMu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := d.Steal()
				if !ok {
					return
				}
				mark(item)
			}
		}()
	}
	for {
		item, ok := d.Pop()
		if !ok {
			break
		}
		mark(item)
	}
	wg.Wait()

	for i, c := range seen {
		assert.Equal(t, int32(1), c, "slot %d seen %d times", i, c)
	}
}
