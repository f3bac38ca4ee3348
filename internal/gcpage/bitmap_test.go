package gcpage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapSetTestClear(t *testing.T) {
	var b Bitmap
	require.False(t, b.Test(5))
	b.Set(5)
	assert.True(t, b.Test(5))
	b.Clear(5)
	assert.False(t, b.Test(5))
}

func TestBitmapTrySetOnlyOneWinner(t *testing.T) {
	var b Bitmap
	const workers = 32
	var wg sync.WaitGroup
	wins := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = b.TrySet(7)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.True(t, b.Test(7))
}

func TestBitmapCountSetAndAllZero(t *testing.T) {
	var b Bitmap
	assert.True(t, b.AllZero())
	b.Set(0)
	b.Set(63)
	b.Set(64)
	assert.False(t, b.AllZero())
	assert.Equal(t, 3, b.CountSet())
}

func TestBitmapWordRoundTrip(t *testing.T) {
	var b Bitmap
	b.SetWord(2, 0xFF)
	assert.Equal(t, uint64(0xFF), b.Word(2))
	assert.True(t, b.Test(2*64))
	assert.True(t, b.Test(2*64+7))
	assert.False(t, b.Test(2*64+8))
}
