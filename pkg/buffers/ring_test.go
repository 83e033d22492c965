package buffers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_AddWithinCapacity(t *testing.T) {
	r := NewRing[int](3)
	r.Add(1)
	r.Add(2)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []int{1, 2}, r.Entries())
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Add(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(5), r.Total())
	assert.Equal(t, []int{3, 4, 5}, r.Entries())
}

func TestRing_Last(t *testing.T) {
	r := NewRing[int](10)
	for i := 1; i <= 6; i++ {
		r.Add(i)
	}

	even := func(v int) bool { return v%2 == 0 }
	assert.Equal(t, []int{4, 6}, r.Last(2, even))
	assert.Equal(t, []int{2, 4, 6}, r.Last(0, even))
	assert.Equal(t, []int{5, 6}, r.Last(2, nil))
}

func TestRing_Clear(t *testing.T) {
	r := NewRing[string](2)
	r.Add("a")
	r.Add("b")
	r.Add("c")
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Entries())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Add(1)
	r.Add(2)
	assert.Equal(t, []int{2}, r.Entries())
}

func TestRing_ConcurrentAdd(t *testing.T) {
	r := NewRing[int](50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Add(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), r.Total())
	assert.Equal(t, 50, r.Len())
}
