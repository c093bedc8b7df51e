package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	t.Run("first value is start+1", func(t *testing.T) {
		assert.Equal(t, uint32(1), NewSequence(0).Next())
		assert.Equal(t, uint32(101), NewSequence(100).Next())
	})

	t.Run("values are monotonic", func(t *testing.T) {
		seq := NewSequence(0)
		for want := uint32(1); want <= 10; want++ {
			assert.Equal(t, want, seq.Next())
		}
	})

	t.Run("concurrent calls produce unique values", func(t *testing.T) {
		seq := NewSequence(0)
		const n = 500
		ids := make([]uint32, n)
		var wg sync.WaitGroup
		wg.Add(n)
		for i := range n {
			go func(idx int) {
				defer wg.Done()
				ids[idx] = seq.Next()
			}(i)
		}
		wg.Wait()

		seen := make(map[uint32]bool, n)
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
	})
}

func TestNewUint16Allocator(t *testing.T) {
	assert.Equal(t, DefaultMaxAttempts, NewUint16Allocator(0).MaxAttempts())
	assert.Equal(t, DefaultMaxAttempts, NewUint16Allocator(-3).MaxAttempts())
	assert.Equal(t, 5, NewUint16Allocator(5).MaxAttempts())
}

func TestUint16Allocator_Allocate(t *testing.T) {
	t.Run("returns the first free id", func(t *testing.T) {
		alloc := NewUint16Allocator(10)
		taken := map[uint16]bool{}
		id, err := alloc.Allocate(func(id uint16) bool {
			if taken[id] {
				return false
			}
			taken[id] = true
			return true
		})
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.True(t, taken[id])
	})

	t.Run("retries on collision", func(t *testing.T) {
		alloc := NewUint16Allocator(10)
		draws := []uint16{5, 5, 9}
		alloc.draw = func() uint16 {
			id := draws[0]
			draws = draws[1:]
			return id
		}

		attempts := 0
		id, err := alloc.Allocate(func(id uint16) bool {
			attempts++
			return id != 5
		})
		require.NoError(t, err)
		assert.Equal(t, uint16(9), id)
		assert.Equal(t, 3, attempts)
	})

	t.Run("zero is never handed out", func(t *testing.T) {
		alloc := NewUint16Allocator(3)
		alloc.draw = func() uint16 { return 0 }

		called := false
		_, err := alloc.Allocate(func(uint16) bool {
			called = true
			return true
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.False(t, called)
	})

	t.Run("bounded when every id collides", func(t *testing.T) {
		alloc := NewUint16Allocator(7)
		attempts := 0
		_, err := alloc.Allocate(func(uint16) bool {
			attempts++
			return false
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.LessOrEqual(t, attempts, 7)
	})
}

func TestUint16Allocator_concurrentUnique(t *testing.T) {
	alloc := NewUint16Allocator(0)
	var mu sync.Mutex
	taken := make(map[uint16]bool)
	claim := func(id uint16) bool {
		mu.Lock()
		defer mu.Unlock()
		if taken[id] {
			return false
		}
		taken[id] = true
		return true
	}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			_, err := alloc.Allocate(claim)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, taken, n)
}
