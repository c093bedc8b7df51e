package safemap

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[string, int]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load("x")
	assert.False(t, ok)
}

func TestSafeMap_Store_Load(t *testing.T) {
	m := NewSafeMap[string, int]()

	t.Run("store and load returns value", func(t *testing.T) {
		m.Store("a", 1)
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("overwrite returns new value", func(t *testing.T) {
		m.Store("a", 2)
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 2, v)
	})

	t.Run("missing key returns zero value", func(t *testing.T) {
		v, ok := m.Load("nonexistent")
		assert.False(t, ok)
		assert.Equal(t, 0, v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[uint16, string]()

	t.Run("absent key is stored", func(t *testing.T) {
		v, loaded := m.LoadOrStore(7, "first")
		assert.False(t, loaded)
		assert.Equal(t, "first", v)
	})

	t.Run("present key keeps original value", func(t *testing.T) {
		v, loaded := m.LoadOrStore(7, "second")
		assert.True(t, loaded)
		assert.Equal(t, "first", v)
	})
}

func TestSafeMap_LoadOrStore_concurrentClaim(t *testing.T) {
	m := NewSafeMap[int, int]()
	const claimers = 64

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(claimers)
	for i := range claimers {
		go func(id int) {
			defer wg.Done()
			if _, loaded := m.LoadOrStore(1, id); !loaded {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, m.Len())
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)

	v, ok := m.LoadAndDelete("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, m.Has("a"))

	v, ok = m.LoadAndDelete("a")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestSafeMap_CompareAndDelete(t *testing.T) {
	m := NewSafeMap[uint16, string]()
	m.Store(3, "tok-a")

	assert.False(t, m.CompareAndDelete(3, "tok-b"))
	assert.True(t, m.Has(3))
	assert.True(t, m.CompareAndDelete(3, "tok-a"))
	assert.False(t, m.Has(3))
}

func TestSafeMap_Delete_Has(t *testing.T) {
	m := NewSafeMap[int, struct{}]()
	m.Store(1, struct{}{})

	assert.True(t, m.Has(1))
	assert.False(t, m.Has(2))
	m.Delete(1)
	assert.False(t, m.Has(1))
	m.Delete(1)
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_Keys_Values(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	keys := m.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	values := m.Values()
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 3}, values)

	empty := NewSafeMap[string, int]()
	assert.Empty(t, empty.Keys())
	assert.NotNil(t, empty.Keys())
}

func TestSafeMap_Range(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	t.Run("iterates all entries", func(t *testing.T) {
		seen := make(map[string]int)
		m.Range(func(k string, v int) bool {
			seen[k] = v
			return true
		})
		assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		count := 0
		m.Range(func(k string, v int) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})
}

func TestSafeMap_Clear(t *testing.T) {
	m := NewSafeMap[int, int]()
	for i := range 10 {
		m.Store(i, i)
	}

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Has(3))
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const opsPerGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range opsPerGoroutine {
				key := id*opsPerGoroutine + i
				m.Store(key, key*2)
				m.Load(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*opsPerGoroutine, m.Len())

	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range opsPerGoroutine {
				m.LoadAndDelete(id*opsPerGoroutine + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
