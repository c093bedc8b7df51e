package taskqueue

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-gamenet/logger"
)

func TestRunner_Submit_runsInOrder(t *testing.T) {
	r := NewRunner(logger.NewNopLogger())

	var mu sync.Mutex
	var order []int
	for i := range 100 {
		r.Submit("udp_calls", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	r.Close()

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestRunner_lanesAreIndependent(t *testing.T) {
	r := NewRunner(nil)
	defer r.Close()

	release := make(chan struct{})
	r.Submit("slow", func() { <-release })

	done := make(chan struct{})
	r.Submit("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast lane blocked behind slow lane")
	}

	close(release)

	lanes := r.Lanes()
	sort.Strings(lanes)
	assert.Equal(t, []string{"fast", "slow"}, lanes)
}

func TestRunner_panicIsRecovered(t *testing.T) {
	r := NewRunner(logger.NewNopLogger())

	var ran atomic.Bool
	r.Submit("lane", func() { panic("boom") })
	r.Submit("lane", func() { ran.Store(true) })
	r.Close()

	assert.True(t, ran.Load())
}

func TestRunner_Close(t *testing.T) {
	t.Run("drains queued work", func(t *testing.T) {
		r := NewRunner(logger.NewNopLogger())
		gate := make(chan struct{})
		var count atomic.Int32

		r.Submit("lane", func() { <-gate })
		for range 10 {
			r.Submit("lane", func() { count.Add(1) })
		}
		assert.Eventually(t, func() bool { return r.Pending("lane") == 10 }, time.Second, time.Millisecond)

		close(gate)
		r.Close()
		assert.Equal(t, int32(10), count.Load())
		assert.Equal(t, 0, r.Pending("lane"))
	})

	t.Run("rejects work afterwards", func(t *testing.T) {
		r := NewRunner(logger.NewNopLogger())
		r.Close()
		r.Close()

		assert.ErrorIs(t, r.TrySubmit("lane", func() {}), ErrClosed)
		assert.NotPanics(t, func() { r.Submit("lane", func() {}) })
	})
}

func TestRunner_TrySubmit_nil(t *testing.T) {
	r := NewRunner(logger.NewNopLogger())
	defer r.Close()

	assert.Error(t, r.TrySubmit("lane", nil))
	assert.Equal(t, 0, r.Pending("missing"))
}
