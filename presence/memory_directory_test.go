package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(token string) Record {
	return Record{
		Token:       token,
		Node:        "node-1",
		RemoteAddr:  "127.0.0.1:5000",
		UDPID:       42,
		ConnectedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestMemoryDirectory_PublishLookup(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(time.Minute)

	t.Run("missing token", func(t *testing.T) {
		_, found, err := d.Lookup(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("published record is returned", func(t *testing.T) {
		require.NoError(t, d.Publish(ctx, sampleRecord("abc"), 0))

		rec, found, err := d.Lookup(ctx, "abc")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, sampleRecord("abc"), rec)
	})

	t.Run("republish replaces", func(t *testing.T) {
		updated := sampleRecord("abc")
		updated.Permission = 3
		require.NoError(t, d.Publish(ctx, updated, 0))

		rec, _, err := d.Lookup(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.Permission)
	})
}

func TestMemoryDirectory_Expiry(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(time.Minute)

	require.NoError(t, d.Publish(ctx, sampleRecord("short"), 20*time.Millisecond))
	require.NoError(t, d.Publish(ctx, sampleRecord("long"), 0))

	assert.Eventually(t, func() bool {
		_, found, _ := d.Lookup(ctx, "short")
		return !found
	}, time.Second, 5*time.Millisecond)

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryDirectory_RemoveCount(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(time.Minute)

	for _, tok := range []string{"a", "b", "c"} {
		require.NoError(t, d.Publish(ctx, sampleRecord(tok), time.Minute))
	}

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, d.Remove(ctx, "b"))
	require.NoError(t, d.Remove(ctx, "missing"))

	count, err = d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryDirectory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewMemoryDirectory(time.Minute)

	assert.ErrorIs(t, d.Publish(ctx, sampleRecord("x"), 0), context.Canceled)
	_, _, err := d.Lookup(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, d.Remove(ctx, "x"), context.Canceled)
	_, err = d.Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryDirectory_Concurrent(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(time.Minute)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tok := string(rune('A' + n%26))
			_ = d.Publish(ctx, sampleRecord(tok), 0)
			_, _, _ = d.Lookup(ctx, tok)
		}(i)
	}
	wg.Wait()

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 26, count)
}
