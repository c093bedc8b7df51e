package presence

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryDirectory is a process-local Directory backed by go-cache. Expired
// records are purged every cleanupInterval.
type MemoryDirectory struct {
	cache *cache.Cache
}

// NewMemoryDirectory creates an empty MemoryDirectory.
//
// Parameters:
//   - cleanupInterval: How often expired records are purged
//
// Returns:
//   - A new MemoryDirectory
func NewMemoryDirectory(cleanupInterval time.Duration) *MemoryDirectory {
	return &MemoryDirectory{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

// Publish implements Directory.
func (d *MemoryDirectory) Publish(ctx context.Context, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	d.cache.Set(rec.Token, rec, ttl)
	return nil
}

// Lookup implements Directory.
func (d *MemoryDirectory) Lookup(ctx context.Context, token string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	val, found := d.cache.Get(token)
	if !found {
		return Record{}, false, nil
	}

	rec, ok := val.(Record)
	return rec, ok, nil
}

// Remove implements Directory.
func (d *MemoryDirectory) Remove(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.cache.Delete(token)
	return nil
}

// Count implements Directory. Records that expired but were not yet purged
// are not counted.
func (d *MemoryDirectory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return len(d.cache.Items()), nil
}
