// Package idgenerator hands out identifiers for connections: a monotonic
// sequence for log correlation and a bounded random allocator for the 16-bit
// ephemeral IDs that tie UDP datagrams to TCP sessions.
package idgenerator

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"
)

// DefaultMaxAttempts is the number of random draws an allocator makes before
// giving up when no attempt count is configured.
const DefaultMaxAttempts = 64

// ErrExhausted is returned when no free ID was found within the allowed
// number of attempts.
var ErrExhausted = errors.New("idgenerator: id space exhausted")

// Sequence generates monotonically increasing uint32 values. The first call to
// Next returns start+1. Safe for concurrent use.
type Sequence struct {
	id atomic.Uint32
}

// NewSequence creates a Sequence whose first value is start+1.
//
// Parameters:
//   - start: The value the counter is initialised to
//
// Returns:
//   - A new Sequence
func NewSequence(start uint32) *Sequence {
	seq := &Sequence{}
	seq.id.Store(start)
	return seq
}

// Next returns the next value in the sequence.
func (s *Sequence) Next() uint32 {
	return s.id.Add(1)
}

// ClaimFunc tries to take ownership of id. It returns true if the id was free
// and is now reserved for the caller, false if it was already taken.
type ClaimFunc func(id uint16) bool

// Uint16Allocator draws random non-zero 16-bit IDs and retries on collision up
// to MaxAttempts times. Zero is never produced; it is reserved as "unassigned".
type Uint16Allocator struct {
	maxAttempts int
	draw        func() uint16
}

// NewUint16Allocator creates an allocator that makes at most maxAttempts
// random draws per Allocate call. A non-positive value selects
// DefaultMaxAttempts.
//
// Parameters:
//   - maxAttempts: Upper bound on draws per allocation
//
// Returns:
//   - A new Uint16Allocator
func NewUint16Allocator(maxAttempts int) *Uint16Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Uint16Allocator{
		maxAttempts: maxAttempts,
		draw:        func() uint16 { return uint16(rand.UintN(1 << 16)) },
	}
}

// Allocate draws random IDs until claim accepts one. Draws of zero count as
// failed attempts. The claim function must be atomic (for example a
// LoadOrStore on a concurrent map) so that two callers can never both win the
// same ID.
//
// Parameters:
//   - claim: Reserves the drawn ID if it is free
//
// Returns:
//   - The reserved ID
//   - ErrExhausted if every attempt collided
func (a *Uint16Allocator) Allocate(claim ClaimFunc) (uint16, error) {
	for range a.maxAttempts {
		id := a.draw()
		if id == 0 {
			continue
		}

		if claim(id) {
			return id, nil
		}
	}

	return 0, ErrExhausted
}

// MaxAttempts returns the retry bound used by Allocate.
func (a *Uint16Allocator) MaxAttempts() int {
	return a.maxAttempts
}
