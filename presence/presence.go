// Package presence records which server process holds each connected session,
// so that other processes (lobby, chat, matchmaking) can find a player by
// session token without talking to every game server.
package presence

import (
	"context"
	"time"
)

// Record describes one live session.
type Record struct {
	Token       string    `json:"token"`
	Node        string    `json:"node"`
	RemoteAddr  string    `json:"remote_addr"`
	UDPID       uint16    `json:"udp_id"`
	Permission  int       `json:"permission"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Directory stores presence records. Implementations must be safe for
// concurrent use.
type Directory interface {
	// Publish inserts or replaces the record for rec.Token. A ttl of zero keeps
	// the record until it is removed.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - rec: The record to store
	//   - ttl: Lifetime of the record; zero means no expiry
	//
	// Returns:
	//   - An error if the backend rejects the write
	Publish(ctx context.Context, rec Record, ttl time.Duration) error

	// Lookup returns the record for token.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The session token
	//
	// Returns:
	//   - The record, true if found
	//   - An error if the backend failed
	Lookup(ctx context.Context, token string) (Record, bool, error)

	// Remove deletes the record for token. Removing a missing token is not an
	// error.
	Remove(ctx context.Context, token string) error

	// Count returns the number of live records.
	Count(ctx context.Context) (int, error)
}
