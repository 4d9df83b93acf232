package corestate

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by [Store] implementations. Callers should test
// with errors.Is rather than comparing implementation-specific error values.
var (
	// ErrNotFound is returned by Load when session_id has no hot record.
	ErrNotFound = errors.New("corestate: session not found")

	// ErrUnavailable is returned when the hot store could not be reached
	// after the implementation's retry budget was exhausted.
	ErrUnavailable = errors.New("corestate: store unavailable")

	// ErrLeaseDenied is returned by AcquireLease when the lease is already
	// held by a different holder.
	ErrLeaseDenied = errors.New("corestate: lease held by another holder")

	// ErrArchiveFailed is returned by Archive when the cold-store write did
	// not complete; the hot record is left in place in this case.
	ErrArchiveFailed = errors.New("corestate: archive failed")
)

// Store is the SessionStore contract: a TTL'd, leased hot cache of
// [CoreMemory] fronting a durable cold archive. Implementations must be
// safe for concurrent use by multiple MediaHandler connections.
type Store interface {
	// Load returns the current CoreMemory for sessionID, or ErrNotFound if
	// no hot record exists. Returns ErrUnavailable on transport failure
	// after the implementation's retry budget.
	Load(ctx context.Context, sessionID string) (*CoreMemory, error)

	// Save idempotently replaces the hot record for mem.SessionID with mem,
	// resetting its TTL to ttl and stamping LastWrite. Save is atomic: a
	// reader never observes a partially written record.
	Save(ctx context.Context, mem *CoreMemory, ttl time.Duration) error

	// AcquireLease grants holderID exclusive ownership of sessionID for ttl.
	// It returns true if the lease was absent or already held by holderID,
	// false (with ErrLeaseDenied) if held by a different holder. Leases
	// auto-expire; callers must renew before ttl elapses to retain it.
	AcquireLease(ctx context.Context, sessionID, holderID string, ttl time.Duration) (bool, error)

	// ReleaseLease releases sessionID's lease if and only if it is currently
	// held by holderID. Releasing a lease not held by holderID (including
	// one already expired) is a no-op.
	ReleaseLease(ctx context.Context, sessionID, holderID string) error

	// Archive atomically reads the final hot record, appends it to the cold
	// store, then deletes the hot record, in that order. On partial
	// failure it leaves the hot record in place rather than losing data,
	// and returns an error wrapping ErrArchiveFailed.
	Archive(ctx context.Context, sessionID string) error
}
