// Package mock provides an in-memory test double for [corestate.Store].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ivrcore/mediacore/pkg/corestate"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable test double for [corestate.Store]. All *Err fields
// default to nil (success); Save records the last CoreMemory passed to it.
type Store struct {
	mu sync.Mutex

	calls []Call

	// LoadResult is returned by Load. When nil and LoadErr is nil, Load
	// returns corestate.ErrNotFound.
	LoadResult *corestate.CoreMemory
	LoadErr    error

	SaveErr error

	// AcquireLeaseResult is returned by AcquireLease.
	AcquireLeaseResult bool
	AcquireLeaseErr    error

	ReleaseLeaseErr error

	ArchiveErr error

	// Saved is the CoreMemory passed to the most recent Save call.
	Saved *corestate.CoreMemory
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Load implements [corestate.Store].
func (s *Store) Load(_ context.Context, sessionID string) (*corestate.CoreMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Load", Args: []any{sessionID}})
	if s.LoadResult == nil && s.LoadErr == nil {
		return nil, corestate.ErrNotFound
	}
	return s.LoadResult, s.LoadErr
}

// Save implements [corestate.Store].
func (s *Store) Save(_ context.Context, mem *corestate.CoreMemory, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Save", Args: []any{mem, ttl}})
	s.Saved = mem
	return s.SaveErr
}

// AcquireLease implements [corestate.Store].
func (s *Store) AcquireLease(_ context.Context, sessionID, holderID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "AcquireLease", Args: []any{sessionID, holderID, ttl}})
	return s.AcquireLeaseResult, s.AcquireLeaseErr
}

// ReleaseLease implements [corestate.Store].
func (s *Store) ReleaseLease(_ context.Context, sessionID, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "ReleaseLease", Args: []any{sessionID, holderID}})
	return s.ReleaseLeaseErr
}

// Archive implements [corestate.Store].
func (s *Store) Archive(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Archive", Args: []any{sessionID}})
	return s.ArchiveErr
}

// Ensure Store satisfies the interface at compile time.
var _ corestate.Store = (*Store)(nil)
