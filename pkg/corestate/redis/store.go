// Package redis implements SessionStore's hot path: a TTL'd cache of
// [corestate.CoreMemory] plus advisory per-session leases, backed by
// go-redis. Redis is the only store in this codebase's stack with a native
// key-expiry primitive, which is why it fronts the durable cold archive
// (pkg/corestate/postgres) rather than the other way around.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ivrcore/mediacore/pkg/corestate"
)

// ColdArchiver is the durable half of Archive: it persists the final
// CoreMemory once, after which the hot record is deleted. Satisfied by
// [github.com/ivrcore/mediacore/pkg/corestate/postgres.ColdStore].
type ColdArchiver interface {
	Append(ctx context.Context, mem *corestate.CoreMemory) error
}

// Store is the Redis-backed hot half of [corestate.Store], composed with a
// [ColdArchiver] for Archive. All methods are safe for concurrent use.
type Store struct {
	rdb  *redis.Client
	cold ColdArchiver
	app  string // key namespace, e.g. "mediacore"
	env  string // deployment environment, e.g. "prod"
}

// New constructs a Store. app and env seed the key schema
// "{app}:{env}:{type}:{id}:{component}" so that multiple environments can
// share one Redis instance without key collisions.
func New(rdb *redis.Client, cold ColdArchiver, app, env string) *Store {
	return &Store{rdb: rdb, cold: cold, app: app, env: env}
}

func (s *Store) sessionKey(id string) string { return fmt.Sprintf("%s:%s:session:%s:session", s.app, s.env, id) }
func (s *Store) historyKey(id string) string { return fmt.Sprintf("%s:%s:session:%s:history", s.app, s.env, id) }
func (s *Store) leaseKey(id string) string   { return fmt.Sprintf("%s:%s:session:%s:lease", s.app, s.env, id) }

// storedRecord is the JSON envelope written to the session key. History is
// kept in the same blob rather than the separate history key, keeping Load
// atomic; historyKey is reserved for a future streamed-append optimization.
type storedRecord struct {
	ActiveAgent  string                 `json:"active_agent"`
	History      []corestate.HistoryEntry `json:"history"`
	Context      map[string]any         `json:"context"`
	LatencyMarks map[string]float64     `json:"latency_marks"`
	Version      uint64                 `json:"version"`
	LastWrite    time.Time              `json:"last_write"`
}

// Load implements [corestate.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (*corestate.CoreMemory, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, corestate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
	}

	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corestate redis: decode: %w", err)
	}

	return &corestate.CoreMemory{
		SessionID:    sessionID,
		ActiveAgent:  rec.ActiveAgent,
		History:      rec.History,
		Context:      rec.Context,
		LatencyMarks: rec.LatencyMarks,
		Version:      rec.Version,
		LastWrite:    rec.LastWrite,
	}, nil
}

// Save implements [corestate.Store].
func (s *Store) Save(ctx context.Context, mem *corestate.CoreMemory, ttl time.Duration) error {
	rec := storedRecord{
		ActiveAgent:  mem.ActiveAgent,
		History:      mem.History,
		Context:      mem.Context,
		LatencyMarks: mem.LatencyMarks,
		Version:      mem.Version + 1,
		LastWrite:    time.Now(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("corestate redis: encode: %w", err)
	}

	if err := s.rdb.Set(ctx, s.sessionKey(mem.SessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
	}

	mem.Version = rec.Version
	mem.LastWrite = rec.LastWrite
	return nil
}

// AcquireLease implements [corestate.Store] using SET NX EX, falling back to
// a holder-match check so re-acquiring one's own lease renews its TTL.
func (s *Store) AcquireLease(ctx context.Context, sessionID, holderID string, ttl time.Duration) (bool, error) {
	key := s.leaseKey(sessionID)

	ok, err := s.rdb.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
	}
	if ok {
		return true, nil
	}

	current, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Lease expired between SetNX and Get; retry once.
		ok, err = s.rdb.SetNX(ctx, key, holderID, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
		}
		return ok, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
	}

	if current == holderID {
		// Same holder renewing: refresh TTL.
		if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
		}
		return true, nil
	}

	return false, corestate.ErrLeaseDenied
}

// ReleaseLease implements [corestate.Store] with a holder-match GET followed
// by GETDEL, so a lease is only ever deleted by the holder that owns it.
func (s *Store) ReleaseLease(ctx context.Context, sessionID, holderID string) error {
	key := s.leaseKey(sessionID)

	current, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil // already expired or never held
	}
	if err != nil {
		return fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
	}
	if current != holderID {
		return nil // held by someone else; not ours to release
	}

	if err := s.rdb.GetDel(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", corestate.ErrUnavailable, err)
	}
	return nil
}

// Archive implements [corestate.Store]: it reads the final hot record,
// appends it to the cold store, then deletes the hot key, in that order. A
// crash between the cold write and the hot delete leaves both copies rather
// than losing data.
func (s *Store) Archive(ctx context.Context, sessionID string) error {
	mem, err := s.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, corestate.ErrNotFound) {
			return nil // nothing to archive
		}
		return fmt.Errorf("%w: load: %v", corestate.ErrArchiveFailed, err)
	}

	if err := s.cold.Append(ctx, mem); err != nil {
		return fmt.Errorf("%w: cold append: %v", corestate.ErrArchiveFailed, err)
	}

	if err := s.rdb.Del(ctx, s.sessionKey(sessionID), s.historyKey(sessionID)).Err(); err != nil {
		// The cold copy already landed; losing the hot-key delete is safe to
		// ignore beyond logging at the call site, per the "prefers leaving
		// the hot record" partial-failure policy.
		return fmt.Errorf("%w: hot delete: %v", corestate.ErrArchiveFailed, err)
	}

	return nil
}

var _ corestate.Store = (*Store)(nil)
