// Package redis implements a memory.Store backed by Redis, used for the
// SHORT_TERM tier (spec §6.3). Unlike memory/mongo, SHORT_TERM expiry maps
// directly onto native Redis key TTL rather than a background sweep, so
// Store never needs a cleanup pass for its own records.
//
// The client construction mirrors the teacher's thin-wrapper-over-a-
// caller-supplied-client pattern (features/stream/pulse/clients/pulse:
// "callers build a Redis client, pass it to New"); go-redis/v9 itself is a
// direct teacher dependency previously reached only transitively through
// Pulse.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowstack/agentcore/memory"
)

const defaultKeyPrefix = "agentcore:memory:short_term:"

// Options configures Store.
type Options struct {
	// Redis is the connection used to back short-term memory. Required.
	Redis *redis.Client
	// KeyPrefix namespaces keys in a shared Redis instance. Defaults to
	// "agentcore:memory:short_term:".
	KeyPrefix string
	// DefaultTTL is applied to entries with no ExpiresAt set.
	DefaultTTL time.Duration
}

// Store implements memory.Store against a single Redis database. Entries
// are addressed by ID; a per-user index set supports the predicate queries
// the Memory Manager issues (spec §4.2 short-term retrieval by userID and
// optional sessionID).
type Store struct {
	rdb        *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// New returns a Store backed by the provided Redis client.
func New(opts Options) (*Store, error) {
	if opts.Redis == nil {
		return nil, errors.New("memory/redis: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: opts.Redis, prefix: prefix, defaultTTL: ttl}, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) userIndexKey(userID string) string {
	return s.prefix + "index:user:" + userID
}

// Insert stores entry as a JSON value with TTL derived from ExpiresAt (or
// the configured default when unset), and adds entry.ID to the per-user
// index set with the same expiry.
func (s *Store) Insert(ctx context.Context, entry memory.Memory) (string, error) {
	if entry.ID == "" {
		entry.ID = newID()
	}
	ttl := s.defaultTTL
	if entry.ExpiresAt != nil {
		ttl = time.Until(*entry.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	} else {
		exp := time.Now().Add(ttl)
		entry.ExpiresAt = &exp
	}

	data, err := json.Marshal(toDoc(entry))
	if err != nil {
		return "", err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key(entry.ID), data, ttl)
	if entry.UserID != "" {
		pipe.SAdd(ctx, s.userIndexKey(entry.UserID), entry.ID)
		pipe.Expire(ctx, s.userIndexKey(entry.UserID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// FindByID returns the memory identified by id, or ErrNotFound if it has
// expired or never existed.
func (s *Store) FindByID(ctx context.Context, id string) (memory.Memory, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return memory.Memory{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Memory{}, err
	}
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return memory.Memory{}, err
	}
	return fromDoc(d), nil
}

// Update rewrites the stored value with fields applied, preserving the
// remaining TTL on the key.
func (s *Store) Update(ctx context.Context, id string, fields map[string]any) (bool, error) {
	ttl, err := s.rdb.TTL(ctx, s.key(id)).Result()
	if err != nil {
		return false, err
	}
	if ttl < 0 {
		return false, memory.ErrNotFound
	}
	m, err := s.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return false, memory.ErrNotFound
		}
		return false, err
	}
	applyFields(&m, fields)
	m.Version++
	data, err := json.Marshal(toDoc(m))
	if err != nil {
		return false, err
	}
	if err := s.rdb.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the entry identified by id from both the value key and
// its user index.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	m, err := s.FindByID(ctx, id)
	if errors.Is(err, memory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key(id))
	if m.UserID != "" {
		pipe.SRem(ctx, s.userIndexKey(m.UserID), id)
	}
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

// Count scans entries matching userID (the only predicate Redis indexes
// efficiently) and evaluates any remaining predicates in-process.
func (s *Store) Count(ctx context.Context, predicates []memory.Predicate) (int, error) {
	items, err := s.Query(ctx, memory.Query{Predicates: predicates})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Query supports at minimum a userID equality predicate (spec §4.2
// short-term retrieval); other predicates are evaluated client-side against
// the per-user candidate set. A query with no userID predicate falls back
// to scanning all live keys under the store's prefix.
func (s *Store) Query(ctx context.Context, q memory.Query) ([]memory.Memory, error) {
	ids, err := s.candidateIDs(ctx, q.Predicates)
	if err != nil {
		return nil, err
	}

	results := make([]memory.Memory, 0, len(ids))
	for _, id := range ids {
		m, err := s.FindByID(ctx, id)
		if errors.Is(err, memory.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if matchesAll(m, q.Predicates) {
			results = append(results, m)
		}
	}

	sortChronological(results, q.OrderBy)

	if q.Offset > 0 {
		if q.Offset >= len(results) {
			return []memory.Memory{}, nil
		}
		results = results[q.Offset:]
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *Store) candidateIDs(ctx context.Context, predicates []memory.Predicate) ([]string, error) {
	for _, p := range predicates {
		if p.Field == memory.FieldUserID && p.Op == memory.OpEquals {
			userID, _ := p.Value.(string)
			return s.rdb.SMembers(ctx, s.userIndexKey(userID)).Result()
		}
	}
	keys, err := s.rdb.Keys(ctx, s.prefix+"*").Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) > len(s.prefix) && k[len(s.prefix):len(s.prefix)+6] != "index:" {
			ids = append(ids, k[len(s.prefix):])
		}
	}
	return ids, nil
}

func newID() string {
	return fmt.Sprintf("st-%d", time.Now().UnixNano())
}
