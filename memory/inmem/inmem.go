// Package inmem provides an in-process implementation of memory.Store for
// tests, local development, and as the default backend when no durable
// store is configured. Data is stored in process memory and lost on
// restart; production deployments should use memory/mongo and/or
// memory/redis instead.
//
// The store is grounded on the teacher's run-event store
// (agents/runtime/memory/inmem), generalized from an agent/run-keyed event
// log to a flat, predicate-queryable memory table with per-ID locking.
package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowstack/agentcore/memory"
)

// Store implements memory.Store using an in-process map guarded by a
// RWMutex, plus one mutex per memory ID to serialize compound
// read-modify-write operations (spec §5 "Memory writes for one id are
// serialized; reads are concurrent").
type Store struct {
	mu      sync.RWMutex
	records map[string]memory.Memory
	locks   map[string]*sync.Mutex
}

// New returns an empty, ready-to-use Store.
func New() *Store {
	return &Store{
		records: make(map[string]memory.Memory),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Insert assigns a new UUID when entry.ID is empty and stores a clone.
func (s *Store) Insert(_ context.Context, entry memory.Memory) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	l := s.lockFor(entry.ID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	s.records[entry.ID] = entry.Clone()
	s.mu.Unlock()
	return entry.ID, nil
}

// Query evaluates q against the store's current snapshot.
func (s *Store) Query(_ context.Context, q memory.Query) ([]memory.Memory, error) {
	s.mu.RLock()
	snapshot := make([]memory.Memory, 0, len(s.records))
	for _, m := range s.records {
		snapshot = append(snapshot, m.Clone())
	}
	s.mu.RUnlock()

	matched := make([]memory.Memory, 0, len(snapshot))
	for _, m := range snapshot {
		if !matchesAll(m, q.Predicates) {
			continue
		}
		matched = append(matched, m)
	}

	scores := map[string]float64{}
	if q.Semantic != nil {
		scorer := q.Scorer
		if scorer == nil {
			scorer = memory.DefaultScorer{}
		}
		filtered := matched[:0:0]
		for _, m := range matched {
			sc := scorer.Score(m.Content, q.Semantic.Text)
			if sc <= 0 {
				continue
			}
			scores[m.ID] = sc
			filtered = append(filtered, m)
		}
		matched = filtered
		if q.Semantic.Limit > 0 && len(matched) > q.Semantic.Limit {
			sortByScoreDesc(matched, scores)
			matched = matched[:q.Semantic.Limit]
		}
	}
	if q.Similar != nil {
		filtered := matched[:0:0]
		for _, m := range matched {
			sc := memory.CosineSimilarity(m.Embedding, q.Similar.Vector)
			if sc < q.Similar.Threshold {
				continue
			}
			scores[m.ID] = sc
			filtered = append(filtered, m)
		}
		matched = filtered
	}

	switch {
	case q.OrderBy != nil:
		sortByField(matched, *q.OrderBy)
	case len(scores) > 0:
		sortByScoreDesc(matched, scores)
	default:
		sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []memory.Memory{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Update applies fields to the memory identified by id atomically,
// incrementing Version by exactly 1.
func (s *Store) Update(_ context.Context, id string, fields map[string]any) (bool, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return false, memory.ErrNotFound
	}
	applyFields(&m, fields)
	m.Version++
	s.records[id] = m
	return true, nil
}

// Delete removes the memory identified by id, returning false when it does
// not exist (idempotent in effect).
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

// Count returns the number of memories matching predicates.
func (s *Store) Count(_ context.Context, predicates []memory.Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.records {
		if matchesAll(m, predicates) {
			n++
		}
	}
	return n, nil
}

// FindByID returns a clone of the memory identified by id, or ErrNotFound.
func (s *Store) FindByID(_ context.Context, id string) (memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return memory.Memory{}, memory.ErrNotFound
	}
	return m.Clone(), nil
}

// Reset clears all stored memories. Primarily useful in tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]memory.Memory)
	s.locks = make(map[string]*sync.Mutex)
}

func sortByScoreDesc(items []memory.Memory, scores map[string]float64) {
	sort.SliceStable(items, func(i, j int) bool { return scores[items[i].ID] > scores[items[j].ID] })
}

func sortByField(items []memory.Memory, ob memory.OrderBy) {
	less := func(i, j int) bool {
		a, b := items[i], items[j]
		switch ob.Field {
		case memory.FieldCreatedAt:
			return a.CreatedAt.Before(b.CreatedAt)
		case memory.FieldUpdatedAt:
			return a.UpdatedAt.Before(b.UpdatedAt)
		case memory.FieldLastAccessed:
			return a.LastAccessed.Before(b.LastAccessed)
		case memory.FieldImportance:
			return a.Importance < b.Importance
		case memory.FieldConfidence:
			return a.Confidence < b.Confidence
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	if ob.Desc {
		sort.SliceStable(items, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(items, less)
}

func matchesAll(m memory.Memory, predicates []memory.Predicate) bool {
	for _, p := range predicates {
		if !matchesOne(m, p) {
			return false
		}
	}
	return true
}

func matchesOne(m memory.Memory, p memory.Predicate) bool {
	fv := fieldValue(m, p.Field)
	switch p.Op {
	case memory.OpEquals:
		return equal(fv, p.Value)
	case memory.OpNotEqual:
		return !equal(fv, p.Value)
	case memory.OpLess:
		return compare(fv, p.Value) < 0
	case memory.OpLessEq:
		return compare(fv, p.Value) <= 0
	case memory.OpGreater:
		return compare(fv, p.Value) > 0
	case memory.OpGreaterEq:
		return compare(fv, p.Value) >= 0
	case memory.OpContains:
		return containsValue(m, p)
	case memory.OpIn:
		for _, v := range p.Set {
			if equal(fv, v) {
				return true
			}
		}
		return false
	case memory.OpBetween:
		return compare(fv, p.Low) >= 0 && compare(fv, p.High) <= 0
	default:
		return false
	}
}

func fieldValue(m memory.Memory, f memory.Field) any {
	switch f {
	case memory.FieldID:
		return m.ID
	case memory.FieldContent:
		return m.Content
	case memory.FieldType:
		return string(m.Type)
	case memory.FieldCategory:
		return m.Category
	case memory.FieldImportance:
		return m.Importance
	case memory.FieldConfidence:
		return m.Confidence
	case memory.FieldUserID:
		return m.UserID
	case memory.FieldSessionID:
		return m.SessionID
	case memory.FieldMemoryType:
		return string(m.MemoryType)
	case memory.FieldCreatedAt:
		return m.CreatedAt
	case memory.FieldUpdatedAt:
		return m.UpdatedAt
	case memory.FieldLastAccessed:
		return m.LastAccessed
	case memory.FieldExpiresAt:
		if m.ExpiresAt == nil {
			return nil
		}
		return *m.ExpiresAt
	case memory.FieldConsolidated:
		return m.Consolidated
	default:
		return nil
	}
}

func containsValue(m memory.Memory, p memory.Predicate) bool {
	switch p.Field {
	case memory.FieldTags:
		substr, _ := p.Value.(string)
		for _, t := range m.Tags {
			if t == substr {
				return true
			}
		}
		return false
	case memory.FieldContent:
		substr, _ := p.Value.(string)
		return strings.Contains(strings.ToLower(m.Content), strings.ToLower(substr))
	case memory.FieldCategory:
		substr, _ := p.Value.(string)
		return strings.Contains(strings.ToLower(m.Category), strings.ToLower(substr))
	default:
		return false
	}
}

func equal(a, b any) bool {
	return a == b
}

func compare(a, b any) int {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0
		}
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func applyFields(m *memory.Memory, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "content":
			if s, ok := v.(string); ok {
				m.Content = s
			}
		case "importance":
			if f, ok := toFloat(v); ok {
				m.Importance = f
			}
		case "confidence":
			if f, ok := toFloat(v); ok {
				m.Confidence = f
			}
		case "updatedAt":
			if t, ok := v.(time.Time); ok {
				m.UpdatedAt = t
			}
		case "consolidated":
			if b, ok := v.(bool); ok {
				m.Consolidated = b
			}
		case "consolidatedAt":
			if t, ok := v.(time.Time); ok {
				m.ConsolidatedAt = &t
			}
		case "metadata":
			if md, ok := v.(map[string]any); ok {
				m.Metadata = md
			}
		case "lastAccessed":
			if t, ok := v.(time.Time); ok {
				m.LastAccessed = t
			}
		case "accessCount":
			if n, ok := v.(int); ok {
				m.AccessCount = n
			}
		}
	}
}
