package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowstack/agentcore/config"
	"github.com/flowstack/agentcore/observer"
	"github.com/flowstack/agentcore/telemetry"
)

// SearchOptions bounds each list returned by Manager.SearchWithContext
// (spec §4.2 "searchWithContext"). Zero values fall back to the documented
// defaults.
type SearchOptions struct {
	ShortTermLimit int
	LongTermLimit  int
	PreferenceLimit int
	RelatedLimit   int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.ShortTermLimit <= 0 {
		o.ShortTermLimit = 10
	}
	if o.LongTermLimit <= 0 {
		o.LongTermLimit = 10
	}
	if o.PreferenceLimit <= 0 {
		o.PreferenceLimit = 20
	}
	if o.RelatedLimit <= 0 {
		o.RelatedLimit = 10
	}
	return o
}

// SearchResult is the aggregate returned by SearchWithContext.
type SearchResult struct {
	ShortTerm   []Memory
	LongTerm    []Memory
	Preferences []Memory
	Related     []Memory
}

// Manager is the tiered Memory Manager (spec §4.2). It is the only
// component permitted to call Store directly; every other component
// reaches memory through Manager's tier-specific operations.
type Manager struct {
	shortTerm   Store
	longTerm    Store
	preferences Store

	cfg    config.Config
	scorer Scorer
	logger telemetry.Logger
	now    func() time.Time
	bus    *observer.Bus

	singleflightMu sync.Mutex
	running        map[string]struct{}
}

// Options configures a Manager. ShortTerm, LongTerm, and Preferences may
// all point at the same Store (e.g. a single memory/inmem.Store in tests)
// or at dedicated backends (memory/redis for ShortTerm, memory/mongo for
// LongTerm and Preferences), matching spec §4.2's backend guidance.
type Options struct {
	ShortTerm   Store
	LongTerm    Store
	Preferences Store
	Config      config.Config
	Scorer      Scorer
	Logger      telemetry.Logger
	// Now overrides time.Now for deterministic tests. Defaults to time.Now.
	Now func() time.Time
	// Bus, if set, receives memory.* events on insert/update/delete/
	// consolidate/cleanup (spec §6.4).
	Bus *observer.Bus
}

// NewManager constructs a Manager. All three Store fields are required.
func NewManager(opts Options) (*Manager, error) {
	if opts.ShortTerm == nil || opts.LongTerm == nil || opts.Preferences == nil {
		return nil, fmt.Errorf("memory: short-term, long-term, and preference stores are required")
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = DefaultScorer{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		shortTerm:   opts.ShortTerm,
		longTerm:    opts.LongTerm,
		preferences: opts.Preferences,
		cfg:         opts.Config,
		scorer:      scorer,
		logger:      logger,
		now:         now,
		bus:         opts.Bus,
		running:     make(map[string]struct{}),
	}, nil
}

func (m *Manager) publish(ctx context.Context, evt observer.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, evt)
}

// AddShortTermMemory inserts m into the short-term tier, setting
// CreatedAt/ExpiresAt per spec §3 and enforcing the per-(userID,sessionID)
// cap by evicting the oldest entries (I4).
func (m *Manager) AddShortTermMemory(ctx context.Context, entry Memory) (string, error) {
	now := m.now()
	entry.MemoryType = ShortTerm
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.LastAccessed = now
	retention := m.cfg.ShortTermRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	expires := entry.CreatedAt.Add(retention)
	entry.ExpiresAt = &expires

	id, err := m.shortTerm.Insert(ctx, entry)
	if err != nil {
		return "", err
	}
	m.publish(ctx, observer.NewMemoryInsertedEvent(id, entry.UserID))
	if err := m.enforceShortTermCap(ctx, entry.UserID, entry.SessionID); err != nil {
		m.logger.Warn(ctx, "memory: short-term cap enforcement failed", "error", err, "userId", entry.UserID)
	}
	return id, nil
}

func (m *Manager) enforceShortTermCap(ctx context.Context, userID, sessionID string) error {
	capLimit := m.cfg.MaxShortTermMemories
	if capLimit <= 0 {
		capLimit = 100
	}
	items, err := m.shortTerm.Query(ctx, Query{
		Predicates: []Predicate{
			Equals(FieldUserID, userID),
			Equals(FieldSessionID, sessionID),
		},
		OrderBy: &OrderBy{Field: FieldCreatedAt, Desc: false},
	})
	if err != nil {
		return err
	}
	if len(items) <= capLimit {
		return nil
	}
	toEvict := items[:len(items)-capLimit]
	for _, it := range toEvict {
		if _, err := m.shortTerm.Delete(ctx, it.ID); err != nil {
			return err
		}
		m.publish(ctx, observer.NewMemoryDeletedEvent(it.ID, it.UserID))
	}
	return nil
}

// AddLongTermMemory inserts entry into the long-term tier, applying
// spec §4.2's conflict-resolution rule before insert and enforcing the
// per-user cap afterward (lowest-importance-first eviction, I4).
func (m *Manager) AddLongTermMemory(ctx context.Context, entry Memory) (string, error) {
	now := m.now()
	entry.MemoryType = LongTerm
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.LastAccessed = now
	entry.ExpiresAt = nil

	candidates, err := m.longTerm.Query(ctx, Query{Predicates: []Predicate{
		Equals(FieldUserID, entry.UserID),
		Equals(FieldType, string(entry.Type)),
		Equals(FieldCategory, entry.Category),
	}})
	if err != nil {
		return "", err
	}

	threshold := m.cfg.ConflictSimilarity
	if threshold <= 0 {
		threshold = 0.9
	}
	newPrefix := firstN(entry.Content, 50)
	for _, existing := range candidates {
		if newPrefix == "" || firstN(existing.Content, 50) != newPrefix {
			continue
		}
		if jaccardSimilarity(existing.Content, entry.Content) < threshold {
			continue
		}
		merged := mergeContent(existing.Content, entry.Content, now)
		fields := map[string]any{
			"content":    merged,
			"importance": maxFloat(existing.Importance, entry.Importance),
			"confidence": maxFloat(existing.Confidence, entry.Confidence),
			"updatedAt":  now,
		}
		if _, err := m.longTerm.Update(ctx, existing.ID, fields); err != nil {
			return "", err
		}
		m.publish(ctx, observer.NewMemoryUpdatedEvent(existing.ID, entry.UserID))
		return existing.ID, nil
	}

	id, err := m.longTerm.Insert(ctx, entry)
	if err != nil {
		return "", err
	}
	m.publish(ctx, observer.NewMemoryInsertedEvent(id, entry.UserID))
	if err := m.enforceLongTermCap(ctx, entry.UserID); err != nil {
		m.logger.Warn(ctx, "memory: long-term cap enforcement failed", "error", err, "userId", entry.UserID)
	}
	return id, nil
}

func (m *Manager) enforceLongTermCap(ctx context.Context, userID string) error {
	capLimit := m.cfg.MaxLongTermMemories
	if capLimit <= 0 {
		capLimit = 10000
	}
	items, err := m.longTerm.Query(ctx, Query{
		Predicates: []Predicate{Equals(FieldUserID, userID)},
		OrderBy:    &OrderBy{Field: FieldImportance, Desc: false},
	})
	if err != nil {
		return err
	}
	if len(items) <= capLimit {
		return nil
	}
	toEvict := items[:len(items)-capLimit]
	for _, it := range toEvict {
		if _, err := m.longTerm.Delete(ctx, it.ID); err != nil {
			return err
		}
		m.publish(ctx, observer.NewMemoryDeletedEvent(it.ID, it.UserID))
	}
	return nil
}

// AddUserPreference upserts entry into the preference tier by
// (userID, category, preferenceKey ∨ content-substring) per spec §4.2.
func (m *Manager) AddUserPreference(ctx context.Context, entry Memory) (string, error) {
	now := m.now()
	entry.MemoryType = UserPreference
	entry.Type = TypePreference
	entry.ExpiresAt = nil

	candidates, err := m.preferences.Query(ctx, Query{Predicates: []Predicate{
		Equals(FieldUserID, entry.UserID),
		Equals(FieldCategory, entry.Category),
	}})
	if err != nil {
		return "", err
	}
	for _, existing := range candidates {
		if !preferenceMatches(existing, entry) {
			continue
		}
		merged := existing.Content + "\n" + entry.Content
		fields := map[string]any{
			"content":    merged,
			"confidence": maxFloat(existing.Confidence, entry.Confidence),
			"importance": maxFloat(existing.Importance, entry.Importance),
			"updatedAt":  now,
		}
		if _, err := m.preferences.Update(ctx, existing.ID, fields); err != nil {
			return "", err
		}
		m.publish(ctx, observer.NewMemoryUpdatedEvent(existing.ID, entry.UserID))
		return existing.ID, nil
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.LastAccessed = now
	id, err := m.preferences.Insert(ctx, entry)
	if err != nil {
		return "", err
	}
	m.publish(ctx, observer.NewMemoryInsertedEvent(id, entry.UserID))
	return id, nil
}

func preferenceMatches(existing, candidate Memory) bool {
	if candidate.PreferenceKey != "" {
		return strings.Contains(existing.Content, candidate.PreferenceKey) || existing.PreferenceKey == candidate.PreferenceKey
	}
	return strings.Contains(existing.Content, candidate.Content)
}

// GetShortTermMemories returns the short-term memories for (userID,
// sessionID), most recent first, applying access accounting to each
// returned item (spec §4.2 "Access accounting").
func (m *Manager) GetShortTermMemories(ctx context.Context, userID, sessionID string, limit int) ([]Memory, error) {
	items, err := m.shortTerm.Query(ctx, Query{
		Predicates: []Predicate{
			Equals(FieldUserID, userID),
			Equals(FieldSessionID, sessionID),
		},
		OrderBy: &OrderBy{Field: FieldCreatedAt, Desc: true},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return m.recordAccess(ctx, m.shortTerm, items), nil
}

// SearchLongTermMemories runs a semantic search over a user's long-term
// memories (spec §4.2).
func (m *Manager) SearchLongTermMemories(ctx context.Context, userID, text string, limit int) ([]Memory, error) {
	items, err := m.longTerm.Query(ctx, Query{
		Predicates: []Predicate{Equals(FieldUserID, userID)},
		Semantic:   &Semantic{Text: text, Limit: limit},
		Scorer:     m.scorer,
	})
	if err != nil {
		return nil, err
	}
	return m.recordAccess(ctx, m.longTerm, items), nil
}

// GetUserPreferences returns all preference memories for userID.
func (m *Manager) GetUserPreferences(ctx context.Context, userID string) ([]Memory, error) {
	items, err := m.preferences.Query(ctx, Query{
		Predicates: []Predicate{Equals(FieldUserID, userID)},
		OrderBy:    &OrderBy{Field: FieldUpdatedAt, Desc: true},
	})
	if err != nil {
		return nil, err
	}
	return m.recordAccess(ctx, m.preferences, items), nil
}

// SearchWithContext aggregates short-term, long-term, and preference
// results plus their flattened relationships (spec §4.2).
func (m *Manager) SearchWithContext(ctx context.Context, text, userID string, opts SearchOptions) (SearchResult, error) {
	opts = opts.withDefaults()

	shortTerm, err := m.shortTerm.Query(ctx, Query{
		Predicates: []Predicate{Equals(FieldUserID, userID)},
		Semantic:   &Semantic{Text: text, Limit: opts.ShortTermLimit},
		Scorer:     m.scorer,
	})
	if err != nil {
		return SearchResult{}, err
	}
	longTerm, err := m.longTerm.Query(ctx, Query{
		Predicates: []Predicate{Equals(FieldUserID, userID)},
		Semantic:   &Semantic{Text: text, Limit: opts.LongTermLimit},
		Scorer:     m.scorer,
	})
	if err != nil {
		return SearchResult{}, err
	}
	preferences, err := m.preferences.Query(ctx, Query{
		Predicates: []Predicate{Equals(FieldUserID, userID)},
		Limit:      opts.PreferenceLimit,
	})
	if err != nil {
		return SearchResult{}, err
	}

	shortTerm = m.recordAccess(ctx, m.shortTerm, shortTerm)
	longTerm = m.recordAccess(ctx, m.longTerm, longTerm)
	preferences = m.recordAccess(ctx, m.preferences, preferences)

	related := m.resolveRelated(ctx, append(append(append([]Memory{}, shortTerm...), longTerm...), preferences...), opts.RelatedLimit)

	return SearchResult{ShortTerm: shortTerm, LongTerm: longTerm, Preferences: preferences, Related: related}, nil
}

func (m *Manager) resolveRelated(ctx context.Context, union []Memory, limit int) []Memory {
	seen := make(map[string]struct{}, len(union))
	for _, u := range union {
		seen[u.ID] = struct{}{}
	}
	var related []Memory
	for _, u := range union {
		for _, rel := range u.Relationships {
			if len(related) >= limit {
				return related
			}
			if _, ok := seen[rel.TargetID]; ok {
				continue
			}
			seen[rel.TargetID] = struct{}{}
			target, err := m.findAny(ctx, rel.TargetID)
			if err != nil {
				continue
			}
			related = append(related, target)
		}
	}
	return related
}

func (m *Manager) findAny(ctx context.Context, id string) (Memory, error) {
	if mm, err := m.shortTerm.FindByID(ctx, id); err == nil {
		return mm, nil
	}
	if mm, err := m.longTerm.FindByID(ctx, id); err == nil {
		return mm, nil
	}
	return m.preferences.FindByID(ctx, id)
}

// recordAccess bumps lastAccessed/accessCount for each item and returns the
// updated copies; failures to persist the accounting update are logged and
// do not change the returned content (spec §4.2 "Access accounting").
func (m *Manager) recordAccess(ctx context.Context, store Store, items []Memory) []Memory {
	now := m.now()
	out := make([]Memory, len(items))
	for i, it := range items {
		it.AccessCount++
		it.LastAccessed = now
		if _, err := store.Update(ctx, it.ID, map[string]any{
			"accessCount":  it.AccessCount,
			"lastAccessed": now,
		}); err != nil {
			m.logger.Warn(ctx, "memory: access accounting update failed", "error", err, "id", it.ID)
		}
		out[i] = it
	}
	return out
}

// ConsolidateMemories promotes short-term memories with importance at or
// above the configured threshold into the long-term tier (spec §4.2
// "Consolidation"). It returns the number of memories consolidated.
func (m *Manager) ConsolidateMemories(ctx context.Context, userID string) (int, error) {
	threshold := m.cfg.ConsolidationThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	candidates, err := m.shortTerm.Query(ctx, Query{Predicates: []Predicate{
		Equals(FieldUserID, userID),
		GreaterOrEqual(FieldImportance, threshold),
		Equals(FieldConsolidated, false),
	}})
	if err != nil {
		return 0, err
	}
	now := m.now()
	consolidated := 0
	for _, src := range candidates {
		longEntry := Memory{
			Content:       src.Content,
			Type:          TypeExtractedFact,
			Category:      src.Category,
			Tags:          src.Tags,
			Importance:    src.Importance,
			Confidence:    src.Confidence,
			UserID:        src.UserID,
			ExtractedFrom: src.ID,
			CreatedAt:     now,
		}
		if _, err := m.AddLongTermMemory(ctx, longEntry); err != nil {
			m.logger.Warn(ctx, "memory: consolidation insert failed", "error", err, "sourceId", src.ID)
			continue
		}
		if _, err := m.shortTerm.Update(ctx, src.ID, map[string]any{
			"consolidated":   true,
			"consolidatedAt": now,
		}); err != nil {
			m.logger.Warn(ctx, "memory: marking source consolidated failed", "error", err, "sourceId", src.ID)
			continue
		}
		consolidated++
	}
	if consolidated > 0 {
		m.publish(ctx, observer.NewMemoriesConsolidatedEvent(userID, consolidated))
	}
	return consolidated, nil
}

// CleanupMemories deletes expired short-term memories and trims long-term
// memories back under the per-user cap (spec §4.2 "Cleanup").
func (m *Manager) CleanupMemories(ctx context.Context, userID string) (expiredDeleted, capEvicted int, err error) {
	now := m.now()
	expired, err := m.shortTerm.Query(ctx, Query{Predicates: []Predicate{
		Equals(FieldUserID, userID),
		LessThan(FieldExpiresAt, now),
	}})
	if err != nil {
		return 0, 0, err
	}
	for _, e := range expired {
		if _, err := m.shortTerm.Delete(ctx, e.ID); err != nil {
			return expiredDeleted, capEvicted, err
		}
		m.publish(ctx, observer.NewMemoryDeletedEvent(e.ID, e.UserID))
		expiredDeleted++
	}

	before, err := m.longTerm.Count(ctx, []Predicate{Equals(FieldUserID, userID)})
	if err != nil {
		return expiredDeleted, capEvicted, err
	}
	capLimit := m.cfg.MaxLongTermMemories
	if capLimit <= 0 {
		capLimit = 10000
	}
	if before > capLimit {
		if err := m.enforceLongTermCap(ctx, userID); err != nil {
			return expiredDeleted, capEvicted, err
		}
		capEvicted = before - capLimit
	}
	if total := expiredDeleted + capEvicted; total > 0 {
		m.publish(ctx, observer.NewMemoriesCleanedEvent(total))
	}
	return expiredDeleted, capEvicted, nil
}

// RunBackgroundTasks starts the cleanup (every 1h) and consolidation
// (every 6h) periodic tasks for users returned by activeUsers, each
// serialized per user via a single-flight guard (spec §4.2 "Background
// tasks", spec §5). It returns immediately; callers cancel via ctx.
func (m *Manager) RunBackgroundTasks(ctx context.Context, activeUsers func() []string) {
	go m.runPeriodic(ctx, time.Hour, "cleanup", activeUsers, func(c context.Context, userID string) error {
		_, _, err := m.CleanupMemories(c, userID)
		return err
	})
	go m.runPeriodic(ctx, 6*time.Hour, "consolidation", activeUsers, func(c context.Context, userID string) error {
		_, err := m.ConsolidateMemories(c, userID)
		return err
	})
}

func (m *Manager) runPeriodic(ctx context.Context, interval time.Duration, label string, activeUsers func() []string, task func(context.Context, string) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range activeUsers() {
				m.runSingleFlight(ctx, label, userID, task)
			}
		}
	}
}

func (m *Manager) runSingleFlight(ctx context.Context, label, userID string, task func(context.Context, string) error) {
	key := label + ":" + userID
	m.singleflightMu.Lock()
	if _, running := m.running[key]; running {
		m.singleflightMu.Unlock()
		return
	}
	m.running[key] = struct{}{}
	m.singleflightMu.Unlock()

	defer func() {
		m.singleflightMu.Lock()
		delete(m.running, key)
		m.singleflightMu.Unlock()
	}()

	if err := task(ctx, userID); err != nil {
		m.logger.Error(ctx, "memory: background task failed", "task", label, "userId", userID, "error", err)
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func mergeContent(existing, incoming string, at time.Time) string {
	return existing + " " + incoming + fmt.Sprintf(" (Updated: %s)", at.UTC().Format(time.RFC3339))
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
