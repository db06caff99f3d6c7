// Package memory defines the tiered memory data model (spec §3 "Memory"),
// the storage contract backends must satisfy (spec §6.3), and the query
// predicates callers build against it (spec §4.2). Concrete backends live in
// memory/inmem (the in-process default), memory/mongo (durable long-term and
// preference storage), and memory/redis (native-TTL short-term storage).
package memory

import "time"

// Type enumerates the semantic kind of a memory's content, independent of
// its tier. New values may be added by callers; an empty Type is stored
// as is and is not replaced by any default.
type Type string

const (
	TypeConversation    Type = "conversation"
	TypePreference      Type = "preference"
	TypeFact            Type = "fact"
	TypeInterest        Type = "interest"
	TypeTaskResult      Type = "task_result"
	TypePlanningResult  Type = "planning_result"
	TypeExtractedFact   Type = "extracted_fact"
)

// Tier classifies a memory's lifecycle and eviction rules (spec §3
// "Tiering fields").
type Tier string

const (
	ShortTerm      Tier = "SHORT_TERM"
	LongTerm       Tier = "LONG_TERM"
	UserPreference Tier = "USER_PREFERENCE"
)

// RelationKind enumerates the edge types a memory relationship may carry
// (spec §3). Relationships are stored as an adjacency list of IDs, never
// embedded objects, and resolved lazily via Store.FindByID (Design Notes:
// "Cyclic relationships between memories").
type RelationKind string

const (
	RelationRelated     RelationKind = "related"
	RelationContradicts RelationKind = "contradicts"
	RelationSupports    RelationKind = "supports"
	RelationFollows     RelationKind = "follows"
)

// Relationship links a memory to another by ID.
type Relationship struct {
	TargetID string
	Kind     RelationKind
	Strength float64
}

// Memory is the durable unit of recall (spec §3). Fields are documented in
// the specification; Version increases strictly on every update (I1),
// AccessCount never decreases (I2), ExpiresAt is non-nil iff MemoryType is
// ShortTerm (I3).
type Memory struct {
	ID      string
	Content string
	Type    Type
	Category string
	Tags    []string

	Importance float64
	Confidence float64

	UserID    string
	SessionID string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	Version      int

	Metadata map[string]any
	Embedding []float32

	MemoryType Tier
	ExpiresAt  *time.Time

	ExtractedFrom string
	Relationships []Relationship

	// Consolidated marks a SHORT_TERM memory that has already been promoted
	// to LONG_TERM by the consolidation pass (spec §4.2 "Consolidation").
	// The source memory is retained until its natural expiry so it is not
	// re-consolidated or double-counted.
	Consolidated   bool
	ConsolidatedAt *time.Time

	// PreferenceKey names the explicit upsert key for USER_PREFERENCE
	// memories. When empty, preference upsert falls back to a
	// content-substring match against Content, matching the source's
	// ad-hoc behavior (spec §9 Open Questions).
	PreferenceKey string
}

// Clone returns a deep-enough copy of m so callers cannot mutate a store's
// internal state through a returned value (every Store implementation in
// this module returns clones from reads).
func (m Memory) Clone() Memory {
	c := m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Metadata != nil {
		md := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		c.Metadata = md
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Relationships != nil {
		c.Relationships = append([]Relationship(nil), m.Relationships...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	if m.ConsolidatedAt != nil {
		t := *m.ConsolidatedAt
		c.ConsolidatedAt = &t
	}
	return c
}
