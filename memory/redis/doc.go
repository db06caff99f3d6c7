package redis

import (
	"sort"
	"strings"
	"time"

	"github.com/flowstack/agentcore/memory"
)

// doc is the JSON shape stored as the Redis value. It carries most of
// memory.Memory's fields; Embedding, Relationships, Consolidated,
// ConsolidatedAt and PreferenceKey are not stored and read back as zero
// values.
type doc struct {
	ID            string                 `json:"id"`
	Content       string                 `json:"content"`
	Type          string                 `json:"type"`
	Category      string                 `json:"category,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Importance    float64                `json:"importance"`
	Confidence    float64                `json:"confidence"`
	UserID        string                 `json:"user_id"`
	SessionID     string                 `json:"session_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	LastAccessed  time.Time              `json:"last_accessed"`
	AccessCount   int                    `json:"access_count"`
	Version       int                    `json:"version"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
	MemoryType    string                 `json:"memory_type"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	ExtractedFrom string                 `json:"extracted_from,omitempty"`
}

func toDoc(m memory.Memory) doc {
	return doc{
		ID:            m.ID,
		Content:       m.Content,
		Type:          string(m.Type),
		Category:      m.Category,
		Tags:          m.Tags,
		Importance:    m.Importance,
		Confidence:    m.Confidence,
		UserID:        m.UserID,
		SessionID:     m.SessionID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		LastAccessed:  m.LastAccessed,
		AccessCount:   m.AccessCount,
		Version:       m.Version,
		Metadata:      m.Metadata,
		MemoryType:    string(m.MemoryType),
		ExpiresAt:     m.ExpiresAt,
		ExtractedFrom: m.ExtractedFrom,
	}
}

func fromDoc(d doc) memory.Memory {
	return memory.Memory{
		ID:            d.ID,
		Content:       d.Content,
		Type:          memory.Type(d.Type),
		Category:      d.Category,
		Tags:          d.Tags,
		Importance:    d.Importance,
		Confidence:    d.Confidence,
		UserID:        d.UserID,
		SessionID:     d.SessionID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		LastAccessed:  d.LastAccessed,
		AccessCount:   d.AccessCount,
		Version:       d.Version,
		Metadata:      d.Metadata,
		MemoryType:    memory.Tier(d.MemoryType),
		ExpiresAt:     d.ExpiresAt,
		ExtractedFrom: d.ExtractedFrom,
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
		case "accessCount":
			if n, ok := v.(int); ok {
				m.AccessCount = n
			}
		case "lastAccessed":
			if t, ok := v.(time.Time); ok {
				m.LastAccessed = t
			}
		case "updatedAt":
			if t, ok := v.(time.Time); ok {
				m.UpdatedAt = t
			}
		}
	}
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

func matchesAll(m memory.Memory, predicates []memory.Predicate) bool {
	for _, p := range predicates {
		if !matchesOne(m, p) {
			return false
		}
	}
	return true
}

func matchesOne(m memory.Memory, p memory.Predicate) bool {
	switch p.Field {
	case memory.FieldUserID:
		if p.Op == memory.OpEquals {
			return m.UserID == p.Value
		}
	case memory.FieldSessionID:
		if p.Op == memory.OpEquals {
			return m.SessionID == p.Value
		}
	case memory.FieldCategory:
		switch p.Op {
		case memory.OpEquals:
			return m.Category == p.Value
		case memory.OpContains:
			substr, _ := p.Value.(string)
			return strings.Contains(strings.ToLower(m.Category), strings.ToLower(substr))
		}
	case memory.FieldType:
		if p.Op == memory.OpEquals {
			return string(m.Type) == p.Value
		}
	case memory.FieldMemoryType:
		if p.Op == memory.OpEquals {
			return string(m.MemoryType) == p.Value
		}
	}
	return true
}

func sortChronological(items []memory.Memory, ob *memory.OrderBy) {
	if ob != nil && ob.Field == memory.FieldCreatedAt {
		sort.Slice(items, func(i, j int) bool {
			if ob.Desc {
				return items[i].CreatedAt.After(items[j].CreatedAt)
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
		return
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
}
