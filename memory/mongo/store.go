package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowstack/agentcore/memory"
)

// document is the BSON shape persisted for every Memory, regardless of
// tier. SHORT_TERM documents additionally rely on the expires_at TTL index
// created in ensureIndexes, mirroring memory/redis's native-TTL approach
// for deployments that keep all tiers in Mongo.
type document struct {
	ID            string              `bson:"_id"`
	Content       string              `bson:"content"`
	Type          string              `bson:"type"`
	Category      string              `bson:"category,omitempty"`
	Tags          []string            `bson:"tags,omitempty"`
	Importance    float64             `bson:"importance"`
	Confidence    float64             `bson:"confidence"`
	UserID        string              `bson:"user_id"`
	SessionID     string              `bson:"session_id,omitempty"`
	CreatedAt     time.Time           `bson:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at"`
	LastAccessed  time.Time           `bson:"last_accessed"`
	AccessCount   int                 `bson:"access_count"`
	Version       int                 `bson:"version"`
	Metadata      bson.M              `bson:"metadata,omitempty"`
	Embedding     []float32           `bson:"embedding,omitempty"`
	MemoryType    string              `bson:"memory_type"`
	ExpiresAt     *time.Time          `bson:"expires_at,omitempty"`
	ExtractedFrom string              `bson:"extracted_from,omitempty"`
	Relationships []relationshipDoc   `bson:"relationships,omitempty"`
	Consolidated   bool               `bson:"consolidated"`
	ConsolidatedAt *time.Time         `bson:"consolidated_at,omitempty"`
	PreferenceKey  string             `bson:"preference_key,omitempty"`
}

type relationshipDoc struct {
	TargetID string  `bson:"target_id"`
	Kind     string  `bson:"kind"`
	Strength float64 `bson:"strength"`
}

func toDocument(m memory.Memory) document {
	d := document{
		ID:             m.ID,
		Content:        m.Content,
		Type:           string(m.Type),
		Category:       m.Category,
		Tags:           m.Tags,
		Importance:     m.Importance,
		Confidence:     m.Confidence,
		UserID:         m.UserID,
		SessionID:      m.SessionID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		LastAccessed:   m.LastAccessed,
		AccessCount:    m.AccessCount,
		Version:        m.Version,
		Embedding:      m.Embedding,
		MemoryType:     string(m.MemoryType),
		ExpiresAt:      m.ExpiresAt,
		ExtractedFrom:  m.ExtractedFrom,
		Consolidated:   m.Consolidated,
		ConsolidatedAt: m.ConsolidatedAt,
		PreferenceKey:  m.PreferenceKey,
	}
	if m.Metadata != nil {
		d.Metadata = bson.M(m.Metadata)
	}
	for _, r := range m.Relationships {
		d.Relationships = append(d.Relationships, relationshipDoc{
			TargetID: r.TargetID,
			Kind:     string(r.Kind),
			Strength: r.Strength,
		})
	}
	return d
}

func fromDocument(d document) memory.Memory {
	m := memory.Memory{
		ID:             d.ID,
		Content:        d.Content,
		Type:           memory.Type(d.Type),
		Category:       d.Category,
		Tags:           d.Tags,
		Importance:     d.Importance,
		Confidence:     d.Confidence,
		UserID:         d.UserID,
		SessionID:      d.SessionID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		LastAccessed:   d.LastAccessed,
		AccessCount:    d.AccessCount,
		Version:        d.Version,
		Embedding:      d.Embedding,
		MemoryType:     memory.Tier(d.MemoryType),
		ExpiresAt:      d.ExpiresAt,
		ExtractedFrom:  d.ExtractedFrom,
		Consolidated:   d.Consolidated,
		ConsolidatedAt: d.ConsolidatedAt,
		PreferenceKey:  d.PreferenceKey,
	}
	if d.Metadata != nil {
		m.Metadata = map[string]any(d.Metadata)
	}
	for _, r := range d.Relationships {
		m.Relationships = append(m.Relationships, memory.Relationship{
			TargetID: r.TargetID,
			Kind:     memory.RelationKind(r.Kind),
			Strength: r.Strength,
		})
	}
	return m
}

// Insert persists entry, generating an ID via bson.NewObjectID if entry.ID
// is empty.
func (s *Store) Insert(ctx context.Context, entry memory.Memory) (string, error) {
	if entry.ID == "" {
		entry.ID = bson.NewObjectID().Hex()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := toDocument(entry)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// FindByID returns the memory identified by id.
func (s *Store) FindByID(ctx context.Context, id string) (memory.Memory, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return memory.Memory{}, memory.ErrNotFound
		}
		return memory.Memory{}, err
	}
	return fromDocument(doc), nil
}

// Update applies fields to the document identified by id via $set and
// increments version by exactly 1 atomically using findOneAndUpdate.
func (s *Store) Update(ctx context.Context, id string, fields map[string]any) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set := bson.M{}
	for k, v := range fields {
		set[toBSONKey(k)] = v
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	res := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update)
	var doc document
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, memory.ErrNotFound
		}
		return false, err
	}
	return true, nil
}

// Delete removes the document identified by id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// Count returns the number of documents matching predicates.
func (s *Store) Count(ctx context.Context, predicates []memory.Predicate) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter, err := buildFilter(predicates)
	if err != nil {
		return 0, err
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	return int(n), err
}

// Query evaluates q against the collection. Semantic and Similar scoring
// are applied client-side after the predicate filter narrows the
// candidate set, matching the baseline lexical Scorer mandated by spec §9;
// a production deployment may instead delegate Semantic to an Atlas Search
// index without changing this method's signature.
func (s *Store) Query(ctx context.Context, q memory.Query) ([]memory.Memory, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter, err := buildFilter(q.Predicates)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if q.OrderBy != nil {
		order := 1
		if q.OrderBy.Desc {
			order = -1
		}
		findOpts.SetSort(bson.D{{Key: toBSONKey(string(q.OrderBy.Field)), Value: order}})
	} else if q.Semantic == nil && q.Similar == nil {
		findOpts.SetSort(bson.D{{Key: "created_at", Value: 1}})
	}

	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	results := make([]memory.Memory, len(docs))
	for i, d := range docs {
		results[i] = fromDocument(d)
	}

	scores := map[string]float64{}
	if q.Semantic != nil {
		scorer := q.Scorer
		if scorer == nil {
			scorer = memory.DefaultScorer{}
		}
		filtered := results[:0:0]
		for _, m := range results {
			sc := scorer.Score(m.Content, q.Semantic.Text)
			if sc <= 0 {
				continue
			}
			scores[m.ID] = sc
			filtered = append(filtered, m)
		}
		results = filtered
	}
	if q.Similar != nil {
		filtered := results[:0:0]
		for _, m := range results {
			sc := memory.CosineSimilarity(m.Embedding, q.Similar.Vector)
			if sc < q.Similar.Threshold {
				continue
			}
			scores[m.ID] = sc
			filtered = append(filtered, m)
		}
		results = filtered
	}
	if len(scores) > 0 && q.OrderBy == nil {
		sortByScore(results, scores)
	}

	if q.Offset > 0 {
		if q.Offset >= len(results) {
			return []memory.Memory{}, nil
		}
		results = results[q.Offset:]
	}
	limit := q.Limit
	if q.Semantic != nil && q.Semantic.Limit > 0 && (limit == 0 || q.Semantic.Limit < limit) {
		limit = q.Semantic.Limit
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func sortByScore(items []memory.Memory, scores map[string]float64) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && scores[items[j-1].ID] < scores[items[j].ID]; j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
}

func buildFilter(predicates []memory.Predicate) (bson.M, error) {
	filter := bson.M{}
	for _, p := range predicates {
		key := toBSONKey(string(p.Field))
		switch p.Op {
		case memory.OpEquals:
			filter[key] = p.Value
		case memory.OpNotEqual:
			filter[key] = bson.M{"$ne": p.Value}
		case memory.OpLess:
			filter[key] = bson.M{"$lt": p.Value}
		case memory.OpLessEq:
			filter[key] = bson.M{"$lte": p.Value}
		case memory.OpGreater:
			filter[key] = bson.M{"$gt": p.Value}
		case memory.OpGreaterEq:
			filter[key] = bson.M{"$gte": p.Value}
		case memory.OpContains:
			if p.Field == memory.FieldTags {
				filter[key] = p.Value
			} else {
				filter[key] = bson.M{"$regex": p.Value, "$options": "i"}
			}
		case memory.OpIn:
			filter[key] = bson.M{"$in": p.Set}
		case memory.OpBetween:
			filter[key] = bson.M{"$gte": p.Low, "$lte": p.High}
		default:
			return nil, errors.New("memory/mongo: unsupported operator " + string(p.Op))
		}
	}
	return filter, nil
}

func toBSONKey(field string) string {
	switch field {
	case "createdAt":
		return "created_at"
	case "updatedAt":
		return "updated_at"
	case "lastAccessed":
		return "last_accessed"
	case "accessCount":
		return "access_count"
	case "consolidatedAt":
		return "consolidated_at"
	}
	return field
}
