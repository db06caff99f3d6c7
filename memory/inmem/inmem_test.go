package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/memory"
	"github.com/flowstack/agentcore/memory/inmem"
)

func TestInsertAndFindByID(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	id, err := s.Insert(ctx, memory.Memory{
		Content:    "user prefers dark mode",
		Type:       memory.TypePreference,
		UserID:     "u1",
		MemoryType: memory.UserPreference,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user prefers dark mode", got.Content)
	assert.Equal(t, 0, got.Version)
}

func TestFindByIDNotFound(t *testing.T) {
	s := inmem.New()
	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestUpdateIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	id, err := s.Insert(ctx, memory.Memory{Content: "v0", UserID: "u1"})
	require.NoError(t, err)

	ok, err := s.Update(ctx, id, map[string]any{"content": "v1"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Content)
	assert.Equal(t, 1, got.Version)

	ok, err = s.Update(ctx, id, map[string]any{"content": "v2"})
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateMissingReturnsErrNotFound(t *testing.T) {
	s := inmem.New()
	ok, err := s.Update(context.Background(), "missing", map[string]any{"content": "x"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	id, err := s.Insert(ctx, memory.Memory{Content: "x", UserID: "u1"})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryPredicatesAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	base := time.Now().Add(-time.Hour)
	for i, c := range []string{"alpha fact", "beta fact", "gamma fact"} {
		_, err := s.Insert(ctx, memory.Memory{
			Content:    c,
			UserID:     "u1",
			MemoryType: memory.LongTerm,
			Importance: float64(i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, memory.Memory{
		Content:    "other user fact",
		UserID:     "u2",
		MemoryType: memory.LongTerm,
		CreatedAt:  base,
	})
	require.NoError(t, err)

	results, err := s.Query(ctx, memory.Query{
		Predicates: []memory.Predicate{
			memory.Equals(memory.FieldUserID, "u1"),
			memory.Equals(memory.FieldMemoryType, string(memory.LongTerm)),
		},
		OrderBy: &memory.OrderBy{Field: memory.FieldImportance, Desc: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "gamma fact", results[0].Content)
	assert.Equal(t, "alpha fact", results[2].Content)
}

func TestQuerySemanticExcludesZeroScore(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	_, _ = s.Insert(ctx, memory.Memory{Content: "likes pizza on fridays", UserID: "u1"})
	_, _ = s.Insert(ctx, memory.Memory{Content: "completely unrelated note", UserID: "u1"})

	results, err := s.Query(ctx, memory.Query{
		Predicates: []memory.Predicate{memory.Equals(memory.FieldUserID, "u1")},
		Semantic:   &memory.Semantic{Text: "pizza fridays"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "likes pizza on fridays", results[0].Content)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	for i := 0; i < 3; i++ {
		_, _ = s.Insert(ctx, memory.Memory{Content: "x", UserID: "u1"})
	}
	_, _ = s.Insert(ctx, memory.Memory{Content: "x", UserID: "u2"})

	n, err := s.Count(ctx, []memory.Predicate{memory.Equals(memory.FieldUserID, "u1")})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
