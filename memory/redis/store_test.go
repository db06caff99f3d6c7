package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowstack/agentcore/memory"
	memoryredis "github.com/flowstack/agentcore/memory/redis"
)

var (
	testClient    *goredis.Client
	testContainer testcontainers.Container
	skipTests     bool
)

func setupRedis(t *testing.T) {
	t.Helper()
	if testClient != nil || skipTests {
		return
	}
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "6379")
	if err != nil {
		skipTests = true
		return
	}
	testClient = goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testClient.Ping(ctx).Err(); err != nil {
		skipTests = true
	}
}

func newStore(t *testing.T) *memoryredis.Store {
	t.Helper()
	setupRedis(t)
	if skipTests {
		t.Skip("Docker not available, skipping Redis memory store test")
	}
	require.NoError(t, testClient.FlushDB(context.Background()).Err())
	s, err := memoryredis.New(memoryredis.Options{Redis: testClient, KeyPrefix: "test:" + t.Name() + ":"})
	require.NoError(t, err)
	return s
}

func TestStoreInsertRespectsTTL(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	exp := time.Now().Add(50 * time.Millisecond)

	id, err := s.Insert(ctx, memory.Memory{
		Content:    "short lived fact",
		UserID:     "u1",
		MemoryType: memory.ShortTerm,
		ExpiresAt:  &exp,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "short lived fact", got.Content)

	time.Sleep(200 * time.Millisecond)
	_, err = s.FindByID(ctx, id)
	require.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStoreQueryByUserID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, c := range []string{"note one", "note two"} {
		_, err := s.Insert(ctx, memory.Memory{Content: c, UserID: "u1", MemoryType: memory.ShortTerm, CreatedAt: time.Now()})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, memory.Memory{Content: "other", UserID: "u2", MemoryType: memory.ShortTerm, CreatedAt: time.Now()})
	require.NoError(t, err)

	results, err := s.Query(ctx, memory.Query{Predicates: []memory.Predicate{memory.Equals(memory.FieldUserID, "u1")}})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestStoreUpdateAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id, err := s.Insert(ctx, memory.Memory{Content: "v0", UserID: "u1", MemoryType: memory.ShortTerm, CreatedAt: time.Now()})
	require.NoError(t, err)

	ok, err := s.Update(ctx, id, map[string]any{"content": "v1"})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "v1", got.Content)
	require.Equal(t, 1, got.Version)

	ok, err = s.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.FindByID(ctx, id)
	require.ErrorIs(t, err, memory.ErrNotFound)
}
