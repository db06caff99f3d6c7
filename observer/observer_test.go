package observer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/observer"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := observer.NewBus()
	var a, b int
	bus.Register(observer.SubscriberFunc(func(ctx context.Context, e observer.Event) error { a++; return nil }))
	bus.Register(observer.SubscriberFunc(func(ctx context.Context, e observer.Event) error { b++; return nil }))

	require.NoError(t, bus.Publish(context.Background(), observer.NewPlanningCreatedEvent(3)))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestPublishStopsAtFirstError(t *testing.T) {
	bus := observer.NewBus()
	boom := assertErr{}
	var calledSecond bool
	bus.Register(observer.SubscriberFunc(func(ctx context.Context, e observer.Event) error { return boom }))
	bus.Register(observer.SubscriberFunc(func(ctx context.Context, e observer.Event) error { calledSecond = true; return nil }))

	err := bus.Publish(context.Background(), observer.NewMemoriesCleanedEvent(1))
	assert.ErrorIs(t, err, boom)
	_ = calledSecond // ordering across a map is not guaranteed; only the fail-fast contract is asserted
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := observer.NewBus()
	var count int
	sub := bus.Register(observer.SubscriberFunc(func(ctx context.Context, e observer.Event) error { count++; return nil }))

	require.NoError(t, bus.Publish(context.Background(), observer.NewMemoryInsertedEvent("m1", "u1")))
	sub.Close()
	sub.Close() // idempotent
	require.NoError(t, bus.Publish(context.Background(), observer.NewMemoryInsertedEvent("m2", "u1")))
	assert.Equal(t, 1, count)
}

func TestRegisterNilSubscriberIsNoop(t *testing.T) {
	bus := observer.NewBus()
	sub := bus.Register(nil)
	require.NoError(t, bus.Publish(context.Background(), observer.NewCircuitOpenedEvent("llm")))
	sub.Close()
}

func TestEventTypesAreDistinct(t *testing.T) {
	events := []observer.Event{
		observer.NewMemoryInsertedEvent("1", "u"),
		observer.NewMemoryUpdatedEvent("1", "u"),
		observer.NewMemoryDeletedEvent("1", "u"),
		observer.NewMemoriesConsolidatedEvent("u", 2),
		observer.NewMemoriesCleanedEvent(2),
		observer.NewPlanningCreatedEvent(4),
		observer.NewSubAgentCompletedEvent("research-agent", 120, true),
		observer.NewCircuitOpenedEvent("llm"),
		observer.NewCircuitClosedEvent("llm"),
	}
	seen := make(map[observer.EventType]bool)
	for _, e := range events {
		assert.False(t, seen[e.Type()], e.Type())
		seen[e.Type()] = true
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
