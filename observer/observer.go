// Package observer implements the Observer bus spec §9's Design Notes
// mandate: "Re-express [the source's string-keyed event emitters] as an
// explicit Observer interface with typed events (§6.4); subscribers
// register once; no dynamic event names." It emits the fixed event set spec
// §6.4 names; none of it is required for correctness, only observability.
package observer

import (
	"context"
	"sync"
)

// EventType identifies one of the fixed named events spec §6.4 lists.
type EventType string

const (
	EventMemoryInserted       EventType = "memory.inserted"
	EventMemoryUpdated        EventType = "memory.updated"
	EventMemoryDeleted        EventType = "memory.deleted"
	EventMemoriesConsolidated EventType = "memories.consolidated"
	EventMemoriesCleaned      EventType = "memories.cleaned"
	EventPlanningCreated      EventType = "planning.created"
	EventSubAgentCompleted    EventType = "subAgent.completed"
	EventCircuitOpened        EventType = "circuit.opened"
	EventCircuitClosed        EventType = "circuit.closed"
)

// Event is the interface every published event implements (ground:
// runtime/agent/hooks/events.go's Event interface, narrowed to the single
// field this module's events actually need beyond their typed payload).
type Event interface {
	Type() EventType
}

type baseEvent struct {
	eventType EventType
}

func (b baseEvent) Type() EventType { return b.eventType }

// MemoryInsertedEvent fires after a memory write (spec §6.4 `memory.inserted`).
type MemoryInsertedEvent struct {
	baseEvent
	ID     string
	UserID string
}

func NewMemoryInsertedEvent(id, userID string) *MemoryInsertedEvent {
	return &MemoryInsertedEvent{baseEvent{EventMemoryInserted}, id, userID}
}

// MemoryUpdatedEvent fires after a memory update, for example a preference
// upsert or a long-term conflict merge (spec §6.4 `memory.updated`).
type MemoryUpdatedEvent struct {
	baseEvent
	ID     string
	UserID string
}

func NewMemoryUpdatedEvent(id, userID string) *MemoryUpdatedEvent {
	return &MemoryUpdatedEvent{baseEvent{EventMemoryUpdated}, id, userID}
}

// MemoryDeletedEvent fires after a memory is removed, for example during
// cleanup (spec §6.4 `memory.deleted`).
type MemoryDeletedEvent struct {
	baseEvent
	ID     string
	UserID string
}

func NewMemoryDeletedEvent(id, userID string) *MemoryDeletedEvent {
	return &MemoryDeletedEvent{baseEvent{EventMemoryDeleted}, id, userID}
}

// MemoriesConsolidatedEvent fires after ConsolidateMemories runs (spec §6.4
// `memories.consolidated{user,count}`).
type MemoriesConsolidatedEvent struct {
	baseEvent
	UserID string
	Count  int
}

func NewMemoriesConsolidatedEvent(userID string, count int) *MemoriesConsolidatedEvent {
	return &MemoriesConsolidatedEvent{baseEvent{EventMemoriesConsolidated}, userID, count}
}

// MemoriesCleanedEvent fires after CleanupMemories runs (spec §6.4
// `memories.cleaned{count}`).
type MemoriesCleanedEvent struct {
	baseEvent
	Count int
}

func NewMemoriesCleanedEvent(count int) *MemoriesCleanedEvent {
	return &MemoriesCleanedEvent{baseEvent{EventMemoriesCleaned}, count}
}

// PlanningCreatedEvent fires after the Planning Agent produces a Plan (spec
// §6.4 `planning.created{taskCount}`).
type PlanningCreatedEvent struct {
	baseEvent
	TaskCount int
}

func NewPlanningCreatedEvent(taskCount int) *PlanningCreatedEvent {
	return &PlanningCreatedEvent{baseEvent{EventPlanningCreated}, taskCount}
}

// SubAgentCompletedEvent fires after a sub-agent finishes a task (spec §6.4
// `subAgent.completed{name,ms,success}`).
type SubAgentCompletedEvent struct {
	baseEvent
	Name         string
	Milliseconds int64
	Success      bool
}

func NewSubAgentCompletedEvent(name string, ms int64, success bool) *SubAgentCompletedEvent {
	return &SubAgentCompletedEvent{baseEvent{EventSubAgentCompleted}, name, ms, success}
}

// CircuitOpenedEvent fires when the Fallback Manager's circuit breaker trips
// for a component (spec §6.4 `circuit.opened{component}`).
type CircuitOpenedEvent struct {
	baseEvent
	Component string
}

func NewCircuitOpenedEvent(component string) *CircuitOpenedEvent {
	return &CircuitOpenedEvent{baseEvent{EventCircuitOpened}, component}
}

// CircuitClosedEvent fires when a tripped circuit breaker recovers (spec
// §6.4 `circuit.closed{component}`).
type CircuitClosedEvent struct {
	baseEvent
	Component string
}

func NewCircuitClosedEvent(component string) *CircuitClosedEvent {
	return &CircuitClosedEvent{baseEvent{EventCircuitClosed}, component}
}

// Subscriber reacts to published events (ground: runtime/agent/hooks/bus.go's
// Subscriber interface).
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a function to a Subscriber.
type SubscriberFunc func(ctx context.Context, event Event) error

func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// Subscription is returned by Bus.Register; closing it unregisters the
// subscriber. Close is idempotent.
type Subscription interface {
	Close()
}

// Bus publishes events to every currently registered subscriber,
// synchronously in the publisher's goroutine, stopping at the first
// subscriber error (ground: runtime/agent/hooks/bus.go's Bus, stripped of
// the teacher's Temporal-activity transport: this module's events never
// leave the process, spec §9's "no dynamic event names" mandate covers
// typed delivery, not cross-process replay).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]Subscriber
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*subscription]Subscriber)}
}

type subscription struct {
	bus  *Bus
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
}

// Register adds sub to the bus. Calling Register with a nil Subscriber is a
// no-op that returns a Subscription whose Close does nothing.
func (b *Bus) Register(sub Subscriber) Subscription {
	s := &subscription{bus: b}
	if sub == nil {
		return s
	}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s
}

// Publish delivers event to every subscriber registered at the time of the
// call, stopping at the first error.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
