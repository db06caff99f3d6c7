package session_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/config"
	"github.com/flowstack/agentcore/fallback"
	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/memory"
	"github.com/flowstack/agentcore/memory/inmem"
	"github.com/flowstack/agentcore/observer"
	"github.com/flowstack/agentcore/plan"
	"github.com/flowstack/agentcore/session"
	"github.com/flowstack/agentcore/subagent"
)

type fakeLLM struct {
	texts []string
	i     int
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(f.texts) == 0 {
		return "", nil
	}
	t := f.texts[f.i%len(f.texts)]
	f.i++
	return t, nil
}

// Stream returns a one-shot fakeStreamer cycling through f.texts, since
// production code always drains the model through Stream (llm.Complete,
// llm.RunTurn), never calls Complete directly.
func (f *fakeLLM) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	if f.err != nil {
		return nil, f.err
	}
	var text string
	if len(f.texts) > 0 {
		text = f.texts[f.i%len(f.texts)]
		f.i++
	}
	return &fakeStreamer{text: text}, nil
}

type fakeStreamer struct {
	text string
	sent bool
}

func (s *fakeStreamer) Recv() (llm.Chunk, error) {
	if s.sent {
		return llm.Chunk{}, io.EOF
	}
	s.sent = true
	return llm.Chunk{Text: s.text, Done: true}, nil
}

func (s *fakeStreamer) Close() error { return nil }

func newTestMemory(t *testing.T) *memory.Manager {
	t.Helper()
	m, err := memory.NewManager(memory.Options{
		ShortTerm:   inmem.New(),
		LongTerm:    inmem.New(),
		Preferences: inmem.New(),
		Config:      config.Defaults(),
	})
	require.NoError(t, err)
	return m
}

func newTestOrchestrator(t *testing.T, planText, subText string, mem *memory.Manager) *session.Orchestrator {
	t.Helper()
	planner, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{texts: []string{planText}}, Memory: mem})
	require.NoError(t, err)
	subAgents, err := subagent.NewManager(subagent.Options{LLM: &fakeLLM{texts: []string{subText}}, Memory: mem})
	require.NoError(t, err)
	fb := fallback.NewManager(fallback.Options{Config: config.Defaults()})
	orch, err := session.NewOrchestrator(session.Options{
		Planner:   planner,
		SubAgents: subAgents,
		Memory:    mem,
		Fallback:  fb,
		Bus:       observer.NewBus(),
		Now:       func() time.Time { return time.Unix(0, 0) },
	})
	require.NoError(t, err)
	return orch
}

func TestHandleDirectActionPath(t *testing.T) {
	orch := newTestOrchestrator(t,
		`{"needsPlanning": false, "directAction": "please answer"}`,
		`{"success": true, "result": "42"}`,
		nil,
	)
	res := orch.Handle(context.Background(), session.Request{UserID: "u1", Text: "what is the answer"})
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Response)
	assert.Equal(t, 0, res.TodosCompleted)
}

func TestHandleTaskPlanPath(t *testing.T) {
	planText := `{"needsPlanning": true, "tasks": [{"id": "t1", "content": "research x", "assignedSubAgent": "research-agent"}, {"id": "t2", "content": "write report", "assignedSubAgent": "content-agent", "dependencies": ["t1"]}]}`
	subText := `{"success": true, "result": "step done"}`
	orch := newTestOrchestrator(t, planText, subText, nil)

	res := orch.Handle(context.Background(), session.Request{UserID: "u1", Text: "research and report"})
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TodosCompleted)
	assert.Contains(t, res.Response, "step done")
	assert.ElementsMatch(t, []string{"research-agent", "content-agent"}, res.SubAgentsUsed)
}

func TestHandleSkipsTaskWithFailedDependency(t *testing.T) {
	planText := `{"needsPlanning": true, "tasks": [{"id": "t1", "content": "research x"}, {"id": "t2", "content": "write report", "dependencies": ["t1"]}]}`
	orch := newTestOrchestrator(t, planText, `{"success": false, "result": ""}`, nil)

	res := orch.Handle(context.Background(), session.Request{UserID: "u1", Text: "research and report"})
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.TodosCompleted)
}

func TestHandlePersistsShortTermMemory(t *testing.T) {
	mem := newTestMemory(t)
	orch := newTestOrchestrator(t,
		`{"needsPlanning": false, "directAction": "please answer"}`,
		`{"success": true, "result": "42"}`,
		mem,
	)
	res := orch.Handle(context.Background(), session.Request{UserID: "u1", SessionID: "s1", Text: "what is the answer"})
	require.True(t, res.Success)
	assert.GreaterOrEqual(t, res.MemoriesStored, 1)

	items, err := mem.GetShortTermMemories(context.Background(), "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "what is the answer", items[0].Content)
}

func TestHandleNeverReturnsError(t *testing.T) {
	planner, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{err: assertErr{}}})
	require.NoError(t, err)
	subAgents, err := subagent.NewManager(subagent.Options{LLM: &fakeLLM{err: assertErr{}}})
	require.NoError(t, err)
	fb := fallback.NewManager(fallback.Options{Config: config.Defaults()})
	orch, err := session.NewOrchestrator(session.Options{Planner: planner, SubAgents: subAgents, Fallback: fb})
	require.NoError(t, err)

	res := orch.Handle(context.Background(), session.Request{UserID: "u1", Text: "anything"})
	assert.True(t, res.Success || res.Error != "")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
