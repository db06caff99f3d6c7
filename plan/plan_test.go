package plan_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/config"
	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/memory"
	"github.com/flowstack/agentcore/memory/inmem"
	"github.com/flowstack/agentcore/plan"
	"github.com/flowstack/agentcore/toolregistry"
)

type fakeLLM struct {
	text     string
	err      error
	toolUses []llm.ToolUsePart

	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	return f.text, f.err
}

// Stream returns a one-shot fakeStreamer so callers that always invoke it
// via llm.Complete/llm.RunTurn (never Complete directly) get the same
// canned response. toolUses, if set, is only requested on the first call —
// every subsequent turn (after tool results are fed back) returns text only.
func (f *fakeLLM) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	if f.calls > 1 {
		return &fakeStreamer{text: f.text}, nil
	}
	return &fakeStreamer{text: f.text, toolUses: f.toolUses}, nil
}

type fakeStreamer struct {
	text     string
	toolUses []llm.ToolUsePart
	i        int
	sentText bool
}

func (s *fakeStreamer) Recv() (llm.Chunk, error) {
	if !s.sentText {
		s.sentText = true
		if len(s.toolUses) == 0 {
			return llm.Chunk{Text: s.text, Done: true}, nil
		}
		return llm.Chunk{Text: s.text}, nil
	}
	if s.i < len(s.toolUses) {
		tu := s.toolUses[s.i]
		s.i++
		return llm.Chunk{ToolUse: &tu, Done: s.i == len(s.toolUses)}, nil
	}
	return llm.Chunk{}, io.EOF
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

func TestPlanParsesFencedPlanningBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"needsPlanning\": true, \"analysis\": \"two steps\", \"tasks\": [{\"id\": \"t1\", \"content\": \"research topic\", \"assignedSubAgent\": \"research-agent\"}, {\"id\": \"t2\", \"content\": \"write summary\", \"dependencies\": [\"t1\"]}]}\n```"
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: raw}, Memory: newTestMemory(t)})
	require.NoError(t, err)

	p, err := a.Plan(context.Background(), plan.Request{UserID: "u1", SessionID: "s1", Text: "do research and summarize"})
	require.NoError(t, err)
	assert.True(t, p.NeedsPlanning)
	require.Len(t, p.Tasks, 2)
	assert.Equal(t, "research-agent", p.Tasks[0].AssignedSubAgent)
	for _, tk := range p.Tasks {
		assert.False(t, tk.CreatedAt.IsZero())
	}
}

func TestPlanParsesDirectActionShape(t *testing.T) {
	raw := `{"needsPlanning": false, "directAction": "The answer is 42."}`
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: raw}})
	require.NoError(t, err)

	p, err := a.Plan(context.Background(), plan.Request{Text: "what is the answer"})
	require.NoError(t, err)
	assert.False(t, p.NeedsPlanning)
	assert.Equal(t, "The answer is 42.", p.DirectAction)
}

func TestPlanFallsBackOnLLMFailure(t *testing.T) {
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{err: assertErr{}}})
	require.NoError(t, err)

	p, err := a.Plan(context.Background(), plan.Request{Text: "anything"})
	require.NoError(t, err)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, "Process user request", p.Tasks[0].Content)
	assert.Equal(t, "general-purpose", p.Tasks[0].AssignedSubAgent)
}

func TestPlanFallsBackOnUnparseableOutput(t *testing.T) {
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: "I'm not sure what to say here."}})
	require.NoError(t, err)

	p, err := a.Plan(context.Background(), plan.Request{Text: "anything"})
	require.NoError(t, err)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, "Process user request", p.Tasks[0].Content)
}

func TestPlanFallsBackOnCyclicDependencies(t *testing.T) {
	raw := `{"needsPlanning": true, "tasks": [{"id": "a", "dependencies": ["b"]}, {"id": "b", "dependencies": ["a"]}]}`
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: raw}})
	require.NoError(t, err)

	p, err := a.Plan(context.Background(), plan.Request{Text: "anything"})
	require.NoError(t, err)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, "Process user request", p.Tasks[0].Content)
}

func TestPlanRejectsCanceledContext(t *testing.T) {
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: "{}"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Plan(ctx, plan.Request{Text: "anything"})
	assert.Error(t, err)
}

func TestPlanInvokesRegisteredToolDuringConversation(t *testing.T) {
	reg := toolregistry.New()
	var gotQuery string
	require.NoError(t, reg.Register(toolregistry.Spec{Name: "web_search"}, func(_ context.Context, params map[string]any, _ toolregistry.CallContext) (any, error) {
		gotQuery, _ = params["query"].(string)
		return "result: agentcore is a framework", nil
	}))

	raw := `{"needsPlanning": false, "directAction": "agentcore is a framework"}`
	a, err := plan.NewAgent(plan.Options{
		LLM: &fakeLLM{
			text: raw,
			toolUses: []llm.ToolUsePart{
				{ID: "call1", Name: "web_search", Input: map[string]any{"query": "what is agentcore"}},
			},
		},
		Tools: reg,
	})
	require.NoError(t, err)

	p, err := a.Plan(context.Background(), plan.Request{Text: "what is agentcore"})
	require.NoError(t, err)
	assert.Equal(t, "agentcore is a framework", p.DirectAction)
	assert.Equal(t, "what is agentcore", gotQuery)
}

func TestPlanMirrorsTodosWhenToolRegistered(t *testing.T) {
	var gotTodos []any
	reg := toolregistry.New()
	require.NoError(t, reg.Register(toolregistry.Spec{Name: "write_todos"}, func(ctx context.Context, params map[string]any, call toolregistry.CallContext) (any, error) {
		gotTodos, _ = params["todos"].([]any)
		return nil, nil
	}))

	raw := `{"needsPlanning": true, "tasks": [{"id": "t1", "content": "step one"}]}`
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: raw}, Tools: reg})
	require.NoError(t, err)

	_, err = a.Plan(context.Background(), plan.Request{Text: "anything"})
	require.NoError(t, err)
	require.Len(t, gotTodos, 1)
	assert.Equal(t, "step one", gotTodos[0])
}

func TestPlanRecordsPlanningResultMemory(t *testing.T) {
	mem := newTestMemory(t)
	raw := `{"needsPlanning": true, "analysis": "summary of approach", "tasks": [{"id": "t1", "content": "step one"}]}`
	a, err := plan.NewAgent(plan.Options{LLM: &fakeLLM{text: raw}, Memory: mem, Now: func() time.Time { return time.Unix(0, 0) }})
	require.NoError(t, err)

	_, err = a.Plan(context.Background(), plan.Request{UserID: "u1", SessionID: "s1", Text: "anything"})
	require.NoError(t, err)

	items, err := mem.GetShortTermMemories(context.Background(), "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, memory.TypePlanningResult, items[0].Type)
	assert.Equal(t, "summary of approach", items[0].Content)
}

func TestDegradedPlanHasNoTasks(t *testing.T) {
	p := plan.Degraded("please summarize")
	assert.False(t, p.NeedsPlanning)
	assert.Equal(t, "please summarize", p.DirectAction)
	assert.Empty(t, p.Tasks)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
