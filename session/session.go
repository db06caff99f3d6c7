// Package session implements the Session Orchestrator (spec §4.5): the
// top-level entry point that turns one user request into a finished
// response by loading memory context, planning, dispatching sub-agents,
// and persisting what happened — never propagating an error, only ever
// returning a Result.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowstack/agentcore/config"
	"github.com/flowstack/agentcore/errs"
	"github.com/flowstack/agentcore/fallback"
	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/memory"
	"github.com/flowstack/agentcore/observer"
	"github.com/flowstack/agentcore/plan"
	"github.com/flowstack/agentcore/semistruct"
	"github.com/flowstack/agentcore/subagent"
	"github.com/flowstack/agentcore/task"
	"github.com/flowstack/agentcore/telemetry"
	"github.com/flowstack/agentcore/toolregistry"
	"github.com/flowstack/agentcore/transcript"
)

// Request is one inbound user request (spec §4.5 step 1: "Build Session
// {id, userId, request, files, …}").
type Request struct {
	UserID    string
	SessionID string
	Text      string
	Files     []toolregistry.FileInfo
}

// Result is the Orchestrator's only output shape (spec §4.5 step 6 /
// "Error semantics": every path, success or failure, produces this).
type Result struct {
	Success        bool
	Response       string
	Duration       time.Duration
	MemoriesStored int
	SubAgentsUsed  []string
	TodosCompleted int
	Files          []toolregistry.FileInfo
	Error          string
}

// Orchestrator is the Session Orchestrator.
type Orchestrator struct {
	planner   *plan.Agent
	subAgents *subagent.Manager
	memory    *memory.Manager
	fallback  *fallback.Manager
	llm       llm.Client
	bus       *observer.Bus
	now       func() time.Time
	newID     func() string
	logger    telemetry.Logger
}

// Options configures an Orchestrator. Memory, Bus, and LLM may be nil: the
// corresponding steps (persistence, eventing, long-term extraction) are
// then skipped.
type Options struct {
	Planner   *plan.Agent
	SubAgents *subagent.Manager
	Memory    *memory.Manager
	Fallback  *fallback.Manager
	LLM       llm.Client
	Bus       *observer.Bus
	Now       func() time.Time
	NewID     func() string
	Logger    telemetry.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Planner == nil {
		return nil, errs.New(errs.KindInternal, "session", "planning agent is required")
	}
	if opts.SubAgents == nil {
		return nil, errs.New(errs.KindInternal, "session", "sub-agent manager is required")
	}
	if opts.Fallback == nil {
		return nil, errs.New(errs.KindInternal, "session", "fallback manager is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return fmt.Sprintf("session-%d", now().UnixNano()) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{
		planner:   opts.Planner,
		subAgents: opts.SubAgents,
		memory:    opts.Memory,
		fallback:  opts.Fallback,
		llm:       opts.LLM,
		bus:       opts.Bus,
		now:       now,
		newID:     newID,
		logger:    logger,
	}, nil
}

// Handle runs the full request lifecycle (spec §4.5 steps 1-6) and always
// returns a Result — it never propagates an error to the caller.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (result Result) {
	start := o.now()
	defer func() {
		result.Duration = o.now().Sub(start)
		if r := recover(); r != nil {
			result = Result{Success: false, Error: fmt.Sprintf("panic: %v", r), Duration: o.now().Sub(start)}
		}
	}()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.newID()
	}

	search := o.loadMemories(ctx, req, sessionID)
	p := o.planTask(ctx, req, sessionID, search)
	o.publish(ctx, observer.NewPlanningCreatedEvent(len(p.Tasks)))

	ledger := transcript.NewLedger()
	results, subAgentsUsed, todosCompleted := o.executeTasks(ctx, req, sessionID, p, ledger)

	response := synthesizeResponse(p, results)
	memoriesStored := o.persist(ctx, req, sessionID, response, subAgentsUsed, todosCompleted, ledger)

	return Result{
		Success:        true,
		Response:       response,
		MemoriesStored: memoriesStored,
		SubAgentsUsed:  subAgentsUsed,
		TodosCompleted: todosCompleted,
		Files:          req.Files,
	}
}

func (o *Orchestrator) publish(ctx context.Context, evt observer.Event) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, evt); err != nil {
		o.logger.Warn(ctx, "session: observer rejected event", "event", evt.Type(), "err", err)
	}
}

// loadMemories implements spec §4.5 step 2. A search failure degrades to an
// empty SearchResult rather than aborting the request.
func (o *Orchestrator) loadMemories(ctx context.Context, req Request, sessionID string) memory.SearchResult {
	if o.memory == nil {
		return memory.SearchResult{}
	}
	fres := o.fallback.Execute(ctx, fallback.Context{
		Component:     config.ComponentMemory,
		OperationType: "searchWithContext",
	}, func(ctx context.Context) (any, error) {
		return o.memory.SearchWithContext(ctx, req.Text, req.UserID, memory.SearchOptions{})
	})
	if !fres.Success {
		o.logger.Warn(ctx, "session: memory search failed", "err", fres.Err)
		return memory.SearchResult{}
	}
	res, _ := fres.Value.(memory.SearchResult)
	return res
}

// planTask implements spec §4.5 step 3: Plan via the Planning Agent,
// wrapped in Fallback(component=planning, strategy=DEGRADED). Degraded mode
// yields plan.Degraded(req.Text): no task breakdown, the raw request
// treated as direct action.
func (o *Orchestrator) planTask(ctx context.Context, req Request, sessionID string, search memory.SearchResult) plan.Plan {
	fres := o.fallback.Execute(ctx, fallback.Context{
		Component:     config.ComponentPlanning,
		OperationType: "plan",
		Strategy:      config.StrategyDegraded,
		DegradedHandler: func(err error, ctx context.Context) (any, error) {
			return plan.Degraded(req.Text), nil
		},
	}, func(ctx context.Context) (any, error) {
		return o.planner.Plan(ctx, plan.Request{
			UserID:      req.UserID,
			SessionID:   sessionID,
			Text:        req.Text,
			Preferences: search.Preferences,
			LongTerm:    search.LongTerm,
			ShortTerm:   search.ShortTerm,
		})
	})
	if !fres.Success {
		return plan.Degraded(req.Text)
	}
	p, _ := fres.Value.(plan.Plan)
	return p
}

// executeTasks implements spec §4.5 step 4. With a non-empty task list,
// tasks run in dependency order (T1: one in_progress at a time, T2:
// dependencies run first); a task whose dependency failed is marked
// blocked and skipped rather than attempted (an Open Question spec.md
// leaves unresolved — see DESIGN.md). With no tasks, the general-purpose
// sub-agent runs once against the whole request/direct action.
func (o *Orchestrator) executeTasks(ctx context.Context, req Request, sessionID string, p plan.Plan, ledger *transcript.Ledger) ([]task.Result, []string, int) {
	sc := subagent.Context{UserID: req.UserID, Files: req.Files}

	if !p.NeedsPlanning || len(p.Tasks) == 0 {
		content := p.DirectAction
		if content == "" {
			content = req.Text
		}
		t := task.Task{ID: "direct", Content: content, Status: task.StatusInProgress}
		res := o.runTask(ctx, t, sc)
		ledger.RecordTurn(t, res)
		o.publish(ctx, observer.NewSubAgentCompletedEvent(res.SubAgent, res.ExecutionTime.Milliseconds(), res.Success))
		used := []string{}
		if res.SubAgent != "" {
			used = append(used, res.SubAgent)
		}
		return []task.Result{res}, used, 0
	}

	ordered, err := task.TopoSort(p.Tasks)
	if err != nil {
		// Already validated by the Planning Agent; defensive only.
		ordered = p.Tasks
	}
	byID := make(map[string]*task.Task, len(ordered))
	for i := range ordered {
		ordered[i].Status = task.StatusPending
		byID[ordered[i].ID] = &ordered[i]
	}

	var (
		results        []task.Result
		subAgentsUsed  []string
		todosCompleted int
		seenSubAgent   = make(map[string]bool)
	)
	for i := range ordered {
		t := &ordered[i]
		if !t.DependenciesSatisfied(byID) {
			t.Status = task.StatusBlocked
			res := task.Result{Success: false, Issues: "dependency failed"}
			results = append(results, res)
			continue
		}
		t.Status = task.StatusInProgress
		res := o.runTask(ctx, *t, sc)
		ledger.RecordTurn(*t, res)
		o.publish(ctx, observer.NewSubAgentCompletedEvent(res.SubAgent, res.ExecutionTime.Milliseconds(), res.Success))

		if res.Success {
			t.Status = task.StatusCompleted
			todosCompleted++
		} else {
			t.Status = task.StatusFailed
		}
		t.Result = &res
		results = append(results, res)
		if res.SubAgent != "" && !seenSubAgent[res.SubAgent] {
			seenSubAgent[res.SubAgent] = true
			subAgentsUsed = append(subAgentsUsed, res.SubAgent)
		}
	}
	return results, subAgentsUsed, todosCompleted
}

// runTask dispatches one task through Fallback(component=subAgents,
// strategy=ALTERNATIVE) with a general-purpose alternative and a degraded
// handler returning {success:false, degraded:true} (spec §4.5 step 4).
func (o *Orchestrator) runTask(ctx context.Context, t task.Task, sc subagent.Context) task.Result {
	fres := o.fallback.Execute(ctx, fallback.Context{
		Component:     config.ComponentSubAgents,
		OperationType: "execute",
		Alternatives: []fallback.Alternative{{
			Name: "general-purpose-fallback",
			Execute: func(ctx context.Context) (any, error) {
				res := o.subAgents.ExecuteAs(ctx, "general-purpose", t, sc)
				if !res.Success {
					return nil, errs.Errorf(errs.KindInternal, "subAgents", "general-purpose fallback failed: %s", res.Error)
				}
				return res, nil
			},
		}},
		DegradedHandler: func(err error, ctx context.Context) (any, error) {
			return task.Result{Success: false, Degraded: true, Error: err.Error()}, nil
		},
	}, func(ctx context.Context) (any, error) {
		res := o.subAgents.Execute(ctx, t, sc)
		if !res.Success {
			return nil, errs.Errorf(errs.KindInternal, "subAgents", "sub-agent task failed: %s", res.Error)
		}
		return res, nil
	})
	if res, ok := fres.Value.(task.Result); ok {
		return res
	}
	return task.Result{Success: false, Error: "sub-agent execution produced no result"}
}

// synthesizeResponse decides the user-visible response text: every
// successful task's result concatenated in execution order, falling back
// to the plan's own direct-action text (for example the raw request, in
// degraded mode) if no task produced any, and a final fixed failure
// message if nothing at all is available (an Open Question left
// unresolved — see DESIGN.md).
func synthesizeResponse(p plan.Plan, results []task.Result) string {
	var parts []string
	for _, r := range results {
		if r.Success && r.Result != "" {
			parts = append(parts, r.Result)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	if p.DirectAction != "" {
		return p.DirectAction
	}
	return "The request could not be completed."
}

// persist implements spec §4.5 step 5: one SHORT_TERM memory recording the
// turn, plus best-effort LONG_TERM extraction via a fixed extractor rubric.
func (o *Orchestrator) persist(ctx context.Context, req Request, sessionID, response string, subAgentsUsed []string, todosCompleted int, ledger *transcript.Ledger) int {
	if o.memory == nil {
		return 0
	}
	stored := 0
	_, err := o.memory.AddShortTermMemory(ctx, memory.Memory{
		Content:   req.Text,
		Type:      memory.TypeConversation,
		UserID:    req.UserID,
		SessionID: sessionID,
		Metadata: map[string]any{
			"response":        response,
			"subAgentsUsed":   subAgentsUsed,
			"todosCompleted":  todosCompleted,
			"fileCount":       len(req.Files),
		},
	})
	if err != nil {
		o.logger.Warn(ctx, "session: short-term memory write failed", "err", err)
	} else {
		stored++
	}

	stored += o.extractLongTermMemories(ctx, req, sessionID, response, ledger)
	return stored
}

// extractLongTermMemories prompts the model with a fixed extractor rubric
// (spec §4.5 step 5: "request, response, context") and stores each
// returned {type, content, importance} as a LONG_TERM memory. Failure at
// any stage is logged and otherwise ignored — extraction is additive, not
// required for a successful turn.
func (o *Orchestrator) extractLongTermMemories(ctx context.Context, req Request, sessionID, response string, ledger *transcript.Ledger) int {
	if o.llm == nil || o.memory == nil {
		return 0
	}
	raw, err := llm.Complete(ctx, o.llm, []*llm.Message{llm.Text(buildExtractorPrompt(req.Text, response, ledger.Render()))}, llm.Options{
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		o.logger.Warn(ctx, "session: memory extraction llm call failed", "err", err)
		return 0
	}
	doc := semistruct.Parse(raw)
	if doc.Stage != semistruct.StageFencedBlock && doc.Stage != semistruct.StageWholePayload {
		return 0
	}
	var dto extractorDTO
	if err := doc.Decode(&dto); err != nil {
		o.logger.Warn(ctx, "session: memory extraction output unparseable", "err", err)
		return 0
	}

	stored := 0
	for _, m := range dto.Memories {
		if m.Content == "" {
			continue
		}
		_, err := o.memory.AddLongTermMemory(ctx, memory.Memory{
			Content:    m.Content,
			Type:       memory.Type(m.Type),
			Importance: m.Importance,
			UserID:     req.UserID,
			SessionID:  sessionID,
		})
		if err != nil {
			o.logger.Warn(ctx, "session: long-term memory write failed", "err", err)
			continue
		}
		stored++
	}
	return stored
}

const extractorOutputContract = "Respond with a single fenced ```json``` block:\n\n" +
	`{"memories": [{"type": "fact|interest|preference|extracted_fact", "content": "...", "importance": 0.0}]}` + "\n"

func buildExtractorPrompt(request, response, transcriptText string) string {
	var b strings.Builder
	b.WriteString("Extract any durable facts, interests, or preferences worth remembering from this exchange. ")
	b.WriteString("Only include items that would still be useful in a future, unrelated conversation.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", request)
	fmt.Fprintf(&b, "Response: %s\n", response)
	if transcriptText != "" {
		fmt.Fprintf(&b, "Context:\n%s\n", transcriptText)
	}
	b.WriteString("\n")
	b.WriteString(extractorOutputContract)
	return b.String()
}

type extractorDTO struct {
	Memories []extractedMemoryDTO `json:"memories"`
}

type extractedMemoryDTO struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}
