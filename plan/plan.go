// Package plan implements the Planning Agent (spec §4.3): given a session's
// request, loaded memories, tool inventory, and sub-agent inventory, it
// produces a Plan by prompting the model, parsing its response through the
// three-stage semistruct precedence, and normalizing/validating the result.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flowstack/agentcore/errs"
	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/memory"
	"github.com/flowstack/agentcore/semistruct"
	"github.com/flowstack/agentcore/task"
	"github.com/flowstack/agentcore/telemetry"
	"github.com/flowstack/agentcore/toolregistry"
)

// maxToolTurns bounds how many tool-use round-trips Plan allows before
// forcing a final, tool-less completion (spec §4.4 "Tool access" loop,
// ground: runtime/agent/planner/planner.go's Plan/PlanResume contract). The
// Planning Agent is not scoped like a sub-agent, so it calls the full
// catalogue directly rather than going through an allow-list.
const maxToolTurns = 4

// SubAgentDescriptor names one sub-agent kind advertised in the system
// rubric (spec §4.3 step 1).
type SubAgentDescriptor struct {
	Name        string
	Description string
}

// Plan is the Planning Agent's output (spec §3 "Plan").
type Plan struct {
	NeedsPlanning     bool
	DirectAction      string
	Analysis          string
	Tasks             []task.Task
	ExecutionStrategy string
	RiskAssessment    string
}

// Request bundles everything the Planning Agent's prompt is built from
// (spec §4.3 step 1).
type Request struct {
	UserID      string
	SessionID   string
	Text        string
	Preferences []memory.Memory
	LongTerm    []memory.Memory
	ShortTerm   []memory.Memory
}

// Agent is the Planning Agent.
type Agent struct {
	llm       llm.Client
	tools     *toolregistry.Registry
	memory    *memory.Manager
	subAgents []SubAgentDescriptor
	now       func() time.Time
	logger    telemetry.Logger
}

// Options configures an Agent. Tools and Memory may be nil: write_todos
// mirroring and planning_result recording are then skipped (best-effort
// per spec §4.3 steps 5-6).
type Options struct {
	LLM       llm.Client
	Tools     *toolregistry.Registry
	Memory    *memory.Manager
	SubAgents []SubAgentDescriptor
	Now       func() time.Time
	Logger    telemetry.Logger
}

// NewAgent constructs an Agent.
func NewAgent(opts Options) (*Agent, error) {
	if opts.LLM == nil {
		return nil, errs.New(errs.KindInternal, "planning", "llm client is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Agent{
		llm:       opts.LLM,
		tools:     opts.Tools,
		memory:    opts.Memory,
		subAgents: opts.SubAgents,
		now:       now,
		logger:    logger,
	}, nil
}

// Degraded is the fixed degraded-mode plan spec §4.3 "Failure semantics"
// names for when the Fallback Manager has put the planning component into
// DEGRADED mode: no planning, the raw request treated as direct action.
func Degraded(requestText string) Plan {
	return Plan{NeedsPlanning: false, DirectAction: requestText}
}

// Plan builds a prompt from req, streams the model's response, and parses
// it into a Plan. It never returns an error for LLM or parse failures —
// those degrade to the documented one-task fallback plan (spec §4.3
// "Failure semantics: any LLM/parse failure yields the fallback one-task
// plan, so planning never throws"). Plan only returns an error when its own
// precondition is unmet: an already-canceled or expired ctx.
func (a *Agent) Plan(ctx context.Context, req Request) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}

	raw, err := a.converse(ctx, req, llm.Options{
		Temperature: 0.3,
		MaxTokens:   4096,
	})
	var p Plan
	if err != nil {
		a.logger.Warn(ctx, "planning llm call failed, using fallback plan", "component", "planning", "err", err)
		p = fallbackPlan()
	} else if parsed, ok := parsePlan(raw, req.Text); ok {
		p = parsed
	} else {
		a.logger.Warn(ctx, "planning output unparseable, using fallback plan", "component", "planning")
		p = fallbackPlan()
	}

	p = a.normalize(p)
	if err := validate(p); err != nil {
		a.logger.Warn(ctx, "planning output failed validation, using fallback plan", "component", "planning", "err", err)
		p = a.normalize(fallbackPlan())
	}

	a.mirrorTodos(ctx, req, p)
	a.recordPlanningResult(ctx, req, p)
	return p, nil
}

// converse drives the request/tool-use/response loop the Planning Agent's
// turn runs under (spec §4.4 "Tool access": sub-agents invoke tools via the
// Tool Registry contract — the Planning Agent, not being scoped to any
// sub-agent's allow-list, invokes the full catalogue the same way). Each
// model-requested ToolUsePart is executed through the registry and fed back
// as a ToolResultPart for a further turn, up to maxToolTurns, after which a
// final tool-less completion forces an answer.
func (a *Agent) converse(ctx context.Context, req Request, opts llm.Options) (string, error) {
	if a.tools != nil {
		opts.Tools = toolDefinitions(a.tools.GetAll())
	}
	messages := []*llm.Message{llm.Text(a.buildPrompt(req))}

	for i := 0; i < maxToolTurns; i++ {
		turn, err := llm.RunTurn(ctx, a.llm, messages, opts)
		if err != nil {
			return "", err
		}
		if len(turn.ToolUses) == 0 || a.tools == nil {
			return turn.Text, nil
		}

		assistantParts := make([]llm.Part, 0, len(turn.ToolUses)+1)
		if turn.Text != "" {
			assistantParts = append(assistantParts, llm.TextPart{Text: turn.Text})
		}
		for _, tu := range turn.ToolUses {
			assistantParts = append(assistantParts, tu)
		}
		messages = append(messages, &llm.Message{Role: llm.RoleAssistant, Parts: assistantParts})

		resultParts := make([]llm.Part, 0, len(turn.ToolUses))
		for _, tu := range turn.ToolUses {
			params, _ := tu.Input.(map[string]any)
			out, err := a.tools.Execute(ctx, tu.Name, params, toolregistry.CallContext{UserID: req.UserID})
			if err != nil {
				resultParts = append(resultParts, llm.ToolResultPart{ToolUseID: tu.ID, Content: err.Error(), IsError: true})
				continue
			}
			resultParts = append(resultParts, llm.ToolResultPart{ToolUseID: tu.ID, Content: out})
		}
		messages = append(messages, &llm.Message{Role: llm.RoleUser, Parts: resultParts})
	}

	return llm.Complete(ctx, a.llm, messages, llm.Options{Temperature: opts.Temperature, MaxTokens: opts.MaxTokens})
}

// toolDefinitions converts specs into the wire shape llm.Options.Tools
// expects, decoding each Spec's raw JSON Schema into the InputSchema any.
func toolDefinitions(specs []toolregistry.Spec) []llm.ToolDefinition {
	if len(specs) == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		var schema any
		if len(s.Parameters) > 0 {
			if err := json.Unmarshal(s.Parameters, &schema); err != nil {
				schema = nil
			}
		}
		defs = append(defs, llm.ToolDefinition{Name: s.Name, Description: s.Description, InputSchema: schema})
	}
	return defs
}

func (a *Agent) normalize(p Plan) Plan {
	now := a.now()
	for i := range p.Tasks {
		p.Tasks[i].Normalize(now)
	}
	return p
}

// validate enforces P1 (topologically sortable on dependencies) and T2
// (dependencies reference known tasks) before a Plan is handed to the
// Orchestrator.
func validate(p Plan) error {
	if !p.NeedsPlanning || len(p.Tasks) == 0 {
		return nil
	}
	_, err := task.TopoSort(p.Tasks)
	return err
}

func (a *Agent) mirrorTodos(ctx context.Context, req Request, p Plan) {
	if !p.NeedsPlanning || a.tools == nil || !a.tools.Has("write_todos") {
		return
	}
	todos := make([]any, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		todos = append(todos, t.Content)
	}
	if _, err := a.tools.Execute(ctx, "write_todos", map[string]any{"todos": todos}, toolregistry.CallContext{UserID: req.UserID}); err != nil {
		a.logger.Warn(ctx, "write_todos mirror failed", "component", "planning", "err", err)
	}
}

func (a *Agent) recordPlanningResult(ctx context.Context, req Request, p Plan) {
	if a.memory == nil {
		return
	}
	content := p.Analysis
	if content == "" {
		content = p.DirectAction
	}
	_, err := a.memory.AddShortTermMemory(ctx, memory.Memory{
		Content:   content,
		Type:      memory.TypePlanningResult,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Metadata: map[string]any{
			"executionStrategy": p.ExecutionStrategy,
			"taskCount":         len(p.Tasks),
		},
	})
	if err != nil {
		a.logger.Warn(ctx, "planning result memory write failed", "component", "planning", "err", err)
	}
}

func (a *Agent) buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are the planning component of an autonomous multi-agent system. ")
	b.WriteString("Decide whether the request needs decomposition into a task plan or can be answered directly. ")
	b.WriteString("Tasks must be independently actionable, scoped to one sub-agent, and carry a measurable success criterion.\n\n")

	if len(a.subAgents) > 0 {
		b.WriteString("Available sub-agent kinds:\n")
		for _, sa := range a.subAgents {
			fmt.Fprintf(&b, "- %s: %s\n", sa.Name, sa.Description)
		}
		b.WriteString("\n")
	}
	if a.tools != nil {
		if specs := a.tools.GetAll(); len(specs) > 0 {
			b.WriteString("Available tools:\n")
			for _, s := range specs {
				fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
			}
			b.WriteString("\n")
		}
	}
	writeMemoryList(&b, "User preferences", req.Preferences)
	writeMemoryList(&b, "Long-term context", req.LongTerm)
	writeMemoryList(&b, "Recent context", req.ShortTerm)

	fmt.Fprintf(&b, "User request: %s\n\n", req.Text)
	b.WriteString(outputContract)
	return b.String()
}

func writeMemoryList(b *strings.Builder, heading string, memories []memory.Memory) {
	if len(memories) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, m := range memories {
		fmt.Fprintf(b, "- %s\n", m.Content)
	}
	b.WriteString("\n")
}

const outputContract = "Respond with a single fenced ```json``` block containing either:\n\n" +
	`{"needsPlanning": false, "directAction": "<direct response to the request>"}` + "\n\n" +
	"or:\n\n" +
	`{
  "needsPlanning": true,
  "analysis": "<brief analysis>",
  "tasks": [
    {"id": "t1", "content": "...", "priority": "high|medium|low", "estimatedDuration": "...", "assignedSubAgent": "...", "requiredTools": ["..."], "dependencies": [], "successCriteria": "..."}
  ],
  "executionStrategy": "...",
  "riskAssessment": "..."
}` + "\n"

// planDTO is the wire shape parsePlan decodes from a semistruct.Document's
// Fields (spec §4.3 step 1's "output contract").
type planDTO struct {
	NeedsPlanning     *bool     `json:"needsPlanning"`
	DirectAction      string    `json:"directAction"`
	Analysis          string    `json:"analysis"`
	Tasks             []taskDTO `json:"tasks"`
	ExecutionStrategy string    `json:"executionStrategy"`
	RiskAssessment    string    `json:"riskAssessment"`
}

type taskDTO struct {
	ID                string   `json:"id"`
	Content           string   `json:"content"`
	Priority          string   `json:"priority"`
	EstimatedDuration string   `json:"estimatedDuration"`
	AssignedSubAgent  string   `json:"assignedSubAgent"`
	RequiredTools     []string `json:"requiredTools"`
	Dependencies      []string `json:"dependencies"`
	SuccessCriteria   string   `json:"successCriteria"`
}

func parsePlan(raw, requestText string) (Plan, bool) {
	doc := semistruct.Parse(raw)
	switch doc.Stage {
	case semistruct.StageFencedBlock, semistruct.StageWholePayload:
		var dto planDTO
		if err := doc.Decode(&dto); err != nil {
			return Plan{}, false
		}
		return dtoToPlan(dto), true
	case semistruct.StageKeywordScraper:
		return keywordPlan(doc.Text, requestText), true
	default:
		return Plan{}, false
	}
}

func dtoToPlan(dto planDTO) Plan {
	needsPlanning := len(dto.Tasks) > 0
	if dto.NeedsPlanning != nil {
		needsPlanning = *dto.NeedsPlanning
	}
	p := Plan{
		NeedsPlanning:     needsPlanning,
		DirectAction:      dto.DirectAction,
		Analysis:          dto.Analysis,
		ExecutionStrategy: dto.ExecutionStrategy,
		RiskAssessment:    dto.RiskAssessment,
	}
	for _, td := range dto.Tasks {
		p.Tasks = append(p.Tasks, task.Task{
			ID:                td.ID,
			Content:           td.Content,
			Priority:          task.ParsePriority(td.Priority),
			AssignedSubAgent:  td.AssignedSubAgent,
			RequiredTools:     td.RequiredTools,
			Dependencies:      td.Dependencies,
			SuccessCriteria:   td.SuccessCriteria,
			EstimatedDuration: td.EstimatedDuration,
		})
	}
	return p
}

// keywordPlan implements spec §4.3 step 3(iii): the text-extraction
// fallback that scans for needsPlanning/directAction/analysis and yields a
// one-task plan with a general-purpose assignment.
func keywordPlan(text map[string]string, requestText string) Plan {
	analysis := text["analysis"]
	if v, ok := text["directAction"]; ok && !semistruct.Bool(text["needsPlanning"]) {
		return Plan{NeedsPlanning: false, DirectAction: v, Analysis: analysis}
	}
	content := requestText
	if analysis != "" {
		content = analysis
	}
	return Plan{
		NeedsPlanning: true,
		Analysis:      analysis,
		Tasks: []task.Task{{
			ID:               "t1",
			Content:          content,
			AssignedSubAgent: "general-purpose",
		}},
	}
}

// fallbackPlan implements spec §4.3 step 3(iv): "if everything fails,
// produce a single fallback task".
func fallbackPlan() Plan {
	return Plan{
		NeedsPlanning: true,
		Tasks: []task.Task{{
			ID:               "t1",
			Content:          "Process user request",
			AssignedSubAgent: "general-purpose",
		}},
	}
}
