// Package subagent implements the Sub-Agent Manager of spec §4.4: a small
// registry of named sub-agent kinds, each scoped to a tool allow-list, that
// the Session Orchestrator dispatches Plan tasks to. Selection follows the
// spec's keyword rule; execution renders a per-kind prompt template, streams
// the model, and parses the response through the same semistruct precedence
// the Planning Agent uses.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowstack/agentcore/agentid"
	"github.com/flowstack/agentcore/errs"
	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/memory"
	"github.com/flowstack/agentcore/semistruct"
	"github.com/flowstack/agentcore/task"
	"github.com/flowstack/agentcore/telemetry"
	"github.com/flowstack/agentcore/toolregistry"
)

// maxToolTurns bounds how many tool-use round-trips ExecuteAs allows before
// forcing a final, tool-less completion (spec §4.4 "Tool access" loop,
// ground: runtime/agent/planner/planner.go's Plan/PlanResume contract).
const maxToolTurns = 4

// Descriptor is one sub-agent kind's static definition (spec §4.4: "name,
// description, a tool allow-list (* = any), a priority, and a system prompt
// template").
type Descriptor struct {
	Name           agentid.Ident
	Description    string
	AllowedTools   []string // "*" permits any registered tool
	Priority       int
	PromptTemplate string
}

// Stats is the running per-sub-agent counter set (spec §4.4 "Per-sub-agent
// statistics": tasks executed, a running average execution time, and a
// running success rate).
type Stats struct {
	TasksExecuted    int
	AvgExecutionTime time.Duration
	SuccessRate      float64
}

// Context carries the session-scoped state a sub-agent's prompt and tool
// calls need. It is deliberately narrower than a full session type to avoid
// a subagent→session import cycle; the session package constructs one of
// these per dispatch.
type Context struct {
	UserID string
	Files  []toolregistry.FileInfo
}

type registeredAgent struct {
	desc Descriptor

	statsMu sync.Mutex
	stats   Stats
}

// Manager holds the registered sub-agent kinds and dispatches tasks to them.
type Manager struct {
	llm    llm.Client
	tools  *toolregistry.Registry
	memory *memory.Manager
	now    func() time.Time
	logger telemetry.Logger

	mu     sync.RWMutex
	agents map[agentid.Ident]*registeredAgent
}

// Options configures a Manager. Tools and Memory may be nil: tool access and
// search-context gathering are then skipped.
type Options struct {
	LLM    llm.Client
	Tools  *toolregistry.Registry
	Memory *memory.Manager
	Now    func() time.Time
	Logger telemetry.Logger
	// Extra lists additional sub-agent kinds beyond the five built-ins
	// (spec §6.5 `subAgents`), for example operator-defined ones loaded
	// from configuration.
	Extra []Descriptor
}

// NewManager builds a Manager seeded with the five built-in sub-agent kinds
// (spec §4.4) plus any Extra descriptors from Options.
func NewManager(opts Options) (*Manager, error) {
	if opts.LLM == nil {
		return nil, errs.New(errs.KindInternal, "subagent", "llm client is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	m := &Manager{
		llm:    opts.LLM,
		tools:  opts.Tools,
		memory: opts.Memory,
		now:    now,
		logger: logger,
		agents: make(map[agentid.Ident]*registeredAgent),
	}
	for _, d := range builtinDescriptors() {
		m.Register(d)
	}
	for _, d := range opts.Extra {
		m.Register(d)
	}
	return m, nil
}

// Register adds or replaces a sub-agent kind.
func (m *Manager) Register(d Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[d.Name] = &registeredAgent{desc: d}
}

// Descriptors returns every registered sub-agent's static definition, for
// the Planning Agent's system rubric (spec §4.3 step 1).
func (m *Manager) Descriptors() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Descriptor, 0, len(m.agents))
	for _, ra := range m.agents {
		out = append(out, ra.desc)
	}
	return out
}

// Stats returns a snapshot of one sub-agent's running counters.
func (m *Manager) Stats(name agentid.Ident) (Stats, bool) {
	ra, ok := m.agentFor(name)
	if !ok {
		return Stats{}, false
	}
	ra.statsMu.Lock()
	defer ra.statsMu.Unlock()
	return ra.stats, true
}

func (m *Manager) agentFor(name agentid.Ident) (*registeredAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ra, ok := m.agents[name]
	return ra, ok
}

// builtinDescriptors returns the five sub-agent kinds spec §4.4 names.
func builtinDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:         "general-purpose",
			Description:  "Handles any task that does not fit a more specialized sub-agent.",
			AllowedTools: []string{"*"},
			Priority:     0,
			PromptTemplate: "You are a general-purpose assistant completing one task from a larger plan. " +
				"Use whatever context and tools are available. Be concrete and cite what you did.",
		},
		{
			Name:         "research-agent",
			Description:  "Researches, analyzes, and investigates topics using available tools and memory.",
			AllowedTools: []string{"*"},
			Priority:     1,
			PromptTemplate: "You are a research sub-agent. Investigate the task thoroughly, cite sources " +
				"from tool results where available, and summarize findings.",
		},
		{
			Name:         "code-agent",
			Description:  "Writes, edits, and debugs code.",
			AllowedTools: []string{"*"},
			Priority:     1,
			PromptTemplate: "You are a coding sub-agent. Produce correct, minimal code for the task and " +
				"explain any non-obvious decisions.",
		},
		{
			Name:         "data-agent",
			Description:  "Performs data analysis, statistics, and calculations.",
			AllowedTools: []string{"*"},
			Priority:     1,
			PromptTemplate: "You are a data-analysis sub-agent. Compute precisely, show your method, and " +
				"flag any assumptions made about the input data.",
		},
		{
			Name:         "content-agent",
			Description:  "Writes, edits, and documents content and reports.",
			AllowedTools: []string{"*"},
			Priority:     1,
			PromptTemplate: "You are a content-writing sub-agent. Produce clear, well-structured prose for " +
				"the task's audience.",
		},
	}
}

// Select implements spec §4.4's selection rule: an explicit
// task.AssignedSubAgent wins if it names a registered kind; otherwise the
// task's content is classified by keyword, falling back to general-purpose.
func (m *Manager) Select(t task.Task) agentid.Ident {
	if t.AssignedSubAgent != "" {
		if _, ok := m.agentFor(agentid.Ident(t.AssignedSubAgent)); ok {
			return agentid.Ident(t.AssignedSubAgent)
		}
	}
	return classify(t.Content)
}

type keywordRule struct {
	agent    agentid.Ident
	keywords []string
}

var keywordRules = []keywordRule{
	{"research-agent", []string{"research", "analyze", "investigate"}},
	{"code-agent", []string{"code", "program", "debug", "function", "class"}},
	{"data-agent", []string{"data", "statistics", "chart", "calculate"}},
	{"content-agent", []string{"write", "edit", "document", "report"}},
}

func classify(content string) agentid.Ident {
	lower := strings.ToLower(content)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.agent
			}
		}
	}
	return "general-purpose"
}

// Execute dispatches t to the sub-agent Select(t) names (spec §4.4's
// execution contract: gather bounded memory context, filter tools by the
// sub-agent's allow-list, render the prompt, stream and parse the model's
// response). It never returns an error: a model failure yields a
// task.Result with Success false and Error set, and output that does not
// parse yields a successful task.Result carrying the raw text with Issues
// "non-conforming output".
func (m *Manager) Execute(ctx context.Context, t task.Task, sc Context) task.Result {
	return m.ExecuteAs(ctx, m.Select(t), t, sc)
}

// ExecuteAs runs t on the named sub-agent directly, bypassing Select. The
// Session Orchestrator uses this for its general-purpose fallback
// alternative (spec §4.4/§4.5: "alternatives=[general-purpose fallback]").
func (m *Manager) ExecuteAs(ctx context.Context, name agentid.Ident, t task.Task, sc Context) task.Result {
	start := m.now()
	ra, ok := m.agentFor(name)
	if !ok {
		ra, ok = m.agentFor("general-purpose")
		if !ok {
			return task.Result{Success: false, Error: "no sub-agent registered", SubAgent: string(name)}
		}
		name = "general-purpose"
	}

	search := m.searchContext(ctx, t, sc)
	allowedTools := m.filterTools(ra.desc.AllowedTools)
	prompt := renderPrompt(ra.desc, t, search, allowedTools, sc.Files)

	raw, toolsUsed, err := m.converse(ctx, name, sc, prompt, allowedTools, llm.Options{
		Temperature: 0.5,
		MaxTokens:   4096,
	})

	var result task.Result
	switch {
	case err != nil:
		m.logger.Warn(ctx, "sub-agent llm call failed", "component", "subAgents", "subAgent", name, "err", err)
		result = task.Result{Success: false, Error: err.Error()}
	default:
		if parsed, ok := parseResult(raw); ok {
			result = parsed
		} else {
			result = task.Result{Success: true, Result: raw, Issues: "non-conforming output"}
		}
	}
	if len(toolsUsed) > 0 {
		result.ToolsUsed = toolsUsed
	}
	result.SubAgent = string(name)
	result.ExecutionTime = m.now().Sub(start)
	ra.recordExecution(result.Success, result.ExecutionTime)
	return result
}

// converse drives the request/tool-use/response loop a sub-agent turn runs
// under (spec §4.4 "Tool access": sub-agents invoke tools via the Tool
// Registry contract). Each model-requested ToolUsePart is executed through
// InvokeTool (enforcing name's allow-list) and fed back as a ToolResultPart
// for a further turn, up to maxToolTurns, after which a final tool-less
// completion forces an answer. It returns the model's final text and the
// names of tools actually invoked, in invocation order.
func (m *Manager) converse(ctx context.Context, name agentid.Ident, sc Context, prompt string, allowedTools []toolregistry.Spec, opts llm.Options) (string, []string, error) {
	opts.Tools = toolDefinitions(allowedTools)
	messages := []*llm.Message{llm.Text(prompt)}
	var toolsUsed []string

	for i := 0; i < maxToolTurns; i++ {
		turn, err := llm.RunTurn(ctx, m.llm, messages, opts)
		if err != nil {
			return "", toolsUsed, err
		}
		if len(turn.ToolUses) == 0 {
			return turn.Text, toolsUsed, nil
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
			out, err := m.InvokeTool(ctx, name, tu.Name, params, sc)
			if err != nil {
				resultParts = append(resultParts, llm.ToolResultPart{ToolUseID: tu.ID, Content: err.Error(), IsError: true})
				continue
			}
			toolsUsed = append(toolsUsed, tu.Name)
			resultParts = append(resultParts, llm.ToolResultPart{ToolUseID: tu.ID, Content: out})
		}
		messages = append(messages, &llm.Message{Role: llm.RoleUser, Parts: resultParts})
	}

	final, err := llm.Complete(ctx, m.llm, messages, llm.Options{Temperature: opts.Temperature, MaxTokens: opts.MaxTokens})
	return final, toolsUsed, err
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

func (m *Manager) searchContext(ctx context.Context, t task.Task, sc Context) memory.SearchResult {
	if m.memory == nil {
		return memory.SearchResult{}
	}
	res, err := m.memory.SearchWithContext(ctx, t.Content, sc.UserID, memory.SearchOptions{})
	if err != nil {
		m.logger.Warn(ctx, "sub-agent memory search failed", "component", "subAgents", "err", err)
		return memory.SearchResult{}
	}
	return res
}

// filterTools narrows the full tool catalogue to what allow permits (spec
// §4.4 "Tool access": a sub-agent may not invoke a tool outside its
// allow-list; attempts are rejected locally without contacting the
// Registry). "*" permits everything.
func (m *Manager) filterTools(allow []string) []toolregistry.Spec {
	if m.tools == nil {
		return nil
	}
	all := m.tools.GetAll()
	if allowListPermits(allow, "*") {
		return all
	}
	out := make([]toolregistry.Spec, 0, len(all))
	for _, s := range all {
		if allowListPermits(allow, s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// allowListPermits implements the allow-list check grounded on the
// teacher's policy engine's isAllowed logic (features/policy/basic/engine.go),
// generalized from tag/tool-ID sets to this package's single tool-name
// allow-list with "*" wildcard semantics.
func allowListPermits(allow []string, tool string) bool {
	for _, a := range allow {
		if a == "*" || a == tool {
			return true
		}
	}
	return false
}

// InvokeTool runs toolName on behalf of the named sub-agent, enforcing its
// allow-list locally before ever reaching the Tool Registry (spec §4.4
// "Tool access").
func (m *Manager) InvokeTool(ctx context.Context, name agentid.Ident, toolName string, params map[string]any, sc Context) (any, error) {
	ra, ok := m.agentFor(name)
	if !ok {
		return nil, errs.Errorf(errs.KindUnauthorized, "subagent", "unknown sub-agent %q", name)
	}
	if !allowListPermits(ra.desc.AllowedTools, toolName) {
		return nil, errs.Errorf(errs.KindUnauthorized, "subagent", "%s is not permitted to call tool %q", name, toolName)
	}
	if m.tools == nil {
		return nil, errs.New(errs.KindInternal, "subagent", "tool registry is not configured")
	}
	return m.tools.Execute(ctx, toolName, params, toolregistry.CallContext{UserID: sc.UserID, VirtualFS: sc.Files})
}

func (ra *registeredAgent) recordExecution(success bool, dur time.Duration) {
	ra.statsMu.Lock()
	defer ra.statsMu.Unlock()
	n := ra.stats.TasksExecuted
	successes := ra.stats.SuccessRate * float64(n)
	if success {
		successes++
	}
	ra.stats.AvgExecutionTime = (ra.stats.AvgExecutionTime*time.Duration(n) + dur) / time.Duration(n+1)
	ra.stats.TasksExecuted = n + 1
	ra.stats.SuccessRate = successes / float64(ra.stats.TasksExecuted)
}

func renderPrompt(d Descriptor, t task.Task, search memory.SearchResult, tools []toolregistry.Spec, files []toolregistry.FileInfo) string {
	var b strings.Builder
	b.WriteString(d.PromptTemplate)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Task: %s\n", t.Content)
	if t.SuccessCriteria != "" {
		fmt.Fprintf(&b, "Success criteria: %s\n", t.SuccessCriteria)
	}
	b.WriteString("\n")

	writeMemoryList(&b, "Relevant short-term context", search.ShortTerm)
	writeMemoryList(&b, "Relevant long-term context", search.LongTerm)
	writeMemoryList(&b, "User preferences", search.Preferences)

	if len(tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, s := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
		b.WriteString("\n")
	}
	if len(files) > 0 {
		b.WriteString("Available files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", f.Name, f.Size)
		}
		b.WriteString("\n")
	}

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

const outputContract = "Respond with a single fenced ```json``` block:\n\n" +
	`{
  "success": true,
  "result": "<what you produced>",
  "explanation": "<brief explanation of how you got there>",
  "toolsUsed": ["..."],
  "recommendations": ["..."],
  "nextSteps": "...",
  "issues": ""
}` + "\n"

// resultDTO is the wire shape parseResult decodes from a semistruct.Document.
type resultDTO struct {
	Success         *bool    `json:"success"`
	Result          string   `json:"result"`
	Explanation     string   `json:"explanation"`
	ToolsUsed       []string `json:"toolsUsed"`
	Recommendations []string `json:"recommendations"`
	NextSteps       string   `json:"nextSteps"`
	Issues          string   `json:"issues"`
}

func parseResult(raw string) (task.Result, bool) {
	doc := semistruct.Parse(raw)
	switch doc.Stage {
	case semistruct.StageFencedBlock, semistruct.StageWholePayload:
		var dto resultDTO
		if err := doc.Decode(&dto); err != nil {
			return task.Result{}, false
		}
		success := true
		if dto.Success != nil {
			success = *dto.Success
		}
		return task.Result{
			Success:         success,
			Result:          dto.Result,
			Explanation:     dto.Explanation,
			ToolsUsed:       dto.ToolsUsed,
			Recommendations: dto.Recommendations,
			NextSteps:       dto.NextSteps,
			Issues:          dto.Issues,
		}, true
	case semistruct.StageKeywordScraper:
		success := true
		if v, ok := doc.Text["success"]; ok {
			success = semistruct.Bool(v)
		}
		return task.Result{
			Success: success,
			Result:  doc.Text["result"],
		}, true
	default:
		return task.Result{}, false
	}
}
