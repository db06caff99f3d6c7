// Package transcript records the ordered exchange of task/result turns
// within one session, so a later prompt (the extractor rubric, a follow-up
// sub-agent) can be built from exactly what happened without re-deriving it
// from scattered Task/Result structs.
package transcript

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flowstack/agentcore/task"
)

// PartKind identifies one fragment of a turn, in the canonical order a turn
// is recorded (ground: runtime/agent/transcript/ledger.go's
// thinking → tool_use → tool_result → text ordering, narrowed to the three
// kinds this module's Task/SubAgentResult exchanges actually produce).
type PartKind int

const (
	KindText PartKind = iota
	KindToolUse
	KindToolResult
)

// Part is one recorded fragment.
type Part struct {
	Kind      PartKind
	Role      string // "user" or "assistant"
	Text      string
	ToolUseID string
	ToolName  string
	Content   any
	IsError   bool
}

// Ledger accumulates Parts for one session in the order they must be
// replayed into a prompt. It is safe for concurrent use, though spec §5's
// scheduling model only ever has one task in_progress at a time within a
// session.
type Ledger struct {
	mu    sync.Mutex
	parts []Part
	seq   int
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{parts: make([]Part, 0, 8)}
}

// AppendText records a user or assistant text fragment.
func (l *Ledger) AppendText(role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parts = append(l.parts, Part{Kind: KindText, Role: role, Text: text})
}

// AppendToolUse records an assistant tool invocation, assigning it a
// ledger-local ID so a subsequent AppendToolResult can correlate to it.
func (l *Ledger) AppendToolUse(toolName string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := fmt.Sprintf("tu-%d", l.seq)
	l.parts = append(l.parts, Part{Kind: KindToolUse, Role: "assistant", ToolUseID: id, ToolName: toolName})
	return id
}

// AppendToolResult records the outcome of a prior tool invocation.
func (l *Ledger) AppendToolResult(toolUseID string, content any, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parts = append(l.parts, Part{Kind: KindToolResult, Role: "user", ToolUseID: toolUseID, Content: content, IsError: isError})
}

// RecordTurn appends one full task/result exchange in canonical order: the
// task's content as a user text part, one tool_use part per tool the
// sub-agent reported using, and the sub-agent's final text as an assistant
// part. No thinking/tool_result parts are recorded since task.Result
// carries no reasoning trace or per-call tool payload to replay.
func (l *Ledger) RecordTurn(t task.Task, res task.Result) {
	l.AppendText("user", t.Content)
	for _, tool := range res.ToolsUsed {
		l.AppendToolUse(tool)
	}
	if res.Result != "" {
		l.AppendText("assistant", res.Result)
	}
}

// Parts returns a copy of every recorded fragment in order.
func (l *Ledger) Parts() []Part {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Part, len(l.parts))
	copy(out, l.parts)
	return out
}

// Render flattens the ledger into a plain-text transcript suitable for
// inclusion in a prompt.
func (l *Ledger) Render() string {
	var b strings.Builder
	for _, p := range l.Parts() {
		switch p.Kind {
		case KindText:
			fmt.Fprintf(&b, "%s: %s\n", p.Role, p.Text)
		case KindToolUse:
			fmt.Fprintf(&b, "%s: [called %s]\n", p.Role, p.ToolName)
		case KindToolResult:
			status := "ok"
			if p.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "%s: [tool result %s: %v]\n", p.Role, status, p.Content)
		}
	}
	return b.String()
}
