package transcript_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowstack/agentcore/task"
	"github.com/flowstack/agentcore/transcript"
)

func TestRecordTurnOrdersTextToolUseText(t *testing.T) {
	l := transcript.NewLedger()
	l.RecordTurn(task.Task{Content: "research x"}, task.Result{Result: "found it", ToolsUsed: []string{"search"}})

	parts := l.Parts()
	if assert.Len(t, parts, 3) {
		assert.Equal(t, transcript.KindText, parts[0].Kind)
		assert.Equal(t, "user", parts[0].Role)
		assert.Equal(t, "research x", parts[0].Text)

		assert.Equal(t, transcript.KindToolUse, parts[1].Kind)
		assert.Equal(t, "search", parts[1].ToolName)

		assert.Equal(t, transcript.KindText, parts[2].Kind)
		assert.Equal(t, "assistant", parts[2].Role)
		assert.Equal(t, "found it", parts[2].Text)
	}
}

func TestRecordTurnSkipsEmptyResultText(t *testing.T) {
	l := transcript.NewLedger()
	l.RecordTurn(task.Task{Content: "do x"}, task.Result{})
	assert.Len(t, l.Parts(), 1)
}

func TestAppendToolUseAssignsDistinctIDs(t *testing.T) {
	l := transcript.NewLedger()
	id1 := l.AppendToolUse("search")
	id2 := l.AppendToolUse("search")
	assert.NotEqual(t, id1, id2)
}

func TestRenderIncludesToolResultStatus(t *testing.T) {
	l := transcript.NewLedger()
	id := l.AppendToolUse("search")
	l.AppendToolResult(id, "no matches", true)
	out := l.Render()
	assert.True(t, strings.Contains(out, "called search"))
	assert.True(t, strings.Contains(out, "error"))
}
