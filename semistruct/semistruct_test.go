package semistruct_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/semistruct"
)

func TestParseFencedJSONBlock(t *testing.T) {
	raw := "Sure, here's the plan:\n```json\n{\"analysis\": \"needs two steps\", \"needsPlanning\": true}\n```\nLet me know if that works."

	doc := semistruct.Parse(raw)
	require.Equal(t, semistruct.StageFencedBlock, doc.Stage)
	assert.Equal(t, "needs two steps", doc.Fields["analysis"])
	assert.Equal(t, true, doc.Fields["needsPlanning"])
}

func TestParseWholePayloadJSON(t *testing.T) {
	raw := `  {"result": "done", "success": true}  `

	doc := semistruct.Parse(raw)
	require.Equal(t, semistruct.StageWholePayload, doc.Stage)
	assert.Equal(t, "done", doc.Fields["result"])
}

func TestParseKeywordScraperFallback(t *testing.T) {
	raw := "Thinking about this...\nneedsPlanning: true\ndirectAction: summarize the findings\nanalysis: the request is simple\nsome unrelated line"

	doc := semistruct.Parse(raw)
	require.Equal(t, semistruct.StageKeywordScraper, doc.Stage)
	assert.Equal(t, "true", doc.Text["needsPlanning"])
	assert.Equal(t, "summarize the findings", doc.Text["directAction"])
	assert.Equal(t, "the request is simple", doc.Text["analysis"])
	assert.True(t, semistruct.Bool(doc.Text["needsPlanning"]))
}

func TestParseUnrecognizedInputFallsBack(t *testing.T) {
	doc := semistruct.Parse("The model rambled about nothing useful in particular.")
	assert.Equal(t, semistruct.StageFallback, doc.Stage)
	assert.Nil(t, doc.Fields)
	assert.Nil(t, doc.Text)
}

func TestParseNeverPanicsOnMalformedFencedBlock(t *testing.T) {
	assert.NotPanics(t, func() {
		semistruct.Parse("```json\n{not valid json\n```")
	})
}

func TestDecodeRoundTripsIntoTypedStruct(t *testing.T) {
	type planOutput struct {
		Analysis          string `json:"analysis"`
		ExecutionStrategy string `json:"executionStrategy"`
	}
	doc := semistruct.Parse(`{"analysis": "two tasks", "executionStrategy": "sequential"}`)
	require.Equal(t, semistruct.StageWholePayload, doc.Stage)

	var out planOutput
	require.NoError(t, doc.Decode(&out))
	assert.Equal(t, "two tasks", out.Analysis)
	assert.Equal(t, "sequential", out.ExecutionStrategy)
}

func TestDecodeWithoutFieldsReturnsError(t *testing.T) {
	doc := semistruct.Document{Stage: semistruct.StageFallback}
	var out map[string]any
	assert.Error(t, doc.Decode(&out))
}
