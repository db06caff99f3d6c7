package openai_test

import (
	"context"
	"errors"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/llm/openai"
)

type fakeChat struct {
	resp *oai.ChatCompletion
	err  error
}

func (f *fakeChat) New(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error) {
	return f.resp, f.err
}
func (f *fakeChat) NewStreaming(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk] {
	return nil
}

func TestNewRequiresModelAndClient(t *testing.T) {
	_, err := openai.New(nil, openai.Options{DefaultModel: "gpt-4o"})
	assert.Error(t, err)

	_, err = openai.New(&fakeChat{}, openai.Options{})
	assert.Error(t, err)
}

func TestCompleteReturnsFirstChoiceContent(t *testing.T) {
	resp := &oai.ChatCompletion{Choices: []oai.ChatCompletionChoice{
		{Message: oai.ChatCompletionMessage{Content: "hello world"}},
	}}
	c, err := openai.New(&fakeChat{resp: resp}, openai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCompleteReturnsEmptyWithNoChoices(t *testing.T) {
	c, err := openai.New(&fakeChat{resp: &oai.ChatCompletion{}}, openai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestCompleteClassifiesRateLimitError(t *testing.T) {
	c, err := openai.New(&fakeChat{err: &oai.Error{StatusCode: 429}}, openai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorKindRateLimited, pe.Kind)
	assert.True(t, pe.Retryable)
}

func TestCompletePropagatesUnclassifiedError(t *testing.T) {
	c, err := openai.New(&fakeChat{err: errors.New("boom")}, openai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorKindUnknown, pe.Kind)
}
