package anthropic_test

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/llm/anthropic"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}
func (f *fakeMessages) NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func TestNewRequiresModelAndClient(t *testing.T) {
	_, err := anthropic.New(nil, anthropic.Options{DefaultModel: "claude-3"})
	assert.Error(t, err)

	_, err = anthropic.New(&fakeMessages{}, anthropic.Options{})
	assert.Error(t, err)
}

func TestCompleteConcatenatesTextBlocks(t *testing.T) {
	resp := &sdk.Message{Content: []sdk.ContentBlockUnion{
		{Type: "text", Text: "hello "},
		{Type: "text", Text: "world"},
	}}
	c, err := anthropic.New(&fakeMessages{resp: resp}, anthropic.Options{DefaultModel: "claude-3"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCompleteRequiresMessages(t *testing.T) {
	c, err := anthropic.New(&fakeMessages{}, anthropic.Options{DefaultModel: "claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), nil, llm.Options{})
	assert.Error(t, err)
}

func TestCompleteClassifiesRateLimitError(t *testing.T) {
	c, err := anthropic.New(&fakeMessages{err: &sdk.Error{StatusCode: 429}}, anthropic.Options{DefaultModel: "claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorKindRateLimited, pe.Kind)
	assert.True(t, pe.Retryable)
}

func TestCompletePropagatesUnclassifiedError(t *testing.T) {
	c, err := anthropic.New(&fakeMessages{err: errors.New("boom")}, anthropic.Options{DefaultModel: "claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorKindUnknown, pe.Kind)
	assert.False(t, pe.Retryable)
}
