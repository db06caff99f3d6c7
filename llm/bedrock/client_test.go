package bedrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/llm/bedrock"
)

type fakeRuntime struct {
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.out, f.err
}
func (f *fakeRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, errors.New("not used in these tests")
}

func TestNewRequiresRuntimeAndModel(t *testing.T) {
	_, err := bedrock.New(bedrock.Options{DefaultModel: "anthropic.claude-3"})
	assert.Error(t, err)

	_, err = bedrock.New(bedrock.Options{Runtime: &fakeRuntime{}})
	assert.Error(t, err)
}

func TestCompleteConcatenatesTextBlocks(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello "},
				&brtypes.ContentBlockMemberText{Value: "world"},
			},
		}},
	}
	c, err := bedrock.New(bedrock.Options{Runtime: &fakeRuntime{out: out}, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestCompleteClassifiesThrottling(t *testing.T) {
	c, err := bedrock.New(bedrock.Options{Runtime: &fakeRuntime{err: &brtypes.ThrottlingException{Message: aws("slow down")}}, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorKindRateLimited, pe.Kind)
	assert.True(t, pe.Retryable)
}

func TestCompletePropagatesUnclassifiedError(t *testing.T) {
	c, err := bedrock.New(bedrock.Options{Runtime: &fakeRuntime{err: errors.New("boom")}, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorKindUnknown, pe.Kind)
}

func aws(s string) *string { return &s }
