// Package bedrock implements llm.Client on top of the AWS Bedrock Converse
// API (ground: features/model/bedrock/client.go's RuntimeClient-interface
// adapter pattern).
package bedrock

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/flowstack/agentcore/llm"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client this adapter
// uses, so callers can substitute a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the adapter's default model/sampling parameters.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llm.Client on AWS Bedrock Converse.
type Client struct {
	runtime   RuntimeClient
	model     string
	maxTokens int
	temp      float32
}

// New constructs a Client from a Bedrock runtime client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: opts.Runtime, model: opts.DefaultModel, maxTokens: opts.MaxTokens, temp: opts.Temperature}, nil
}

func encodeMessages(messages []*llm.Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	conv := make([]brtypes.Message, 0, len(messages))
	system := make([]brtypes.SystemContentBlock, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		if m.Role == llm.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(llm.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			if v, ok := p.(llm.TextPart); ok && v.Text != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == llm.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conv = append(conv, brtypes.Message{Role: role, Content: blocks})
	}
	return conv, system
}

func (c *Client) inferenceConfig(opts llm.Options) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		v := int32(maxTokens)
		cfg.MaxTokens = &v
	}
	temp := float32(opts.Temperature)
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	return cfg
}

// Complete issues a non-streaming Converse call.
func (c *Client) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	conv, system := encodeMessages(messages)
	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         &c.model,
		Messages:        conv,
		System:          system,
		InferenceConfig: c.inferenceConfig(opts),
	})
	if err != nil {
		return "", classifyError("converse", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", nil
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}

// Stream invokes ConverseStream and adapts events into llm.Chunks.
func (c *Client) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	conv, system := encodeMessages(messages)
	out, err := c.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         &c.model,
		Messages:        conv,
		System:          system,
		InferenceConfig: c.inferenceConfig(opts),
	})
	if err != nil {
		return nil, classifyError("converse_stream", err)
	}
	return &streamer{events: out.GetStream()}, nil
}

type streamer struct {
	events *bedrockruntime.ConverseStreamEventStream
}

func (s *streamer) Recv() (llm.Chunk, error) {
	event, ok := <-s.events.Events()
	if !ok {
		if err := s.events.Err(); err != nil {
			return llm.Chunk{}, classifyError("converse_stream", err)
		}
		return llm.Chunk{}, io.EOF
	}
	switch v := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
			return llm.Chunk{Text: d.Value}, nil
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return llm.Chunk{Done: true, StopReason: string(v.Value.StopReason)}, nil
	}
	return llm.Chunk{}, nil
}

func (s *streamer) Close() error {
	return s.events.Close()
}

func classifyError(op string, err error) *llm.ProviderError {
	kind := llm.ErrorKindUnknown
	retryable := false
	var throttle *brtypes.ThrottlingException
	var serviceUnavailable *brtypes.ServiceUnavailableException
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &throttle):
		kind, retryable = llm.ErrorKindRateLimited, true
	case errors.As(err, &serviceUnavailable):
		kind, retryable = llm.ErrorKindTransport, true
	case errors.As(err, &apiErr):
		kind = llm.ErrorKindInvalidRequest
	}
	code := ""
	if apiErr != nil {
		code = apiErr.ErrorCode()
	}
	return llm.NewProviderError("bedrock", op, kind, code, err.Error(), retryable, err)
}
