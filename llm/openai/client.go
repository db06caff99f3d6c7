// Package openai implements llm.Client on top of the OpenAI Chat Completions
// API via github.com/openai/openai-go (ground: features/model/openai/
// client.go's interface-over-SDK-subset pattern, adapted to the official
// SDK named in SPEC_FULL's domain stack).
package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/flowstack/agentcore/llm"
)

// ChatClient captures the subset of the openai-go client used by this
// adapter so callers can substitute a mock in tests.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures the adapter's default model.
type Options struct {
	DefaultModel string
}

// Client implements llm.Client on the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from an openai-go chat completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: modelID}, nil
}

// NewFromAPIKey constructs a Client using the default openai-go HTTP
// transport and the given apiKey, which must not be empty.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

func (c *Client) params(messages []*llm.Message, opts llm.Options) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		text := flatten(m)
		if text == "" {
			continue
		}
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(text))
		case llm.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(text))
		default:
			msgs = append(msgs, openai.UserMessage(text))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(opts.FrequencyPenalty)
	}
	if opts.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(opts.PresencePenalty)
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}
	return params
}

func flatten(m *llm.Message) string {
	var out strings.Builder
	for _, p := range m.Parts {
		if v, ok := p.(llm.TextPart); ok {
			out.WriteString(v.Text)
		}
	}
	return out.String()
}

// Complete issues a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	resp, err := c.chat.New(ctx, c.params(messages, opts))
	if err != nil {
		return "", classifyError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream issues a streaming chat completion.
func (c *Client) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	stream := c.chat.NewStreaming(ctx, c.params(messages, opts))
	if err := stream.Err(); err != nil {
		return nil, classifyError("stream", err)
	}
	return &streamer{stream: stream}, nil
}

type streamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *streamer) Recv() (llm.Chunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return llm.Chunk{}, classifyError("stream", err)
		}
		return llm.Chunk{}, io.EOF
	}
	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return llm.Chunk{}, nil
	}
	choice := chunk.Choices[0]
	return llm.Chunk{Text: choice.Delta.Content, StopReason: choice.FinishReason}, nil
}

func (s *streamer) Close() error {
	return s.stream.Close()
}

func classifyError(op string, err error) *llm.ProviderError {
	kind := llm.ErrorKindUnknown
	retryable := false
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			kind, retryable = llm.ErrorKindRateLimited, true
		case apiErr.StatusCode >= 500:
			kind, retryable = llm.ErrorKindTransport, true
		case apiErr.StatusCode >= 400:
			kind = llm.ErrorKindInvalidRequest
		}
		return llm.NewProviderError("openai", op, kind, apiErr.Code, apiErr.Error(), retryable, err)
	}
	return llm.NewProviderError("openai", op, kind, "", err.Error(), retryable, err)
}
