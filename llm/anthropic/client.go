// Package anthropic implements llm.Client on top of the Anthropic Claude
// Messages API (ground: features/model/anthropic/client.go).
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flowstack/agentcore/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter so callers can substitute a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter's default model/sampling parameters.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements llm.Client on Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
	temp      float64
}

// New constructs a Client from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTokens: maxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// transport and the given apiKey, which must not be empty.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

func (c *Client) params(messages []*llm.Message, opts llm.Options) (sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	msgs, system, err := encodeMessages(messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if len(system) > 0 {
		params.System = system
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if len(opts.Tools) > 0 {
		params.Tools = encodeTools(opts.Tools)
	}
	return params, nil
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	params, err := c.params(messages, opts)
	if err != nil {
		return "", err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", classifyError("complete", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// Stream invokes Messages.NewStreaming and adapts events into llm.Chunks.
func (c *Client) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	params, err := c.params(messages, opts)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("stream", err)
	}
	return newStreamer(ctx, stream), nil
}

func encodeMessages(messages []*llm.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	system := make([]sdk.TextBlockParam, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		if m.Role == llm.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(llm.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case llm.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case llm.ToolResultPart:
				content, _ := v.Content.(string)
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError))
			case llm.ToolUsePart:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case llm.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		default:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		}
	}
	return conversation, system, nil
}

func encodeTools(defs []llm.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{}, d.Name))
	}
	return out
}

func classifyError(op string, err error) *llm.ProviderError {
	kind := llm.ErrorKindUnknown
	retryable := false
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			kind, retryable = llm.ErrorKindRateLimited, true
		case apiErr.StatusCode >= 500:
			kind, retryable = llm.ErrorKindTransport, true
		case apiErr.StatusCode >= 400:
			kind = llm.ErrorKindInvalidRequest
		}
		return llm.NewProviderError("anthropic", op, kind, fmt.Sprint(apiErr.StatusCode), apiErr.Error(), retryable, err)
	}
	return llm.NewProviderError("anthropic", op, kind, "", err.Error(), retryable, err)
}

// streamer adapts an Anthropic SSE stream into an llm.Streamer, draining
// events on a background goroutine (ground: features/model/anthropic/
// stream.go's channel-based chunk pump).
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan llm.Chunk

	mu   sync.Mutex
	err  error
	done bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan llm.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()
	for s.stream.Next() {
		event := s.stream.Current()
		switch event.Type {
		case "content_block_delta":
			if d := event.Delta; d.Type == "text_delta" && d.Text != "" {
				select {
				case s.chunks <- llm.Chunk{Text: d.Text}:
				case <-s.ctx.Done():
					return
				}
			}
		case "message_stop":
			select {
			case s.chunks <- llm.Chunk{Done: true}:
			case <-s.ctx.Done():
			}
			return
		}
	}
	if err := s.stream.Err(); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

func (s *streamer) Recv() (llm.Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return llm.Chunk{}, classifyError("stream", err)
		}
		return llm.Chunk{}, io.EOF
	}
	if chunk.Done {
		return chunk, io.EOF
	}
	return chunk, nil
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
