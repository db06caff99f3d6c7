// Package llm defines the provider-agnostic LLM contract consumed by the
// Planning Agent and Sub-Agent Manager (spec §6.1): a streaming token
// producer with uniform options and a closed error taxonomy, so callers
// never depend on a specific provider SDK.
package llm

import (
	"context"
	"io"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is a typed content block within a Message. Keeping Parts typed
// (rather than flattening everything to a string) lets provider adapters
// correlate tool calls/results without re-parsing text.
type Part interface{ isPart() }

// TextPart is plain user-visible or assistant-visible text.
type TextPart struct{ Text string }

// ThinkingPart carries provider-issued reasoning content, treated as opaque
// by callers.
type ThinkingPart struct {
	Text      string
	Signature string
}

// ToolUsePart declares a tool invocation requested by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input any
}

// ToolResultPart carries a tool result fed back to the assistant.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single chat message in a transcript.
type Message struct {
	Role  Role
	Parts []Part
}

// Text returns a user-role Message holding s as its single TextPart. It is
// the common case for callers that only send plain text.
func Text(s string) *Message {
	return &Message{Role: RoleUser, Parts: []Part{TextPart{Text: s}}}
}

// ToolDefinition describes a tool exposed to the model for function calling.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// Options carries the request parameters spec §6.1 says the core passes
// through verbatim.
type Options struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string
	Stream           bool
	Tools            []ToolDefinition
}

// Chunk is one streamed fragment of a model response.
type Chunk struct {
	Text       string
	ToolUse    *ToolUsePart
	StopReason string
	Done       bool
}

// Streamer delivers incremental model output. Callers drain Recv until it
// returns io.EOF (or any other terminal error), then call Close.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic LLM client (spec §6.1).
type Client interface {
	// Stream performs a streaming invocation.
	Stream(ctx context.Context, messages []*Message, opts Options) (Streamer, error)
	// Complete performs a non-streaming invocation; the default
	// implementation of an adapter may simply drain Stream and concatenate
	// text chunks (spec §6.1 "complete(...) = concat(stream(...))").
	Complete(ctx context.Context, messages []*Message, opts Options) (string, error)
}

// Complete drains s, concatenating all text chunks, satisfying spec §6.1's
// "complete(...) = concat(stream(...))" contract for adapters that only
// implement Stream natively.
func Complete(ctx context.Context, c Client, messages []*Message, opts Options) (string, error) {
	s, err := c.Stream(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var out string
	for {
		chunk, err := s.Recv()
		if chunk.Text != "" {
			out += chunk.Text
		}
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		if chunk.Done {
			return out, nil
		}
	}
}

// Turn is one model invocation's accumulated output: the text produced so
// far plus any tool calls requested before the model yielded control back to
// the caller.
type Turn struct {
	Text     string
	ToolUses []ToolUsePart
}

// RunTurn drains s like Complete, but also collects requested tool calls
// instead of discarding them. Callers that need to detect and execute tool
// calls between turns (the Planning Agent, the Sub-Agent Manager) use this
// instead of Complete.
func RunTurn(ctx context.Context, c Client, messages []*Message, opts Options) (Turn, error) {
	s, err := c.Stream(ctx, messages, opts)
	if err != nil {
		return Turn{}, err
	}
	defer s.Close()

	var t Turn
	for {
		chunk, err := s.Recv()
		if chunk.Text != "" {
			t.Text += chunk.Text
		}
		if chunk.ToolUse != nil {
			t.ToolUses = append(t.ToolUses, *chunk.ToolUse)
		}
		if err != nil {
			if err == io.EOF {
				return t, nil
			}
			return t, err
		}
		if chunk.Done {
			return t, nil
		}
	}
}
