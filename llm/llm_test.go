package llm_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/agentcore/llm"
)

type fakeStreamer struct {
	chunks []llm.Chunk
	i      int
}

func (f *fakeStreamer) Recv() (llm.Chunk, error) {
	if f.i >= len(f.chunks) {
		return llm.Chunk{}, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}
func (f *fakeStreamer) Close() error { return nil }

type fakeClient struct {
	streamer *fakeStreamer
	err      error
}

func (c *fakeClient) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.streamer, nil
}
func (c *fakeClient) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	return "", errors.New("not implemented")
}

func TestCompleteConcatenatesStreamChunks(t *testing.T) {
	c := &fakeClient{streamer: &fakeStreamer{chunks: []llm.Chunk{
		{Text: "hello "},
		{Text: "world"},
		{Done: true},
	}}}

	out, err := llm.Complete(context.Background(), c, []*llm.Message{llm.Text("hi")}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCompletePropagatesStreamError(t *testing.T) {
	c := &fakeClient{err: errors.New("boom")}
	_, err := llm.Complete(context.Background(), c, []*llm.Message{llm.Text("hi")}, llm.Options{})
	assert.Error(t, err)
}
