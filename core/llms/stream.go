package llms

import (
	"context"
	"iter"
)

// Stream is a prepared generation request. Every range over Chunks sends
// the request; an error ends the sequence.
type Stream interface {
	Chunks(context.Context) iter.Seq2[StreamChunk, error]
}

type StreamChunk interface {
	FinishReason() *string
}

// StreamContentChunk carries generated text, usually a few characters.
type StreamContentChunk interface {
	StreamChunk
	Content() string
}

// StreamUsageChunk is sent once at the end of a stream when the service
// reports token usage.
type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
