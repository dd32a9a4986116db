package openai

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/koscakluka/ema-duplex/core/llms"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.NewStreamingPromptOptions(c.systemPrompt, opts...)

	params := openai.ChatCompletionNewParams{
		Model: c.model,
	}
	if options.Instructions != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(options.Instructions))
	}
	if prompt != nil {
		params.Messages = append(params.Messages, openai.UserMessage(*prompt))
	}
	if options.Temperature != nil {
		params.Temperature = param.NewOpt(*options.Temperature)
	}
	if options.MaxOutputTokens != nil {
		params.MaxTokens = param.NewOpt(int64(*options.MaxOutputTokens))
	}

	return &Stream{client: c, params: params}
}

type Stream struct {
	client *Client
	params openai.ChatCompletionNewParams
}

func (s *Stream) Chunks(ctx context.Context) iter.Seq2[llms.StreamChunk, error] {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.params.Model))

		requestStart := time.Now()
		firstChunk := true

		stream := s.client.client.Chat.Completions.NewStreaming(ctx, s.params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if firstChunk {
				firstChunk = false
				span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestStart).Seconds()))
				span.AddEvent("received first chunk")
			}

			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				var finishReason *string
				if choice.FinishReason != "" {
					reason := choice.FinishReason
					finishReason = &reason
				}
				if choice.Delta.Content != "" {
					if !yield(StreamContentChunk{
						finishReason: finishReason,
						content:      choice.Delta.Content,
					}, nil) {
						return
					}
				}
			}

			if chunk.Usage.TotalTokens > 0 {
				span.SetAttributes(
					attribute.Int64("usage.input", chunk.Usage.PromptTokens),
					attribute.Int64("usage.output", chunk.Usage.CompletionTokens),
					attribute.Int64("usage.total", chunk.Usage.TotalTokens),
				)
				if !yield(StreamUsageChunk{usage: llms.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}}, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			err = fmt.Errorf("error reading streamed response: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamUsageChunk struct {
	usage llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return nil
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
