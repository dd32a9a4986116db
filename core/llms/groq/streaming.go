package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-duplex/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultURL   = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel = "llama-3.3-70b-versatile"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

type Client struct {
	apiKey       string
	model        string
	url          string
	systemPrompt string

	httpClient *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

func WithURL(url string) ClientOption {
	return func(c *Client) {
		c.url = url
	}
}

// WithSystemPrompt sets the default instructions used when a request does not
// carry its own.
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *Client) {
		c.systemPrompt = prompt
	}
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey: apiKey,
		model:  defaultModel,
		url:    defaultURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.NewStreamingPromptOptions(c.systemPrompt, opts...)

	return &Stream{
		client:      c,
		messages:    toMessages(options.Instructions, prompt),
		temperature: options.Temperature,
		maxTokens:   options.MaxOutputTokens,
	}
}

type Stream struct {
	client *Client

	messages    []message
	temperature *float64
	maxTokens   *int
}

func (s *Stream) Chunks(ctx context.Context) iter.Seq2[llms.StreamChunk, error] {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		requestBodyBytes, err := json.Marshal(requestBody{
			Model:       s.client.model,
			Messages:    s.messages,
			Stream:      true,
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
		})
		if err != nil {
			fail(fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			fail(fmt.Errorf("error creating HTTP request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.client.apiKey)

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err == nil {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			if len(chunk) == 0 {
				continue
			}
			setRequestToFirstTokenTime(span)

			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				logger.Debug("Skipping malformed stream chunk", "error", err)
				continue
			}

			var finishReason *string
			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]
				finishReason = choice.FinishReason
				if choice.Delta.Content != "" {
					if !yield(StreamContentChunk{
						finishReason: finishReason,
						content:      choice.Delta.Content,
					}, nil) {
						return
					}
				}
			}

			usage := responseBody.Usage
			if usage == nil && responseBody.XGroq != nil {
				usage = responseBody.XGroq.Usage
			}
			if usage != nil {
				span.SetAttributes(
					attribute.Int("usage.input", usage.PromptTokens),
					attribute.Int("usage.output", usage.CompletionTokens),
					attribute.Int("usage.total", usage.TotalTokens),
					attribute.Float64("usage.queue_time", usage.QueueTime),
					attribute.Float64("usage.total_time", usage.TotalTime),
				)
				if !yield(StreamUsageChunk{
					finishReason: finishReason,
					usage: llms.Usage{
						InputTokens:  usage.PromptTokens,
						OutputTokens: usage.CompletionTokens,
						TotalTokens:  usage.TotalTokens,
					},
				}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
			return
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
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
