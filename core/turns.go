package orchestration

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-duplex/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTranscriptQueueSize is how many final transcripts may wait for the
// generation worker before new ones are dropped.
const DefaultTranscriptQueueSize = 8

type TurnState int

const (
	// TurnIdle is reported once a turn's audio was fully played.
	TurnIdle TurnState = iota
	// TurnGenerating is reported while the response is being streamed and
	// segmented.
	TurnGenerating
	// TurnDraining is reported once generation ended and only queued
	// utterances are left to play.
	TurnDraining
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnGenerating:
		return "generating"
	case TurnDraining:
		return "draining"
	}
	return "unknown"
}

// turn lives from a final transcript until its end-of-turn sentinel was
// played.
type turn struct {
	id         string
	transcript string

	ctx         context.Context
	span        trace.Span
	submittedAt time.Time

	// heard is only touched by the synthesis player.
	heard bool
}

func newTurn(ctx context.Context, transcript string, submittedAt time.Time) *turn {
	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("turn.id", id),
		attribute.Int("turn.transcript_length", len(transcript)),
	))

	return &turn{
		id:          id,
		transcript:  transcript,
		ctx:         ctx,
		span:        span,
		submittedAt: submittedAt,
	}
}

// markAudible records time to first audio the first time it is called.
func (t *turn) markAudible(logger *slog.Logger) {
	if t.heard {
		return
	}
	t.heard = true

	elapsed := time.Since(t.submittedAt)
	timeToFirstAudio.Record(t.ctx, float64(elapsed.Milliseconds()))
	t.span.AddEvent("first audio")
	logger.Debug("first audio of turn", "turn", t.id, "time_to_first_audio", elapsed)
}

type turnCallbacks struct {
	onResponse     func(string)
	onResponseEnd  func()
	onStateChanged func(turnID string, state TurnState)
}

// turnOrchestrator takes final transcripts and turns each into a sequence of
// utterances on the fragment queue. Turns are generated one at a time, in the
// order they were submitted.
type turnOrchestrator struct {
	transcripts chan queuedTranscript

	llm               LLMWithStream
	generationOptions []llms.StreamingPromptOption
	fragments         *fragmentQueue

	logger    *slog.Logger
	report    func(context.Context, error)
	callbacks turnCallbacks
}

type queuedTranscript struct {
	text        string
	submittedAt time.Time
}

func newTurnOrchestrator(
	llm LLMWithStream,
	fragments *fragmentQueue,
	queueSize int,
	generationOptions []llms.StreamingPromptOption,
	logger *slog.Logger,
	report func(context.Context, error),
	callbacks turnCallbacks,
) *turnOrchestrator {
	if queueSize <= 0 {
		queueSize = DefaultTranscriptQueueSize
	}
	if callbacks.onResponse == nil {
		callbacks.onResponse = func(string) {}
	}
	if callbacks.onResponseEnd == nil {
		callbacks.onResponseEnd = func() {}
	}
	if callbacks.onStateChanged == nil {
		callbacks.onStateChanged = func(string, TurnState) {}
	}

	return &turnOrchestrator{
		transcripts:       make(chan queuedTranscript, queueSize),
		llm:               llm,
		generationOptions: generationOptions,
		fragments:         fragments,
		logger:            logger,
		report:            report,
		callbacks:         callbacks,
	}
}

// Submit queues a final transcript without blocking. When the queue is full
// the transcript is dropped and false is returned.
func (t *turnOrchestrator) Submit(transcript string) bool {
	select {
	case t.transcripts <- queuedTranscript{text: transcript, submittedAt: time.Now()}:
		return true
	default:
		t.logger.Warn("transcript queue full, dropping transcript",
			"capacity", cap(t.transcripts),
			"transcript", transcript)
		return false
	}
}

func (t *turnOrchestrator) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case transcript := <-t.transcripts:
			t.processTurn(ctx, transcript)
		}
	}
}

func (t *turnOrchestrator) processTurn(ctx context.Context, transcript queuedTranscript) {
	turn := newTurn(ctx, transcript.text, transcript.submittedAt)
	t.callbacks.onStateChanged(turn.id, TurnGenerating)

	if err := t.generate(turn); err != nil && ctx.Err() == nil {
		turn.span.RecordError(err)
		turn.span.SetStatus(codes.Error, err.Error())
		t.report(turn.ctx, err)
	}

	t.callbacks.onStateChanged(turn.id, TurnDraining)
	t.fragments.PushEndOfTurn(turn)
}

// generate streams the response for turn and queues every completed
// utterance. Whatever was segmented before a failure is still queued.
func (t *turnOrchestrator) generate(turn *turn) error {
	ctx, span := tracer.Start(turn.ctx, "generate response")
	defer span.End()
	defer t.callbacks.onResponseEnd()

	prompt := turn.transcript
	stream := t.llm.PromptWithStream(ctx, &prompt, t.generationOptions...)

	var streamErr error
	tokens := func(yield func(string) bool) {
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				streamErr = err
				return
			}

			switch chunk := chunk.(type) {
			case llms.StreamContentChunk:
				t.callbacks.onResponse(chunk.Content())
				if !yield(chunk.Content()) {
					return
				}
			case llms.StreamUsageChunk:
				usage := chunk.Usage()
				span.SetAttributes(
					attribute.Int("llm.usage.input_tokens", usage.InputTokens),
					attribute.Int("llm.usage.output_tokens", usage.OutputTokens),
				)
			}
		}
	}

	utterances := 0
	for utterance := range segmentTokens(tokens) {
		utterances++
		utteranceCounter.Add(ctx, 1)
		t.fragments.PushUtterance(turn, utterance)
	}
	span.SetAttributes(attribute.Int("turn.utterances", utterances))

	if streamErr != nil {
		err := newPipelineError(ErrorKindService, "generate response", streamErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
