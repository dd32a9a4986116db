package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-duplex/core/llms"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// shutdownGracePeriod bounds how long Close waits for the workers after the
// devices were released.
const shutdownGracePeriod = 2 * time.Second

var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrClosed         = errors.New("orchestrator closed")
)

// Orchestrator runs a half-duplex spoken conversation: microphone frames are
// transcribed, every final transcript gets a streamed response, and the
// response is spoken sentence by sentence while the microphone is gated.
type Orchestrator struct {
	speechToText SpeechToText
	llm          LLMWithStream
	textToSpeech TextToSpeech
	audioInput   *audioInput
	audioOutput  *audioOutput
	logger       *slog.Logger

	transcriptionOptions []speechtotext.TranscriptionOption
	generationOptions    []llms.StreamingPromptOption
	synthesisOptions     []texttospeech.TextToSpeechOption
	transcriptQueueSize  int

	reconnectAttempts       int
	reconnectInitialBackoff time.Duration
	reconnectMaxBackoff     time.Duration

	orchestrateOptions OrchestrateOptions
	baseContext        context.Context
	cancel             context.CancelFunc

	arbiter   *duplexArbiter
	fragments *fragmentQueue
	turns     *turnOrchestrator

	started   atomic.Bool
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	workers   sync.WaitGroup
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		audioInput:          newAudioInput(nil),
		audioOutput:         newAudioOutput(nil),
		logger:              logger,
		transcriptQueueSize: DefaultTranscriptQueueSize,
		baseContext:         context.Background(),
		done:                make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate opens the transcription session and starts the pipeline
// workers. It returns once everything is running; use Wait to block until
// the orchestrator stopped.
//
// ctx bounds the whole conversation: cancelling it has the same effect as
// Close.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	if o.closed.Load() {
		return ErrClosed
	}
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := o.validate(); err != nil {
		o.started.Store(false)
		return err
	}

	o.orchestrateOptions = OrchestrateOptions{}
	for _, opt := range opts {
		opt(&o.orchestrateOptions)
	}
	callbacks := o.orchestrateOptions

	o.baseContext, o.cancel = context.WithCancel(ctx)

	o.arbiter = newDuplexArbiter(func(isSpeaking bool) {
		o.logger.Debug("speaking state changed", "speaking", isSpeaking)
		if callbacks.onSpeakingStateChanged != nil {
			callbacks.onSpeakingStateChanged(isSpeaking)
		}
	})
	o.fragments = newFragmentQueue()

	o.turns = newTurnOrchestrator(
		o.llm,
		o.fragments,
		o.transcriptQueueSize,
		append([]llms.StreamingPromptOption{
			llms.WithTemperature(DefaultTemperature),
			llms.WithMaxOutputTokens(DefaultMaxOutputTokens),
		}, o.generationOptions...),
		o.logger,
		o.report,
		turnCallbacks{
			onResponse:     callbacks.onResponse,
			onResponseEnd:  callbacks.onResponseEnd,
			onStateChanged: o.turnStateChanged,
		},
	)

	player := newSynthesisPlayer(
		o.fragments,
		o.textToSpeech,
		append(append([]texttospeech.TextToSpeechOption{}, o.synthesisOptions...),
			texttospeech.WithEncodingInfo(o.audioOutput.EncodingInfo())),
		o.audioOutput,
		o.arbiter,
		o.logger,
		o.report,
		playerCallbacks{
			onUtterance: callbacks.onUtterance,
			onAudio:     callbacks.onAudio,
			onTurnEnded: func(turnID string) { o.turnStateChanged(turnID, TurnIdle) },
		},
	)

	bridge := newTranscriptionBridge(
		o.speechToText,
		o.audioInput,
		o.arbiter,
		o.turns.Submit,
		o.transcriptionOptions,
		o.reconnectAttempts,
		o.logger,
		transcriptionCallbacks{
			onPartial: callbacks.onPartialTranscription,
			onFinal:   callbacks.onTranscription,
		},
	)

	if o.reconnectInitialBackoff > 0 {
		bridge.backoff.Initial = o.reconnectInitialBackoff
	}
	if o.reconnectMaxBackoff > 0 {
		bridge.backoff.Max = max(o.reconnectMaxBackoff, bridge.backoff.Initial)
	}

	session, err := bridge.start(o.baseContext)
	if err != nil {
		err = fmt.Errorf("failed to start transcription: %w", err)
		// Reported to the caller only; Wait returns it as well.
		o.errMu.Lock()
		o.err = err
		o.errMu.Unlock()
		// Nothing is running yet; this only releases the devices.
		_ = o.Close()
		return err
	}

	o.startStage("transcription", func(ctx context.Context) error { return bridge.run(ctx, session) })
	o.startStage("generation", o.turns.run)
	o.startStage("synthesis", player.run)
	o.running.Store(true)

	go func() {
		<-o.baseContext.Done()
		o.Close()
	}()

	return nil
}

// Wait blocks until the orchestrator was closed and torn down. It returns
// the terminal error that stopped it, if any; cancellation and Close are not
// errors.
func (o *Orchestrator) Wait() error {
	if !o.started.Load() {
		return nil
	}
	<-o.done

	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.err
}

// Close stops the pipeline and releases the devices in order: the
// transcription session, capture, playback, then the device clients.
func (o *Orchestrator) Close() error {
	var errs []error
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		defer close(o.done)

		if !o.started.Load() {
			return
		}

		// Cancelling the base context closes the transcription session.
		o.cancel()
		o.fragments.Close()

		if err := o.audioInput.StopCapture(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop capture: %w", err))
		}
		if err := o.audioOutput.StopPlayback(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playback: %w", err))
		}

		if err := o.audioInput.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audio input: %w", err))
		}
		if !isSameClient(o.audioInput.base, o.audioOutput.base) {
			if err := o.audioOutput.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close audio output: %w", err))
			}
		}

		workersDone := make(chan struct{})
		go func() {
			o.workers.Wait()
			close(workersDone)
		}()
		select {
		case <-workersDone:
		case <-time.After(shutdownGracePeriod):
			o.logger.Warn("orchestrator workers did not stop in time")
		}

		if len(errs) > 0 {
			recordedErr := errors.Join(errs...)
			span := trace.SpanFromContext(o.baseContext)
			span.RecordError(recordedErr)
			span.SetStatus(codes.Error, recordedErr.Error())
			o.logger.Warn("orchestrator teardown failed", "error", recordedErr)
		}
	})

	return errors.Join(errs...)
}

// IsSpeaking reports whether the assistant currently holds the audio
// channel.
func (o *Orchestrator) IsSpeaking() bool {
	return o.running.Load() && o.arbiter.IsSpeaking()
}

// SubmitTranscript queues text as if it was a final transcript. It reports
// false when the transcript queue is full or the orchestrator is not
// running.
func (o *Orchestrator) SubmitTranscript(text string) bool {
	if !o.running.Load() || o.closed.Load() {
		return false
	}
	return o.turns.Submit(text)
}

func (o *Orchestrator) validate() error {
	var errs []error
	if isNilClient(o.speechToText) {
		errs = append(errs, errors.New("speech-to-text client not configured"))
	}
	if isNilClient(o.llm) {
		errs = append(errs, errors.New("streaming llm not configured"))
	}
	if isNilClient(o.textToSpeech) {
		errs = append(errs, errors.New("text-to-speech client not configured"))
	}
	if !o.audioInput.IsConfigured() {
		errs = append(errs, errors.New("audio input not configured"))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) startStage(name string, run stage) {
	supervised := supervise(name, run, o.logger)
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		if err := supervised(o.baseContext); err != nil {
			o.fail(err)
		}
	}()
}

// fail records the first terminal error and stops the orchestrator.
func (o *Orchestrator) fail(err error) {
	o.errMu.Lock()
	first := o.err == nil
	if first {
		o.err = err
	}
	o.errMu.Unlock()

	if first {
		o.report(o.baseContext, err)
	}
	o.cancel()
}

// report sends err to the diagnostic channel: the logger, the span in ctx
// and the error callback.
func (o *Orchestrator) report(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if kind, ok := KindOf(err); ok && kind == ErrorKindService {
		o.logger.Warn("skipping failed request", "error", err)
	} else {
		o.logger.Error("pipeline failed", "error", err)
	}

	if o.orchestrateOptions.onError != nil {
		o.orchestrateOptions.onError(err)
	}
}

func (o *Orchestrator) turnStateChanged(turnID string, state TurnState) {
	o.logger.Debug("turn state changed", "turn", turnID, "state", state.String())
	if o.orchestrateOptions.onTurnStateChanged != nil {
		o.orchestrateOptions.onTurnStateChanged(turnID, state)
	}
}
