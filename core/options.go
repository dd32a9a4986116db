package orchestration

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/llms"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
)

const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 1000
)

type OrchestratorOption func(*Orchestrator)

type LLMWithStream interface {
	PromptWithStream(ctx context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream
}

func WithStreamingLLM(client LLMWithStream) OrchestratorOption {
	return func(o *Orchestrator) {
		o.llm = client
	}
}

type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Session, error)
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) {
		o.speechToText = client
	}
}

type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error]
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) {
		o.textToSpeech = client
	}
}

// AudioInput is a microphone delivering fixed size frames. ReadFrame blocks
// until the next frame was captured.
//
// A client may also implement StopCapture() error, DiscardCaptured() and
// Close() error; they are used when present.
type AudioInput interface {
	ReadFrame() ([]byte, error)
	EncodingInfo() audio.EncodingInfo
}

func WithAudioInput(client AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput.Set(client) }
}

// AudioOutput is a speaker. SendAudio blocks until the device accepted the
// audio and AwaitMark until everything sent so far was played.
//
// A client may also implement StopPlayback() error, ClearBuffer() and
// Close() error; they are used when present.
type AudioOutput interface {
	SendAudio(audio []byte) error
	AwaitMark() error
	EncodingInfo() audio.EncodingInfo
}

func WithAudioOutput(client AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioOutput.Set(client) }
}

// WithLogger routes the orchestrator's diagnostics to logger instead of the
// OpenTelemetry log bridge.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTranscriptQueueSize bounds how many final transcripts may wait for
// generation. Defaults to DefaultTranscriptQueueSize.
func WithTranscriptQueueSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.transcriptQueueSize = size
	}
}

// WithReconnectAttempts lets the transcription session be reopened with
// exponential backoff when it is lost. By default a lost session stops the
// orchestrator.
func WithReconnectAttempts(attempts int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.reconnectAttempts = attempts
	}
}

// WithReconnectBackoff sets the pause before the first reconnection attempt
// and the cap it doubles up to. Non-positive values keep the defaults.
func WithReconnectBackoff(initial, maxBackoff time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.reconnectInitialBackoff = initial
		o.reconnectMaxBackoff = maxBackoff
	}
}

// WithTranscriptionOptions configures the transcription session, e.g. the
// model, the language hint or turn detection.
func WithTranscriptionOptions(opts ...speechtotext.TranscriptionOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.transcriptionOptions = append(o.transcriptionOptions, opts...)
	}
}

// WithGenerationOptions configures every generation request. They are
// applied after the defaults (temperature 0.7, 1000 output tokens).
func WithGenerationOptions(opts ...llms.StreamingPromptOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.generationOptions = append(o.generationOptions, opts...)
	}
}

// WithSynthesisOptions configures every synthesis request, so all
// utterances share one voice and one set of instructions.
func WithSynthesisOptions(opts ...texttospeech.TextToSpeechOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.synthesisOptions = append(o.synthesisOptions, opts...)
	}
}

type OrchestrateOptions struct {
	onPartialTranscription func(transcript string)
	onTranscription        func(transcript string)
	onResponse             func(response string)
	onResponseEnd          func()
	onUtterance            func(utterance string)
	onAudio                func(audio []byte)
	onSpeakingStateChanged func(isSpeaking bool)
	onTurnStateChanged     func(turnID string, state TurnState)
	onError                func(err error)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithPartialTranscriptionCallback registers a callback for partial
// transcripts. They are only feedback and never start a turn.
func WithPartialTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onPartialTranscription = callback
	}
}

// WithTranscriptionCallback registers a callback for final transcripts. It
// is called before the transcript is queued for a response.
func WithTranscriptionCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTranscription = callback
	}
}

// WithResponseCallback registers a callback for every generated token.
func WithResponseCallback(callback func(response string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponse = callback
	}
}

func WithResponseEndCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponseEnd = callback
	}
}

// WithUtteranceCallback registers a callback for every utterance right
// before it is synthesized.
func WithUtteranceCallback(callback func(utterance string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onUtterance = callback
	}
}

// WithAudioCallback registers a callback for aligned audio after it was
// written to the speaker. The callback runs on the playback path and should
// not block.
func WithAudioCallback(callback func(audio []byte)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onAudio = callback
	}
}

// WithSpeakingStateChangedCallback registers a callback for duplex arbiter
// transitions. It is called once with true before a turn's first utterance
// is synthesized and once with false after its audio drained.
func WithSpeakingStateChangedCallback(callback func(isSpeaking bool)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onSpeakingStateChanged = callback
	}
}

func WithTurnStateCallback(callback func(turnID string, state TurnState)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTurnStateChanged = callback
	}
}

// WithErrorCallback registers a callback for every reported failure, both
// skipped service errors and the terminal error.
func WithErrorCallback(callback func(err error)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onError = callback
	}
}
