package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"go.opentelemetry.io/otel/codes"
)

const (
	// gatedPollInterval is how long the capture pump sleeps between checks
	// while the assistant is speaking.
	gatedPollInterval = 50 * time.Millisecond

	defaultReconnectInitialBackoff = 500 * time.Millisecond
	defaultReconnectMaxBackoff     = 8 * time.Second
)

var errSessionEnded = errors.New("transcription session ended")

type transcriptionCallbacks struct {
	onPartial func(string)
	onFinal   func(string)
}

// transcriptionBridge keeps one transcription session fed with microphone
// frames and forwards final transcripts to the turn orchestrator.
//
// Frames are only read and sent while the arbiter is clear, so the session
// never hears the assistant.
type transcriptionBridge struct {
	client  SpeechToText
	input   *audioInput
	arbiter *duplexArbiter
	submit  func(string) bool

	options      []speechtotext.TranscriptionOption
	pollInterval time.Duration

	// reconnectAttempts is how many times a lost session is reopened before
	// the loss becomes terminal. Zero disables reconnection.
	reconnectAttempts int
	backoff           gax.Backoff
	sleep             func(context.Context, time.Duration) error

	logger    *slog.Logger
	callbacks transcriptionCallbacks
}

func newTranscriptionBridge(
	client SpeechToText,
	input *audioInput,
	arbiter *duplexArbiter,
	submit func(string) bool,
	options []speechtotext.TranscriptionOption,
	reconnectAttempts int,
	logger *slog.Logger,
	callbacks transcriptionCallbacks,
) *transcriptionBridge {
	if callbacks.onPartial == nil {
		callbacks.onPartial = func(string) {}
	}
	if callbacks.onFinal == nil {
		callbacks.onFinal = func(string) {}
	}

	return &transcriptionBridge{
		client:            client,
		input:             input,
		arbiter:           arbiter,
		submit:            submit,
		options:           options,
		pollInterval:      gatedPollInterval,
		reconnectAttempts: max(reconnectAttempts, 0),
		backoff: gax.Backoff{
			Initial:    defaultReconnectInitialBackoff,
			Max:        defaultReconnectMaxBackoff,
			Multiplier: 2,
		},
		sleep:     gax.Sleep,
		logger:    logger,
		callbacks: callbacks,
	}
}

// start opens the transcription session and pushes the session
// configuration. The capture encoding always takes precedence over any
// encoding in the configured options.
func (b *transcriptionBridge) start(ctx context.Context) (speechtotext.Session, error) {
	ctx, span := tracer.Start(ctx, "open transcription session")
	defer span.End()

	options := append(append([]speechtotext.TranscriptionOption{}, b.options...),
		speechtotext.WithEncodingInfo(b.input.EncodingInfo()))

	session, err := b.client.Transcribe(ctx, options...)
	if err != nil {
		err := newPipelineError(ErrorKindTransport, "open transcription session", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return session, nil
}

// run serves session until ctx is done. A lost session is reopened up to
// reconnectAttempts times; after that, or on a device failure, the error is
// returned. The backoff starts over after every successful reconnect.
func (b *transcriptionBridge) run(ctx context.Context, session speechtotext.Session) error {
	attempts := 0
	for {
		backoff := b.backoff
		err := b.serve(ctx, session)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if kind, _ := KindOf(err); kind != ErrorKindTransport {
			return err
		}

		for {
			if attempts >= b.reconnectAttempts {
				return err
			}
			attempts++

			pause := backoff.Pause()
			b.logger.Warn("transcription session lost, reconnecting",
				"error", err,
				"attempt", attempts,
				"max_attempts", b.reconnectAttempts,
				"backoff", pause)
			if sleepErr := b.sleep(ctx, pause); sleepErr != nil {
				return nil
			}

			var startErr error
			session, startErr = b.start(ctx)
			if startErr == nil {
				break
			}
			err = startErr
		}
	}
}

// serve runs the capture pump and the event loop for one session. Whichever
// fails first stops the other; the session is closed when serve returns.
func (b *transcriptionBridge) serve(ctx context.Context, session speechtotext.Session) error {
	ctx, span := tracer.Start(ctx, "transcription session")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		if err := session.Close(); err != nil {
			b.logger.Debug("failed to close transcription session", "error", err)
		}
	})
	defer stop()

	pumpErr := make(chan error, 1)
	go func() {
		err := b.pump(ctx, session)
		if err != nil {
			cancel()
		}
		pumpErr <- err
	}()

	err := b.consume(ctx, session)
	cancel()
	if perr := <-pumpErr; perr != nil {
		err = perr
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// pump reads microphone frames and sends them while the arbiter is clear.
// While it is set the microphone is not read at all; frames the client
// buffered in the meantime are discarded once it clears.
func (b *transcriptionBridge) pump(ctx context.Context, session speechtotext.Session) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	frames := 0
	defer func() { b.logger.Debug("capture pump stopped", "frames_sent", frames) }()

	wasGated := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		if b.arbiter.IsSpeaking() {
			wasGated = true
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if wasGated {
			wasGated = false
			b.input.DiscardCaptured()
		}

		frame, err := b.input.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return newPipelineError(ErrorKindDevice, "read microphone frame", err)
		}

		// The arbiter may have been set while the frame was being captured.
		if b.arbiter.IsSpeaking() {
			continue
		}

		if err := session.SendAudio(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return newPipelineError(ErrorKindTransport, "send audio", err)
		}
		frames++
	}
}

// consume decodes session events until the session ends. Partial transcripts
// only reach the feedback callback; final transcripts start turns.
func (b *transcriptionBridge) consume(ctx context.Context, session speechtotext.Session) error {
	for event, err := range session.Events() {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return newPipelineError(ErrorKindTransport, "receive transcription", err)
		}

		switch event.Kind {
		case speechtotext.EventPartial:
			b.callbacks.onPartial(event.Text)
		case speechtotext.EventFinal:
			transcript := strings.TrimSpace(event.Text)
			if transcript == "" {
				continue
			}
			b.callbacks.onFinal(transcript)
			b.submit(transcript)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return newPipelineError(ErrorKindTransport, "receive transcription", errSessionEnded)
}
