package orchestration

import (
	"context"
	"log/slog"

	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type playerCallbacks struct {
	onUtterance func(string)
	onAudio     func([]byte)
	onTurnEnded func(turnID string)
}

// synthesisPlayer is the only consumer of the fragment queue and the only
// writer to the speaker. It owns the duplex arbiter: the flag is set when the
// first fragment of a turn is taken off the queue and cleared after the
// turn's sentinel, once the speaker drained.
type synthesisPlayer struct {
	fragments        *fragmentQueue
	textToSpeech     TextToSpeech
	synthesisOptions []texttospeech.TextToSpeechOption
	output           *audioOutput
	arbiter          *duplexArbiter

	logger    *slog.Logger
	report    func(context.Context, error)
	callbacks playerCallbacks
}

func newSynthesisPlayer(
	fragments *fragmentQueue,
	textToSpeech TextToSpeech,
	synthesisOptions []texttospeech.TextToSpeechOption,
	output *audioOutput,
	arbiter *duplexArbiter,
	logger *slog.Logger,
	report func(context.Context, error),
	callbacks playerCallbacks,
) *synthesisPlayer {
	if callbacks.onUtterance == nil {
		callbacks.onUtterance = func(string) {}
	}
	if callbacks.onAudio == nil {
		callbacks.onAudio = func([]byte) {}
	}
	if callbacks.onTurnEnded == nil {
		callbacks.onTurnEnded = func(string) {}
	}

	return &synthesisPlayer{
		fragments:        fragments,
		textToSpeech:     textToSpeech,
		synthesisOptions: synthesisOptions,
		output:           output,
		arbiter:          arbiter,
		logger:           logger,
		report:           report,
		callbacks:        callbacks,
	}
}

func (p *synthesisPlayer) run(ctx context.Context) error {
	var current *turn
	defer func() {
		if current != nil {
			current.span.End()
			p.arbiter.ClearSpeaking()
		}
	}()

	for {
		f, ok := p.fragments.Next(ctx)
		if !ok {
			return nil
		}

		if f.turn != current {
			current = f.turn
			p.arbiter.SetSpeaking()
		}

		if f.endOfTurn {
			if err := p.output.AwaitMark(); err != nil {
				return newPipelineError(ErrorKindDevice, "drain speaker", err)
			}
			p.arbiter.ClearSpeaking()
			current.span.End()
			p.callbacks.onTurnEnded(current.id)
			current = nil
			continue
		}

		if err := p.play(current, f.utterance); err != nil {
			return err
		}
	}
}

// play synthesizes one utterance and writes it to the speaker as it arrives.
// A failed synthesis only skips the rest of the utterance; a failed write is
// returned.
func (p *synthesisPlayer) play(turn *turn, utterance string) error {
	ctx, span := tracer.Start(turn.ctx, "synthesize utterance")
	defer span.End()
	span.SetAttributes(attribute.Int("utterance.length", len(utterance)))

	p.callbacks.onUtterance(utterance)

	aligner := audio.NewPCMAligner(p.output.EncodingInfo())
	defer func() {
		if dropped := aligner.Reset(); dropped > 0 {
			p.logger.Debug("dropping unaligned audio at end of utterance", "bytes", dropped)
		}
	}()

	for chunk, err := range p.textToSpeech.Synthesize(ctx, utterance, p.synthesisOptions...) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			synthesisFailureCounter.Add(ctx, 1)
			err := newPipelineError(ErrorKindService, "synthesize utterance", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.report(ctx, err)
			return nil
		}

		aligned := aligner.Align(chunk)
		if len(aligned) == 0 {
			continue
		}

		turn.markAudible(p.logger)
		if err := p.output.SendAudio(aligned); err != nil {
			err := newPipelineError(ErrorKindDevice, "write speaker", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		p.callbacks.onAudio(aligned)
	}

	return nil
}
