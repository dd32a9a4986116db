package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-duplex/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	utteranceCounter, _ = meter.Int64Counter("ema_duplex.utterances",
		metric.WithDescription("Utterances handed to speech synthesis"),
		metric.WithUnit("{utterance}"))
	synthesisFailureCounter, _ = meter.Int64Counter("ema_duplex.synthesis.failures",
		metric.WithDescription("Utterances skipped because synthesis failed"),
		metric.WithUnit("{utterance}"))
	timeToFirstAudio, _ = meter.Float64Histogram("ema_duplex.turn.time_to_first_audio",
		metric.WithDescription("Time from a final transcript to its first audio written to the speaker"),
		metric.WithUnit("ms"))
)
