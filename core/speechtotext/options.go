package speechtotext

import "github.com/koscakluka/ema-duplex/core/audio"

type NoiseReduction string

const (
	NoiseReductionNone      NoiseReduction = ""
	NoiseReductionNearField NoiseReduction = "near_field"
	NoiseReductionFarField  NoiseReduction = "far_field"
)

type TurnDetection string

const (
	TurnDetectionNone        TurnDetection = ""
	TurnDetectionServerVAD   TurnDetection = "server_vad"
	TurnDetectionSemanticVAD TurnDetection = "semantic_vad"
)

// TranscriptionOptions is the session configuration pushed to the service
// right after the connection is established.
type TranscriptionOptions struct {
	EncodingInfo audio.EncodingInfo

	Model    string
	Prompt   string
	Language string

	NoiseReduction NoiseReduction
	TurnDetection  TurnDetection
}

type TranscriptionOption func(*TranscriptionOptions)

func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{
		EncodingInfo:   audio.GetDefaultEncodingInfo(),
		NoiseReduction: NoiseReductionNearField,
		TurnDetection:  TurnDetectionServerVAD,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}

func WithModel(model string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Model = model
	}
}

// WithPrompt sets the hint the service uses to bias recognition, e.g. to keep
// the transcript in the speaker's language.
func WithPrompt(prompt string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Prompt = prompt
	}
}

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Language = language
	}
}

func WithNoiseReduction(mode NoiseReduction) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.NoiseReduction = mode
	}
}

func WithTurnDetection(mode TurnDetection) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TurnDetection = mode
	}
}
