package texttospeech

import "github.com/koscakluka/ema-duplex/core/audio"

// TextToSpeechOptions configures a single synthesis request. Every utterance
// of a conversation is synthesized with the same options so the assistant
// keeps one voice.
type TextToSpeechOptions struct {
	Voice string
	// Instructions steer delivery (affect, tone, pauses). Not supported by
	// every client.
	Instructions string

	EncodingInfo audio.EncodingInfo
}

type TextToSpeechOption func(*TextToSpeechOptions)

// NewTextToSpeechOptions applies opts on top of the given defaults.
func NewTextToSpeechOptions(defaults TextToSpeechOptions, opts ...TextToSpeechOption) TextToSpeechOptions {
	options := defaults
	if options.EncodingInfo.IsZero() {
		options.EncodingInfo = audio.GetDefaultEncodingInfo()
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithVoice(voice string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		o.Voice = voice
	}
}

func WithInstructions(instructions string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		o.Instructions = instructions
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}
