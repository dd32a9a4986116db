package openai

import (
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
)

const (
	eventTypeTranscriptionSessionUpdate = "transcription_session.update"
	eventTypeInputAudioBufferAppend     = "input_audio_buffer.append"

	eventTypeTranscriptionSessionCreated = "transcription_session.created"
	eventTypeTranscriptionSessionUpdated = "transcription_session.updated"
	eventTypeTranscriptionDelta          = "conversation.item.input_audio_transcription.delta"
	eventTypeTranscriptionCompleted      = "conversation.item.input_audio_transcription.completed"
	eventTypeTranscriptionFailed         = "conversation.item.input_audio_transcription.failed"
	eventTypeSpeechStarted               = "input_audio_buffer.speech_started"
	eventTypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	eventTypeError                       = "error"
)

func generateEventID() string {
	return "evt_" + uuid.NewString()[:12]
}

type sessionUpdate struct {
	EventID string         `json:"event_id,omitempty"`
	Type    string         `json:"type"`
	Session sessionOptions `json:"session"`
}

type sessionOptions struct {
	InputAudioFormat         string                   `json:"input_audio_format"`
	InputAudioTranscription  inputAudioTranscription  `json:"input_audio_transcription"`
	InputAudioNoiseReduction *inputAudioNoiseReduction `json:"input_audio_noise_reduction,omitempty"`
	TurnDetection            *turnDetection           `json:"turn_detection,omitempty"`
}

type inputAudioTranscription struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt,omitempty"`
	Language string `json:"language,omitempty"`
}

type inputAudioNoiseReduction struct {
	Type string `json:"type"`
}

type turnDetection struct {
	Type string `json:"type"`
}

func newSessionUpdate(options speechtotext.TranscriptionOptions) sessionUpdate {
	update := sessionUpdate{
		EventID: generateEventID(),
		Type:    eventTypeTranscriptionSessionUpdate,
		Session: sessionOptions{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: inputAudioTranscription{
				Model:    options.Model,
				Prompt:   options.Prompt,
				Language: options.Language,
			},
		},
	}
	if options.NoiseReduction != speechtotext.NoiseReductionNone {
		update.Session.InputAudioNoiseReduction = &inputAudioNoiseReduction{Type: string(options.NoiseReduction)}
	}
	if options.TurnDetection != speechtotext.TurnDetectionNone {
		update.Session.TurnDetection = &turnDetection{Type: string(options.TurnDetection)}
	}
	return update
}

type audioAppend struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

func newAudioAppend(audio []byte) audioAppend {
	return audioAppend{
		EventID: generateEventID(),
		Type:    eventTypeInputAudioBufferAppend,
		Audio:   base64.StdEncoding.EncodeToString(audio),
	}
}

// serverEvent covers the fields of every server event this client reads.
type serverEvent struct {
	Type       string       `json:"type"`
	ItemID     string       `json:"item_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
