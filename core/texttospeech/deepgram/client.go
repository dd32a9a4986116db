package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

type deepgramVoice string

const (
	VoiceThalia    deepgramVoice = "aura-2-thalia-en"
	VoiceAndromeda deepgramVoice = "aura-2-andromeda-en"
	VoiceHelena    deepgramVoice = "aura-2-helena-en"
	VoiceApollo    deepgramVoice = "aura-2-apollo-en"
	VoiceArcas     deepgramVoice = "aura-2-arcas-en"
	VoiceAries     deepgramVoice = "aura-2-aries-en"

	defaultVoice = VoiceThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceThalia, VoiceAndromeda, VoiceHelena, VoiceApollo, VoiceArcas, VoiceAries}
}

// TextToSpeechClient synthesizes each utterance over its own speak
// websocket: the text is sent, flushed, and audio is read until Deepgram
// confirms the flush.
type TextToSpeechClient struct {
	apiKey   string
	speakURL string
	voice    deepgramVoice
}

type ClientOption func(*TextToSpeechClient)

func WithSpeakURL(speakURL string) ClientOption {
	return func(c *TextToSpeechClient) {
		c.speakURL = speakURL
	}
}

func NewTextToSpeechClient(apiKey string, voice string, opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{apiKey: apiKey, speakURL: defaultSpeakURL, voice: defaultVoice}
	for _, opt := range opts {
		opt(client)
	}

	if voice != "" {
		if !slices.Contains(GetAvailableVoices(), deepgramVoice(voice)) {
			return nil, fmt.Errorf("invalid voice %q", voice)
		}
		client.voice = deepgramVoice(voice)
	}

	return client, nil
}

func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error] {
	options := texttospeech.NewTextToSpeechOptions(texttospeech.TextToSpeechOptions{Voice: string(c.voice)}, opts...)

	return func(yield func([]byte, error) bool) {
		ctx, span := tracer.Start(ctx, "synthesize speech")
		defer span.End()
		span.SetAttributes(
			attribute.String("synthesis.voice", options.Voice),
			attribute.Int("synthesis.text_length", len(text)),
		)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		conn, err := c.connectWebsocket(ctx, options.Voice, options.EncodingInfo)
		if err != nil {
			fail(fmt.Errorf("failed to open websocket: %w", err))
			return
		}
		defer conn.Close()

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
			fail(fmt.Errorf("failed to send text: %w", err))
			return
		}
		if err := conn.WriteJSON(controlMessage{Type: "Flush"}); err != nil {
			fail(fmt.Errorf("failed to flush text: %w", err))
			return
		}

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				fail(fmt.Errorf("websocket read error: %w", err))
				return
			}

			switch msgType {
			case websocket.BinaryMessage:
				if !yield(msg, nil) {
					_ = conn.WriteJSON(controlMessage{Type: "Clear"})
					return
				}
			case websocket.TextMessage:
				var parsedMsg struct {
					Type        string `json:"type"`
					ErrMsg      string `json:"err_msg,omitempty"`
					Description string `json:"description,omitempty"`
				}
				if err := json.Unmarshal(msg, &parsedMsg); err != nil {
					logger.Debug("Failed to unmarshal deepgram message", "error", err)
					continue
				}

				switch parsedMsg.Type {
				case "Flushed":
					_ = conn.WriteJSON(controlMessage{Type: "Close"})
					return
				case "Warning":
					logger.Warn("Deepgram speak warning", "description", parsedMsg.Description)
				case "Error":
					fail(fmt.Errorf("deepgram speak error: %s", parsedMsg.ErrMsg))
					return
				}
			}
		}
	}
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, voice string, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not set")
	}

	speakURL, err := url.Parse(c.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}
	urlValues := speakURL.Query()
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", voice)
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type controlMessage struct {
	Type string `json:"type"`
}
