package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"github.com/koscakluka/ema-duplex/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en-US"
	eventBufferSize  = 64
)

type TranscriptionClient struct {
	apiKey    string
	listenURL string
}

type ClientOption func(*TranscriptionClient)

func WithListenURL(listenURL string) ClientOption {
	return func(c *TranscriptionClient) {
		c.listenURL = listenURL
	}
}

func NewTranscriptionClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	c := &TranscriptionClient{apiKey: apiKey, listenURL: defaultListenURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Session, error) {
	ctx, span := tracer.Start(ctx, "open transcription session")
	defer span.End()

	options := speechtotext.NewTranscriptionOptions(opts...)
	encoding, err := toListenEncoding(options.EncodingInfo)
	if err != nil {
		err = fmt.Errorf("invalid encoding: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	model := options.Model
	if model == "" {
		model = defaultModel
	}
	language := options.Language
	if language == "" {
		language = defaultLanguage
	}
	span.SetAttributes(attribute.String("transcription.model", model))

	conn, err := c.connectWebsocket(ctx, connectionOptions{
		sampleRate: encoding.sampleRate,
		encoding:   encoding.name,
		model:      model,
		language:   language,
		vadEvents:  options.TurnDetection != speechtotext.TurnDetectionNone,
	})
	if err != nil {
		err = fmt.Errorf("failed to open websocket: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s := &transcriptionSession{
		conn:   conn,
		events: speechtotext.NewEventStream(eventBufferSize),
	}
	s.lastMsgTs.Store(utils.Ptr(time.Now()))
	keepAliveCtx, cancel := context.WithCancel(context.Background())
	s.stopKeepAlive = cancel
	go s.generateSilence(keepAliveCtx, options.EncodingInfo)
	go s.readAndProcessMessages()

	return s, nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string
	model      string
	language   string
	vadEvents  bool
}

func (c *TranscriptionClient) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not set")
	}

	listenUrl, err := url.Parse(c.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", options.model)
	queryParams.Set("language", options.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	if options.vadEvents {
		queryParams.Set("vad_events", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

// transcriptionSession accumulates finalized segments of one utterance and
// reports them as partials, then reports the whole utterance as final once
// Deepgram signals the end of speech.
type transcriptionSession struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	events        *speechtotext.EventStream
	stopKeepAlive context.CancelFunc

	lastMsgTs atomic.Pointer[time.Time]

	accumulatedTranscript string
	unendedSegment        bool

	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *transcriptionSession) Events() iter.Seq2[speechtotext.Event, error] {
	return s.events.Seq()
}

func (s *transcriptionSession) SendAudio(audio []byte) error {
	if s.closed.Load() {
		return speechtotext.ErrSessionClosed
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.lastMsgTs.Store(utils.Ptr(time.Now()))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *transcriptionSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.stopKeepAlive()
		s.events.Stop()

		s.connMu.Lock()
		_ = s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)})
		s.connMu.Unlock()

		if closeErr := s.conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close deepgram connection: %w", closeErr)
		}
	})
	return err
}

func (s *transcriptionSession) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteJSON(
		struct {
			Type string `json:"type"`
		}{
			Type: "KeepAlive",
		}); err != nil {
		logger.Warn("Failed to write keep alive to deepgram", "error", err)
	}
}

func (s *transcriptionSession) sendSilence(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *transcriptionSession) readAndProcessMessages() {
	defer s.events.End()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.events.Fail(fmt.Errorf("deepgram connection lost: %w", err))
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		for _, event := range s.processMessage(msg) {
			if !s.events.Emit(event) {
				return
			}
		}
	}
}

func (s *transcriptionSession) processMessage(msg []byte) []speechtotext.Event {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Debug("Failed to unmarshal deepgram message", "error", err)
		return nil
	}

	var events []speechtotext.Event
	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Debug("Failed to unmarshal deepgram message", "error", err)
			return nil
		}
		if !msgResp.IsFinal {
			return nil
		}
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
			if len(transcript) > 0 {
				partial := transcript
				if s.accumulatedTranscript != "" {
					partial = " " + transcript
				}
				s.accumulatedTranscript += partial
				s.unendedSegment = true
				events = append(events, speechtotext.Event{Kind: speechtotext.EventPartial, Text: partial})
			}
		}
		if msgResp.SpeechFinal {
			events = append(events, s.onSpeechEnded()...)
		}

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			events = append(events, s.onSpeechEnded()...)
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
	}

	return events
}

func (s *transcriptionSession) onSpeechEnded() []speechtotext.Event {
	s.unendedSegment = false
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if len(fullTranscript) == 0 {
		return nil
	}
	return []speechtotext.Event{{Kind: speechtotext.EventFinal, Text: fullTranscript}}
}

// generateSilence keeps the connection alive while no audio is sent, which
// is the case whenever the microphone is gated for playback. Short gaps are
// filled with silence so endpointing still fires, longer ones fall back to
// KeepAlive messages.
func (s *transcriptionSession) generateSilence(ctx context.Context, encoding audio.EncodingInfo) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const durationMs = 50
	const milisecondsPerSecond = 1000
	ticker := time.NewTicker(durationMs * time.Millisecond)
	defer ticker.Stop()

	chunk := make([]byte, encoding.SampleRate*encoding.SampleSize()*durationMs/milisecondsPerSecond)
	for i := range chunk {
		chunk[i] = encoding.SilenceValue()
	}

	sinceLastMsg := func() time.Duration { return time.Since(*s.lastMsgTs.Load()) }

	var state = silenceGeneratorStateWaiting
	var firstSilenceTime time.Time
	var lastKeepAliveTime time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch state {
			case silenceGeneratorStateWaiting:
				if sinceLastMsg() > durationMs*time.Millisecond {
					state = silenceGeneratorStateSilence
					firstSilenceTime = time.Now()
				}

			case silenceGeneratorStateSilence:
				if sinceLastMsg() < durationMs*time.Millisecond {
					state = silenceGeneratorStateWaiting
					continue
				}
				if time.Since(firstSilenceTime) >= time.Second {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = time.Now()
					continue
				}

				if err := s.sendSilence(chunk); err != nil {
					logger.Debug("Sending silence audio failed", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if sinceLastMsg() < durationMs*time.Millisecond {
					state = silenceGeneratorStateWaiting
					continue
				}

				if time.Since(lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = time.Now()
					s.sendKeepAlive()
				}
			}
		}
	}
}
