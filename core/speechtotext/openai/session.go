package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
)

const eventBufferSize = 64

type transcriptionSession struct {
	conn   *websocket.Conn
	events *speechtotext.EventStream

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newTranscriptionSession(conn *websocket.Conn) *transcriptionSession {
	return &transcriptionSession{
		conn:   conn,
		events: speechtotext.NewEventStream(eventBufferSize),
	}
}

func (s *transcriptionSession) SendAudio(audio []byte) error {
	if s.closed.Load() {
		return speechtotext.ErrSessionClosed
	}
	return s.sendEvent(newAudioAppend(audio))
}

func (s *transcriptionSession) Events() iter.Seq2[speechtotext.Event, error] {
	return s.events.Seq()
}

func (s *transcriptionSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.events.Stop()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		if closeErr := s.conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close transcription connection: %w", closeErr)
		}
	})
	return err
}

func (s *transcriptionSession) sendEvent(event any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write transcription event: %w", err)
	}
	return nil
}

func (s *transcriptionSession) readLoop() {
	defer s.events.End()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.events.Fail(fmt.Errorf("transcription connection lost: %w", err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		event, ok := s.decode(msg)
		if !ok {
			continue
		}
		if !s.events.Emit(event) {
			return
		}
	}
}

// decode maps a server message to a transcript event. Messages that are not
// transcript updates, or cannot be parsed, are skipped.
func (s *transcriptionSession) decode(msg []byte) (speechtotext.Event, bool) {
	var parsed serverEvent
	if err := json.Unmarshal(msg, &parsed); err != nil {
		logger.Debug("Skipping unparseable transcription message", "error", err)
		return speechtotext.Event{}, false
	}

	switch parsed.Type {
	case eventTypeTranscriptionDelta:
		if parsed.Delta == "" {
			return speechtotext.Event{}, false
		}
		return speechtotext.Event{Kind: speechtotext.EventPartial, Text: parsed.Delta}, true

	case eventTypeTranscriptionCompleted:
		transcript := strings.TrimSpace(parsed.Transcript)
		if transcript == "" {
			return speechtotext.Event{}, false
		}
		return speechtotext.Event{Kind: speechtotext.EventFinal, Text: transcript}, true

	case eventTypeTranscriptionFailed, eventTypeError:
		err := errors.New("unknown error")
		if parsed.Error != nil {
			err = fmt.Errorf("%s: %s", parsed.Error.Code, parsed.Error.Message)
		}
		logger.Warn("Transcription service reported an error", "type", parsed.Type, "error", err)

	case eventTypeTranscriptionSessionCreated, eventTypeTranscriptionSessionUpdated,
		eventTypeSpeechStarted, eventTypeSpeechStopped:
		logger.Debug("Transcription session event", "type", parsed.Type)
	}

	return speechtotext.Event{}, false
}
