package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
)

type recordedRequest struct {
	path   string
	query  map[string]string
	header http.Header
}

func newRealtimeServer(t *testing.T, received chan<- map[string]any, requests chan<- recordedRequest, serverEvents []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		requests <- recordedRequest{path: r.URL.Path, query: query, header: r.Header.Clone()}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var update map[string]any
		if err := conn.ReadJSON(&update); err != nil {
			return
		}
		received <- update

		var appended map[string]any
		if err := conn.ReadJSON(&appended); err != nil {
			return
		}
		received <- appended

		for _, event := range serverEvents {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestTranscribeAzureSessionFlow(t *testing.T) {
	received := make(chan map[string]any, 4)
	requests := make(chan recordedRequest, 1)
	server := newRealtimeServer(t, received, requests, []string{
		`{"type":"transcription_session.updated"}`,
		`not json`,
		`{"type":"conversation.item.input_audio_transcription.delta","delta":"Hel"}`,
		`{"type":"conversation.item.input_audio_transcription.delta","delta":"lo"}`,
		`{"type":"error","error":{"code":"oops","message":"ignored"}}`,
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":" Hello. "}`,
	})
	defer server.Close()

	client := NewTranscriptionClient("secret", WithAzureEndpoint(server.URL+"/", "2025-04-01-preview"))
	session, err := client.Transcribe(context.Background(),
		speechtotext.WithModel("gpt-4o-transcribe"),
		speechtotext.WithPrompt("same language"),
	)
	if err != nil {
		t.Fatalf("expected session, got error %v", err)
	}
	defer session.Close()

	request := <-requests
	if request.path != "/openai/realtime" {
		t.Fatalf("expected azure realtime path, got %q", request.path)
	}
	if request.query["intent"] != "transcription" || request.query["api-version"] != "2025-04-01-preview" {
		t.Fatalf("expected intent and api-version query, got %v", request.query)
	}
	if got := request.header.Get("api-key"); got != "secret" {
		t.Fatalf("expected api-key header, got %q", got)
	}

	update := <-received
	if update["type"] != "transcription_session.update" {
		t.Fatalf("expected session update first, got %v", update["type"])
	}
	sessionCfg := update["session"].(map[string]any)
	if sessionCfg["input_audio_format"] != "pcm16" {
		t.Fatalf("expected pcm16 input, got %v", sessionCfg["input_audio_format"])
	}
	transcription := sessionCfg["input_audio_transcription"].(map[string]any)
	if transcription["model"] != "gpt-4o-transcribe" || transcription["prompt"] != "same language" {
		t.Fatalf("expected model and prompt, got %v", transcription)
	}
	if sessionCfg["turn_detection"].(map[string]any)["type"] != "server_vad" {
		t.Fatalf("expected server vad, got %v", sessionCfg["turn_detection"])
	}
	if sessionCfg["input_audio_noise_reduction"].(map[string]any)["type"] != "near_field" {
		t.Fatalf("expected near field noise reduction, got %v", sessionCfg["input_audio_noise_reduction"])
	}

	if err := session.SendAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("expected audio to be sent, got %v", err)
	}
	appended := <-received
	if appended["type"] != "input_audio_buffer.append" {
		t.Fatalf("expected append event, got %v", appended["type"])
	}
	audio, _ := base64.StdEncoding.DecodeString(appended["audio"].(string))
	if string(audio) != "\x01\x02" {
		t.Fatalf("expected base64 audio payload, got %v", audio)
	}
	if !strings.HasPrefix(appended["event_id"].(string), "evt_") {
		t.Fatalf("expected event id, got %v", appended["event_id"])
	}

	var events []speechtotext.Event
	for event, err := range session.Events() {
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		events = append(events, event)
		if event.Kind == speechtotext.EventFinal {
			break
		}
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(events), events)
	}
	if events[0].Text != "Hel" || events[1].Text != "lo" {
		t.Fatalf("expected partial deltas, got %q and %q", events[0].Text, events[1].Text)
	}
	if events[2].Kind != speechtotext.EventFinal || events[2].Text != "Hello." {
		t.Fatalf("expected final transcript, got %v", events[2])
	}
}

func TestTranscribeReportsLostConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("OpenAI-Beta") != "realtime=v1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var update json.RawMessage
		_ = conn.ReadJSON(&update)
		conn.Close()
	}))
	defer server.Close()

	client := NewTranscriptionClient("secret", WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")))
	session, err := client.Transcribe(context.Background())
	if err != nil {
		t.Fatalf("expected session, got error %v", err)
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		for _, err := range session.Events() {
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected terminal error after connection loss")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected events to end after connection loss")
	}
}

func TestTranscribeCloseEndsEventsWithoutError(t *testing.T) {
	received := make(chan map[string]any, 4)
	requests := make(chan recordedRequest, 1)
	server := newRealtimeServer(t, received, requests, nil)
	defer server.Close()

	client := NewTranscriptionClient("secret", WithBaseURL("ws"+strings.TrimPrefix(server.URL, "http")))
	session, err := client.Transcribe(context.Background())
	if err != nil {
		t.Fatalf("expected session, got error %v", err)
	}
	<-received

	if err := session.Close(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
	for _, err := range session.Events() {
		if err != nil {
			t.Fatalf("expected no error after close, got %v", err)
		}
	}
	if err := session.SendAudio([]byte{0, 0}); err != speechtotext.ErrSessionClosed {
		t.Fatalf("expected closed session error, got %v", err)
	}
}
