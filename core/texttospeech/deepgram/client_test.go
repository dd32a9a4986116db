package deepgram

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func newSpeakServer(t *testing.T, queries chan<- string, texts chan<- string, frames [][]byte, final string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var speak speakMessage
		if err := conn.ReadJSON(&speak); err != nil {
			return
		}
		texts <- speak.Text

		var flush controlMessage
		if err := conn.ReadJSON(&flush); err != nil || flush.Type != "Flush" {
			return
		}

		for _, frame := range frames {
			_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(final))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestSynthesizeYieldsAudioUntilFlushed(t *testing.T) {
	queries := make(chan string, 1)
	texts := make(chan string, 1)
	server := newSpeakServer(t, queries, texts, [][]byte{{1, 2, 3}, {4}}, `{"type":"Flushed"}`)
	defer server.Close()

	client, err := NewTextToSpeechClient("key", "", WithSpeakURL("ws"+strings.TrimPrefix(server.URL, "http")))
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}

	var audio []byte
	for chunk, err := range client.Synthesize(context.Background(), "Hello world.") {
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		audio = append(audio, chunk...)
	}

	if !bytes.Equal(audio, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected all frames, got %v", audio)
	}
	if text := <-texts; text != "Hello world." {
		t.Fatalf("expected utterance text, got %q", text)
	}
	query := <-queries
	if !strings.Contains(query, "container=none") || !strings.Contains(query, "model=aura-2-thalia-en") {
		t.Fatalf("expected raw container and default voice, got %q", query)
	}
}

func TestSynthesizeReportsServiceError(t *testing.T) {
	queries := make(chan string, 1)
	texts := make(chan string, 1)
	server := newSpeakServer(t, queries, texts, nil, `{"type":"Error","err_msg":"quota"}`)
	defer server.Close()

	client, _ := NewTextToSpeechClient("key", "", WithSpeakURL("ws"+strings.TrimPrefix(server.URL, "http")))

	var gotErr error
	for _, err := range client.Synthesize(context.Background(), "Hi.") {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "quota") {
		t.Fatalf("expected service error, got %v", gotErr)
	}
}

func TestNewTextToSpeechClientRejectsUnknownVoice(t *testing.T) {
	if _, err := NewTextToSpeechClient("key", "ballad"); err == nil {
		t.Fatalf("expected unknown voice to be rejected")
	}
}
