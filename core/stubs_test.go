package orchestration

import (
	"context"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/llms"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// eventLog collects pipeline events from several goroutines in the order
// they happened.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) contains(event string) bool {
	for _, e := range l.snapshot() {
		if e == event {
			return true
		}
	}
	return false
}

func (l *eventLog) indexOf(event string) int {
	for i, e := range l.snapshot() {
		if e == event {
			return i
		}
	}
	return -1
}

type stubSession struct {
	events  chan speechtotext.Event
	failure chan error
	done    chan struct{}

	closeOnce sync.Once
	sent      atomic.Int64
	sendErr   atomic.Pointer[error]
}

func newStubSession() *stubSession {
	return &stubSession{
		events:  make(chan speechtotext.Event),
		failure: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *stubSession) SendAudio([]byte) error {
	select {
	case <-s.done:
		return speechtotext.ErrSessionClosed
	default:
	}
	if err := s.sendErr.Load(); err != nil {
		return *err
	}
	s.sent.Add(1)
	return nil
}

func (s *stubSession) Events() iter.Seq2[speechtotext.Event, error] {
	return func(yield func(speechtotext.Event, error) bool) {
		for {
			select {
			case <-s.done:
				return
			case err := <-s.failure:
				yield(speechtotext.Event{}, err)
				return
			case event := <-s.events:
				if !yield(event, nil) {
					return
				}
			}
		}
	}
}

func (s *stubSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *stubSession) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stubSession) emit(t *testing.T, kind speechtotext.EventKind, text string) {
	t.Helper()
	select {
	case s.events <- speechtotext.Event{Kind: kind, Text: text}:
	case <-s.done:
		t.Fatalf("expected session to be open when emitting %q", text)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out emitting %q", text)
	}
}

func (s *stubSession) fail(err error) {
	s.failure <- err
}

type stubSpeechToText struct {
	opened chan *stubSession
	err    error

	mu      sync.Mutex
	options speechtotext.TranscriptionOptions
}

func newStubSpeechToText() *stubSpeechToText {
	return &stubSpeechToText{opened: make(chan *stubSession, 4)}
}

func (s *stubSpeechToText) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Session, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.mu.Lock()
	s.options = speechtotext.NewTranscriptionOptions(opts...)
	s.mu.Unlock()

	session := newStubSession()
	s.opened <- session
	return session, nil
}

func (s *stubSpeechToText) nextSession(t *testing.T) *stubSession {
	t.Helper()
	select {
	case session := <-s.opened:
		return session
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a transcription session")
		return nil
	}
}

type stubAudioInput struct {
	reads    atomic.Int64
	discards atomic.Int64
	stopped  atomic.Bool
	closed   atomic.Bool
}

func (in *stubAudioInput) ReadFrame() ([]byte, error) {
	if in.closed.Load() {
		return nil, io.EOF
	}
	time.Sleep(2 * time.Millisecond)
	in.reads.Add(1)
	return []byte{1, 0, 2, 0}, nil
}

func (in *stubAudioInput) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }
func (in *stubAudioInput) DiscardCaptured()                 { in.discards.Add(1) }

func (in *stubAudioInput) StopCapture() error {
	in.stopped.Store(true)
	return nil
}

func (in *stubAudioInput) Close() error {
	in.closed.Store(true)
	return nil
}

type stubStreamingLLM struct {
	responses map[string][]string
	err       error

	mu      sync.Mutex
	prompts []string
	options []llms.StreamingPromptOptions
}

func (stub *stubStreamingLLM) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.prompts = append(stub.prompts, *prompt)
	stub.options = append(stub.options, llms.NewStreamingPromptOptions("", opts...))
	return tokenStreamStub{tokens: stub.responses[*prompt], err: stub.err}
}

func (stub *stubStreamingLLM) recordedOptions() []llms.StreamingPromptOptions {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return append([]llms.StreamingPromptOptions(nil), stub.options...)
}

type tokenStreamStub struct {
	tokens []string
	err    error
}

func (stub tokenStreamStub) Chunks(ctx context.Context) iter.Seq2[llms.StreamChunk, error] {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, token := range stub.tokens {
			if ctx.Err() != nil {
				return
			}
			if !yield(streamContentChunkStub{content: token}, nil) {
				return
			}
		}
		if stub.err != nil {
			yield(nil, stub.err)
		}
	}
}

type streamContentChunkStub struct {
	content string
}

func (chunk streamContentChunkStub) FinishReason() *string {
	return nil
}

func (chunk streamContentChunkStub) Content() string {
	return chunk.content
}

type stubTextToSpeech struct {
	// chunks maps an utterance to the audio chunks synthesized for it; by
	// default every utterance becomes one silent sample.
	chunks map[string][][]byte
	// failures maps an utterance to the error its synthesis ends with.
	failures map[string]error
	// gates hold the synthesis of an utterance until they are closed.
	gates map[string]chan struct{}

	onSynthesize func(text string)

	mu      sync.Mutex
	texts   []string
	options []texttospeech.TextToSpeechOptions
}

func (stub *stubTextToSpeech) Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		stub.mu.Lock()
		stub.texts = append(stub.texts, text)
		stub.options = append(stub.options, texttospeech.NewTextToSpeechOptions(texttospeech.TextToSpeechOptions{}, opts...))
		stub.mu.Unlock()

		if stub.onSynthesize != nil {
			stub.onSynthesize(text)
		}
		if gate, ok := stub.gates[text]; ok {
			select {
			case <-gate:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}

		chunks, ok := stub.chunks[text]
		if !ok {
			chunks = [][]byte{{0, 0}}
		}
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if err := stub.failures[text]; err != nil {
			yield(nil, err)
		}
	}
}

func (stub *stubTextToSpeech) synthesizedTexts() []string {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return append([]string(nil), stub.texts...)
}

type recordingAudioOutput struct {
	sendErr error

	mu      sync.Mutex
	writes  [][]byte
	marks   int
	stopped bool
	closed  bool
}

func (output *recordingAudioOutput) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (output *recordingAudioOutput) SendAudio(audio []byte) error {
	if output.sendErr != nil {
		return output.sendErr
	}
	output.mu.Lock()
	output.writes = append(output.writes, append([]byte(nil), audio...))
	output.mu.Unlock()
	return nil
}

func (output *recordingAudioOutput) AwaitMark() error {
	output.mu.Lock()
	output.marks++
	output.mu.Unlock()
	return nil
}

func (output *recordingAudioOutput) StopPlayback() error {
	output.mu.Lock()
	output.stopped = true
	output.mu.Unlock()
	return nil
}

func (output *recordingAudioOutput) Close() error {
	output.mu.Lock()
	output.closed = true
	output.mu.Unlock()
	return nil
}

func (output *recordingAudioOutput) recordedWrites() [][]byte {
	output.mu.Lock()
	defer output.mu.Unlock()
	return append([][]byte(nil), output.writes...)
}

func (output *recordingAudioOutput) markCount() int {
	output.mu.Lock()
	defer output.mu.Unlock()
	return output.marks
}
