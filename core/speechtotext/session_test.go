package speechtotext

import (
	"errors"
	"testing"
	"time"
)

func TestEventStreamDeliversEventsInOrderThenError(t *testing.T) {
	stream := NewEventStream(4)
	errBoom := errors.New("boom")

	go func() {
		stream.Emit(Event{Kind: EventPartial, Text: "hel"})
		stream.Emit(Event{Kind: EventFinal, Text: "hello"})
		stream.Fail(errBoom)
	}()

	var events []Event
	var gotErr error
	for event, err := range stream.Seq() {
		if err != nil {
			gotErr = err
			continue
		}
		events = append(events, event)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventPartial || events[1].Kind != EventFinal {
		t.Fatalf("expected partial then final, got %v then %v", events[0].Kind, events[1].Kind)
	}
	if !errors.Is(gotErr, errBoom) {
		t.Fatalf("expected terminal error, got %v", gotErr)
	}
}

func TestEventStreamStopUnblocksProducer(t *testing.T) {
	stream := NewEventStream(0)

	done := make(chan bool)
	go func() {
		done <- stream.Emit(Event{Kind: EventFinal, Text: "nobody listens"})
	}()

	stream.Stop()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected emit to report a stopped stream")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected emit to return after stop")
	}
}

func TestNewTranscriptionOptionsDefaults(t *testing.T) {
	options := NewTranscriptionOptions(WithPrompt("same language"))

	if options.NoiseReduction != NoiseReductionNearField {
		t.Fatalf("expected near field noise reduction, got %q", options.NoiseReduction)
	}
	if options.TurnDetection != TurnDetectionServerVAD {
		t.Fatalf("expected server vad, got %q", options.TurnDetection)
	}
	if options.EncodingInfo.SampleRate != 24000 {
		t.Fatalf("expected 24000 sample rate, got %d", options.EncodingInfo.SampleRate)
	}
	if options.Prompt != "same language" {
		t.Fatalf("expected prompt to be set, got %q", options.Prompt)
	}
}
