package speechtotext

import (
	"errors"
	"iter"
	"sync"
)

type EventKind int

const (
	// EventPartial carries text recognized so far. It is only meant for user
	// feedback and never starts a turn.
	EventPartial EventKind = iota
	// EventFinal carries the complete transcript of one user utterance.
	EventFinal
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	Text string
}

// Session is a single long-lived transcription connection.
//
// Events yields decoded events in arrival order. A non-nil error is terminal:
// it is yielded once, after which the sequence ends. The sequence also ends
// without error after Close.
type Session interface {
	SendAudio(audio []byte) error
	Events() iter.Seq2[Event, error]
	Close() error
}

// ErrSessionClosed is returned by SendAudio once the session is gone.
var ErrSessionClosed = errors.New("transcription session closed")

type eventResult struct {
	event Event
	err   error
}

// EventStream hands events from a single reader goroutine to a single
// consumer. Only the producer may call Emit, Fail and End; Stop may be called
// from anywhere to unblock it.
type EventStream struct {
	events chan eventResult
	done   chan struct{}

	stopOnce sync.Once
	endOnce  sync.Once
}

func NewEventStream(buffer int) *EventStream {
	return &EventStream{
		events: make(chan eventResult, buffer),
		done:   make(chan struct{}),
	}
}

// Emit delivers the event, blocking while the buffer is full. It returns
// false once the stream was stopped.
func (s *EventStream) Emit(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- eventResult{event: event}:
		return true
	case <-s.done:
		return false
	}
}

// Fail delivers a terminal error and ends the stream.
func (s *EventStream) Fail(err error) {
	select {
	case s.events <- eventResult{err: err}:
	case <-s.done:
	}
	s.End()
}

func (s *EventStream) End() {
	s.endOnce.Do(func() { close(s.events) })
}

func (s *EventStream) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *EventStream) Seq() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for result := range s.events {
			if !yield(result.event, result.err) {
				return
			}
		}
	}
}
