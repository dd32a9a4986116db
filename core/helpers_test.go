package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSuperviseTurnsPanicIntoError(t *testing.T) {
	run := supervise("synthesis", func(context.Context) error {
		panic("speaker vanished")
	}, logger)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "synthesis stage panicked: speaker vanished") {
		t.Fatalf("expected panic to become an error, got %v", err)
	}
}

func TestSuperviseKeepsErrorKind(t *testing.T) {
	cause := newPipelineError(ErrorKindDevice, "write speaker", errors.New("unplugged"))
	run := supervise("synthesis", func(context.Context) error { return cause }, logger)

	err := run(context.Background())
	if kind, ok := KindOf(err); !ok || kind != ErrorKindDevice {
		t.Fatalf("expected device error to survive wrapping, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "synthesis stage failed: ") {
		t.Fatalf("expected stage name in error, got %v", err)
	}
}

func TestSuperviseReturnsNilOnCleanStop(t *testing.T) {
	run := supervise("generation", func(context.Context) error { return nil }, logger)
	if err := run(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
