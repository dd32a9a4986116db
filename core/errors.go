package orchestration

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures by what should happen next.
type ErrorKind string

const (
	// ErrorKindTransport covers the transcription connection: a lost socket
	// or a session the service ended. Terminal.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindService covers a failed generation or synthesis request. The
	// affected utterance or turn is skipped and the pipeline continues.
	ErrorKindService ErrorKind = "service"
	// ErrorKindDevice covers microphone and speaker failures. Terminal.
	ErrorKindDevice ErrorKind = "device"
)

// PipelineError attaches an ErrorKind and the failed operation to an error.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether the pipeline stops because of this error.
func (e *PipelineError) IsTerminal() bool {
	return e.Kind != ErrorKindService
}

func newPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first PipelineError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Kind, true
	}
	return "", false
}
