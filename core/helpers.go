package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// stage is one long running pipeline goroutine: capture, generation or
// playback.
type stage func(context.Context) error

// supervise names the errors of a stage and turns a panic into an error that
// stops the orchestrator like any other terminal failure.
func supervise(name string, run stage, logger *slog.Logger) stage {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("pipeline stage panicked", "stage", name, "panic", recovered, "stack", string(debug.Stack()))
				err = fmt.Errorf("%s stage panicked: %v", name, recovered)
			}
		}()

		if err := run(ctx); err != nil {
			return fmt.Errorf("%s stage failed: %w", name, err)
		}
		return nil
	}
}
