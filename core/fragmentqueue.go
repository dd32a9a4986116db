package orchestration

import (
	"context"
	"sync"
)

// fragment is one entry of the playback queue: either an utterance of a turn
// or the end-of-turn sentinel.
type fragment struct {
	turn      *turn
	utterance string
	endOfTurn bool
}

// fragmentQueue is the FIFO between generation and synthesis. Pushes never
// block, so a turn can finish generating while an earlier turn is still
// playing.
type fragmentQueue struct {
	mu           sync.Mutex
	fragments    []fragment
	closed       bool
	updateSignal chan struct{}
}

func newFragmentQueue() *fragmentQueue {
	return &fragmentQueue{updateSignal: make(chan struct{}, 1)}
}

func (q *fragmentQueue) PushUtterance(turn *turn, utterance string) {
	q.push(fragment{turn: turn, utterance: utterance})
}

func (q *fragmentQueue) PushEndOfTurn(turn *turn) {
	q.push(fragment{turn: turn, endOfTurn: true})
}

func (q *fragmentQueue) push(f fragment) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.fragments = append(q.fragments, f)
	q.mu.Unlock()
	q.signalUpdate()
}

// Next blocks until a fragment is available. It returns false once ctx is
// done or the queue was closed.
func (q *fragmentQueue) Next(ctx context.Context) (fragment, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return fragment{}, false
		}
		if len(q.fragments) > 0 {
			f := q.fragments[0]
			q.fragments[0] = fragment{}
			q.fragments = q.fragments[1:]
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fragment{}, false
		case <-q.updateSignal:
		}
	}
}

func (q *fragmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fragments)
}

// Close drops pending fragments and wakes the consumer.
func (q *fragmentQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.fragments = nil
	q.mu.Unlock()
	q.signalUpdate()
}

func (q *fragmentQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
