package orchestration

import (
	"sync"

	"github.com/brightboard/tutor-core/core/events"
)

// turnEmitter is the single writer behind a turn's event channel. It
// serializes concurrent producers (the agent loop, tool workers, the
// synthesis batcher) and enforces the terminal contract: exactly one
// terminal event, followed by channel close, after which every further
// emission is a silent no-op.
type turnEmitter struct {
	mu     sync.Mutex
	ch     chan events.Event
	closed bool
}

func newTurnEmitter(buffer int) *turnEmitter {
	return &turnEmitter{ch: make(chan events.Event, buffer)}
}

func (e *turnEmitter) Events() <-chan events.Event {
	return e.ch
}

// Emit delivers a non-terminal event. It reports whether the event was
// accepted; events offered after the terminal are dropped.
func (e *turnEmitter) Emit(event events.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || events.IsTerminal(event) {
		return false
	}

	e.ch <- event
	return true
}

// Terminate delivers the terminal event and closes the channel. Only the
// first call has any effect.
func (e *turnEmitter) Terminate(event events.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !events.IsTerminal(event) {
		return false
	}

	e.ch <- event
	close(e.ch)
	e.closed = true
	return true
}
