package orchestration

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/brightboard/tutor-core/core/events"
)

// TurnStatus tracks a turn through its lifecycle. A turn is created, runs,
// and settles in exactly one of the three terminal states.
type TurnStatus string

const (
	TurnStatusCreated     TurnStatus = "created"
	TurnStatusRunning     TurnStatus = "running"
	TurnStatusCompleted   TurnStatus = "completed"
	TurnStatusErrored     TurnStatus = "errored"
	TurnStatusInterrupted TurnStatus = "interrupted"
)

// ContextBundle carries what the tutor already knows going into a turn: a
// running summary of the session and the most recent exchanges. It is
// threaded into the model's instructions and history so answers build on
// the conversation instead of starting cold.
type ContextBundle struct {
	Summary   string     `json:"summary,omitempty"`
	Exchanges []Exchange `json:"exchanges,omitempty"`
}

// Exchange is one prior question and the answer it received.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// activeTurn is the unit of work behind one submitted question. It owns
// the turn's context, event stream, and accumulated narration, and it is
// the only place turn status transitions happen.
type activeTurn struct {
	id        string
	sessionID string
	question  string
	bundle    ContextBundle

	ctx    context.Context
	cancel context.CancelFunc

	emitter *turnEmitter

	mu        sync.Mutex
	status    TurnStatus
	narration []string

	cancelled        atomic.Bool
	interruptionCode string

	totalSentences  atomic.Int64
	totalObjects    atomic.Int64
	totalReferences atomic.Int64

	done chan struct{}
}

func newActiveTurn(ctx context.Context, sessionID, question string, eventBuffer int) *activeTurn {
	turnCtx, cancel := context.WithCancel(ctx)
	return &activeTurn{
		id:        uuid.NewString(),
		sessionID: sessionID,
		question:  question,
		ctx:       turnCtx,
		cancel:    cancel,
		emitter:   newTurnEmitter(eventBuffer),
		status:    TurnStatusCreated,
		done:      make(chan struct{}),
	}
}

func (t *activeTurn) ID() string                   { return t.id }
func (t *activeTurn) SessionID() string            { return t.sessionID }
func (t *activeTurn) Question() string             { return t.question }
func (t *activeTurn) ContextBundle() ContextBundle { return t.bundle }

func (t *activeTurn) Status() TurnStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *activeTurn) markRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == TurnStatusCreated {
		t.status = TurnStatusRunning
	}
}

func (t *activeTurn) Done() <-chan struct{} {
	return t.done
}

// Cancel requests interruption with the given code. The first call wins
// and cancels the turn context; repeated calls are no-ops. It reports
// whether this call was the one that triggered cancellation.
func (t *activeTurn) Cancel(code string) bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}

	t.mu.Lock()
	t.interruptionCode = code
	t.mu.Unlock()

	t.cancel()
	return true
}

func (t *activeTurn) Cancelled() bool {
	return t.cancelled.Load()
}

// Narration is the transcript of text chunks streamed so far, joined in
// emission order. On interruption it becomes the terminal message, so the
// consumer keeps everything spoken before the cut.
func (t *activeTurn) Narration() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.narration, " ")
}

// emitText streams one completed sentence and records it in the
// transcript. Sentence indices are assigned upstream and arrive here in
// strictly increasing order.
func (t *activeTurn) emitText(sentence Sentence) {
	t.mu.Lock()
	t.narration = append(t.narration, sentence.Text)
	t.mu.Unlock()

	if t.emitter.Emit(events.NewTextChunk(sentence.Text, sentence.Index)) {
		t.totalSentences.Add(1)
	}
}

func (t *activeTurn) complete() {
	event := events.NewComplete(
		int(t.totalSentences.Load()),
		int(t.totalObjects.Load()),
		int(t.totalReferences.Load()),
	)
	if t.emitter.Terminate(event) {
		t.setTerminalStatus(TurnStatusCompleted)
	}
	close(t.done)
}

func (t *activeTurn) fail(message string) {
	if t.emitter.Terminate(events.NewError(message)) {
		t.setTerminalStatus(TurnStatusErrored)
	}
	close(t.done)
}

func (t *activeTurn) interrupt() {
	t.mu.Lock()
	code := t.interruptionCode
	t.mu.Unlock()
	if code == "" {
		code = events.InterruptionCodeUserStop
	}

	if t.emitter.Terminate(events.NewInterrupted(t.Narration(), code)) {
		t.setTerminalStatus(TurnStatusInterrupted)
	}
	close(t.done)
}

func (t *activeTurn) setTerminalStatus(status TurnStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}
