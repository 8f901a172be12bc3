// Package orchestration coordinates a tutoring turn end to end: routing a
// question to a brain, driving the model's reason-act loop, segmenting
// narration into sentences, synthesizing audio in parallel batches, and
// streaming the whole answer as an ordered event sequence per turn.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightboard/tutor-core/core/canvas"
	"github.com/brightboard/tutor-core/core/events"
	"github.com/brightboard/tutor-core/core/texttospeech"
)

const defaultEventBuffer = 256

// Orchestrator runs tutoring turns. Each session has at most one running
// turn; submitting a new question supersedes the previous one.
type Orchestrator struct {
	llm         StreamingLLM
	synthesizer texttospeech.Synthesizer
	tools       ToolSource
	layout      canvas.Layout
	renderer    canvas.Renderer
	selector    BrainSelector
	intros      IntroStore

	defaultBrain       Brain
	synthesisBatchSize int
	synthesisOptions   []texttospeech.SynthesisOption
	eventBuffer        int

	baseContext context.Context

	mu    sync.Mutex
	turns map[string]*activeTurn
}

func NewOrchestrator(llm StreamingLLM, opts ...OrchestratorOption) (*Orchestrator, error) {
	if llm == nil {
		return nil, errors.New("a language model is required")
	}

	o := &Orchestrator{
		llm: llm,
		defaultBrain: Brain{
			Type:         "general",
			Name:         "General Tutor",
			Instructions: defaultInstructions,
		},
		layout:             canvas.FlowLayout{},
		synthesisBatchSize: defaultSynthesisBatchSize,
		eventBuffer:        defaultEventBuffer,
		baseContext:        context.Background(),
		turns:              map[string]*activeTurn{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

const defaultInstructions = `You are a patient, enthusiastic tutor speaking to a student out loud.
Answer in short, clear spoken sentences. Use the available tools to put
equations, diagrams, and animations on the student's canvas, and refer to
what you placed while you explain it.`

// SubmitQuestion starts a turn for the question. A running turn in the
// same session is cancelled first and settles with the superseded code.
func (o *Orchestrator) SubmitQuestion(ctx context.Context, sessionID, question string, opts ...TurnOption) (*TurnHandle, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if question == "" {
		return nil, errors.New("question is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cannot submit question: %w", err)
	}

	turn := newActiveTurn(o.baseContext, sessionID, question, o.eventBuffer)
	for _, opt := range opts {
		opt(turn)
	}

	o.mu.Lock()
	if previous, ok := o.turns[sessionID]; ok {
		previous.Cancel(events.InterruptionCodeSuperseded)
	}
	o.turns[sessionID] = turn
	o.mu.Unlock()

	go o.run(turn)

	return &TurnHandle{orchestrator: o, turn: turn}, nil
}

// Stop interrupts the turn with the given id. It is idempotent: stopping
// an unknown or already settled turn reports false and does nothing.
func (o *Orchestrator) Stop(turnID string) bool {
	o.mu.Lock()
	var target *activeTurn
	for _, turn := range o.turns {
		if turn.ID() == turnID {
			target = turn
			break
		}
	}
	o.mu.Unlock()

	if target == nil {
		return false
	}
	return target.Cancel(events.InterruptionCodeUserStop)
}

// EndSession interrupts the session's running turn, if any, and forgets
// the session.
func (o *Orchestrator) EndSession(sessionID string) bool {
	o.mu.Lock()
	turn, ok := o.turns[sessionID]
	delete(o.turns, sessionID)
	o.mu.Unlock()

	if !ok {
		return false
	}
	return turn.Cancel(events.InterruptionCodeSessionEnded)
}

// CurrentTurn returns a handle on the session's most recent turn.
func (o *Orchestrator) CurrentTurn(sessionID string) (*TurnHandle, bool) {
	o.mu.Lock()
	turn, ok := o.turns[sessionID]
	o.mu.Unlock()

	if !ok {
		return nil, false
	}
	return &TurnHandle{orchestrator: o, turn: turn}, true
}

// run executes a turn to its terminal event. It is the only goroutine
// that settles the turn.
func (o *Orchestrator) run(turn *activeTurn) {
	ctx, span := tracer.Start(turn.ctx, "tutoring turn",
		trace.WithAttributes(
			attribute.String("turn.id", turn.ID()),
			attribute.String("session.id", turn.SessionID()),
		),
	)
	defer span.End()

	turn.markRunning()
	turn.emitter.Emit(events.NewMetadata(turn.ID(), 0, turn.SessionID()))

	if o.intros != nil {
		if intro, ok := o.intros.Lookup(ctx, turn.Question()); ok {
			turn.emitter.Emit(events.NewCachedIntro(intro.Text, intro.Audio, intro.Category, intro.Duration()))
			span.AddEvent("cached intro emitted")
		}
	}

	brain := o.selectBrain(ctx, turn)
	span.SetAttributes(attribute.String("brain.type", brain.Type))

	sentences := make(chan Sentence, 2*o.synthesisBatchSize)
	batcher := newSynthesisBatcher(o.synthesizer, o.synthesisBatchSize, o.synthesisOptions...)
	synthesisDone := make(chan struct{})
	go func() {
		defer close(synthesisDone)
		batcher.Run(ctx, sentences, func(chunk events.AudioChunk) {
			turn.emitter.Emit(chunk)
		})
	}()

	loop := &agentLoop{
		turn:         turn,
		llm:          o.llm,
		tools:        o.tools,
		layout:       o.layout,
		renderer:     o.renderer,
		instructions: brain.Instructions,
		bundle:       turn.ContextBundle(),
		segmenter:    newSentenceSegmenter(),
		sentences:    sentences,
		references:   newReferenceTracker(),
	}
	loop.catalog = append(buildToolCatalog(ctx, o.tools, brain), builtinTools(loop)...)

	err := panicSafeNamedWorker("agent loop", loop.run)(ctx)
	close(sentences)
	<-synthesisDone

	o.mu.Lock()
	if o.turns[turn.SessionID()] == turn {
		delete(o.turns, turn.SessionID())
	}
	o.mu.Unlock()

	switch {
	case turn.Cancelled() || errors.Is(err, context.Canceled):
		span.AddEvent("turn interrupted")
		turn.interrupt()
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		turn.fail(err.Error())
	default:
		turn.complete()
	}
}

// selectBrain routes the question. Routing failures are non-fatal; the
// default brain answers and no selection event is emitted.
func (o *Orchestrator) selectBrain(ctx context.Context, turn *activeTurn) Brain {
	if o.selector == nil {
		return o.defaultBrain
	}

	selection, err := o.selector.SelectBrain(ctx, turn.Question())
	if err != nil || selection == nil {
		logger.WarnContext(ctx, "brain selection failed, using default",
			"turnId", turn.ID(), "error", err)
		return o.defaultBrain
	}

	turn.emitter.Emit(events.NewBrainSelected(
		selection.Brain.Type,
		selection.Brain.Name,
		selection.Confidence,
		selection.Reasoning,
	))
	return selection.Brain
}

// TurnHandle is the caller's view of a submitted turn.
type TurnHandle struct {
	orchestrator *Orchestrator
	turn         *activeTurn
}

func (h *TurnHandle) ID() string        { return h.turn.ID() }
func (h *TurnHandle) SessionID() string { return h.turn.SessionID() }
func (h *TurnHandle) Question() string  { return h.turn.Question() }

// Events is the turn's ordered event stream. It carries exactly one
// terminal event and is closed right after it.
func (h *TurnHandle) Events() <-chan events.Event {
	return h.turn.emitter.Events()
}

func (h *TurnHandle) Status() TurnStatus {
	return h.turn.Status()
}

// Done is closed once the turn has settled.
func (h *TurnHandle) Done() <-chan struct{} {
	return h.turn.Done()
}

// Cancel interrupts the turn on the user's behalf. Repeat calls are
// no-ops.
func (h *TurnHandle) Cancel() bool {
	return h.turn.Cancel(events.InterruptionCodeUserStop)
}

// Rerun cancels this turn if still running and submits the same question
// again as a fresh turn, carrying the same context bundle.
func (h *TurnHandle) Rerun(ctx context.Context) (*TurnHandle, error) {
	h.turn.Cancel(events.InterruptionCodeSuperseded)
	return h.orchestrator.SubmitQuestion(ctx, h.turn.SessionID(), h.turn.Question(),
		WithContextBundle(h.turn.ContextBundle()))
}
