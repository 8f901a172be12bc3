package orchestration

import (
	"context"

	"github.com/brightboard/tutor-core/core/canvas"
	"github.com/brightboard/tutor-core/core/texttospeech"
)

type OrchestratorOption func(*Orchestrator)

// TurnOption adjusts a single submitted question.
type TurnOption func(*activeTurn)

// WithContextBundle supplies the session knowledge the model should build
// on when answering this question.
func WithContextBundle(bundle ContextBundle) TurnOption {
	return func(t *activeTurn) {
		t.bundle = bundle
	}
}

// WithSynthesizer enables audio narration. Without it turns stream text
// chunks only.
func WithSynthesizer(synthesizer texttospeech.Synthesizer, opts ...texttospeech.SynthesisOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.synthesizer = synthesizer
		o.synthesisOptions = opts
	}
}

// WithSynthesisBatchSize overrides how many sentences are synthesized in
// parallel per batch.
func WithSynthesisBatchSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.synthesisBatchSize = size
		}
	}
}

// WithToolSource connects the tool servers whose tools the model may
// call.
func WithToolSource(source ToolSource) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tools = source
	}
}

// WithLayout replaces the built-in flow layout for canvas placement.
func WithLayout(layout canvas.Layout) OrchestratorOption {
	return func(o *Orchestrator) {
		if layout != nil {
			o.layout = layout
		}
	}
}

// WithRenderer mirrors placed artifacts to a local renderer in addition
// to the event stream.
func WithRenderer(renderer canvas.Renderer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.renderer = renderer
	}
}

// WithBrainSelector routes questions to specialized brains. Without it
// every question goes to the default brain and no selection event is
// emitted.
func WithBrainSelector(selector BrainSelector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.selector = selector
	}
}

// WithDefaultBrain replaces the general tutor fallback.
func WithDefaultBrain(brain Brain) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultBrain = brain
	}
}

// WithIntroStore enables pre-synthesized intro phrases at turn start.
func WithIntroStore(store IntroStore) OrchestratorOption {
	return func(o *Orchestrator) {
		o.intros = store
	}
}

// WithEventBuffer sizes each turn's event channel.
func WithEventBuffer(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.eventBuffer = size
		}
	}
}

// WithBaseContext parents every turn context, letting the host shut all
// turns down at once.
func WithBaseContext(ctx context.Context) OrchestratorOption {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.baseContext = ctx
		}
	}
}
