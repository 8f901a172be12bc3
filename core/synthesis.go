package orchestration

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightboard/tutor-core/core/events"
	"github.com/brightboard/tutor-core/core/texttospeech"
)

const defaultSynthesisBatchSize = 3

// synthesisBatcher turns completed sentences into audio chunks. Sentences
// are synthesized in parallel batches but always emitted in sentence
// order. A failed sentence only loses its audio; the text chunk has
// already been streamed, so narration continues uninterrupted.
type synthesisBatcher struct {
	synthesizer texttospeech.Synthesizer
	batchSize   int
	options     []texttospeech.SynthesisOption
}

func newSynthesisBatcher(synthesizer texttospeech.Synthesizer, batchSize int, options ...texttospeech.SynthesisOption) *synthesisBatcher {
	if batchSize <= 0 {
		batchSize = defaultSynthesisBatchSize
	}
	return &synthesisBatcher{
		synthesizer: synthesizer,
		batchSize:   batchSize,
		options:     options,
	}
}

// Run consumes sentences until the channel closes and emits an audio chunk
// for each successful synthesis. It returns once every accepted sentence
// has been resolved or the context is cancelled.
func (b *synthesisBatcher) Run(ctx context.Context, sentences <-chan Sentence, emit func(events.AudioChunk)) {
	if b.synthesizer == nil {
		for range sentences {
		}
		return
	}

	ctx, span := tracer.Start(ctx, "orchestration.synthesis",
		trace.WithAttributes(attribute.Int("synthesis.batch_size", b.batchSize)),
	)
	defer span.End()

	batch := make([]Sentence, 0, b.batchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case sentence, ok := <-sentences:
			if !ok {
				b.flush(ctx, batch, emit)
				return
			}
			batch = append(batch, sentence)
			if len(batch) == b.batchSize {
				b.flush(ctx, batch, emit)
				batch = batch[:0]
			}
		}
	}
}

func (b *synthesisBatcher) flush(ctx context.Context, batch []Sentence, emit func(events.AudioChunk)) {
	if len(batch) == 0 {
		return
	}

	results := make([][]byte, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, sentence := range batch {
		wg.Add(1)
		go func(i int, sentence Sentence) {
			defer wg.Done()
			results[i], errs[i] = b.synthesizer.Synthesize(ctx, sentence.Text, b.options...)
		}(i, sentence)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	for i, sentence := range batch {
		if errs[i] != nil {
			_, span := tracer.Start(ctx, "orchestration.synthesis.sentence")
			span.RecordError(errs[i])
			span.SetStatus(codes.Error, errs[i].Error())
			span.SetAttributes(attribute.Int("sentence.index", sentence.Index))
			span.End()
			logger.WarnContext(ctx, "dropping audio for sentence",
				"sentenceIndex", sentence.Index, "error", errs[i])
			continue
		}
		emit(events.NewAudioChunk(results[i], sentence.Text, sentence.Index))
	}
}
