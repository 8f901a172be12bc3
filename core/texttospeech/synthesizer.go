// Package texttospeech defines the speech synthesis contract consumed by the
// streaming pipeline's batcher.
package texttospeech

import "context"

// Synthesizer converts one piece of text into encoded audio. Implementations
// must honor context cancellation; the batcher invokes Synthesize
// concurrently for every sentence of a batch.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts ...SynthesisOption) ([]byte, error)
}
