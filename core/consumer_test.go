package orchestration

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/brightboard/tutor-core/core/events"
)

// drip yields at most n bytes per read, forcing frames to arrive split
// across reads.
type drip struct {
	r io.Reader
	n int
}

func (d drip) Read(p []byte) (int, error) {
	if len(p) > d.n {
		p = p[:d.n]
	}
	return d.r.Read(p)
}

func encodeAll(t *testing.T, sequence []events.Event) []byte {
	t.Helper()

	var buf bytes.Buffer
	encoder := events.NewEncoder(&buf)
	for _, event := range sequence {
		if err := encoder.Encode(event); err != nil {
			t.Fatalf("failed to encode %s: %v", event.Type(), err)
		}
	}
	return buf.Bytes()
}

func TestConsumerReassemblesSplitFrames(t *testing.T) {
	payload := encodeAll(t, []events.Event{
		events.NewMetadata("turn-1", 2, "session-1"),
		events.NewTextChunk("First sentence.", 0),
		events.NewTextChunk("Second sentence.", 1),
		events.NewComplete(2, 0, 0),
	})

	var texts []string
	consumer := NewConsumer(OnText(func(e events.TextChunk) {
		texts = append(texts, e.Text)
	}))

	outcome, err := consumer.Run(context.Background(), drip{r: bytes.NewReader(payload), n: 7})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if outcome.Status != TurnStatusCompleted {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}
	if outcome.TurnID != "turn-1" || outcome.SessionID != "session-1" {
		t.Fatalf("unexpected identifiers: %+v", outcome)
	}
	if len(texts) != 2 {
		t.Fatalf("expected 2 text chunks, got %d", len(texts))
	}
	if outcome.Narration != "First sentence. Second sentence." {
		t.Fatalf("unexpected narration: %q", outcome.Narration)
	}
}

func TestConsumerOrdersNarrationBySentenceIndex(t *testing.T) {
	payload := encodeAll(t, []events.Event{
		events.NewMetadata("turn-1", 3, "session-1"),
		events.NewTextChunk("comes first.", 1),
		events.NewTextChunk("This", 0),
		events.NewTextChunk("Then this.", 2),
		events.NewComplete(3, 0, 0),
	})

	consumer := NewConsumer()
	outcome, err := consumer.Run(context.Background(), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if outcome.Narration != "This comes first. Then this." {
		t.Fatalf("unexpected narration order: %q", outcome.Narration)
	}
}

func TestConsumerTreatsTruncatedStreamAsErrored(t *testing.T) {
	payload := encodeAll(t, []events.Event{
		events.NewMetadata("turn-1", 0, "session-1"),
		events.NewTextChunk("Partial narration.", 0),
	})
	// Cut the stream mid-frame.
	payload = payload[:len(payload)-4]

	consumer := NewConsumer()
	outcome, err := consumer.Run(context.Background(), bytes.NewReader(payload))
	if err == nil {
		t.Fatal("expected an error for a truncated stream")
	}
	if outcome.Status != TurnStatusErrored {
		t.Fatalf("expected errored outcome, got %s", outcome.Status)
	}
	if outcome.TurnID != "turn-1" {
		t.Fatalf("expected identifiers from the frames that arrived, got %+v", outcome)
	}
}

func TestConsumerFeedsAudioToPlaybackQueue(t *testing.T) {
	payload := encodeAll(t, []events.Event{
		events.NewMetadata("turn-1", 1, "session-1"),
		events.NewCachedIntro("One moment.", []byte{7}, "general", 0.5),
		events.NewTextChunk("Here it is.", 0),
		events.NewAudioChunk([]byte{8}, "Here it is.", 0),
		events.NewComplete(1, 0, 0),
	})

	player := newTrackingPlayer()
	queue := NewPlaybackQueue(player)
	queue.Pause()
	player.indexOf[string([]byte{7})] = events.IntroSentenceIndex
	player.indexOf[string([]byte{8})] = 0

	consumer := NewConsumer(WithPlaybackQueue(queue))
	if _, err := consumer.Run(context.Background(), bytes.NewReader(payload)); err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	queue.Resume()
	waitForIdle(t, queue)

	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.played) != 2 {
		t.Fatalf("expected intro and sentence played, got %v", player.played)
	}
	if player.played[0] != events.IntroSentenceIndex {
		t.Fatalf("expected intro first, got %v", player.played)
	}
}

func TestConsumerStopsPlaybackOnInterruption(t *testing.T) {
	payload := encodeAll(t, []events.Event{
		events.NewMetadata("turn-1", 0, "session-1"),
		events.NewTextChunk("Partial.", 0),
		events.NewAudioChunk([]byte{1}, "Partial.", 0),
		events.NewInterrupted("Partial.", events.InterruptionCodeUserStop),
	})

	player := &fakePlayer{blocking: make(chan struct{})}
	queue := NewPlaybackQueue(player)

	consumer := NewConsumer(WithPlaybackQueue(queue))
	outcome, err := consumer.Run(context.Background(), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if outcome.Status != TurnStatusInterrupted {
		t.Fatalf("expected interrupted, got %s", outcome.Status)
	}
	if outcome.Narration != "Partial." {
		t.Fatalf("expected preserved narration, got %q", outcome.Narration)
	}

	if state := queue.State(); state.IsPlaying || state.QueueLength != 0 {
		t.Fatalf("expected playback stopped and queue emptied, got %+v", state)
	}
}

func TestConsumerStopsPlaybackWhenCallerLeaves(t *testing.T) {
	player := &fakePlayer{blocking: make(chan struct{})}
	queue := NewPlaybackQueue(player)
	consumer := NewConsumer(WithPlaybackQueue(queue))

	reads, writes := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		_, err := consumer.Run(ctx, reads)
		runErr <- err
	}()

	payload := encodeAll(t, []events.Event{
		events.NewMetadata("turn-1", 0, "session-1"),
		events.NewAudioChunk([]byte{8}, "Hold that thought.", 0),
	})
	if _, err := writes.Write(payload); err != nil {
		t.Fatalf("failed to feed frames: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !queue.State().IsPlaying {
		if time.Now().After(deadline) {
			t.Fatal("queue never started playing")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	waitForIdle(t, queue)

	writes.Close()
	if err := <-runErr; err == nil {
		t.Fatal("expected an error from the severed stream")
	}
}
