package orchestration

import (
	"context"
	"sync"
)

// Player turns raw audio into sound. Play blocks until the audio has
// finished or the context is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// PlaybackChunk is one queued narration sentence with its audio.
type PlaybackChunk struct {
	SentenceIndex int
	Text          string
	Audio         []byte
}

// PlaybackState is a point-in-time snapshot of the queue.
type PlaybackState struct {
	IsPlaying            bool
	Paused               bool
	CurrentSentenceIndex int
	CurrentText          string
	QueueLength          int
}

// PlaybackQueue plays audio chunks sequentially in sentence order. Chunks
// may be enqueued out of order; they are merged by index, with the
// reserved intro index -1 always sorting first. Stop halts the current
// chunk, empties the queue, and resets state before returning.
type PlaybackQueue struct {
	player Player

	mu            sync.Mutex
	queue         []PlaybackChunk
	playing       bool
	paused        bool
	current       *PlaybackChunk
	cancelCurrent context.CancelFunc
	generation    int
}

func NewPlaybackQueue(player Player) *PlaybackQueue {
	return &PlaybackQueue{player: player}
}

// Enqueue inserts a chunk at its ordered position and starts playback if
// the queue is idle.
func (q *PlaybackQueue) Enqueue(chunk PlaybackChunk) {
	q.mu.Lock()
	defer q.mu.Unlock()

	position := len(q.queue)
	for i, queued := range q.queue {
		if chunk.SentenceIndex < queued.SentenceIndex {
			position = i
			break
		}
	}
	q.queue = append(q.queue, PlaybackChunk{})
	copy(q.queue[position+1:], q.queue[position:])
	q.queue[position] = chunk

	q.kickLocked()
}

func (q *PlaybackQueue) kickLocked() {
	if q.playing || q.paused || len(q.queue) == 0 {
		return
	}
	q.playing = true
	go q.loop(q.generation)
}

func (q *PlaybackQueue) loop(generation int) {
	for {
		q.mu.Lock()
		if q.generation != generation {
			q.mu.Unlock()
			return
		}
		if q.paused || len(q.queue) == 0 {
			q.playing = false
			q.current = nil
			q.cancelCurrent = nil
			q.mu.Unlock()
			return
		}

		chunk := q.queue[0]
		q.queue = q.queue[1:]
		q.current = &chunk
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelCurrent = cancel
		q.mu.Unlock()

		if err := q.player.Play(ctx, chunk.Audio); err != nil && ctx.Err() == nil {
			logger.Warn("audio playback failed",
				"sentenceIndex", chunk.SentenceIndex, "error", err)
		}
		cancel()
	}
}

// Stop halts whatever is playing, discards the queue, and resets state.
// The reset is visible as soon as Stop returns; it is safe to call at any
// time, including when idle.
func (q *PlaybackQueue) Stop() {
	q.mu.Lock()
	q.generation++
	q.queue = nil
	q.playing = false
	q.paused = false
	q.current = nil
	cancel := q.cancelCurrent
	q.cancelCurrent = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Pause lets the current chunk finish and holds the rest of the queue.
func (q *PlaybackQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume continues playback after a pause.
func (q *PlaybackQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.kickLocked()
}

func (q *PlaybackQueue) State() PlaybackState {
	q.mu.Lock()
	defer q.mu.Unlock()

	state := PlaybackState{
		IsPlaying:   q.playing && q.current != nil,
		Paused:      q.paused,
		QueueLength: len(q.queue),
	}
	if q.current != nil {
		state.CurrentSentenceIndex = q.current.SentenceIndex
		state.CurrentText = q.current.Text
	}
	return state
}
