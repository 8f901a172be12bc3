package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/brightboard/tutor-core/core/canvas"
	"github.com/brightboard/tutor-core/core/events"
)

// Consumer drives the client side of a turn stream. It decodes frames,
// reassembles narration in sentence order regardless of arrival order,
// feeds audio to the playback queue, and forwards everything else to the
// registered handlers. A stream that drops before its terminal event is
// reported as errored.
type Consumer struct {
	queue    *PlaybackQueue
	renderer canvas.Renderer

	onMetadata      func(events.Metadata)
	onText          func(events.TextChunk)
	onToolStart     func(events.ToolStart)
	onToolComplete  func(events.ToolComplete)
	onCanvasObject  func(events.CanvasObject)
	onReference     func(events.Reference)
	onBrainSelected func(events.BrainSelected)

	mu        sync.Mutex
	turnID    string
	sessionID string
	sentences map[int]string
	terminal  events.Event
}

type ConsumerOption func(*Consumer)

func WithPlaybackQueue(queue *PlaybackQueue) ConsumerOption {
	return func(c *Consumer) { c.queue = queue }
}

func WithCanvasRenderer(renderer canvas.Renderer) ConsumerOption {
	return func(c *Consumer) { c.renderer = renderer }
}

func OnMetadata(handler func(events.Metadata)) ConsumerOption {
	return func(c *Consumer) { c.onMetadata = handler }
}

func OnText(handler func(events.TextChunk)) ConsumerOption {
	return func(c *Consumer) { c.onText = handler }
}

func OnToolStart(handler func(events.ToolStart)) ConsumerOption {
	return func(c *Consumer) { c.onToolStart = handler }
}

func OnToolComplete(handler func(events.ToolComplete)) ConsumerOption {
	return func(c *Consumer) { c.onToolComplete = handler }
}

func OnCanvasObject(handler func(events.CanvasObject)) ConsumerOption {
	return func(c *Consumer) { c.onCanvasObject = handler }
}

func OnReference(handler func(events.Reference)) ConsumerOption {
	return func(c *Consumer) { c.onReference = handler }
}

func OnBrainSelected(handler func(events.BrainSelected)) ConsumerOption {
	return func(c *Consumer) { c.onBrainSelected = handler }
}

func NewConsumer(opts ...ConsumerOption) *Consumer {
	c := &Consumer{sentences: map[int]string{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TurnOutcome summarizes a consumed turn once its stream has ended.
type TurnOutcome struct {
	TurnID    string
	SessionID string
	Status    TurnStatus
	Narration string
	Terminal  events.Event
}

// Run consumes frames from the reader until the terminal event or until
// the transport drops. Frames split across reads are handled by the
// decoder; Run never assumes one frame per read.
func (c *Consumer) Run(ctx context.Context, r io.Reader) (*TurnOutcome, error) {
	decoder := events.NewDecoder(r)

	// Whatever is queued for playback stops the moment the caller walks
	// away, even while Run is blocked on the reader.
	if c.queue != nil {
		release := withContextCancelHook(ctx, c.queue.Stop)
		defer close(release)
	}

	for {
		if err := ctx.Err(); err != nil {
			return c.outcome(TurnStatusErrored), err
		}

		event, err := decoder.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Stream ended without a terminal frame: the transport was
				// lost mid-turn.
				return c.outcome(TurnStatusErrored), fmt.Errorf("stream ended before terminal event: %w", err)
			}
			return c.outcome(TurnStatusErrored), fmt.Errorf("failed to decode frame: %w", err)
		}

		if done := c.Handle(event); done {
			return c.outcome(terminalStatus(event)), nil
		}
	}
}

// Handle applies a single event and reports whether it was terminal.
// Callers that receive events from a channel instead of a byte stream can
// use it directly.
func (c *Consumer) Handle(event events.Event) bool {
	switch e := event.(type) {
	case events.Metadata:
		c.mu.Lock()
		c.turnID = e.TurnID
		c.sessionID = e.SessionID
		c.mu.Unlock()
		if c.onMetadata != nil {
			c.onMetadata(e)
		}
	case events.CachedIntro:
		if c.queue != nil && len(e.Audio) > 0 {
			c.queue.Enqueue(PlaybackChunk{
				SentenceIndex: events.IntroSentenceIndex,
				Text:          e.Text,
				Audio:         e.Audio,
			})
		}
	case events.BrainSelected:
		if c.onBrainSelected != nil {
			c.onBrainSelected(e)
		}
	case events.TextChunk:
		c.mu.Lock()
		c.sentences[e.SentenceIndex] = e.Text
		c.mu.Unlock()
		if c.onText != nil {
			c.onText(e)
		}
	case events.AudioChunk:
		if c.queue != nil {
			c.queue.Enqueue(PlaybackChunk{
				SentenceIndex: e.SentenceIndex,
				Text:          e.Text,
				Audio:         e.Audio,
			})
		}
	case events.ToolStart:
		if c.onToolStart != nil {
			c.onToolStart(e)
		}
	case events.ToolComplete:
		if c.onToolComplete != nil {
			c.onToolComplete(e)
		}
	case events.CanvasObject:
		if c.renderer != nil {
			c.renderer.Render(e.Object, e.Placement)
		}
		if c.onCanvasObject != nil {
			c.onCanvasObject(e)
		}
	case events.Reference:
		if c.onReference != nil {
			c.onReference(e)
		}
	}

	if events.IsTerminal(event) {
		c.mu.Lock()
		c.terminal = event
		c.mu.Unlock()
		if _, interrupted := event.(events.Interrupted); interrupted && c.queue != nil {
			c.queue.Stop()
		}
		return true
	}
	return false
}

// Narration is the transcript received so far, joined in sentence order.
// Partial turns keep everything streamed before the stream ended.
func (c *Consumer) Narration() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	indices := make([]int, 0, len(c.sentences))
	for index := range c.sentences {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	parts := make([]string, 0, len(indices))
	for _, index := range indices {
		parts = append(parts, c.sentences[index])
	}
	return strings.Join(parts, " ")
}

func (c *Consumer) outcome(status TurnStatus) *TurnOutcome {
	c.mu.Lock()
	turnID, sessionID, terminal := c.turnID, c.sessionID, c.terminal
	c.mu.Unlock()

	return &TurnOutcome{
		TurnID:    turnID,
		SessionID: sessionID,
		Status:    status,
		Narration: c.Narration(),
		Terminal:  terminal,
	}
}

func terminalStatus(event events.Event) TurnStatus {
	switch event.(type) {
	case events.Complete:
		return TurnStatusCompleted
	case events.Interrupted:
		return TurnStatusInterrupted
	default:
		return TurnStatusErrored
	}
}
