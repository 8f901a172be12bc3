package events

import "time"

// Type identifies an event on the wire. The strings are part of the protocol
// and must not change.
type Type string

const (
	TypeMetadata      Type = "metadata"
	TypeCachedIntro   Type = "cached_intro"
	TypeBrainSelected Type = "brain_selected"
	TypeToolStart     Type = "mcp_tool_start"
	TypeToolComplete  Type = "mcp_tool_complete"
	TypeTextChunk     Type = "text_chunk"
	TypeAudioChunk    Type = "audio_chunk"
	TypeCanvasObject  Type = "canvas_object"
	TypeReference     Type = "reference"
	TypeComplete      Type = "complete"
	TypeError         Type = "error"
	TypeInterrupted   Type = "interrupted"
)

// IntroSentenceIndex is the reserved index for the cached intro clip. It is
// the only index allowed to break the strictly-increasing ordering and always
// plays first when present.
const IntroSentenceIndex = -1

type Event interface {
	Type() Type
	Timestamp() time.Time
}

// IsTerminal reports whether the event ends its stream.
func IsTerminal(e Event) bool {
	switch e.Type() {
	case TypeComplete, TypeError, TypeInterrupted:
		return true
	}
	return false
}

type Base struct {
	typ       Type
	timestamp time.Time
}

func NewBase(typ Type) Base {
	return Base{typ: typ, timestamp: time.Now()}
}

func (b Base) Type() Type {
	return b.typ
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
