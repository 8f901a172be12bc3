// Package canvas defines the renderable artifact contract shared between the
// streaming pipeline and the external canvas renderer.
//
// The pipeline only validates the artifact tag and forwards the payload; it
// never interprets payload content. Rendering and layout live outside this
// module.
package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type tags the artifact content. The set is closed: the orchestrator rejects
// anything outside of it instead of forwarding free-form strings.
type Type string

const (
	TypeEquation Type = "equation"
	TypeCode     Type = "code"
	TypeDiagram  Type = "diagram"
	TypeImage    Type = "image"
	TypeVideo    Type = "video"
	TypeNote     Type = "note"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeEquation, TypeCode, TypeDiagram, TypeImage, TypeVideo, TypeNote:
		return true
	}
	return false
}

// Artifact is a single renderable canvas object.
//
// Payload is opaque to the pipeline apart from the tag check; the typed
// constructors below are the only producers inside this module.
type Artifact struct {
	ID                string          `json:"id"`
	Type              Type            `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	SuggestedPosition *Position       `json:"suggestedPosition,omitempty"`
	AnimationHint     string          `json:"animationHint,omitempty"`
}

func (a Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("unknown artifact type %q", a.Type)
	}
	return nil
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Placement describes where and how an artifact should appear on screen. It is
// produced by the layout engine and forwarded verbatim.
type Placement struct {
	ObjectID  string   `json:"objectId"`
	Position  Position `json:"position"`
	AnimateIn string   `json:"animateIn,omitempty"`
	Timing    float64  `json:"timing,omitempty"`
}

type EquationPayload struct {
	LaTeX   string `json:"latex"`
	Caption string `json:"caption,omitempty"`
}

type CodePayload struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
	Title    string `json:"title,omitempty"`
}

type DiagramPayload struct {
	Format string `json:"format"`
	Source string `json:"source"`
}

type ImagePayload struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
	AltText  string `json:"altText,omitempty"`
}

type VideoPayload struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
	Loop     bool   `json:"loop,omitempty"`
}

type NotePayload struct {
	Text string `json:"text"`
}

func New(typ Type, payload any) (Artifact, error) {
	if !typ.IsValid() {
		return Artifact{}, fmt.Errorf("unknown artifact type %q", typ)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	return Artifact{ID: uuid.NewString(), Type: typ, Payload: raw}, nil
}

func NewEquation(payload EquationPayload) (Artifact, error) { return New(TypeEquation, payload) }
func NewCode(payload CodePayload) (Artifact, error)         { return New(TypeCode, payload) }
func NewDiagram(payload DiagramPayload) (Artifact, error)   { return New(TypeDiagram, payload) }
func NewImage(payload ImagePayload) (Artifact, error)       { return New(TypeImage, payload) }
func NewVideo(payload VideoPayload) (Artifact, error)       { return New(TypeVideo, payload) }
func NewNote(payload NotePayload) (Artifact, error)         { return New(TypeNote, payload) }
