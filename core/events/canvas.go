package events

import "github.com/brightboard/tutor-core/core/canvas"

// CanvasObject streams a renderable artifact with its placement. Artifacts
// are emitted as soon as their producing tool resolves, never batched.
type CanvasObject struct {
	Base
	Object    canvas.Artifact  `json:"object"`
	Placement canvas.Placement `json:"placement"`
}

func NewCanvasObject(object canvas.Artifact, placement canvas.Placement) CanvasObject {
	return CanvasObject{Base: NewBase(TypeCanvasObject), Object: object, Placement: placement}
}

// Reference links a narration mention to an already emitted artifact.
type Reference struct {
	Base
	Mention  string `json:"mention"`
	ObjectID string `json:"objectId"`
}

func NewReference(mention, objectID string) Reference {
	return Reference{Base: NewBase(TypeReference), Mention: mention, ObjectID: objectID}
}
