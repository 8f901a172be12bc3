package canvas

import "context"

// BoundingBox is the footprint of an already placed artifact.
type BoundingBox struct {
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// Layout positions a new artifact given the footprints already on screen.
// The packing algorithm itself lives outside this module.
type Layout interface {
	Place(ctx context.Context, existing []BoundingBox, desired Size) (Position, error)
}

// Renderer receives finished artifacts. Delivery is fire-and-forget; the
// pipeline never waits on rendering.
type Renderer interface {
	Render(artifact Artifact, placement Placement)
}

// FlowLayout places artifacts left to right, wrapping to a new row once a
// row is full. It is the default when no external layout engine is wired.
type FlowLayout struct {
	CanvasWidth float64
	Gap         float64
}

func (l FlowLayout) Place(_ context.Context, existing []BoundingBox, desired Size) (Position, error) {
	width := l.CanvasWidth
	if width <= 0 {
		width = 1920
	}
	gap := l.Gap
	if gap <= 0 {
		gap = 24
	}

	x, y := gap, gap
	rowBottom := gap
	for _, box := range existing {
		if box.Position.Y+box.Size.Height+gap > rowBottom {
			rowBottom = box.Position.Y + box.Size.Height + gap
		}
		right := box.Position.X + box.Size.Width + gap
		if right > x {
			x = right
			y = box.Position.Y
		}
	}

	if x+desired.Width > width {
		x = gap
		y = rowBottom
	}
	return Position{X: x, Y: y}, nil
}
