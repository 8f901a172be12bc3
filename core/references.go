package orchestration

import (
	"strings"
	"sync"

	"github.com/brightboard/tutor-core/core/canvas"
	"github.com/brightboard/tutor-core/core/events"
)

// referenceTracker links narration back to canvas objects. Tool workers
// register every placed artifact together with the phrases likely to name
// it; each narrated sentence is then scanned and a reference event emitted
// per mentioned object.
type referenceTracker struct {
	mu       sync.Mutex
	bindings []referenceBinding
}

type referenceBinding struct {
	objectID string
	phrases  []string
}

func newReferenceTracker() *referenceTracker {
	return &referenceTracker{}
}

func (r *referenceTracker) Register(artifact canvas.Artifact, phrases ...string) {
	withDefaults := append([]string{deicticPhrase(artifact.Type)}, phrases...)

	cleaned := make([]string, 0, len(withDefaults))
	for _, p := range withDefaults {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, referenceBinding{objectID: artifact.ID, phrases: cleaned})
}

// Scan matches a sentence against all registered artifacts. Later
// registrations shadow earlier ones for shared phrases, so "this diagram"
// resolves to the most recently placed diagram.
func (r *referenceTracker) Scan(text string) []events.Reference {
	lowered := strings.ToLower(text)

	r.mu.Lock()
	defer r.mu.Unlock()

	matched := map[string]string{}
	for _, binding := range r.bindings {
		for _, phrase := range binding.phrases {
			if strings.Contains(lowered, phrase) {
				matched[phrase] = binding.objectID
				break
			}
		}
	}

	seen := map[string]struct{}{}
	var references []events.Reference
	for phrase, objectID := range matched {
		if _, ok := seen[objectID]; ok {
			continue
		}
		seen[objectID] = struct{}{}
		references = append(references, events.NewReference(phrase, objectID))
	}
	return references
}

func deicticPhrase(typ canvas.Type) string {
	switch typ {
	case canvas.TypeEquation:
		return "this equation"
	case canvas.TypeCode:
		return "this code"
	case canvas.TypeDiagram:
		return "this diagram"
	case canvas.TypeImage:
		return "this image"
	case canvas.TypeVideo:
		return "this animation"
	case canvas.TypeNote:
		return "this note"
	}
	return ""
}
