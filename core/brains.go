package orchestration

import (
	"context"
	"strings"
)

// Brain is a specialized tutoring persona. Each brain carries its own
// system instructions and, optionally, a restricted set of tool servers it
// is allowed to call. An empty ServerIDs list grants the whole catalog.
type Brain struct {
	Type         string
	Name         string
	Instructions string
	ServerIDs    []string
}

func (b Brain) allowsServer(serverID string) bool {
	if len(b.ServerIDs) == 0 {
		return true
	}
	for _, id := range b.ServerIDs {
		if id == serverID {
			return true
		}
	}
	return false
}

// BrainSelection is the outcome of routing a question to a brain.
type BrainSelection struct {
	Brain      Brain
	Confidence float64
	Reasoning  string
}

// BrainSelector routes an incoming question to the brain best suited to
// answer it.
type BrainSelector interface {
	SelectBrain(ctx context.Context, question string) (*BrainSelection, error)
}

// KeywordBrainSelector routes questions by keyword lookup. It is fast and
// deterministic, which keeps routing off the model's critical path; a
// question matching no keywords falls through to the default brain with
// low confidence.
type KeywordBrainSelector struct {
	brains       []Brain
	keywords     map[string][]string
	defaultBrain Brain
}

func NewKeywordBrainSelector(defaultBrain Brain, brains []Brain, keywords map[string][]string) *KeywordBrainSelector {
	return &KeywordBrainSelector{
		brains:       brains,
		keywords:     keywords,
		defaultBrain: defaultBrain,
	}
}

func (s *KeywordBrainSelector) SelectBrain(_ context.Context, question string) (*BrainSelection, error) {
	lowered := strings.ToLower(question)

	bestScore := 0
	var bestBrain *Brain
	var bestKeyword string
	for i := range s.brains {
		score := 0
		keyword := ""
		for _, k := range s.keywords[s.brains[i].Type] {
			if strings.Contains(lowered, strings.ToLower(k)) {
				score++
				if keyword == "" {
					keyword = k
				}
			}
		}
		if score > bestScore {
			bestScore = score
			bestBrain = &s.brains[i]
			bestKeyword = keyword
		}
	}

	if bestBrain == nil {
		return &BrainSelection{
			Brain:      s.defaultBrain,
			Confidence: 0.3,
			Reasoning:  "no subject keywords matched",
		}, nil
	}

	confidence := 0.6 + 0.1*float64(bestScore)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return &BrainSelection{
		Brain:      *bestBrain,
		Confidence: confidence,
		Reasoning:  "matched keyword " + bestKeyword,
	}, nil
}
