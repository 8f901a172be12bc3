package events

// Metadata opens every turn stream.
type Metadata struct {
	Base
	TurnID         string `json:"turnId"`
	TotalSentences int    `json:"totalSentences"`
	SessionID      string `json:"sessionId"`
}

func NewMetadata(turnID string, totalSentences int, sessionID string) Metadata {
	return Metadata{Base: NewBase(TypeMetadata), TurnID: turnID, TotalSentences: totalSentences, SessionID: sessionID}
}

// CachedIntro carries a pre-synthesized greeting clip that masks model
// latency. Its audio plays at the reserved sentence index.
type CachedIntro struct {
	Base
	Text     string  `json:"text"`
	Audio    []byte  `json:"audio"`
	Category string  `json:"category"`
	Duration float64 `json:"duration"`
}

func NewCachedIntro(text string, audio []byte, category string, duration float64) CachedIntro {
	return CachedIntro{Base: NewBase(TypeCachedIntro), Text: text, Audio: audio, Category: category, Duration: duration}
}

// BrainSelected reports the teaching mode resolved for the turn.
type BrainSelected struct {
	Base
	BrainType  string  `json:"brainType"`
	BrainName  string  `json:"brainName"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func NewBrainSelected(brainType, brainName string, confidence float64, reasoning string) BrainSelected {
	return BrainSelected{Base: NewBase(TypeBrainSelected), BrainType: brainType, BrainName: brainName, Confidence: confidence, Reasoning: reasoning}
}
