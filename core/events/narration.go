package events

// TextChunk is one segmented sentence of narration.
type TextChunk struct {
	Base
	Text          string `json:"text"`
	SentenceIndex int    `json:"sentenceIndex"`
}

func NewTextChunk(text string, sentenceIndex int) TextChunk {
	return TextChunk{Base: NewBase(TypeTextChunk), Text: text, SentenceIndex: sentenceIndex}
}

// AudioChunk is the synthesized speech for one sentence.
type AudioChunk struct {
	Base
	Audio         []byte `json:"audio"`
	Text          string `json:"text"`
	SentenceIndex int    `json:"sentenceIndex"`
}

func NewAudioChunk(audio []byte, text string, sentenceIndex int) AudioChunk {
	return AudioChunk{Base: NewBase(TypeAudioChunk), Audio: audio, Text: text, SentenceIndex: sentenceIndex}
}
