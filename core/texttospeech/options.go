package texttospeech

import "github.com/brightboard/tutor-core/core/audio"

type SynthesisOptions struct {
	// Voice selects the synthesis voice/model. Empty uses the client default.
	Voice string
	// EncodingInfo describes the requested output encoding.
	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithVoice(voice string) SynthesisOption {
	return func(o *SynthesisOptions) { o.Voice = voice }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}
