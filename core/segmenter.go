package orchestration

import "strings"

// Sentence is a narration unit carrying its position within the turn.
// Indices are assigned in strictly increasing order starting at 0; the
// reserved index -1 belongs to cached intros and is never produced here.
type Sentence struct {
	Index int
	Text  string
}

// abbreviations that end with a period but do not terminate a sentence.
var abbreviations = map[string]struct{}{
	"mr":     {},
	"mrs":    {},
	"ms":     {},
	"dr":     {},
	"prof":   {},
	"st":     {},
	"vs":     {},
	"etc":    {},
	"e.g":    {},
	"i.e":    {},
	"approx": {},
	"no":     {},
	"fig":    {},
	"eq":     {},
}

// sentenceSegmenter incrementally splits streamed model output into
// sentences. Fragments may end mid-sentence; unterminated text is carried
// over and prepended to the next fragment. A terminator only closes a
// sentence once trailing whitespace (or closing quote plus whitespace)
// confirms it, so decimals and abbreviations stay intact.
type sentenceSegmenter struct {
	carry     string
	nextIndex int
}

func newSentenceSegmenter() *sentenceSegmenter {
	return &sentenceSegmenter{}
}

// Push appends a fragment and returns any sentences completed by it.
func (s *sentenceSegmenter) Push(fragment string) []Sentence {
	if fragment == "" {
		return nil
	}

	text := s.carry + fragment
	runes := []rune(text)

	var sentences []Sentence
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}

		end := i
		for end+1 < len(runes) && isClosing(runes[end+1]) {
			end++
		}
		if end+1 >= len(runes) {
			// No lookahead yet; the terminator may be a decimal point or
			// the fragment may continue in the next push.
			break
		}
		if !isWhitespace(runes[end+1]) {
			continue
		}
		if runes[i] == '.' && !breaksSentence(runes, start, i) {
			continue
		}

		sentence := strings.TrimSpace(string(runes[start : end+1]))
		if sentence != "" {
			sentences = append(sentences, Sentence{Index: s.nextIndex, Text: sentence})
			s.nextIndex++
		}
		start = end + 1
		i = end
	}

	s.carry = strings.TrimLeft(string(runes[start:]), " \t\n\r")
	return sentences
}

// Flush closes the trailing partial sentence, if any.
func (s *sentenceSegmenter) Flush() *Sentence {
	text := strings.TrimSpace(s.carry)
	s.carry = ""
	if text == "" {
		return nil
	}

	sentence := &Sentence{Index: s.nextIndex, Text: text}
	s.nextIndex++
	return sentence
}

func (s *sentenceSegmenter) Pending() string {
	return s.carry
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']'
}

// breaksSentence reports whether the period at position dot ends a
// sentence, ruling out decimals and known abbreviations.
func breaksSentence(runes []rune, start, dot int) bool {
	if dot > start && dot+1 < len(runes) &&
		runes[dot-1] >= '0' && runes[dot-1] <= '9' &&
		runes[dot+1] >= '0' && runes[dot+1] <= '9' {
		return false
	}

	wordStart := dot
	for wordStart > start && !isWhitespace(runes[wordStart-1]) {
		wordStart--
	}
	word := strings.ToLower(string(runes[wordStart:dot]))
	word = strings.TrimLeft(word, "(\"'")
	if _, ok := abbreviations[word]; ok {
		return false
	}

	return true
}
