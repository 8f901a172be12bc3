package orchestration

import (
	"context"
	"strings"
	"sync"

	"github.com/brightboard/tutor-core/core/audio"
)

// CachedIntro is a pre-synthesized filler phrase played while the first
// real answer sentences are still being generated. Its audio is reserved
// sentence index -1 on the wire so playback slots it before everything
// else.
type CachedIntro struct {
	Category string
	Text     string
	Audio    []byte
	Encoding audio.EncodingInfo
}

// Duration reports the playback length of the intro audio in seconds.
func (i CachedIntro) Duration() float64 {
	encoding := i.Encoding
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	return encoding.Duration(i.Audio).Seconds()
}

// IntroStore picks a cached intro for a question, if one applies.
type IntroStore interface {
	Lookup(ctx context.Context, question string) (*CachedIntro, bool)
}

// KeywordIntroStore keeps intros grouped by category and classifies
// questions by keyword. Intros within a category rotate so repeated
// questions do not replay the same filler.
type KeywordIntroStore struct {
	mu       sync.Mutex
	intros   map[string][]CachedIntro
	keywords map[string][]string
	cursor   map[string]int
}

func NewKeywordIntroStore(keywords map[string][]string) *KeywordIntroStore {
	return &KeywordIntroStore{
		intros:   map[string][]CachedIntro{},
		keywords: keywords,
		cursor:   map[string]int{},
	}
}

func (s *KeywordIntroStore) Add(intro CachedIntro) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intros[intro.Category] = append(s.intros[intro.Category], intro)
}

func (s *KeywordIntroStore) Lookup(_ context.Context, question string) (*CachedIntro, bool) {
	lowered := strings.ToLower(question)

	s.mu.Lock()
	defer s.mu.Unlock()

	category := ""
	for cat, words := range s.keywords {
		for _, w := range words {
			if strings.Contains(lowered, strings.ToLower(w)) {
				category = cat
				break
			}
		}
		if category != "" {
			break
		}
	}
	if category == "" {
		category = "general"
	}

	pool := s.intros[category]
	if len(pool) == 0 {
		pool = s.intros["general"]
		category = "general"
	}
	if len(pool) == 0 {
		return nil, false
	}

	intro := pool[s.cursor[category]%len(pool)]
	s.cursor[category]++
	return &intro, true
}
