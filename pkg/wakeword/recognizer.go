package wakeword

import (
	"context"
	"strings"
	"unicode"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/backend"
)

// DefaultPhrases are the trigger phrases per language.
var DefaultPhrases = map[string][]string{
	"en": {"hey waiter", "ok waiter", "hello waiter"},
	"es": {"hola camarero", "oye camarero", "hola mesero"},
	"fr": {"bonjour serveur", "hé serveur", "salut serveur"},
}

// PhrasesFor returns the trigger phrases for a language, falling back to English.
func PhrasesFor(lang string) []string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if p, ok := DefaultPhrases[lang]; ok {
		return p
	}
	return DefaultPhrases["en"]
}

// Recognizer spots trigger phrases by transcribing short windows.
type Recognizer struct {
	transcriber backend.Transcriber
	phrases     map[string][]string
}

// NewRecognizer creates a recognizer. A nil phrases map uses DefaultPhrases.
func NewRecognizer(transcriber backend.Transcriber, phrases map[string][]string) *Recognizer {
	if phrases == nil {
		phrases = DefaultPhrases
	}
	return &Recognizer{transcriber: transcriber, phrases: phrases}
}

// Phrases returns the grammar used for lang.
func (r *Recognizer) Phrases(lang string) []string {
	if p, ok := r.phrases[lang]; ok && len(p) > 0 {
		return p
	}
	return PhrasesFor(lang)
}

// Detect transcribes blob and reports the first trigger phrase it contains.
func (r *Recognizer) Detect(ctx context.Context, blob audioio.Blob, lang string) (string, bool, error) {
	text, err := r.transcriber.Transcribe(ctx, blob, lang)
	if err != nil {
		return "", false, err
	}
	phrase, ok := Match(text, r.Phrases(lang))
	return phrase, ok, nil
}

// Match reports which phrase text contains, comparing words without case
// or punctuation.
func Match(text string, phrases []string) (string, bool) {
	heard := " " + fold(text) + " "
	for _, p := range phrases {
		key := fold(p)
		if key == "" {
			continue
		}
		if strings.Contains(heard, " "+key+" ") {
			return p, true
		}
	}
	return "", false
}

// fold lower-cases s and collapses everything that is not a letter or a
// digit into single spaces.
func fold(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}), " ")
}
