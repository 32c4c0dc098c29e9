package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/teslashibe/voice-waiter/pkg/tts"
)

// DefaultPhrases are the acknowledgment openers worth pre-rendering, by language.
var DefaultPhrases = map[string][]string{
	"en": {"Great choice!", "Sure!", "Of course!", "Absolutely!", "Got it!", "Perfect!", "Let me check that for you."},
	"es": {"¡Excelente elección!", "¡Claro!", "¡Por supuesto!", "¡Perfecto!", "Déjame revisarlo."},
	"fr": {"Excellent choix !", "Bien sûr !", "Parfait !"},
}

// PhrasesFor returns the default phrases for lang ("es-MX" uses "es"),
// falling back to English.
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

// CachedPhrase is a reply prefix with pre-rendered audio.
type CachedPhrase struct {
	Prefix string
	Audio  *tts.AudioResult
}

// PhraseCache maps known reply openers to pre-rendered audio. The phrase
// set is fixed at construction; audio is rendered on first use or loaded
// from disk.
type PhraseCache struct {
	provider tts.Provider
	logger   *slog.Logger

	mu      sync.RWMutex
	entries []*phraseEntry // longest prefix first

	warmOnce sync.Once
	warmed   chan struct{}
}

type phraseEntry struct {
	prefix string
	key    string
	audio  *tts.AudioResult
}

// NewPhraseCache creates a cache for phrases. provider renders missing
// audio on first use and may be nil when every phrase is loaded from disk.
func NewPhraseCache(phrases []string, provider tts.Provider, logger *slog.Logger) *PhraseCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &PhraseCache{
		provider: provider,
		logger:   logger.With("component", "speech.phrases"),
		warmed:   make(chan struct{}),
	}
	seen := make(map[string]bool)
	for _, p := range phrases {
		key := normalize(p)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.entries = append(c.entries, &phraseEntry{prefix: p, key: key})
	}
	sort.SliceStable(c.entries, func(i, j int) bool {
		return len(c.entries[i].key) > len(c.entries[j].key)
	})
	return c
}

// normalize lower-cases text and drops leading whitespace, punctuation and
// symbols such as quotes, inverted marks and emoji.
func normalize(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	return strings.ToLower(s)
}

// Phrases returns the configured prefixes, longest first.
func (c *PhraseCache) Phrases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.prefix
	}
	return out
}

// Match returns the longest cached phrase that text starts with. Matching
// is case-insensitive and ignores leading punctuation on both sides. Only
// phrases whose audio is ready match; the first call starts rendering.
func (c *PhraseCache) Match(text string) (CachedPhrase, bool) {
	c.startWarm()

	key := normalize(text)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.audio != nil && strings.HasPrefix(key, e.key) {
			return CachedPhrase{Prefix: e.prefix, Audio: e.audio}, true
		}
	}
	return CachedPhrase{}, false
}

// Set stores audio for a configured phrase.
func (c *PhraseCache) Set(prefix string, audio *tts.AudioResult) bool {
	key := normalize(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.key == key {
			e.audio = audio
			return true
		}
	}
	return false
}

// Ready returns the number of phrases with audio.
func (c *PhraseCache) Ready() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if e.audio != nil {
			n++
		}
	}
	return n
}

// Warmed is closed once the first warm-up pass has finished.
func (c *PhraseCache) Warmed() <-chan struct{} { return c.warmed }

func (c *PhraseCache) startWarm() {
	c.warmOnce.Do(func() {
		go func() {
			defer close(c.warmed)
			c.render(context.Background())
		}()
	})
}

// Warm renders every missing phrase and blocks until done. Later calls to
// Match will not start another pass.
func (c *PhraseCache) Warm(ctx context.Context) {
	ran := false
	c.warmOnce.Do(func() {
		ran = true
		defer close(c.warmed)
		c.render(ctx)
	})
	if !ran {
		select {
		case <-c.warmed:
		case <-ctx.Done():
		}
	}
}

func (c *PhraseCache) render(ctx context.Context) {
	if c.provider == nil {
		return
	}
	c.mu.RLock()
	var missing []*phraseEntry
	for _, e := range c.entries {
		if e.audio == nil {
			missing = append(missing, e)
		}
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range missing {
		wg.Add(1)
		go func(e *phraseEntry) {
			defer wg.Done()
			audio, err := c.provider.Synthesize(ctx, e.prefix)
			if err != nil {
				c.logger.Warn("phrase render failed", "phrase", e.prefix, "error", err)
				return
			}
			c.mu.Lock()
			e.audio = audio
			c.mu.Unlock()
		}(e)
	}
	wg.Wait()
	c.logger.Debug("phrase cache warmed", "ready", c.Ready(), "total", len(c.entries))
}

// LoadDir loads pre-rendered audio from dir. Each phrase is looked up as
// Slug(phrase) with a .mp3, .wav or .ogg extension. Missing files are skipped.
func (c *PhraseCache) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("phrase dir: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, e := range c.entries {
		for _, ext := range []string{".mp3", ".wav", ".ogg"} {
			data, err := os.ReadFile(filepath.Join(dir, Slug(e.prefix)+ext))
			if err != nil {
				continue
			}
			e.audio = &tts.AudioResult{
				Audio:    data,
				Format:   tts.AudioFormat{Encoding: tts.EncodingFromContentType("audio/" + strings.TrimPrefix(ext, ".")), Channels: 1},
				Provider: "file",
				Text:     e.prefix,
			}
			loaded++
			break
		}
	}
	return loaded, nil
}

// Slug turns a phrase into a file-name stem: lower-case letters and digits
// joined by single dashes.
func Slug(phrase string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(phrase) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
