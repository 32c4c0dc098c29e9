package conversation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultLanguage is used when no language is configured.
	DefaultLanguage = "en"

	// DefaultReminderCount is how many replies carry the reminder.
	DefaultReminderCount = 2

	// DefaultStillWorkingDelay is when the still-working notice fires.
	DefaultStillWorkingDelay = 3 * time.Second
)

// DefaultReminders nudge the customer to press the button for the next turn.
var DefaultReminders = map[string]string{
	"en": "Press the button again when you want to reply.",
	"es": "Pulsa el botón otra vez cuando quieras responder.",
	"fr": "Appuyez à nouveau sur le bouton pour répondre.",
}

// ReminderFor returns the reminder for a language, falling back to English.
func ReminderFor(lang string) string {
	if r, ok := DefaultReminders[baseLanguage(lang)]; ok {
		return r
	}
	return DefaultReminders[DefaultLanguage]
}

func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// Sentinel errors for the conversation package.
var (
	ErrMissingRecorder    = errors.New("conversation: recorder is required")
	ErrMissingTranscriber = errors.New("conversation: transcriber is required")
	ErrMissingChatter     = errors.New("conversation: chatter is required")
	ErrMissingSpeaker     = errors.New("conversation: speaker is required")
	ErrClosed             = errors.New("conversation: machine closed")
)

// Config holds the per-session parameters of a Machine.
type Config struct {
	RestaurantID string `yaml:"restaurant_id" json:"restaurant_id"`
	Language     string `yaml:"language" json:"language"`

	// SessionID correlates turns with the push channel. Empty generates one.
	SessionID string `yaml:"-" json:"-"`

	// MenuContext is sent verbatim with every chat turn.
	MenuContext json.RawMessage `yaml:"-" json:"-"`

	// Reminder is appended to the spoken text of the first ReminderCount
	// replies. History keeps the reply without it.
	Reminder      string `yaml:"reminder" json:"reminder"`
	ReminderCount int    `yaml:"reminder_count" json:"reminder_count"`

	StillWorkingDelay time.Duration `yaml:"still_working_delay" json:"still_working_delay"`

	// UnlockOnTap primes playback inside each tap gesture.
	UnlockOnTap bool `yaml:"unlock_on_tap" json:"unlock_on_tap"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Language:          DefaultLanguage,
		Reminder:          ReminderFor(DefaultLanguage),
		ReminderCount:     DefaultReminderCount,
		StillWorkingDelay: DefaultStillWorkingDelay,
		UnlockOnTap:       true,
	}
}

// Validate checks the dependency set.
func (d Deps) Validate() error {
	switch {
	case d.Recorder == nil:
		return ErrMissingRecorder
	case d.Transcriber == nil:
		return ErrMissingTranscriber
	case d.Chatter == nil:
		return ErrMissingChatter
	case d.Speaker == nil:
		return ErrMissingSpeaker
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.StillWorkingDelay <= 0 {
		c.StillWorkingDelay = DefaultStillWorkingDelay
	}
	if c.ReminderCount < 0 {
		c.ReminderCount = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
