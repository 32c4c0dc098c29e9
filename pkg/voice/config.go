package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/voice-waiter/internal/config"
	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/conversation"
	"github.com/teslashibe/voice-waiter/pkg/recorder"
	"github.com/teslashibe/voice-waiter/pkg/vad"
)

// Config holds every tunable of the voice assistant.
// Parameters are organized by stage.
type Config struct {
	// Enabled is the restaurant's AI feature flag. When false nothing starts.
	Enabled bool `yaml:"enabled"`

	// Identity
	RestaurantID string `yaml:"restaurant_id"`
	Language     string `yaml:"language"` // ISO short code, e.g. "en", "es-MX"

	// Services
	BackendURL     string        `yaml:"backend_url"`     // Restaurant backend origin
	BackendTimeout time.Duration `yaml:"backend_timeout"` // Per request (default: 30s)
	PushURL        string        `yaml:"push_url"`        // Push relay origin; empty disables the bridge

	// Capture
	CaptureBackend string   `yaml:"capture_backend"` // exec or mock (default: exec)
	CaptureDevice  string   `yaml:"capture_device"`
	CaptureCommand []string `yaml:"capture_command"`
	SampleRate     int      `yaml:"sample_rate"` // Capture and upload rate (default: 16000)

	// Silence detection
	SilenceThreshold float64       `yaml:"silence_threshold"` // Mean deviation 0-128 (default: 5)
	SilenceDuration  time.Duration `yaml:"silence_duration"`  // Sustained silence (default: 1.5s)
	MaxDuration      time.Duration `yaml:"max_duration"`      // Recording cap (default: 20s)
	FrameInterval    time.Duration `yaml:"frame_interval"`    // Analysis cadence (default: 16ms)

	// Conversation
	StillWorkingDelay time.Duration `yaml:"still_working_delay"` // (default: 3s)
	Reminder          string        `yaml:"reminder"`            // Empty uses the language default
	ReminderCount     int           `yaml:"reminder_count"`      // Replies carrying the reminder (default: 2)

	// Playback
	PlayerCommand    []string      `yaml:"player_command"`
	Phrases          []string      `yaml:"phrases"`    // Instant phrases; empty uses the language default
	PhraseDir        string        `yaml:"phrase_dir"` // Pre-rendered phrase audio
	RequireUnlock    bool          `yaml:"require_unlock"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"` // (default: 15s)

	// Optional Google Cloud TTS fallback
	GoogleTTS      bool   `yaml:"google_tts"`
	GoogleTTSKey   string `yaml:"google_tts_key"`
	GoogleTTSVoice string `yaml:"google_tts_voice"`

	// Wake word
	WakeWordDefault bool          `yaml:"wake_word_default"` // Used before the user toggles it
	WakePhrases     []string      `yaml:"wake_phrases"`      // Empty uses the language grammar
	WakeWindow      time.Duration `yaml:"wake_window"`       // (default: 2s)
	PrefsPath       string        `yaml:"prefs_path"`        // Empty keeps prefs in memory

	// Dashboard
	DashboardAddr string `yaml:"dashboard_addr"` // Empty disables it
	StaticDir     string `yaml:"static_dir"`

	// Debug settings
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a Config with the tuned defaults. The AI feature is
// on and talks to a local backend.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Language: conversation.DefaultLanguage,

		BackendURL:     config.DefaultBackendURL,
		BackendTimeout: 30 * time.Second,

		CaptureBackend: "exec",
		SampleRate:     recorder.DefaultSampleRate,

		SilenceThreshold: vad.DefaultThreshold,
		SilenceDuration:  vad.DefaultSilenceDuration,
		MaxDuration:      recorder.DefaultMaxDuration,
		FrameInterval:    recorder.DefaultFrameInterval,

		StillWorkingDelay: conversation.DefaultStillWorkingDelay,
		ReminderCount:     conversation.DefaultReminderCount,

		SynthesisTimeout: 15 * time.Second,

		WakeWindow: 2 * time.Second,
	}
}

// FromEnv overlays the WAITER_* environment variables on c.
func (c Config) FromEnv() Config {
	c.Enabled = config.Bool(config.EnvAIEnabled, c.Enabled)
	c.BackendURL = config.String(config.EnvBackendURL, c.BackendURL)
	c.PushURL = config.String(config.EnvPushURL, c.PushURL)
	c.RestaurantID = config.String(config.EnvRestaurantID, c.RestaurantID)
	c.Language = config.String(config.EnvLanguage, c.Language)
	if key := config.String(config.EnvGoogleTTSKey, ""); key != "" {
		c.GoogleTTSKey = key
		c.GoogleTTS = true
	}
	return c
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RestaurantID == "" {
		return errors.New("voice: restaurant id required")
	}
	if c.BackendURL == "" {
		return errors.New("voice: backend url required")
	}
	if c.Language == "" {
		return errors.New("voice: language required")
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > vad.Midpoint {
		return fmt.Errorf("voice: silence threshold must be between 0 and %d", vad.Midpoint)
	}
	if c.SilenceDuration < 0 || c.MaxDuration < 0 || c.FrameInterval < 0 {
		return errors.New("voice: durations must not be negative")
	}
	if c.MaxDuration > 0 && c.SilenceDuration >= c.MaxDuration {
		return errors.New("voice: silence duration must be shorter than max duration")
	}
	if c.ReminderCount < 0 {
		return errors.New("voice: reminder count must not be negative")
	}
	if !knownBackend(c.CaptureBackend) {
		return errors.New("voice: unknown capture backend: " + c.CaptureBackend)
	}
	return nil
}

func knownBackend(name string) bool {
	if name == "" || audioio.Backend(name) == audioio.BackendAuto {
		return true
	}
	for _, b := range audioio.AvailableBackends() {
		if audioio.Backend(name) == b {
			return true
		}
	}
	return false
}

// WithLanguage returns a copy with the language set.
func (c Config) WithLanguage(lang string) Config {
	c.Language = lang
	return c
}

// WithRestaurant returns a copy with the restaurant id set.
func (c Config) WithRestaurant(id string) Config {
	c.RestaurantID = id
	return c
}

// WithSilence returns a copy with silence detection settings.
func (c Config) WithSilence(threshold float64, duration time.Duration) Config {
	c.SilenceThreshold = threshold
	c.SilenceDuration = duration
	return c
}

// WithPush returns a copy with the push relay origin set.
func (c Config) WithPush(url string) Config {
	c.PushURL = url
	return c
}

// WithDashboard returns a copy with the dashboard address set.
func (c Config) WithDashboard(addr string) Config {
	c.DashboardAddr = addr
	return c
}

// WithDebug returns a copy with debug enabled.
func (c Config) WithDebug(debug bool) Config {
	c.Debug = debug
	return c
}

func (c *Config) recorderConfig() recorder.Config {
	return recorder.Config{
		VAD: vad.Config{
			Threshold:       c.SilenceThreshold,
			SilenceDuration: c.SilenceDuration,
		},
		MaxDuration:   c.MaxDuration,
		FrameInterval: c.FrameInterval,
		SampleRate:    c.SampleRate,
	}
}
