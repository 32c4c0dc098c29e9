// Package vad implements the energy-based voice activity detector used to end
// an utterance.
//
// Frames are unsigned 8-bit time-domain samples centred on 128. A frame is
// silent when the mean absolute deviation from the midpoint is below
// Config.Threshold. Sustained silence is reported once a run of silent frames
// has lasted longer than Config.SilenceDuration. Background hum above the
// threshold keeps the detector in speech; that is a known limitation.
package vad

import (
	"sync"
	"time"
)

// Midpoint is the sample value that represents silence in an 8-bit frame.
const Midpoint = 128

// Defaults.
const (
	DefaultThreshold       = 5.0
	DefaultSilenceDuration = 1500 * time.Millisecond
)

// Config holds detector parameters.
type Config struct {
	// Threshold is the mean absolute deviation (0-128) below which a frame is silent.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// SilenceDuration is how long silence must last before it is sustained.
	SilenceDuration time.Duration `yaml:"silence_duration" json:"silence_duration"`
}

// DefaultConfig returns the empirically tuned defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		SilenceDuration: DefaultSilenceDuration,
	}
}

// Result is the classification of one frame.
type Result struct {
	// Level is the mean absolute deviation of the frame.
	Level float64

	// Silent is true when Level is below the threshold.
	Silent bool

	// SilenceFor is how long the current silent run has lasted (0 during speech).
	SilenceFor time.Duration

	// Sustained is true once SilenceFor exceeds the configured duration.
	Sustained bool
}

// Detector is a hysteresis filter over frame energy.
// It is safe for concurrent use.
type Detector struct {
	cfg Config

	mu           sync.Mutex
	silenceStart time.Time
}

// New creates a detector. Zero config fields take the defaults.
func New(cfg Config) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	return &Detector{cfg: cfg}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Observe classifies a frame captured at now and updates the silence timer.
func (d *Detector) Observe(frame []byte, now time.Time) Result {
	level := Level(frame)

	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{Level: level}
	if level >= d.cfg.Threshold {
		d.silenceStart = time.Time{}
		return res
	}

	res.Silent = true
	if d.silenceStart.IsZero() {
		d.silenceStart = now
	}
	res.SilenceFor = now.Sub(d.silenceStart)
	res.Sustained = res.SilenceFor > d.cfg.SilenceDuration
	return res
}

// SilenceStart returns when the current silent run began, or the zero time.
func (d *Detector) SilenceStart() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silenceStart
}

// Reset clears the silence timer.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.silenceStart = time.Time{}
	d.mu.Unlock()
}

// Level returns the mean absolute deviation of frame from Midpoint.
// An empty frame has level 0.
func Level(frame []byte) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum int
	for _, b := range frame {
		dev := int(b) - Midpoint
		if dev < 0 {
			dev = -dev
		}
		sum += dev
	}
	return float64(sum) / float64(len(frame))
}
