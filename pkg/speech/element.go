// Package speech speaks assistant replies: the phrase cache for instant
// acknowledgments, the synthesis player that owns the single authoritative
// playback, and the playback elements behind it.
package speech

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/tts"
)

var (
	// ErrStopped is the outcome of a playback ended by Stop or by a newer Play.
	ErrStopped = errors.New("speech: playback stopped")

	// ErrSuperseded is returned by Speak when a newer Speak or Stop won the race.
	ErrSuperseded = errors.New("speech: superseded by newer request")

	// ErrLocked is returned while playback still needs a user-gesture unlock.
	ErrLocked = errors.New("speech: playback locked until unlocked by a user gesture")

	// ErrNoAudio is returned when there is nothing to play.
	ErrNoAudio = errors.New("speech: no audio")
)

// Element is a single playback channel. Starting a clip stops whatever the
// element was playing first.
type Element interface {
	// Play starts audio and returns a channel that receives exactly one
	// outcome when the clip ends: nil for a natural end, ErrStopped when
	// stopped or replaced, another error when playback failed.
	Play(ctx context.Context, audio *tts.AudioResult) (<-chan error, error)

	// Stop halts the current clip, if any.
	Stop()
}

// SilentClip returns a short silent WAV, used to unlock elements.
func SilentClip() *tts.AudioResult {
	pcm := make([]byte, 16000/20*2) // 50ms at 16kHz
	return &tts.AudioResult{
		Audio:    audioio.EncodeWAV(pcm, 16000, 1),
		Format:   tts.AudioFormat{Encoding: tts.EncodingWAV, SampleRate: 16000, Channels: 1},
		Duration: 50 * time.Millisecond,
	}
}

// CueTone returns the acknowledgment cue played when recording stops:
// a short 880Hz tone with a linear fade-out.
func CueTone() *tts.AudioResult {
	const (
		rate = 16000
		n    = rate * 120 / 1000
	)
	samples := make([]int16, n)
	for i := range samples {
		fade := 1 - float64(i)/float64(n)
		samples[i] = int16(0.25 * fade * 32767 * math.Sin(2*math.Pi*880*float64(i)/rate))
	}
	return &tts.AudioResult{
		Audio:    audioio.EncodeWAV(audioio.SamplesToBytes(samples), rate, 1),
		Format:   tts.AudioFormat{Encoding: tts.EncodingWAV, SampleRate: rate, Channels: 1},
		Duration: 120 * time.Millisecond,
	}
}
