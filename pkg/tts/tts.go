// Package tts provides a unified interface for speech synthesis providers.
//
// The voice waiter synthesizes through the restaurant backend's TTS endpoint
// and can fall back to Google Cloud Text-to-Speech. All providers implement
// Provider, so the player never knows which one answered.
//
// Example usage:
//
//	provider, _ := tts.NewBackend(
//	    tts.WithBaseURL("http://localhost:3000"),
//	    tts.WithLanguage("en"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Great choice!")
//	// result.Audio is a playable payload (MP3, WAV, ...)
package tts

import (
	"context"
	"mime"
	"strings"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to a complete playable audio payload.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the encoded audio data.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated playback duration, if known.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64

	// Provider names the provider that produced the audio.
	Provider string

	// Text is the text that was synthesized.
	Text string
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the container or codec.
	Encoding Encoding

	// SampleRate in Hz (e.g., 24000, 44100, 22050).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// Encoding represents audio encoding types.
type Encoding string

const (
	EncodingMP3  Encoding = "mp3"
	EncodingWAV  Encoding = "wav"
	EncodingOgg  Encoding = "ogg"
	EncodingPCM  Encoding = "pcm_s16le"
	EncodingULaw Encoding = "ulaw_8000"
)

// EncodingFromContentType maps an HTTP Content-Type to an Encoding.
// Unknown types are treated as MP3, the backend's default.
func EncodingFromContentType(contentType string) Encoding {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return EncodingWAV
	case "audio/ogg", "audio/opus":
		return EncodingOgg
	case "audio/l16", "audio/pcm":
		return EncodingPCM
	case "audio/basic":
		return EncodingULaw
	default:
		return EncodingMP3
	}
}

// ContentType returns the MIME type for an encoding.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingWAV:
		return "audio/wav"
	case EncodingOgg:
		return "audio/ogg"
	case EncodingPCM:
		return "audio/L16"
	case EncodingULaw:
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}
