package audioio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

// MimeWAV is the content type of EncodeWAV output.
const MimeWAV = "audio/wav"

// Blob is an encoded recording.
type Blob struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Empty reports whether the blob carries no audio.
func (b Blob) Empty() bool { return len(b.Data) == 0 }

// EncodeWAV wraps PCM16 little-endian samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV extracts the PCM payload and format from a canonical WAV file.
func DecodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("audioio: not a WAV file")
	}
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("audioio: short fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			if sampleRate == 0 {
				return nil, 0, 0, errors.New("audioio: data before fmt")
			}
			return data[body : body+size], sampleRate, channels, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, 0, errors.New("audioio: no data chunk")
}

// PCMDuration returns the playback time of a PCM16 buffer.
func PCMDuration(pcmBytes, sampleRate, channels int) time.Duration {
	if sampleRate == 0 || channels == 0 {
		return 0
	}
	return time.Duration(float64(pcmBytes/2) / float64(sampleRate*channels) * float64(time.Second))
}

// EncodeBlob converts captured PCM to a mono WAV blob at the target rate.
func EncodeBlob(pcm []byte, rate, channels, target int) Blob {
	if len(pcm) == 0 {
		return Blob{MimeType: MimeWAV}
	}
	samples := Downmix(BytesToSamples(pcm), channels)
	samples = Resample(samples, rate, target)
	out := SamplesToBytes(samples)
	return Blob{
		Data:     EncodeWAV(out, target, 1),
		MimeType: MimeWAV,
		Duration: PCMDuration(len(out), target, 1),
	}
}
