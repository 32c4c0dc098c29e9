package audioio

import (
	"sync"
	"time"
)

// DefaultFrameSize is the number of samples in one analyser frame.
const DefaultFrameSize = 1024

// Analyser keeps the most recent time-domain frame of the capture stream
// as unsigned 8-bit samples centred on 128.
type Analyser struct {
	size int

	mu      sync.Mutex
	window  []int16
	updated time.Time
}

// NewAnalyser creates an analyser holding frames of size samples.
func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &Analyser{size: size}
}

// Write feeds captured audio into the analyser. Multi-channel input is downmixed.
func (a *Analyser) Write(chunk AudioChunk) {
	mono := Downmix(chunk.Samples, chunk.Channels)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = append(a.window, mono...)
	if over := len(a.window) - a.size; over > 0 {
		a.window = append(a.window[:0], a.window[over:]...)
	}
	a.updated = time.Now()
}

// Frame returns a copy of the latest frame. Before any audio arrives the
// frame is flat at the midpoint.
func (a *Analyser) Frame() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.window) == 0 {
		flat := make([]byte, a.size)
		for i := range flat {
			flat[i] = 128
		}
		return flat
	}
	return ToUnsigned8(a.window)
}

// Updated returns when audio last arrived.
func (a *Analyser) Updated() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updated
}
