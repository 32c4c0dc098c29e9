package conversation

import (
	"sync"
	"time"
)

// maxMetricsHistory bounds the turns kept for averaging.
const maxMetricsHistory = 100

// Metrics tracks latency at each stage of one turn.
// All durations are measured from the moment capture ends.
type Metrics struct {
	CaptureEndTime time.Time `json:"capture_end_time"`
	TranscriptTime time.Time `json:"transcript_time"`
	ReplyTime      time.Time `json:"reply_time"`
	FirstAudioTime time.Time `json:"first_audio_time"`
	DoneTime       time.Time `json:"done_time"`

	Recording     time.Duration `json:"recording"`
	ASRLatency    time.Duration `json:"asr_latency"`
	ChatLatency   time.Duration `json:"chat_latency"`
	TTSFirstAudio time.Duration `json:"tts_first_audio"`
	TotalLatency  time.Duration `json:"total_latency"`

	// Outcome is the event that ended the turn.
	Outcome string `json:"outcome"`

	CartActions int `json:"cart_actions"`
}

// MetricsCollector collects latency metrics for conversation turns.
// It is safe for concurrent use.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics
	turns   int

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, maxMetricsHistory),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkCaptureEnd starts a new turn. recorded is the utterance length.
func (m *MetricsCollector) MarkCaptureEnd(recorded time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{CaptureEndTime: time.Now(), Recording: recorded}
}

// MarkTranscript records when transcription completed.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = time.Now()
	m.current.ASRLatency = m.since(m.current.TranscriptTime)
	m.notify()
}

// MarkReply records when the chat reply arrived.
func (m *MetricsCollector) MarkReply(cartActions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyTime = time.Now()
	m.current.ChatLatency = m.since(m.current.ReplyTime)
	m.current.CartActions = cartActions
	m.notify()
}

// MarkFirstAudio records when authoritative audio started.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		m.current.TTSFirstAudio = m.since(m.current.FirstAudioTime)
		m.notify()
	}
}

// MarkDone archives the turn with its outcome.
func (m *MetricsCollector) MarkDone(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.CaptureEndTime.IsZero() {
		return
	}
	m.current.DoneTime = time.Now()
	m.current.TotalLatency = m.since(m.current.DoneTime)
	m.current.Outcome = outcome

	m.history = append(m.history, m.current)
	if len(m.history) > maxMetricsHistory {
		m.history = m.history[1:]
	}
	m.turns++
	m.notify()
	m.current = Metrics{}
}

func (m *MetricsCollector) since(t time.Time) time.Duration {
	if m.current.CaptureEndTime.IsZero() {
		return 0
	}
	return t.Sub(m.current.CaptureEndTime)
}

// Current returns the in-progress turn.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Last returns the most recently archived turn.
func (m *MetricsCollector) Last() (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Metrics{}, false
	}
	return m.history[len(m.history)-1], true
}

// Turns returns the number of archived turns.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns
}

// Average returns average latencies over recent turns that got that far.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg Metrics
	var nASR, nChat, nAudio time.Duration
	for _, h := range m.history {
		avg.Recording += h.Recording
		avg.TotalLatency += h.TotalLatency
		if h.ASRLatency > 0 {
			avg.ASRLatency += h.ASRLatency
			nASR++
		}
		if h.ChatLatency > 0 {
			avg.ChatLatency += h.ChatLatency
			nChat++
		}
		if h.TTSFirstAudio > 0 {
			avg.TTSFirstAudio += h.TTSFirstAudio
			nAudio++
		}
	}
	if n := time.Duration(len(m.history)); n > 0 {
		avg.Recording /= n
		avg.TotalLatency /= n
	}
	if nASR > 0 {
		avg.ASRLatency /= nASR
	}
	if nChat > 0 {
		avg.ChatLatency /= nChat
	}
	if nAudio > 0 {
		avg.TTSFirstAudio /= nAudio
	}
	return avg
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a one-line summary of the stage latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ASRLatency) + " ASR | " +
		formatDuration(m.ChatLatency) + " CHAT | " +
		formatDuration(m.TTSFirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
