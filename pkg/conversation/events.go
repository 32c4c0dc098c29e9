package conversation

import (
	"sync"
	"time"
)

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	// NoticeStillWorking fires once a turn has been processing for the
	// configured delay. It has no functional effect.
	NoticeStillWorking NoticeKind = "still_working"
	// NoticeMicUnavailable means the microphone was denied or missing.
	NoticeMicUnavailable NoticeKind = "mic_unavailable"
	// NoticeEmptyTranscript means nothing intelligible was heard.
	NoticeEmptyTranscript NoticeKind = "empty_transcript"
	// NoticeUnavailable means an AI service answered 503.
	NoticeUnavailable NoticeKind = "unavailable"
	// NoticeFailed is any other failed turn.
	NoticeFailed NoticeKind = "failed"
	// NoticePlaybackFailed means a reply could not be played.
	NoticePlaybackFailed NoticeKind = "playback_failed"
	// NoticeCartFailed means a cart action was rejected.
	NoticeCartFailed NoticeKind = "cart_failed"
)

// Notice is a passive UI hint emitted alongside status changes.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	SessionID string     `json:"session_id"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	At        time.Time  `json:"at"`
}

// dispatcher runs queued callbacks one at a time, in order, off the
// caller's goroutine. Subscribers may call back into the Machine.
type dispatcher struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) drain() int {
	d.mu.Lock()
	q := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, fn := range q {
		fn()
	}
	return len(q)
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		if d.drain() > 0 {
			continue
		}
		select {
		case <-d.wake:
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// close delivers what is queued and stops the goroutine.
func (d *dispatcher) close() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}
