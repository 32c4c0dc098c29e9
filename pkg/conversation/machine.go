// Package conversation sequences one customer's voice turns.
//
// A Machine records an utterance, transcribes it, asks the chat service for
// a reply, forwards any cart actions and speaks the reply. Its Status is
// the arbitration signal for everything else that touches the microphone
// or the speaker. Every status change goes through Transition.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/voice-waiter/pkg/backend"
	"github.com/teslashibe/voice-waiter/pkg/recorder"
	"github.com/teslashibe/voice-waiter/pkg/speech"
	"github.com/teslashibe/voice-waiter/pkg/tts"
)

// Recorder starts one utterance recording.
type Recorder interface {
	Start(ctx context.Context) (*recorder.Recording, error)
}

// Speaker plays replies on the authoritative element.
type Speaker interface {
	Speak(ctx context.Context, text string) (*speech.Playback, error)
	Stop()
	Unlock()
}

// Cart receives the structured actions that come with a reply.
type Cart interface {
	Add(ctx context.Context, action backend.CartAction) error
}

// CartFunc adapts a function to Cart.
type CartFunc func(ctx context.Context, action backend.CartAction) error

// Add calls f.
func (f CartFunc) Add(ctx context.Context, action backend.CartAction) error { return f(ctx, action) }

// Deps are the collaborators of a Machine. Cart and Metrics are optional.
type Deps struct {
	Recorder    Recorder
	Transcriber backend.Transcriber
	Chatter     backend.Chatter
	Speaker     Speaker
	Cart        Cart
	Metrics     *MetricsCollector
}

var (
	errEmptyTranscript = errors.New("conversation: empty transcript")
	errEmptyReply      = errors.New("conversation: empty reply")
)

// Machine is the conversation state machine for one session.
type Machine struct {
	deps      Deps
	cfg       Config
	logger    *slog.Logger
	sessionID string
	history   History
	metrics   *MetricsCollector
	events    *dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	status  Status
	turn    *turn
	owner   any
	replies int
	menu    []byte
	closed  bool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Status)
	noticeS map[int]func(Notice)
}

// turn is one Begin-initiated pass. It is current while m.turn points to it.
type turn struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// injection owns the responding status while a pushed answer plays.
type injection struct {
	started time.Time
}

// New creates an idle Machine.
func New(deps Deps, cfg Config) (*Machine, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetricsCollector()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		deps:      deps,
		cfg:       cfg,
		sessionID: cfg.SessionID,
		metrics:   deps.Metrics,
		events:    newDispatcher(),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusIdle,
		menu:      cfg.MenuContext,
		subs:      make(map[int]func(Status)),
		noticeS:   make(map[int]func(Notice)),
	}
	m.logger = cfg.Logger.With("component", "conversation", "session_id", m.sessionID)
	return m, nil
}

// SessionID returns the session identity.
func (m *Machine) SessionID() string { return m.sessionID }

// Language returns the configured language code.
func (m *Machine) Language() string { return m.cfg.Language }

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// History returns a copy of the conversation so far.
func (m *Machine) History() []backend.Turn { return m.history.Snapshot() }

// Metrics returns the turn metrics collector.
func (m *Machine) Metrics() *MetricsCollector { return m.metrics }

// SetMenuContext replaces the menu context sent with later turns.
func (m *Machine) SetMenuContext(menu []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.menu = append([]byte(nil), menu...)
}

// Subscribe registers fn for status changes. Callbacks run in order on a
// dedicated goroutine. The returned func unsubscribes.
func (m *Machine) Subscribe(fn func(Status)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

// OnNotice registers fn for notices. The returned func unsubscribes.
func (m *Machine) OnNotice(fn func(Notice)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.noticeS[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.noticeS, id)
	}
}

// Begin starts a turn. It is honoured only from idle and reports whether
// a turn started.
func (m *Machine) Begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginLocked()
}

func (m *Machine) beginLocked() bool {
	if m.closed {
		return false
	}
	if !m.applyLocked(EventBegin) {
		m.logger.Debug("begin ignored", "status", m.status)
		return false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	t := &turn{ctx: ctx, cancel: cancel}
	m.turn = t
	m.owner = nil

	m.wg.Add(1)
	go m.runTurn(t)
	return true
}

// Tap is the single button: from idle it starts a turn, otherwise it
// stops whatever is happening. It reports whether a turn started.
func (m *Machine) Tap() bool {
	if m.cfg.UnlockOnTap {
		m.deps.Speaker.Unlock()
	}
	m.mu.Lock()
	if m.status == StatusIdle {
		began := m.beginLocked()
		m.mu.Unlock()
		return began
	}
	m.mu.Unlock()
	m.Stop()
	return false
}

// Stop cancels the recorder and any in-flight request, halts playback and
// returns to idle.
func (m *Machine) Stop() {
	m.mu.Lock()
	t := m.turn
	m.turn = nil
	m.owner = nil
	stopped := m.applyLocked(EventStop)
	m.mu.Unlock()

	if t != nil {
		t.cancel()
	}
	m.deps.Speaker.Stop()
	if stopped {
		m.metrics.MarkDone(EventStop.String())
		m.logger.Info("stopped by user")
	}
}

// Close stops the machine and waits for the turn goroutine to exit.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	m.cancel()
	m.wg.Wait()
	m.events.close()
	return nil
}

// Inject speaks a pushed answer on the shared speaker. The answer is
// always appended to history. From idle or responding the injected
// playback owns the responding status until it ends; while a turn is
// recording or processing it only plays. It reports whether audio started.
func (m *Machine) Inject(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	m.history.Append(backend.RoleAssistant, text)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.wg.Add(1)
	defer m.wg.Done()
	var owner *injection
	if m.applyLocked(EventInject) {
		owner = &injection{started: time.Now()}
		m.owner = owner
	}
	m.mu.Unlock()

	pb, err := m.deps.Speaker.Speak(ctx, text)
	if err != nil {
		m.logger.Warn("injected answer dropped", "error", err)
		m.notice(NoticePlaybackFailed, err)
		if owner != nil {
			m.releaseOwner(owner, EventFailed)
		}
		return false
	}
	m.logger.Info("injected answer playing", "playback_id", pb.ID(), "owns_status", owner != nil)

	if owner != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			select {
			case <-pb.Done():
			case <-m.ctx.Done():
			}
			m.releaseOwner(owner, EventPlaybackEnded)
		}()
	}
	return true
}

func (m *Machine) runTurn(t *turn) {
	defer m.wg.Done()
	defer t.cancel()

	res, ok := m.record(t)
	if !ok {
		return
	}
	if !m.advance(t, EventCaptured) {
		return
	}
	m.metrics.MarkCaptureEnd(res.Duration)

	stopNotice := m.stillWorking(t)
	reply, err := m.process(t, res)
	stopNotice()
	if err != nil {
		m.fail(t, err)
		return
	}

	m.respond(t, reply)
}

func (m *Machine) record(t *turn) (recorder.Result, bool) {
	rec, err := m.deps.Recorder.Start(t.ctx)
	if err != nil {
		if t.ctx.Err() == nil {
			m.logger.Warn("no audio session", "error", err)
			m.notice(NoticeMicUnavailable, err)
		}
		m.finish(t, EventNoSession)
		return recorder.Result{}, false
	}

	res, err := rec.Wait(t.ctx)
	if err != nil {
		rec.Stop()
		if !errors.Is(err, recorder.ErrCancelled) && !errors.Is(err, context.Canceled) {
			m.logger.Warn("recording failed", "error", err)
		}
		m.finish(t, EventStop)
		return recorder.Result{}, false
	}
	m.logger.Debug("utterance captured", "reason", res.Reason, "duration", res.Duration, "bytes", len(res.Blob.Data))
	return res, true
}

func (m *Machine) process(t *turn, res recorder.Result) (*backend.ChatReply, error) {
	if res.Blob.Empty() {
		return nil, errEmptyTranscript
	}

	text, err := m.deps.Transcriber.Transcribe(t.ctx, res.Blob, m.cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	m.metrics.MarkTranscript()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyTranscript
	}

	m.mu.Lock()
	if m.turn != t {
		m.mu.Unlock()
		return nil, context.Canceled
	}
	menu := m.menu
	m.mu.Unlock()

	m.history.Append(backend.RoleUser, text)
	m.logger.Info("customer said", "transcript", text)

	reply, err := m.deps.Chatter.Chat(t.ctx, &backend.ChatRequest{
		RestaurantID: m.cfg.RestaurantID,
		SessionID:    m.sessionID,
		Language:     m.cfg.Language,
		History:      m.history.Snapshot(),
		MenuContext:  menu,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if reply == nil || strings.TrimSpace(reply.Message) == "" {
		return nil, errEmptyReply
	}
	m.metrics.MarkReply(len(reply.AddToCart))
	return reply, nil
}

func (m *Machine) respond(t *turn, reply *backend.ChatReply) {
	m.mu.Lock()
	if m.turn != t || !m.applyLocked(EventReply) {
		m.mu.Unlock()
		return
	}
	m.owner = t
	m.replies++
	n := m.replies
	m.mu.Unlock()

	m.history.Append(backend.RoleAssistant, reply.Message)
	m.forwardCart(t.ctx, reply.AddToCart)

	m.mu.Lock()
	current := m.turn == t && m.owner == t
	m.mu.Unlock()
	if !current {
		m.logger.Debug("reply dropped after stop")
		return
	}

	pb, err := m.deps.Speaker.Speak(t.ctx, m.spoken(reply.Message, n))
	if err != nil {
		if !errors.Is(err, speech.ErrSuperseded) && t.ctx.Err() == nil {
			m.logger.Warn("reply playback failed", "error", err)
			m.notice(NoticePlaybackFailed, err)
		}
		m.releaseOwner(t, EventFailed)
		return
	}
	m.metrics.MarkFirstAudio()

	select {
	case <-pb.Done():
	case <-m.ctx.Done():
	}
	m.releaseOwner(t, EventPlaybackEnded)
}

// spoken appends the reminder to the first replies of a session.
func (m *Machine) spoken(message string, n int) string {
	if m.cfg.Reminder == "" || n > m.cfg.ReminderCount {
		return message
	}
	return strings.TrimSpace(message) + " " + m.cfg.Reminder
}

func (m *Machine) forwardCart(ctx context.Context, actions []backend.CartAction) {
	if len(actions) == 0 {
		return
	}
	if m.deps.Cart == nil {
		m.logger.Debug("cart actions without a cart", "count", len(actions))
		return
	}
	// The reply says the items were added, so the cart update must not be
	// cut short by a stop.
	ctx = context.WithoutCancel(ctx)
	for _, action := range actions {
		if err := m.deps.Cart.Add(ctx, action); err != nil {
			m.logger.Warn("cart action rejected", "item", action.Name, "error", err)
			m.notice(NoticeCartFailed, err)
			continue
		}
		m.logger.Info("cart action forwarded", "item", action.Name, "quantity", action.Quantity)
	}
}

func (m *Machine) fail(t *turn, err error) {
	switch {
	case errors.Is(err, context.Canceled) || t.ctx.Err() != nil:
		m.finish(t, EventStop)
		return
	case errors.Is(err, errEmptyTranscript):
		m.logger.Info("empty transcript")
		m.notice(NoticeEmptyTranscript, nil)
		m.finish(t, EventEmpty)
		return
	case errors.Is(err, backend.ErrUnavailable) || errors.Is(err, tts.ErrUnavailable):
		m.logger.Warn("service unavailable", "error", err)
		m.notice(NoticeUnavailable, err)
	default:
		m.logger.Warn("turn failed", "error", err)
		m.notice(NoticeFailed, err)
	}
	m.finish(t, EventFailed)
}

// stillWorking emits the cosmetic notice if processing runs long.
func (m *Machine) stillWorking(t *turn) func() {
	timer := time.AfterFunc(m.cfg.StillWorkingDelay, func() {
		m.mu.Lock()
		current := m.turn == t && m.status == StatusProcessing
		m.mu.Unlock()
		if current {
			m.notice(NoticeStillWorking, nil)
		}
	})
	return func() { timer.Stop() }
}

// advance applies ev if t is still the current turn.
func (m *Machine) advance(t *turn, ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turn != t {
		return false
	}
	return m.applyLocked(ev)
}

// finish ends t with ev if it is still the current turn.
func (m *Machine) finish(t *turn, ev Event) {
	m.mu.Lock()
	if m.turn != t || !m.applyLocked(ev) {
		m.mu.Unlock()
		return
	}
	m.turn = nil
	m.owner = nil
	m.mu.Unlock()
	m.metrics.MarkDone(ev.String())
}

// releaseOwner leaves responding if owner still holds it.
func (m *Machine) releaseOwner(owner any, ev Event) {
	m.mu.Lock()
	if m.status != StatusResponding || m.owner != owner || !m.applyLocked(ev) {
		m.mu.Unlock()
		return
	}
	m.owner = nil
	t := m.turn
	m.turn = nil
	m.mu.Unlock()

	if t != nil {
		t.cancel()
	}
	if _, ok := owner.(*turn); ok {
		m.metrics.MarkDone(ev.String())
	}
}

// applyLocked runs the transition and queues subscriber callbacks.
// Caller holds m.mu.
func (m *Machine) applyLocked(ev Event) bool {
	from := m.status
	to, ok := Transition(from, ev)
	if !ok {
		return false
	}
	m.status = to
	if from != to {
		m.logger.Debug("status changed", "from", from, "to", to, "event", ev)
		m.publish(to)
	}
	return true
}

func (m *Machine) publish(s Status) {
	m.subMu.Lock()
	fns := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	m.events.push(func() {
		for _, fn := range fns {
			fn(s)
		}
	})
}

func (m *Machine) notice(kind NoticeKind, err error) {
	n := Notice{
		Kind:      kind,
		SessionID: m.sessionID,
		Status:    m.Status(),
		At:        time.Now(),
	}
	if err != nil {
		n.Error = err.Error()
	}

	m.subMu.Lock()
	fns := make([]func(Notice), 0, len(m.noticeS))
	for _, fn := range m.noticeS {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	m.events.push(func() {
		for _, fn := range fns {
			fn(n)
		}
	})
}
