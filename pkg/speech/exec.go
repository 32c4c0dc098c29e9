package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/tts"
)

// DefaultPlayCommand plays an encoded stream from stdin and exits at its end.
var DefaultPlayCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error"}

// ExecElement plays audio by piping it to a player subprocess.
type ExecElement struct {
	command []string
	logger  *slog.Logger

	mu  sync.Mutex
	cur *execRun
}

type execRun struct {
	cmd     *exec.Cmd
	stopped atomic.Bool
	exited  chan struct{}
}

// NewExecElement creates an element that runs command per clip. An empty
// command means DefaultPlayCommand.
func NewExecElement(command []string, logger *slog.Logger) *ExecElement {
	if len(command) == 0 {
		command = DefaultPlayCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecElement{
		command: command,
		logger:  logger.With("component", "speech.exec"),
	}
}

// Play starts a player process for audio.
func (e *ExecElement) Play(ctx context.Context, audio *tts.AudioResult) (<-chan error, error) {
	if audio == nil || len(audio.Audio) == 0 {
		return nil, ErrNoAudio
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()

	args := append(append([]string(nil), e.command[1:]...), inputArgs(audio.Format)...)
	cmd := exec.Command(e.command[0], args...)
	cmd.Stdin = bytes.NewReader(audio.Audio)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	run := &execRun{cmd: cmd, exited: make(chan struct{})}
	e.cur = run

	out := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		// exited closes before taking the lock so stopLocked can wait on it.
		close(run.exited)

		e.mu.Lock()
		if e.cur == run {
			e.cur = nil
		}
		e.mu.Unlock()

		switch {
		case run.stopped.Load():
			out <- ErrStopped
		case err != nil:
			out <- fmt.Errorf("player: %w: %s", err, strings.TrimSpace(stderr.String()))
		default:
			out <- nil
		}
	}()

	e.logger.Debug("playback started", "bytes", len(audio.Audio), "encoding", audio.Format.Encoding)
	return out, nil
}

// Stop kills the current player process and waits for it to exit.
func (e *ExecElement) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *ExecElement) stopLocked() {
	run := e.cur
	if run == nil {
		return
	}
	run.stopped.Store(true)
	e.cur = nil
	if run.cmd.Process != nil {
		run.cmd.Process.Kill()
	}
	<-run.exited
}

// inputArgs describes raw PCM to the player; containers are self-describing.
func inputArgs(f tts.AudioFormat) []string {
	if f.Encoding != tts.EncodingPCM {
		return []string{"-i", "pipe:0"}
	}
	rate := f.SampleRate
	if rate == 0 {
		rate = 24000
	}
	ch := f.Channels
	if ch == 0 {
		ch = 1
	}
	return []string{"-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", strconv.Itoa(ch), "-i", "pipe:0"}
}

var _ Element = (*ExecElement)(nil)
