package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ExecSource captures audio by running a subprocess that writes raw
// little-endian PCM16 to stdout.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger
	argv   []string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan AudioChunk
	done     chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewExecSource creates a capture source for the exec backend.
func NewExecSource(cfg Config, logger *slog.Logger) (*ExecSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	argv := cfg.Command
	if len(argv) == 0 {
		argv = defaultCaptureCommand(cfg)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: no capture command for %s", ErrDeviceUnavailable, runtime.GOOS)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, argv[0], err)
	}
	return &ExecSource{
		cfg:      cfg,
		logger:   logger,
		argv:     argv,
		streamCh: make(chan AudioChunk, 10),
		done:     make(chan struct{}),
	}, nil
}

func defaultCaptureCommand(cfg Config) []string {
	rate := strconv.Itoa(cfg.SampleRate)
	channels := strconv.Itoa(cfg.Channels)
	switch runtime.GOOS {
	case "linux":
		device := cfg.Device
		if device == "" {
			device = "default"
		}
		return []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels, "-D", device}
	case "darwin":
		device := cfg.Device
		if device == "" {
			device = ":0"
		}
		return []string{"ffmpeg", "-loglevel", "quiet", "-f", "avfoundation", "-i", device,
			"-f", "s16le", "-ac", channels, "-ar", rate, "-"}
	default:
		return nil
	}
}

// Start launches the capture process.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)
	s.done = make(chan struct{})

	go s.readLoop(cmd, stdout, &stderr, s.streamCh, s.done)

	s.logger.Debug("capture process started", "command", s.argv[0], "pid", cmd.Process.Pid)
	return nil
}

func (s *ExecSource) readLoop(cmd *exec.Cmd, stdout io.Reader, stderr *strings.Builder, streamCh chan<- AudioChunk, done chan<- struct{}) {
	defer close(done)
	defer close(streamCh)

	r := bufio.NewReaderSize(stdout, s.cfg.BufferBytes()*4)
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("capture read ended", "error", err)
			}
			break
		}
		chunk := AudioChunk{
			Samples:    BytesToSamples(buf),
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}
		select {
		case streamCh <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}

	if err := cmd.Wait(); err != nil && stderr.Len() > 0 {
		s.logger.Warn("capture process exited", "error", err, "stderr", strings.TrimSpace(stderr.String()))
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop terminates the capture process.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Read reads the next audio chunk.
func (s *ExecSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := s.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config { return s.cfg }

// Name returns "exec".
func (s *ExecSource) Name() string { return "exec" }

// Close stops capture and prevents restarts.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "exec",
	}
}

var _ SourceWithStats = (*ExecSource)(nil)
