package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// captureArgs returns the command that writes raw S16LE PCM to stdout.
func captureArgs(goos string, cfg Config) []string {
	rate, ch := strconv.Itoa(cfg.SampleRate), strconv.Itoa(cfg.Channels)
	if goos == "darwin" {
		return []string{"rec", "-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
	}
	args := []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

// playbackArgs returns the command that plays raw S16LE PCM from stdin.
func playbackArgs(goos string, cfg Config) []string {
	rate, ch := strconv.Itoa(cfg.SampleRate), strconv.Itoa(cfg.Channels)
	if goos == "darwin" {
		return []string{"play", "-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
	}
	args := []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

// ExecSource captures audio by reading the stdout of a recording process.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger
	argv   []string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewExecSource checks that the capture tool exists. The process is not
// started until Start.
func NewExecSource(cfg Config, logger *slog.Logger) (*ExecSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	argv := captureArgs(runtime.GOOS, cfg)
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("audioio: capture tool %q: %w", argv[0], err)
	}
	return &ExecSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.source"),
		argv:     argv,
		streamCh: closedChunks(),
	}, nil
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

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audioio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioio: start %s: %w", s.argv[0], err)
	}

	s.cmd = cmd
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)
	go s.readLoop(cmd, stdout, s.streamCh)

	s.logger.Info("audio capture started", "cmd", s.argv[0], "device", s.cfg.Device)
	return nil
}

// readLoop owns ch and closes it when the process output ends.
func (s *ExecSource) readLoop(cmd *exec.Cmd, r io.Reader, ch chan AudioChunk) {
	defer close(ch)
	defer cmd.Wait()

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("capture read ended", "error", err)
			}
			s.mu.Lock()
			if s.cmd == cmd {
				s.running = false
			}
			s.mu.Unlock()
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case ch <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
			s.logger.Debug("capture buffer full, dropping chunk")
		}
	}
}

// Stop kills the capture process. The stream channel closes once the
// process output is drained.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.logger.Info("audio capture stopped")
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

// Stream returns the channel of the current capture run.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config {
	return s.cfg
}

// Name returns "exec".
func (s *ExecSource) Name() string {
	return "exec"
}

// Close stops capture for good.
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

// ExecSink plays audio by writing to the stdin of a playback process.
// Each Start..Flush cycle runs one process.
type ExecSink struct {
	cfg    Config
	logger *slog.Logger
	argv   []string

	mu     sync.Mutex
	closed bool
	cmd    *exec.Cmd
	stdin  io.WriteCloser
}

// NewExecSink checks that the playback tool exists.
func NewExecSink(cfg Config, logger *slog.Logger) (*ExecSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	argv := playbackArgs(runtime.GOOS, cfg)
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("audioio: playback tool %q: %w", argv[0], err)
	}
	return &ExecSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.sink"),
		argv:   argv,
	}, nil
}

// Start launches the playback process.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audioio: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioio: start %s: %w", s.argv[0], err)
	}
	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Write sends a chunk to the playback process.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return io.ErrClosedPipe
	}
	if _, err := stdin.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("audioio: write: %w", err)
	}
	return nil
}

// Flush closes stdin and waits for the process to finish playing.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("audioio: %s: %w", s.argv[0], err)
		}
		return nil
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

// Stop kills any running playback.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	stdin.Close()
	cmd.Process.Kill()
	cmd.Wait()
	return nil
}

// Config returns the audio configuration.
func (s *ExecSink) Config() Config {
	return s.cfg
}

// Name returns "exec".
func (s *ExecSink) Name() string {
	return "exec"
}

// Close stops playback for good.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// closedChunks returns an already closed channel so Stream and Read on a
// never-started source see end of stream.
func closedChunks() chan AudioChunk {
	ch := make(chan AudioChunk)
	close(ch)
	return ch
}

var (
	_ Source = (*ExecSource)(nil)
	_ Sink   = (*ExecSink)(nil)
)
