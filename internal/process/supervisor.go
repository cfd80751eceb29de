package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle position of a supervised helper.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusBackoff Status = "backoff"
	StatusExited  Status = "exited"
)

const (
	defaultBackoff          = 500 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultStopTimeout      = 2 * time.Second
	defaultWatchdogInterval = 2 * time.Second

	// stderrTailLines is how much helper stderr an ExitError keeps.
	stderrTailLines = 8
)

var (
	// ErrAlreadyStarted is returned by a second Start. A Supervisor runs once.
	ErrAlreadyStarted = errors.New("process: already started")

	// ErrBinaryNotFound is returned when the helper cannot be resolved.
	ErrBinaryNotFound = errors.New("process: binary not found")

	// ErrWatchdog marks a run killed because its watchdog failed.
	ErrWatchdog = errors.New("process: watchdog expired")
)

// Config describes one capture helper.
type Config struct {
	// Name labels log lines, e.g. "screen-capture".
	Name string

	// Binary is resolved through PATH unless it contains a slash.
	Binary string
	Args   []string

	// Stdout consumes one run's output and must read until EOF. Nil
	// discards it.
	Stdout func(r io.Reader)

	// Restarts is how many unexpected exits are retried. Zero never
	// restarts.
	Restarts int

	// Backoff doubles per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration

	// Watchdog is polled every WatchdogInterval while a run is up. An
	// error kills the run, which then counts as an unexpected exit.
	Watchdog         func() error
	WatchdogInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = max(defaultMaxBackoff, c.Backoff)
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
}

// ExitError describes a run that ended without being asked to.
type ExitError struct {
	Name   string
	Err    error
	Stderr []string
	Uptime time.Duration
}

func (e *ExitError) Error() string {
	cause := "exited with status 0"
	if e.Err != nil {
		cause = e.Err.Error()
	}
	msg := fmt.Sprintf("%s: %s after %s", e.Name, cause, e.Uptime.Round(time.Millisecond))
	if n := len(e.Stderr); n > 0 {
		msg += ": " + e.Stderr[n-1]
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs a helper, feeds its stdout to a consumer and restarts
// it with backoff. It is single use: Start once, Stop once.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	status   Status
	cmd      *exec.Cmd
	restarts int
	err      error
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusIdle,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the first run. Cancelling ctx kills the helper's process
// group and ends supervision. A failed first launch ends supervision too,
// so Done is closed whenever Start returns an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.cfg.Name)
	}
	s.status = StatusRunning
	s.mu.Unlock()

	path, err := exec.LookPath(s.cfg.Binary)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, s.cfg.Binary, err)
		s.finish(err)
		return err
	}

	r, err := s.launch(ctx, path)
	if err != nil {
		s.finish(err)
		return err
	}

	go s.supervise(ctx, path, r)
	return nil
}

// run is one helper process.
type run struct {
	cmd        *exec.Cmd
	started    time.Time
	stderr     *tailWriter
	streamDone chan struct{}
}

func (s *Supervisor) launch(ctx context.Context, path string) (*run, error) {
	cmd := exec.CommandContext(ctx, path, s.cfg.Args...) //nolint:gosec // binary comes from operator config

	// Own process group so a cancel or Stop reaches anything the helper
	// spawned (pulseaudio wrappers, ffmpeg filters).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// An os.Pipe, not StdoutPipe: Wait must not close stdout under a
	// consumer still draining buffered frames.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	tail := &tailWriter{name: s.cfg.Name, logger: s.logger}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}
	stdoutW.Close()

	r := &run{
		cmd:        cmd,
		started:    time.Now(),
		stderr:     tail,
		streamDone: make(chan struct{}),
	}
	go func() {
		defer close(r.streamDone)
		defer stdoutR.Close()
		if s.cfg.Stdout != nil {
			s.cfg.Stdout(stdoutR)
			return
		}
		_, _ = io.Copy(io.Discard, stdoutR)
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		// Stop ran before the command was visible to it.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	s.logger.Info("capture helper started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return r, nil
}

func (s *Supervisor) supervise(ctx context.Context, path string, r *run) {
	for {
		waitErr := s.wait(ctx, r)
		// The consumer sees everything the helper wrote before we decide.
		<-r.streamDone

		if s.isStopping() || ctx.Err() != nil {
			s.logger.Info("capture helper stopped", "name", s.cfg.Name)
			s.finish(nil)
			return
		}

		exit := &ExitError{
			Name:   s.cfg.Name,
			Err:    waitErr,
			Stderr: r.stderr.lines(),
			Uptime: time.Since(r.started),
		}
		s.logger.Warn("capture helper exited", "name", s.cfg.Name, "error", exit)

		s.mu.Lock()
		s.err = exit
		attempt := s.restarts + 1
		retry := attempt <= s.cfg.Restarts
		if retry {
			s.restarts = attempt
			s.status = StatusBackoff
		}
		s.mu.Unlock()

		if !retry {
			s.finish(exit)
			return
		}

		delay := s.backoff(attempt)
		s.logger.Info("restarting capture helper", "name", s.cfg.Name, "attempt", attempt, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(nil)
			return
		case <-s.stop:
			timer.Stop()
			s.finish(nil)
			return
		case <-timer.C:
		}

		next, err := s.launch(ctx, path)
		if err != nil {
			s.logger.Error("capture helper restart failed", "name", s.cfg.Name, "error", err)
			s.finish(err)
			return
		}
		r = next
	}
}

// wait returns when the run exits. A failing watchdog kills the process
// group first.
func (s *Supervisor) wait(ctx context.Context, r *run) error {
	exited := make(chan error, 1)
	go func() { exited <- r.cmd.Wait() }()

	if s.cfg.Watchdog == nil {
		return <-exited
	}

	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
			if ctx.Err() != nil || s.isStopping() {
				continue
			}
			werr := s.cfg.Watchdog()
			if werr == nil {
				continue
			}
			s.logger.Warn("capture helper watchdog expired, killing", "name", s.cfg.Name, "error", werr)
			_ = syscall.Kill(-r.cmd.Process.Pid, syscall.SIGKILL)
			<-exited
			return fmt.Errorf("%w: %w", ErrWatchdog, werr)
		}
	}
}

func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := s.cfg.Backoff
	for i := 1; i < attempt && delay < s.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, s.cfg.MaxBackoff)
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// finish ends supervision. err replaces the recorded error only when set,
// so the last exit stays visible after a Stop during backoff.
func (s *Supervisor) finish(err error) {
	s.mu.Lock()
	if err != nil {
		s.err = err
	}
	s.status = StatusExited
	s.cmd = nil
	s.mu.Unlock()
	close(s.done)
}

// Stop asks the running helper to exit, escalating from SIGTERM to
// SIGKILL after StopTimeout, and waits for supervision to end. It is safe
// to call more than once and before Start.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status == StatusIdle {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stop)
	}
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-s.done
		return nil
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to signal capture helper", "name", s.cfg.Name, "error", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
	}

	s.logger.Warn("capture helper ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.StopTimeout)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
	}
	<-s.done
	return nil
}

// Done is closed when supervision ends: after Stop, after the last
// permitted exit, or when the Start context is cancelled.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the last exit or launch error, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status returns the current lifecycle position.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Restarts returns how many times the helper has been relaunched.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// tailWriter logs helper stderr line by line and keeps the last few lines.
type tailWriter struct {
	name   string
	logger Logger

	mu      sync.Mutex
	partial []byte
	tail    []string
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.keep(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *tailWriter) keep(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	w.logger.Debug("capture helper stderr", "name", w.name, "line", line)
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[len(w.tail)-stderrTailLines:]
	}
}

// lines returns the kept lines, including an unterminated final one.
func (w *tailWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.keep(string(w.partial))
		w.partial = nil
	}
	return append([]string(nil), w.tail...)
}
