package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// State is an engine's lifecycle state.
type State int

// Engine states.
const (
	Idle State = iota
	Running
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink receives the commands an engine produces. command.Channel
// satisfies it.
type Sink interface {
	Send(deviceID string, cmd protocol.Command) error
}

// Logger defines the logging interface used by the engines.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// Engine is a running sync pipeline for one device.
type Engine interface {
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Stop() error
	State() State
	// Done is closed once the engine reaches Stopped.
	Done() <-chan struct{}
	// Err returns why the engine stopped; nil for a requested stop.
	Err() error
	Stats() Stats
}

// Stats are engine counters.
type Stats struct {
	Frames        uint64    `json:"frames"`
	CaptureErrors uint64    `json:"capture_errors"`
	SendErrors    uint64    `json:"send_errors"`
	StartedAt     time.Time `json:"started_at,omitzero"`
}

// FPS is the mean frame rate since start.
func (s Stats) FPS(now time.Time) float64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / elapsed
}

// Lifecycle implements the state machine and run-goroutine bookkeeping
// shared by the engines. The zero value is an Idle lifecycle.
type Lifecycle struct {
	mu     sync.Mutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}
	resume chan struct{}
}

func (l *Lifecycle) init() {
	if l.done == nil {
		l.done = make(chan struct{})
	}
}

// Begin moves Idle → Running and starts run in its own goroutine with a
// context cancelled by Stop. run's return value becomes Err.
func (l *Lifecycle) Begin(ctx context.Context, run func(ctx context.Context) error) error {
	l.mu.Lock()
	l.init()
	if l.state != Idle {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.state = Running
	l.mu.Unlock()

	go func() {
		err := run(runCtx)
		l.finish(err)
	}()
	return nil
}

// Abort moves Idle → Stopped with err as the reason, for engines that
// fail before their run goroutine starts.
func (l *Lifecycle) Abort(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.init()
	if l.state != Idle {
		return
	}
	l.err = err
	l.state = Stopped
	close(l.done)
}

// Pause moves Running → Paused.
func (l *Lifecycle) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Running {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, l.state)
	}
	l.state = Paused
	l.resume = make(chan struct{})
	return nil
}

// Resume moves Paused → Running.
func (l *Lifecycle) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Paused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, l.state)
	}
	l.state = Running
	close(l.resume)
	l.resume = nil
	return nil
}

// Stop cancels the run goroutine and waits for it to exit. Stopping an
// Idle lifecycle moves it straight to Stopped; stopping a Stopped one is a
// no-op.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	l.init()
	switch l.state {
	case Stopped:
		l.mu.Unlock()
		return nil
	case Idle:
		l.state = Stopped
		close(l.done)
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed on entering Stopped.
func (l *Lifecycle) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	return l.done
}

// Err returns the reason the run goroutine ended.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// WaitRunning blocks while paused. It returns false if ctx ends first.
func (l *Lifecycle) WaitRunning(ctx context.Context) bool {
	for {
		l.mu.Lock()
		if l.state != Paused {
			l.mu.Unlock()
			return ctx.Err() == nil
		}
		resume := l.resume
		l.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return false
		}
	}
}

// IsPaused reports whether the lifecycle is paused.
func (l *Lifecycle) IsPaused() bool {
	return l.State() == Paused
}

func (l *Lifecycle) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	l.err = err
	l.state = Stopped
	l.cancel()
	close(l.done)
}
