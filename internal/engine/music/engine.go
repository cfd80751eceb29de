package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/frame"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Silence policies.
const (
	SilenceHold = "hold"
	SilenceFade = "fade"
)

// Defaults for Config.
const (
	DefaultBrightness         = 85
	DefaultLEDs               = 20
	DefaultSilenceFloor       = 0.01
	DefaultSilenceBuffers     = 50
	DefaultFadeBuffers        = 25
	DefaultMaxCaptureFailures = 3
)

// Source delivers audio buffers. Read blocks until a buffer is ready and
// returns io.EOF once the source is gone.
type Source interface {
	Read(ctx context.Context) (Buffer, error)
}

// Config is a music session's settings.
type Config struct {
	DeviceID   string
	Brightness int
	Pattern    string
	LEDs       int

	// Color is used by the pulse pattern. Black means white.
	Color protocol.RGB

	SilenceFloor   float64
	SilenceBuffers int
	SilencePolicy  string
	FadeBuffers    int

	MaxCaptureFailures int
}

func (c *Config) applyDefaults() {
	if c.Brightness == 0 {
		c.Brightness = DefaultBrightness
	}
	if c.Pattern == "" {
		c.Pattern = PatternWave
	}
	if c.LEDs == 0 {
		c.LEDs = DefaultLEDs
	}
	if c.SilenceFloor == 0 {
		c.SilenceFloor = DefaultSilenceFloor
	}
	if c.SilenceBuffers == 0 {
		c.SilenceBuffers = DefaultSilenceBuffers
	}
	if c.SilencePolicy == "" {
		c.SilencePolicy = SilenceHold
	}
	if c.FadeBuffers == 0 {
		c.FadeBuffers = DefaultFadeBuffers
	}
	if c.MaxCaptureFailures <= 0 {
		c.MaxCaptureFailures = DefaultMaxCaptureFailures
	}
}

// Validate checks the settings. The LED count and pattern name are
// checked by NewPattern.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device id required", engine.ErrInvalidConfig)
	}
	if c.Brightness < protocol.MinBrightness || c.Brightness > protocol.MaxBrightness {
		return fmt.Errorf("%w: brightness %d outside %d-%d", engine.ErrInvalidConfig,
			c.Brightness, protocol.MinBrightness, protocol.MaxBrightness)
	}
	if c.SilenceFloor < 0 || c.SilenceFloor >= 1 {
		return fmt.Errorf("%w: silence floor %v outside [0,1)", engine.ErrInvalidConfig, c.SilenceFloor)
	}
	if c.SilenceBuffers < 1 || c.FadeBuffers < 1 {
		return fmt.Errorf("%w: silence and fade buffer counts must be positive", engine.ErrInvalidConfig)
	}
	if c.SilencePolicy != SilenceHold && c.SilencePolicy != SilenceFade {
		return fmt.Errorf("%w: silence policy %q", engine.ErrInvalidConfig, c.SilencePolicy)
	}
	return nil
}

// Engine is a music sync session.
type Engine struct {
	engine.Lifecycle

	cfg     Config
	source  Source
	sink    engine.Sink
	pattern Pattern
	logger  engine.Logger

	// Owned by the run goroutine.
	analyzer Analyzer
	quiet    int
	fadeStep int
	held     frame.Frame

	frames        atomic.Uint64
	captureErrors atomic.Uint64
	sendErrors    atomic.Uint64
	startedAt     atomic.Pointer[time.Time]

	lastMu sync.Mutex
	last   frame.Frame
}

var _ engine.Engine = (*Engine)(nil)

// New builds an idle engine. A nil source is engine.ErrCaptureUnavailable.
func New(cfg Config, source Source, sink engine.Sink) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: no audio source", engine.ErrCaptureUnavailable)
	}
	pattern, err := NewPattern(cfg.Pattern, cfg.LEDs, cfg.Color)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		pattern: pattern,
		logger:  engine.NoopLogger{},
	}, nil
}

// SetLogger sets the logger for the engine. Call before Start.
func (e *Engine) SetLogger(logger engine.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Config returns the effective settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start begins consuming audio.
func (e *Engine) Start(ctx context.Context) error {
	if e.State() != engine.Idle {
		return fmt.Errorf("%w: start from %s", engine.ErrInvalidTransition, e.State())
	}
	now := time.Now()
	e.startedAt.Store(&now)
	if err := e.Begin(ctx, e.run); err != nil {
		return err
	}
	e.logger.Info("music sync started",
		"device", e.cfg.DeviceID,
		"pattern", e.cfg.Pattern,
		"leds", e.cfg.LEDs,
		"silence_policy", e.cfg.SilencePolicy,
	)
	return nil
}

func (e *Engine) run(ctx context.Context) error {
	failures := 0
	for {
		if !e.WaitRunning(ctx) {
			return ctx.Err()
		}

		buf, err := e.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, engine.ErrCaptureUnavailable) {
				return fmt.Errorf("%w: audio source ended: %w", engine.ErrCaptureUnavailable, err)
			}
			failures++
			e.captureErrors.Add(1)
			e.logger.Warn("audio read failed", "device", e.cfg.DeviceID, "consecutive", failures, "error", err)
			if failures >= e.cfg.MaxCaptureFailures {
				return fmt.Errorf("%w: %d consecutive read failures: %w", engine.ErrCaptureUnavailable, failures, err)
			}
			continue
		}
		failures = 0

		if e.IsPaused() {
			continue
		}
		if err := e.process(buf); err != nil {
			return err
		}
	}
}

// process handles one buffer: normal output, or the silence policy once
// the floor has not been crossed for SilenceBuffers buffers.
func (e *Engine) process(buf Buffer) error {
	f := e.analyzer.Analyze(buf)

	if f.Peak < e.cfg.SilenceFloor {
		e.quiet++
	} else {
		e.quiet = 0
		e.fadeStep = 0
	}

	if e.quiet >= e.cfg.SilenceBuffers {
		if e.quiet == e.cfg.SilenceBuffers {
			e.held = e.lastFrame()
			e.logger.Debug("silence detected", "device", e.cfg.DeviceID, "policy", e.cfg.SilencePolicy)
		}
		if len(e.held) == 0 {
			return nil
		}
		switch e.cfg.SilencePolicy {
		case SilenceFade:
			if e.fadeStep >= e.cfg.FadeBuffers {
				return nil
			}
			e.fadeStep++
			return e.send(e.held.Fade(e.fadeStep, e.cfg.FadeBuffers), false)
		default:
			return e.send(e.held, false)
		}
	}

	return e.send(e.pattern.Next(f).Scale(e.cfg.Brightness), true)
}

func (e *Engine) send(out frame.Frame, remember bool) error {
	if err := e.sink.Send(e.cfg.DeviceID, out.Command()); err != nil {
		e.sendErrors.Add(1)
		return fmt.Errorf("sending frame: %w", err)
	}
	e.frames.Add(1)
	if remember {
		e.lastMu.Lock()
		e.last = out
		e.lastMu.Unlock()
	}
	return nil
}

func (e *Engine) lastFrame() frame.Frame {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last.Clone()
}

// LastFrame returns the most recent pattern output.
func (e *Engine) LastFrame() frame.Frame {
	return e.lastFrame()
}

// Stats returns the engine counters.
func (e *Engine) Stats() engine.Stats {
	s := engine.Stats{
		Frames:        e.frames.Load(),
		CaptureErrors: e.captureErrors.Load(),
		SendErrors:    e.sendErrors.Load(),
	}
	if t := e.startedAt.Load(); t != nil {
		s.StartedAt = *t
	}
	return s
}
