package monitor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/frame"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Defaults for Config.
const (
	DefaultFPS                = 30
	DefaultBrightness         = 75
	DefaultMaxCaptureFailures = 3
	MaxFPS                    = 120
)

const captureTimeout = 2 * time.Second

// Capturer grabs the current screen contents.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Config is a monitor session's settings.
type Config struct {
	DeviceID string

	// FPS is the tick rate. The command channel's rate still bounds what
	// reaches the device.
	FPS int

	// Brightness scales every channel, in percent (10-100).
	Brightness int

	// Smoothing in [0,1) blends each frame with the previous output; 0
	// sends raw samples.
	Smoothing float64

	// Regions maps the screen to LED indices. Empty uses PerimeterLayout
	// of the first captured frame.
	Regions []Region

	MaxCaptureFailures int
}

func (c *Config) applyDefaults() {
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.Brightness == 0 {
		c.Brightness = DefaultBrightness
	}
	if c.MaxCaptureFailures <= 0 {
		c.MaxCaptureFailures = DefaultMaxCaptureFailures
	}
}

// Validate checks the settings that do not depend on the captured frame.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device id required", engine.ErrInvalidConfig)
	}
	if c.FPS < 1 || c.FPS > MaxFPS {
		return fmt.Errorf("%w: fps %d outside 1-%d", engine.ErrInvalidConfig, c.FPS, MaxFPS)
	}
	if c.Brightness < protocol.MinBrightness || c.Brightness > protocol.MaxBrightness {
		return fmt.Errorf("%w: brightness %d outside %d-%d", engine.ErrInvalidConfig,
			c.Brightness, protocol.MinBrightness, protocol.MaxBrightness)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("%w: smoothing %v outside [0,1)", engine.ErrInvalidConfig, c.Smoothing)
	}
	return nil
}

// Engine is a monitor sync session.
type Engine struct {
	engine.Lifecycle

	cfg      Config
	capturer Capturer
	sink     engine.Sink
	logger   engine.Logger

	// Set at Start, read only by the run goroutine afterwards.
	regions []Region
	bounds  image.Rectangle
	prev    frame.Frame

	frames        atomic.Uint64
	captureErrors atomic.Uint64
	sendErrors    atomic.Uint64
	startedAt     atomic.Pointer[time.Time]

	lastMu sync.Mutex
	last   frame.Frame
}

var _ engine.Engine = (*Engine)(nil)

// New builds an idle engine.
func New(cfg Config, capturer Capturer, sink engine.Sink) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if capturer == nil {
		return nil, fmt.Errorf("%w: no screen source", engine.ErrCaptureUnavailable)
	}
	return &Engine{
		cfg:      cfg,
		capturer: capturer,
		sink:     sink,
		logger:   engine.NoopLogger{},
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

// Start captures one frame to bind the capture bounds, validates the
// regions against them and starts ticking. A failure leaves the engine
// Stopped with engine.ErrCaptureUnavailable.
func (e *Engine) Start(ctx context.Context) error {
	if e.State() != engine.Idle {
		return fmt.Errorf("%w: start from %s", engine.ErrInvalidTransition, e.State())
	}

	img, err := e.capture(ctx)
	if err != nil {
		err = fmt.Errorf("%w: initial capture: %w", engine.ErrCaptureUnavailable, err)
		e.Abort(err)
		return err
	}
	e.bounds = img.Bounds()

	e.regions = e.cfg.Regions
	if len(e.regions) == 0 {
		e.regions = PerimeterLayout(e.bounds)
	}
	if err := ValidateRegions(e.regions, e.bounds); err != nil {
		e.Abort(err)
		return err
	}

	now := time.Now()
	e.startedAt.Store(&now)
	if err := e.emit(img); err != nil {
		e.Abort(err)
		return err
	}

	e.logger.Info("monitor sync started",
		"device", e.cfg.DeviceID,
		"bounds", e.bounds,
		"regions", len(e.regions),
		"fps", e.cfg.FPS,
	)
	return e.Begin(ctx, e.run)
}

func (e *Engine) run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FPS))
	defer ticker.Stop()

	failures := 0
	for {
		if !e.WaitRunning(ctx) {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if e.IsPaused() {
			continue
		}

		img, err := e.capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			e.captureErrors.Add(1)
			e.logger.Warn("screen capture failed", "device", e.cfg.DeviceID, "consecutive", failures, "error", err)
			if failures >= e.cfg.MaxCaptureFailures {
				return fmt.Errorf("%w: %d consecutive capture failures: %w", engine.ErrCaptureUnavailable, failures, err)
			}
			continue
		}
		failures = 0

		if img.Bounds() != e.bounds {
			return fmt.Errorf("%w: captured bounds changed from %v to %v", engine.ErrCaptureUnavailable, e.bounds, img.Bounds())
		}
		if err := e.emit(img); err != nil {
			return err
		}
	}
}

func (e *Engine) capture(ctx context.Context) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	return e.capturer.Capture(ctx)
}

// emit turns one captured image into a frame and sends it.
func (e *Engine) emit(img image.Image) error {
	out := Sample(img, e.regions).Scale(e.cfg.Brightness)
	if e.cfg.Smoothing > 0 && e.prev != nil {
		out = frame.Lerp(e.prev, out, 1-e.cfg.Smoothing)
	}
	e.prev = out

	if err := e.sink.Send(e.cfg.DeviceID, out.Command()); err != nil {
		e.sendErrors.Add(1)
		return fmt.Errorf("sending frame: %w", err)
	}
	e.frames.Add(1)

	e.lastMu.Lock()
	e.last = out
	e.lastMu.Unlock()
	return nil
}

// LastFrame returns the most recently sent frame.
func (e *Engine) LastFrame() frame.Frame {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last.Clone()
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
