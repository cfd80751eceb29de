package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/lumisync-core/internal/process"
)

// DefaultStaleAfter is how long the screen helper may go without a frame
// before its health check fails.
const DefaultStaleAfter = 5 * time.Second

// Logger is the logging interface shared by the capture sources.
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

// ScreenConfig describes the ffmpeg screen grab.
type ScreenConfig struct {
	Binary  string
	Display string
	Width   int
	Height  int
	FPS     int

	// Args are inserted between the input and output options, e.g. a
	// scale filter.
	Args []string

	// OutWidth and OutHeight are the frame size ffmpeg writes. They
	// default to Width and Height and must match any scale filter in Args.
	OutWidth  int
	OutHeight int

	// Restarts is how many times a failed helper is restarted.
	Restarts int
}

func (c ScreenConfig) outSize() (int, int) {
	w, h := c.OutWidth, c.OutHeight
	if w == 0 {
		w = c.Width
	}
	if h == 0 {
		h = c.Height
	}
	return w, h
}

// Validate checks the grab geometry.
func (c ScreenConfig) Validate() error {
	w, h := c.outSize()
	if c.Width <= 0 || c.Height <= 0 || w <= 0 || h <= 0 {
		return fmt.Errorf("%w: screen size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps %d", ErrInvalidConfig, c.FPS)
	}
	if c.Binary == "" {
		return fmt.Errorf("%w: no screen capture binary", ErrInvalidConfig)
	}
	return nil
}

// ScreenArgs returns the ffmpeg command line for cfg.
func ScreenArgs(cfg ScreenConfig) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab",
		"-video_size", strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height),
		"-framerate", strconv.Itoa(cfg.FPS),
		"-i", cfg.Display,
	}
	args = append(args, cfg.Args...)
	return append(args, "-f", "rawvideo", "-pix_fmt", "rgb24", "-")
}

// Screen is a monitor.Capturer backed by an ffmpeg subprocess.
type Screen struct {
	width, height int

	sup    *process.Supervisor
	logger Logger

	mu       sync.Mutex
	latest   *image.RGBA
	lastAt   time.Time
	frames   uint64
	updated  chan struct{}
	started  bool
	streamed error
}

// NewScreen builds an unstarted screen source.
func NewScreen(cfg ScreenConfig) (*Screen, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, h := cfg.outSize()
	return newScreen(w, h, cfg.Restarts, cfg.Binary, ScreenArgs(cfg)), nil
}

func newScreen(width, height, restarts int, binary string, args []string) *Screen {
	s := &Screen{
		width:   width,
		height:  height,
		logger:  noopLogger{},
		updated: make(chan struct{}),
	}
	s.sup = process.NewSupervisor(process.Config{
		Name:             "screen-capture",
		Binary:           binary,
		Args:             args,
		Stdout:           s.consume,
		Restarts:         restarts,
		Watchdog:         s.healthy,
		WatchdogInterval: DefaultStaleAfter,
	})
	return s
}

// SetLogger sets the logger for the source and its helper.
func (s *Screen) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
		s.sup.SetLogger(logger)
	}
}

// Start launches the helper.
func (s *Screen) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	if err := s.sup.Start(ctx); err != nil {
		return fmt.Errorf("starting screen capture: %w", err)
	}
	return nil
}

// Capture returns the most recent frame, waiting for the first one.
func (s *Screen) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	s.mu.Unlock()

	select {
	case <-s.sup.Done():
		return nil, s.closedErr()
	default:
	}

	s.mu.Lock()
	if s.latest != nil {
		img := s.latest
		s.mu.Unlock()
		return img, nil
	}
	updated := s.updated
	s.mu.Unlock()

	select {
	case <-updated:
	case <-s.sup.Done():
		return nil, s.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, ErrClosed
	}
	return s.latest, nil
}

// Frames returns how many frames the helper has delivered.
func (s *Screen) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close stops the helper.
func (s *Screen) Close() error {
	return s.sup.Stop()
}

// consume reads frames for one helper run. Each frame gets a fresh image
// so a frame handed out by Capture is never overwritten.
func (s *Screen) consume(r io.Reader) {
	err := readFrames(r, s.width, s.height, func(img *image.RGBA) {
		s.mu.Lock()
		s.latest = img
		s.lastAt = time.Now()
		s.frames++
		close(s.updated)
		s.updated = make(chan struct{})
		s.mu.Unlock()
	})
	if err != nil {
		s.logger.Warn("screen capture stream broken", "error", err)
		s.mu.Lock()
		s.streamed = err
		s.mu.Unlock()
	}
}

func (s *Screen) healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAt.IsZero() || time.Since(s.lastAt) > DefaultStaleAfter {
		return errors.New("no frame from screen capture")
	}
	return nil
}

func (s *Screen) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamed != nil {
		return fmt.Errorf("%w: %w", ErrClosed, s.streamed)
	}
	if err := s.sup.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return ErrClosed
}

// readFrames decodes back-to-back rgb24 frames of width x height until r
// ends. A clean end between frames returns nil.
func readFrames(r io.Reader, width, height int, fn func(*image.RGBA)) error {
	raw := make([]byte, width*height*3)
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for i, j := 0, 0; i < len(raw); i, j = i+3, j+4 {
			img.Pix[j] = raw[i]
			img.Pix[j+1] = raw[i+1]
			img.Pix[j+2] = raw[i+2]
			img.Pix[j+3] = 0xff
		}
		fn(img)
	}
}
