package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/lan"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// DefaultTimeout is the discovery window when none is configured.
const DefaultTimeout = 2 * time.Second

// responseBuffer bounds responses waiting for upsert within one round.
const responseBuffer = 64

// Registry is the subset of device.Registry used by discovery.
type Registry interface {
	Upsert(ctx context.Context, d device.Discovered) (*device.Device, error)
	MarkDiscovered(ctx context.Context, at time.Time) error
	Stale(maxAge time.Duration) bool
}

// Logger defines the logging interface used by the Service.
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

// Config holds discovery settings.
type Config struct {
	// Timeout is the default window used by Refresh and by Discover when
	// called with a zero timeout.
	Timeout time.Duration

	// Rebroadcast repeats the scan at this interval within a window.
	// Zero sends a single scan.
	Rebroadcast time.Duration
}

// Result summarises a completed round.
type Result struct {
	Devices   []device.Device
	Responses int
	Dropped   int
	Elapsed   time.Duration
}

// Service runs discovery rounds. One round runs at a time.
type Service struct {
	transport lan.Transport
	registry  Registry
	cfg       Config

	running sync.Mutex

	logger     Logger
	onComplete func(Result)
	cbMu       sync.RWMutex
}

// New creates a discovery service on a shared transport.
func New(transport lan.Transport, registry Registry, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetOnComplete registers a callback invoked after every round.
func (s *Service) SetOnComplete(fn func(Result)) {
	s.cbMu.Lock()
	s.onComplete = fn
	s.cbMu.Unlock()
}

// Discover broadcasts a scan and upserts every distinct responder heard
// within timeout. It returns the devices upserted in this round, in
// arrival order.
//
// A cancelled ctx ends the round early; the devices found so far are
// returned along with ctx's error.
func (s *Service) Discover(ctx context.Context, timeout time.Duration) ([]device.Device, error) {
	res, err := s.Run(ctx, timeout)
	return res.Devices, err
}

// Run is Discover with round statistics.
func (s *Service) Run(ctx context.Context, timeout time.Duration) (Result, error) {
	if timeout == 0 {
		timeout = s.cfg.Timeout
	}
	if timeout < 0 {
		return Result{}, ErrInvalidTimeout
	}
	if !s.running.TryLock() {
		return Result{}, ErrInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	responses := make(chan lan.Packet, responseBuffer)
	var overflow int
	var overflowMu sync.Mutex

	unsubscribe := s.transport.Subscribe(func(p lan.Packet) {
		select {
		case responses <- p:
		default:
			overflowMu.Lock()
			overflow++
			overflowMu.Unlock()
		}
	})
	defer unsubscribe()

	scan := protocol.MustEncode(protocol.Discover{})
	if err := s.transport.Broadcast(ctx, scan); err != nil {
		if errors.Is(err, lan.ErrTransport) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: sending scan: %w", lan.ErrTransport, err)
	}
	s.logger.Debug("scan sent", "timeout", timeout)

	window := time.NewTimer(timeout)
	defer window.Stop()

	var rebroadcast <-chan time.Time
	if s.cfg.Rebroadcast > 0 && s.cfg.Rebroadcast < timeout {
		ticker := time.NewTicker(s.cfg.Rebroadcast)
		defer ticker.Stop()
		rebroadcast = ticker.C
	}

	var (
		res  Result
		seen = make(map[string]struct{})
	)

	finish := func(err error) (Result, error) {
		overflowMu.Lock()
		res.Dropped += overflow
		overflowMu.Unlock()
		res.Elapsed = time.Since(start)

		if err == nil {
			if merr := s.registry.MarkDiscovered(ctx, time.Now()); merr != nil {
				s.logger.Warn("failed to record discovery time", "error", merr)
			}
		}
		s.logger.Info("discovery complete",
			"found", len(res.Devices),
			"responses", res.Responses,
			"dropped", res.Dropped,
			"elapsed", res.Elapsed,
		)
		s.complete(res)
		return res, err
	}

	for {
		select {
		case <-ctx.Done():
			return finish(ctx.Err())

		case <-window.C:
			return finish(nil)

		case <-rebroadcast:
			if err := s.transport.Broadcast(ctx, scan); err != nil {
				s.logger.Warn("scan rebroadcast failed", "error", err)
			}

		case p := <-responses:
			d, ok := s.handle(ctx, p, seen)
			switch {
			case d != nil:
				res.Responses++
				res.Devices = append(res.Devices, *d)
			case ok:
				res.Responses++
			default:
				res.Dropped++
			}
		}
	}
}

// handle processes one datagram. It returns the upserted device for a new
// responder, ok for a duplicate or unrelated message, and neither for a
// dropped response.
func (s *Service) handle(ctx context.Context, p lan.Packet, seen map[string]struct{}) (*device.Device, bool) {
	msg, err := protocol.Decode(p.Payload)
	if err != nil {
		s.logger.Warn("dropping malformed response", "from", p.From, "error", err)
		return nil, false
	}

	scan, ok := msg.(protocol.ScanResponse)
	if !ok {
		// Our own scan looped back, or a state response for the command
		// channel.
		return nil, true
	}

	if _, dup := seen[scan.Device]; dup {
		return nil, true
	}
	seen[scan.Device] = struct{}{}

	d, err := s.registry.Upsert(ctx, device.FromScan(scan))
	switch {
	case errors.Is(err, device.ErrIdentityMismatch):
		s.logger.Warn("dropping response with conflicting identity",
			"device", scan.Device,
			"ip", scan.IP,
			"model", scan.SKU,
			"error", err,
		)
		return nil, false
	case err != nil && d == nil:
		s.logger.Warn("dropping response", "device", scan.Device, "error", err)
		return nil, false
	case err != nil:
		// Registered in memory; only the cache write failed.
		s.logger.Warn("device cache write failed", "device", scan.Device, "error", err)
	}

	s.logger.Debug("device responded", "device", d.ID, "ip", d.IP, "model", d.Model)
	return d, true
}

// Refresh runs a round with the configured timeout when the registry is
// empty or older than maxAge. It reports whether a round ran.
func (s *Service) Refresh(ctx context.Context, maxAge time.Duration) (bool, error) {
	if !s.registry.Stale(maxAge) {
		return false, nil
	}
	s.logger.Info("device cache stale, rediscovering", "max_age", maxAge)
	_, err := s.Run(ctx, s.cfg.Timeout)
	return true, err
}

func (s *Service) complete(res Result) {
	s.cbMu.RLock()
	fn := s.onComplete
	s.cbMu.RUnlock()
	if fn != nil {
		fn(res)
	}
}
