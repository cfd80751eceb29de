package command

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/lan"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Defaults for Config.
const (
	DefaultRateHz       = 20
	DefaultQueryTimeout = time.Second
	DefaultSendTimeout  = 500 * time.Millisecond
)

// Registry is the subset of device.Registry used by the channel.
type Registry interface {
	Get(id string) (*device.Device, error)
	MarkOffline(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, state device.State) error
	SetLastColor(ctx context.Context, id string, color protocol.RGB) error
	Subscribe(fn func(device.Event)) (unsubscribe func())
}

// Logger defines the logging interface used by the Channel.
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

// Config holds channel settings. Zero values take the defaults.
type Config struct {
	RateHz       float64
	QueryTimeout time.Duration
	SendTimeout  time.Duration
}

// Channel owns the per-device queues. Safe for concurrent use.
type Channel struct {
	transport lan.Transport
	registry  Registry
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]*queue
	waiters map[netip.Addr][]chan protocol.StateResponse
	closed  bool

	unsubscribeTransport func()
	unsubscribeRegistry  func()

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a channel and starts listening for state responses and
// registry events. Call Close to stop every queue.
func New(transport lan.Transport, registry Registry, cfg Config) *Channel {
	if cfg.RateHz <= 0 {
		cfg.RateHz = DefaultRateHz
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*queue),
		waiters:   make(map[netip.Addr][]chan protocol.StateResponse),
		logger:    noopLogger{},
	}
	c.unsubscribeTransport = transport.Subscribe(c.handlePacket)
	c.unsubscribeRegistry = registry.Subscribe(c.handleEvent)
	return c
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Channel) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Send enqueues cmd for deviceID, replacing any command still pending.
// It never blocks on the network.
func (c *Channel) Send(deviceID string, cmd protocol.Command) error {
	q, err := c.queueFor(deviceID)
	if err != nil {
		return err
	}
	if q.isSuspended() {
		return fmt.Errorf("%w: %s", ErrDeviceOffline, deviceID)
	}
	q.put(cmd)
	return nil
}

// Do sends cmd now, waiting for the device's rate limiter, and reports
// the delivery outcome. A command still pending in the queue is delivered
// first so enqueue order holds.
func (c *Channel) Do(ctx context.Context, deviceID string, cmd protocol.Command) error {
	q, err := c.queueFor(deviceID)
	if err != nil {
		return err
	}
	if q.isSuspended() {
		return fmt.Errorf("%w: %s", ErrDeviceOffline, deviceID)
	}

	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	if pending, ok := q.take(); ok {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.deliver(ctx, q, pending); err != nil {
			return fmt.Errorf("flushing pending %s: %w", pending.Cmd(), err)
		}
	}

	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.deliver(ctx, q, cmd)
}

// SetRate bounds the send rate for one device.
func (c *Channel) SetRate(deviceID string, maxHz float64) error {
	if maxHz <= 0 {
		return ErrInvalidRate
	}
	q, err := c.queueFor(deviceID)
	if err != nil {
		return err
	}
	q.limiter.SetLimit(rate.Limit(maxHz))
	c.log().Debug("send rate changed", "device", deviceID, "hz", maxHz)
	return nil
}

// Reconnect resumes a suspended queue.
func (c *Channel) Reconnect(deviceID string) error {
	q, err := c.queueFor(deviceID)
	if err != nil {
		return err
	}
	if q.resume() {
		c.log().Info("queue resumed", "device", deviceID, "reason", "reconnect")
	}
	return nil
}

// Suspended reports whether deviceID's queue is suspended.
func (c *Channel) Suspended(deviceID string) bool {
	c.mu.Lock()
	q, ok := c.queues[deviceID]
	c.mu.Unlock()
	return ok && q.isSuspended()
}

// QueryState asks a device for its state and waits for the answer. A
// successful answer is recorded in the registry.
func (c *Channel) QueryState(ctx context.Context, deviceID string) (device.State, error) {
	d, err := c.registry.Get(deviceID)
	if err != nil {
		return device.State{}, err
	}

	wait := c.addWaiter(d.IP)
	defer c.removeWaiter(d.IP, wait)

	if err := c.Do(ctx, deviceID, protocol.QueryState{}); err != nil {
		return device.State{}, err
	}

	timer := time.NewTimer(c.cfg.QueryTimeout)
	defer timer.Stop()

	select {
	case resp := <-wait:
		state := device.State{
			On:             resp.On,
			Brightness:     resp.Brightness,
			Color:          resp.Color,
			ColorTemKelvin: resp.ColorTemKelvin,
			ReceivedAt:     time.Now().UTC(),
		}
		if err := c.registry.Touch(ctx, deviceID, state); err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			c.log().Warn("failed to record device state", "device", deviceID, "error", err)
		}
		return state, nil
	case <-timer.C:
		return device.State{}, fmt.Errorf("%w: %s after %s", ErrQueryTimeout, deviceID, c.cfg.QueryTimeout)
	case <-ctx.Done():
		return device.State{}, ctx.Err()
	}
}

// Stats returns the counters for one device.
func (c *Channel) Stats(deviceID string) (Stats, bool) {
	c.mu.Lock()
	q, ok := c.queues[deviceID]
	c.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return q.stats(), true
}

// Snapshot returns the counters for every device with a queue.
func (c *Channel) Snapshot() map[string]Stats {
	c.mu.Lock()
	queues := maps.Clone(c.queues)
	c.mu.Unlock()

	out := make(map[string]Stats, len(queues))
	for id, q := range queues {
		out[id] = q.stats()
	}
	return out
}

// Close stops every drain goroutine. Pending commands are discarded.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.unsubscribeTransport()
	c.unsubscribeRegistry()
	c.cancel()
	c.wg.Wait()
	return nil
}

// queueFor returns deviceID's queue, creating it and its drain goroutine
// on first use.
func (c *Channel) queueFor(deviceID string) (*queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if q, ok := c.queues[deviceID]; ok {
		return q, nil
	}
	if _, err := c.registry.Get(deviceID); err != nil {
		return nil, err
	}

	q := newQueue(deviceID, c.cfg.RateHz)
	c.queues[deviceID] = q
	c.wg.Add(1)
	go c.drain(q)
	return q, nil
}

func (c *Channel) drain(q *queue) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-q.done:
			return
		case <-q.wake:
		}

		for q.hasPending() {
			q.sendMu.Lock()
			// Wait before taking so commands arriving meanwhile coalesce.
			if err := q.limiter.Wait(c.ctx); err != nil {
				q.sendMu.Unlock()
				return
			}
			if cmd, ok := q.take(); ok {
				if err := c.deliver(c.ctx, q, cmd); err != nil && !errors.Is(err, ErrDeviceOffline) {
					c.log().Debug("queued command not delivered", "device", q.id, "cmd", cmd.Cmd(), "error", err)
				}
			}
			q.sendMu.Unlock()
		}
	}
}

// deliver sends one command, retrying once. Must hold q.sendMu.
func (c *Channel) deliver(ctx context.Context, q *queue, cmd protocol.Command) error {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		q.dropped.Add(1)
		return err
	}

	d, err := c.registry.Get(q.id)
	if err != nil {
		q.dropped.Add(1)
		return err
	}
	addr := d.CommandAddr()

	for attempt := 1; attempt <= 2; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
		err = c.transport.SendTo(sendCtx, addr, payload)
		cancel()
		if err == nil {
			break
		}
		q.failures.Add(1)
		c.log().Warn("command send failed",
			"device", q.id,
			"cmd", cmd.Cmd(),
			"attempt", attempt,
			"error", err,
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if err != nil {
		q.dropped.Add(1)
		q.suspend()
		c.log().Error("device unreachable, queue suspended", "device", q.id, "addr", addr, "error", err)
		if merr := c.registry.MarkOffline(ctx, q.id); merr != nil && !errors.Is(merr, device.ErrDeviceNotFound) {
			c.log().Warn("failed to mark device offline", "device", q.id, "error", merr)
		}
		return fmt.Errorf("%w: %s: %w", ErrDeviceOffline, q.id, err)
	}

	q.sent.Add(1)
	if sc, ok := cmd.(protocol.SetColor); ok {
		color := protocol.RGB{R: uint8(sc.R), G: uint8(sc.G), B: uint8(sc.B)} //nolint:gosec // validated by Encode
		if err := c.registry.SetLastColor(ctx, q.id, color); err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			c.log().Warn("failed to record last color", "device", q.id, "error", err)
		}
	}
	return nil
}

func (c *Channel) handleEvent(ev device.Event) {
	switch ev.Type {
	case device.EventOnline:
		c.mu.Lock()
		q, ok := c.queues[ev.Device.ID]
		c.mu.Unlock()
		if ok && q.resume() {
			c.log().Info("queue resumed", "device", ev.Device.ID, "reason", "online")
		}

	case device.EventRemoved:
		c.mu.Lock()
		q, ok := c.queues[ev.Device.ID]
		delete(c.queues, ev.Device.ID)
		c.mu.Unlock()
		if ok {
			q.stop()
		}
	}
}

func (c *Channel) handlePacket(p lan.Packet) {
	msg, err := protocol.Decode(p.Payload)
	if err != nil {
		return
	}
	resp, ok := msg.(protocol.StateResponse)
	if !ok {
		return
	}

	from := p.From.Addr().Unmap()
	c.mu.Lock()
	waiters := c.waiters[from]
	delete(c.waiters, from)
	c.mu.Unlock()

	if len(waiters) == 0 {
		c.log().Debug("unsolicited state response", "from", from)
		return
	}
	for _, w := range waiters {
		select {
		case w <- resp:
		default:
		}
	}
}

func (c *Channel) addWaiter(ip netip.Addr) chan protocol.StateResponse {
	ch := make(chan protocol.StateResponse, 1)
	c.mu.Lock()
	c.waiters[ip] = append(c.waiters[ip], ch)
	c.mu.Unlock()
	return ch
}

func (c *Channel) removeWaiter(ip netip.Addr, ch chan protocol.StateResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.waiters[ip]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.waiters, ip)
	} else {
		c.waiters[ip] = list
	}
}
