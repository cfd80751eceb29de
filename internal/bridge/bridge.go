package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lumisync-core/internal/command"
	"github.com/nerrad567/lumisync-core/internal/control"
	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lumisync-core/internal/lan"
	"github.com/nerrad567/lumisync-core/internal/protocol"
	"github.com/nerrad567/lumisync-core/internal/session"
)

// commandTimeout bounds one remote command, including the rate limiter wait.
const commandTimeout = 5 * time.Second

// eventQueueSize buffers registry and session events waiting to be
// published. Events beyond it are dropped; the next event for the same
// device republishes its full state.
const eventQueueSize = 256

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Controller is the subset of *control.Service the bridge drives.
type Controller interface {
	ListDevices() []device.Device
	SelectedDevice() (*device.Device, bool)
	GetDevice(id string) (*device.Device, error)
	SetPower(ctx context.Context, id string, on bool) error
	SetBrightness(ctx context.Context, id string, percent int) error
	SetColor(ctx context.Context, id string, color protocol.RGB) error
	QueryState(ctx context.Context, id string) (device.State, error)
	Reconnect(id string) error
	StartSession(ctx context.Context, id string, cfg session.Config) (session.Info, error)
	StopSession(ctx context.Context, id string) error
	PauseSession(id string) error
	ResumeSession(id string) error
	Sessions() []session.Info
}

// DeviceEvents is the registry's event feed.
type DeviceEvents interface {
	Subscribe(fn func(device.Event)) (unsubscribe func())
}

// SessionEvents is the session manager's event feed.
type SessionEvents interface {
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// Logger is satisfied by logging.Logger.
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

// Options configures a Bridge.
type Options struct {
	MQTT     MQTTClient
	Control  Controller
	Devices  DeviceEvents
	Sessions SessionEvents

	// QoS is used for every publish and the command subscription.
	QoS byte

	// HealthInterval is how often health is published. Default 30s.
	HealthInterval time.Duration

	Version string
}

// Bridge translates MQTT commands into control operations and mirrors
// registry and session changes back onto the bus.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	control  Controller
	devices  DeviceEvents
	sessions SessionEvents
	qos      byte
	topics   mqtt.Topics
	health   *HealthReporter

	unsubscribe []func()

	// Registry and session subscribers run on the caller's goroutine
	// (discovery, command delivery), so they only enqueue here.
	outbox        chan func()
	outboxQuit    chan struct{}
	outboxDone    chan struct{}
	outboxDropped atomic.Uint64

	// Bridge-level context, cancelled on Stop() so in-flight commands end.
	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. MQTT and Control are required.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Control == nil {
		return nil, fmt.Errorf("control service is required")
	}
	if opts.QoS > 2 {
		return nil, mqtt.ErrInvalidQoS
	}

	b := &Bridge{
		mqtt:     opts.MQTT,
		control:  opts.Control,
		devices:  opts.Devices,
		sessions: opts.Sessions,
		qos:      opts.QoS,
		logger:   noopLogger{},
		outbox:   make(chan func(), eventQueueSize),
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		QoS:       opts.QoS,
		Publisher: opts.MQTT,
		Status:    b.status,
	})
	return b, nil
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Start subscribes to commands, publishes the current registry as retained
// state and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.ctxCancel = context.WithCancel(ctx)

	if err := b.health.PublishStarting(); err != nil {
		b.log().Warn("failed to publish starting status", "error", err)
	}

	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, b.handleCommand); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	if b.devices != nil {
		b.unsubscribe = append(b.unsubscribe, b.devices.Subscribe(func(ev device.Event) {
			b.enqueue(func() { b.publishDeviceEvent(ev) })
		}))
	}
	if b.sessions != nil {
		b.unsubscribe = append(b.unsubscribe, b.sessions.Subscribe(func(ev session.Event) {
			b.enqueue(func() { b.publishSessionEvent(ev) })
		}))
	}

	// The snapshot goes out before the drain starts, so events raised
	// meanwhile are published after it.
	selected := ""
	if d, ok := b.control.SelectedDevice(); ok {
		selected = d.ID
	}
	for _, d := range b.control.ListDevices() {
		b.publishState(d, device.EventUpdated, d.ID == selected)
	}

	b.outboxQuit = make(chan struct{})
	b.outboxDone = make(chan struct{})
	go b.drainOutbox(b.outboxQuit, b.outboxDone)

	b.health.Start(b.ctx)
	b.log().Info("mqtt bridge started", "topic", b.topics.AllCommands())
	return nil
}

// Stop unsubscribes, cancels in-flight commands and publishes a final
// stopping status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		for _, unsub := range b.unsubscribe {
			unsub()
		}
		if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.log().Debug("unsubscribe failed", "error", err)
		}
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		if b.outboxQuit != nil {
			close(b.outboxQuit)
			<-b.outboxDone
		}
		b.health.Stop()
		b.log().Info("mqtt bridge stopped")
	})
}

// enqueue hands a publish to the outbox goroutine without blocking.
func (b *Bridge) enqueue(publish func()) {
	select {
	case b.outbox <- publish:
	default:
		n := b.outboxDropped.Add(1)
		b.log().Warn("mqtt event queue full, event dropped", "dropped", n)
	}
}

// drainOutbox publishes queued events in order. After quit it flushes
// what is already queued and returns.
func (b *Bridge) drainOutbox(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case publish := <-b.outbox:
			publish()
		case <-quit:
			for {
				select {
				case publish := <-b.outbox:
					publish()
				default:
					return
				}
			}
		}
	}
}

// DroppedEvents returns how many events were dropped on a full queue.
func (b *Bridge) DroppedEvents() uint64 {
	return b.outboxDropped.Load()
}

// status summarises the service for health messages.
func (b *Bridge) status() Status {
	devices := b.control.ListDevices()
	online := 0
	for _, d := range devices {
		if d.Online {
			online++
		}
	}
	return Status{
		Devices:        len(devices),
		DevicesOnline:  online,
		ActiveSessions: len(b.control.Sessions()),
	}
}

// handleCommand parses and executes one command. Every parsed command is
// answered with exactly one ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	target, ok := mqtt.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", mqtt.ErrInvalidTopic, topic)
	}
	id := target
	if target == SelectedDevice {
		id = ""
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(target, CommandMessage{ID: uuid.NewString()}, nil,
			&AckError{Code: ErrCodeInvalidCommand, Message: "invalid JSON payload"})
		return fmt.Errorf("parsing command on %s: %w", topic, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.log().Info("received command",
		"command_id", cmd.ID,
		"device_id", target,
		"command", cmd.Command,
		"source", cmd.Source)

	// Bound by the bridge context so commands are cancelled on shutdown.
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	result, err := b.execute(ctx, id, cmd)
	if err != nil {
		b.publishAck(target, cmd, nil, ackError(err))
		b.log().Warn("command failed", "command_id", cmd.ID, "device_id", target, "error", err)
		return nil
	}
	b.publishAck(target, cmd, result, nil)
	return nil
}

// errInvalidCommand marks unknown commands.
var errInvalidCommand = errors.New("bridge: unknown command")

// execute runs cmd against the device. id "" targets the selected device.
func (b *Bridge) execute(ctx context.Context, id string, cmd CommandMessage) (any, error) {
	switch cmd.Command {
	case CommandOn:
		return nil, b.control.SetPower(ctx, id, true)
	case CommandOff:
		return nil, b.control.SetPower(ctx, id, false)
	case CommandBrightness:
		percent, err := intParam(cmd.Parameters, "brightness")
		if err != nil {
			return nil, err
		}
		return nil, b.control.SetBrightness(ctx, id, percent)
	case CommandColor:
		rgb, err := colorParam(cmd.Parameters)
		if err != nil {
			return nil, err
		}
		return nil, b.control.SetColor(ctx, id, rgb)
	case CommandQuery:
		return b.control.QueryState(ctx, id)
	case CommandReconnect:
		return nil, b.control.Reconnect(id)
	case CommandStartSession:
		raw, err := json.Marshal(cmd.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidParameter, err)
		}
		cfg, err := session.DecodeConfig(raw)
		if err != nil {
			return nil, err
		}
		return b.control.StartSession(ctx, id, cfg)
	case CommandStopSession:
		return nil, b.control.StopSession(ctx, id)
	case CommandPauseSession:
		return nil, b.control.PauseSession(id)
	case CommandResumeSession:
		return nil, b.control.ResumeSession(id)
	default:
		return nil, fmt.Errorf("%w: %q", errInvalidCommand, cmd.Command)
	}
}

// intParam reads a whole number from JSON parameters.
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", protocol.ErrInvalidParameter, key)
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %q must be a whole number", protocol.ErrInvalidParameter, key)
	}
	return int(f), nil
}

// colorParam reads {"hex": "#rrggbb"} or {"r":..,"g":..,"b":..}.
func colorParam(params map[string]any) (protocol.RGB, error) {
	if hex, ok := params["hex"].(string); ok {
		return protocol.ParseRGB(hex)
	}
	var ch [3]uint8
	for i, key := range []string{"r", "g", "b"} {
		v, err := intParam(params, key)
		if err != nil {
			return protocol.RGB{}, err
		}
		if v < 0 || v > 255 {
			return protocol.RGB{}, fmt.Errorf("%w: %q=%d outside 0-255", protocol.ErrInvalidParameter, key, v)
		}
		ch[i] = uint8(v)
	}
	return protocol.RGB{R: ch[0], G: ch[1], B: ch[2]}, nil
}

// ackErrors maps sentinels to ack codes; the first match wins.
var ackErrors = []struct {
	err  error
	code string
}{
	{device.ErrDeviceNotFound, ErrCodeDeviceNotFound},
	{control.ErrNoDeviceSelected, ErrCodeDeviceNotFound},
	{errInvalidCommand, ErrCodeInvalidCommand},
	{control.ErrNotSupported, ErrCodeNotSupported},
	{session.ErrUnsupported, ErrCodeNotSupported},
	{control.ErrSessionActive, ErrCodeSessionActive},
	{session.ErrNoSession, ErrCodeNoSession},
	{protocol.ErrInvalidParameter, ErrCodeInvalidParameters},
	{engine.ErrInvalidConfig, ErrCodeInvalidParameters},
	{session.ErrUnknownMode, ErrCodeInvalidParameters},
	{engine.ErrCaptureUnavailable, ErrCodeCaptureFailed},
	{command.ErrQueryTimeout, ErrCodeTimeout},
	{context.DeadlineExceeded, ErrCodeTimeout},
	{command.ErrDeviceOffline, ErrCodeDeviceUnreachable},
	{lan.ErrTransport, ErrCodeDeviceUnreachable},
}

func ackError(err error) *AckError {
	for _, m := range ackErrors {
		if errors.Is(err, m.err) {
			return &AckError{Code: m.code, Message: err.Error()}
		}
	}
	return &AckError{Code: ErrCodeBridgeError, Message: err.Error()}
}

// publishAck answers a command on the ack topic of the topic's device level.
func (b *Bridge) publishAck(target string, cmd CommandMessage, result any, ackErr *AckError) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  target,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Result:    result,
		Error:     ackErr,
	}
	if ackErr != nil {
		ack.Status = AckFailed
	}
	b.publishJSON(b.topics.Ack(target), ack, false)
}

// publishDeviceEvent mirrors a registry change. Removal clears the
// retained state with an empty payload.
func (b *Bridge) publishDeviceEvent(ev device.Event) {
	if ev.Type == device.EventRemoved {
		if err := b.mqtt.Publish(b.topics.State(ev.Device.ID), nil, b.qos, true); err != nil {
			b.log().Warn("failed to clear device state", "device_id", ev.Device.ID, "error", err)
		}
		return
	}
	selected := false
	if d, ok := b.control.SelectedDevice(); ok {
		selected = d.ID == ev.Device.ID
	}
	b.publishState(ev.Device, ev.Type, selected)
}

func (b *Bridge) publishState(d device.Device, ev device.EventType, selected bool) {
	b.publishJSON(b.topics.State(d.ID), StateMessage{
		DeviceID:  d.ID,
		Timestamp: time.Now().UTC(),
		Event:     ev,
		Selected:  selected,
		Device:    d,
	}, true)
}

func (b *Bridge) publishSessionEvent(ev session.Event) {
	b.publishJSON(b.topics.Session(ev.Session.DeviceID), SessionMessage{
		DeviceID:  ev.Session.DeviceID,
		Timestamp: ev.At,
		Event:     ev.Type,
		Session:   ev.Session,
	}, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log().Error("failed to marshal mqtt message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.log().Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
