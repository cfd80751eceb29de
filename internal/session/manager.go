package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/engine/monitor"
	"github.com/nerrad567/lumisync-core/internal/engine/music"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// modeTimeout bounds the segment mode frames sent around a session.
const modeTimeout = 2 * time.Second

// Stop reasons recorded when a session ends without an engine error.
const (
	ReasonStopped  = "stopped"
	ReasonReplaced = "replaced by new session"
	ReasonShutdown = "shutdown"
)

// Channel is the command path engines write to.
type Channel interface {
	Send(deviceID string, cmd protocol.Command) error
	Do(ctx context.Context, deviceID string, cmd protocol.Command) error
}

// Registry resolves session targets.
type Registry interface {
	Get(id string) (*device.Device, error)
}

// Logger defines the logging interface for the session manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the engine defaults that session configs override.
type Options struct {
	Monitor monitor.Config
	Music   music.Config
}

// EventType names a session change.
type EventType string

const (
	EventStarted EventType = "started"
	EventPaused  EventType = "paused"
	EventResumed EventType = "resumed"
	EventStopped EventType = "stopped"
)

// Event is delivered to Subscribe callbacks.
type Event struct {
	Type    EventType `json:"type"`
	Session Info      `json:"session"`
	At      time.Time `json:"at"`
}

// Info describes a running or ended session.
type Info struct {
	ID        string       `json:"id"`
	DeviceID  string       `json:"device_id"`
	Mode      Mode         `json:"mode"`
	State     engine.State `json:"state"`
	Config    Config       `json:"config"`
	Stats     engine.Stats `json:"stats"`
	StartedAt time.Time    `json:"started_at"`
	StoppedAt time.Time    `json:"stopped_at,omitzero"`
	Reason    string       `json:"reason,omitempty"`
}

type session struct {
	id        string
	deviceID  string
	cfg       Config
	engine    engine.Engine
	source    io.Closer
	startedAt time.Time

	mu        sync.Mutex
	reason    string
	stoppedAt time.Time

	ended chan struct{}
}

func (s *session) setReason(reason string) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.id,
		DeviceID:  s.deviceID,
		Mode:      s.cfg.Mode(),
		State:     s.engine.State(),
		Config:    s.cfg,
		Stats:     s.engine.Stats(),
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		Reason:    s.reason,
	}
}

// Manager owns the sessions for all devices.
type Manager struct {
	channel  Channel
	registry Registry
	sources  Sources
	opts     Options
	logger   Logger

	// locks serialises Start and Stop per device.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu     sync.RWMutex
	active map[string]*session
	ended  map[string]*session

	subMu  sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64
}

// NewManager creates a session manager.
func NewManager(channel Channel, registry Registry, sources Sources, opts Options) *Manager {
	return &Manager{
		channel:  channel,
		registry: registry,
		sources:  sources,
		opts:     opts,
		logger:   engine.NoopLogger{},
		locks:    make(map[string]*sync.Mutex),
		active:   make(map[string]*session),
		ended:    make(map[string]*session),
		subs:     make(map[uint64]func(Event)),
	}
}

// SetLogger sets the logger for the manager and the engines it starts.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func (m *Manager) deviceLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Start runs cfg on deviceID, replacing any session the device already
// has. ctx bounds startup only; the session runs until stopped.
func (m *Manager) Start(ctx context.Context, deviceID string, cfg Config) (Info, error) {
	if cfg == nil {
		return Info{}, fmt.Errorf("%w: no session config", engine.ErrInvalidConfig)
	}

	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	d, err := m.registry.Get(deviceID)
	if err != nil {
		return Info{}, err
	}
	if !d.Capabilities.Segments {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupported, deviceID)
	}

	if old := m.activeSession(deviceID); old != nil {
		m.logger.Info("replacing session", "device", deviceID, "session", old.id)
		if err := m.stopSession(ctx, old, ReasonReplaced); err != nil {
			return Info{}, err
		}
	}

	eng, source, err := m.build(ctx, deviceID, cfg)
	if err != nil {
		return Info{}, err
	}

	modeCtx, cancel := context.WithTimeout(ctx, modeTimeout)
	err = m.channel.Do(modeCtx, deviceID, protocol.SetSegmentMode{On: true})
	cancel()
	if err != nil {
		_ = source.Close()
		return Info{}, fmt.Errorf("enabling segment mode: %w", err)
	}

	if err := eng.Start(context.WithoutCancel(ctx)); err != nil {
		_ = source.Close()
		m.segmentsOff(deviceID)
		return Info{}, err
	}

	s := &session{
		id:        uuid.NewString(),
		deviceID:  deviceID,
		cfg:       cfg,
		engine:    eng,
		source:    source,
		startedAt: time.Now(),
		ended:     make(chan struct{}),
	}

	m.mu.Lock()
	m.active[deviceID] = s
	delete(m.ended, deviceID)
	m.mu.Unlock()

	go m.watch(s)

	info := s.info()
	m.logger.Info("session started", "device", deviceID, "session", s.id, "mode", cfg.Mode())
	m.emit(Event{Type: EventStarted, Session: info, At: time.Now()})
	return info, nil
}

// build opens the capture source and creates an idle engine for cfg.
func (m *Manager) build(ctx context.Context, deviceID string, cfg Config) (engine.Engine, io.Closer, error) {
	switch c := cfg.(type) {
	case MonitorConfig:
		ec, err := c.engineConfig(deviceID, m.opts.Monitor)
		if err != nil {
			return nil, nil, err
		}
		// Validate before spawning a capture helper.
		if _, err := monitor.New(ec, nopCapturer{}, m.channel); err != nil {
			return nil, nil, err
		}
		screen, err := m.sources.OpenScreen(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		eng, err := monitor.New(ec, screen, m.channel)
		if err != nil {
			_ = screen.Close()
			return nil, nil, err
		}
		eng.SetLogger(m.logger)
		return eng, screen, nil

	case MusicConfig:
		ec, err := c.engineConfig(deviceID, m.opts.Music)
		if err != nil {
			return nil, nil, err
		}
		if _, err := music.New(ec, nopSource{}, m.channel); err != nil {
			return nil, nil, err
		}
		audio, err := m.sources.OpenAudio(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		eng, err := music.New(ec, audio, m.channel)
		if err != nil {
			_ = audio.Close()
			return nil, nil, err
		}
		eng.SetLogger(m.logger)
		return eng, audio, nil

	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrUnknownMode, cfg)
	}
}

// watch tears a session down once its engine stops for any reason.
func (m *Manager) watch(s *session) {
	<-s.engine.Done()

	if err := s.engine.Err(); err != nil {
		s.setReason(err.Error())
		m.logger.Warn("session ended", "device", s.deviceID, "session", s.id, "error", err)
	} else {
		s.setReason(ReasonStopped)
	}

	if err := s.source.Close(); err != nil {
		m.logger.Debug("closing capture source", "device", s.deviceID, "error", err)
	}
	m.segmentsOff(s.deviceID)

	s.mu.Lock()
	s.stoppedAt = time.Now()
	s.mu.Unlock()

	m.mu.Lock()
	if m.active[s.deviceID] == s {
		delete(m.active, s.deviceID)
	}
	m.ended[s.deviceID] = s
	m.mu.Unlock()

	m.emit(Event{Type: EventStopped, Session: s.info(), At: time.Now()})
	close(s.ended)
}

func (m *Manager) segmentsOff(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), modeTimeout)
	defer cancel()
	if err := m.channel.Do(ctx, deviceID, protocol.SetSegmentMode{On: false}); err != nil {
		m.logger.Debug("disabling segment mode", "device", deviceID, "error", err)
	}
}

func (m *Manager) activeSession(deviceID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[deviceID]
}

// Stop ends deviceID's session and waits for teardown.
func (m *Manager) Stop(ctx context.Context, deviceID string) error {
	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	s := m.activeSession(deviceID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, deviceID)
	}
	return m.stopSession(ctx, s, ReasonStopped)
}

func (m *Manager) stopSession(ctx context.Context, s *session, reason string) error {
	s.setReason(reason)
	if err := s.engine.Stop(); err != nil && !errors.Is(err, engine.ErrInvalidTransition) {
		return err
	}
	select {
	case <-s.ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll ends every session.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		lock := m.deviceLock(id)
		lock.Lock()
		if s := m.activeSession(id); s != nil {
			if err := m.stopSession(ctx, s, ReasonShutdown); err != nil {
				errs = append(errs, fmt.Errorf("stopping session for %s: %w", id, err))
			}
		}
		lock.Unlock()
	}
	return errors.Join(errs...)
}

// Pause suspends deviceID's session without releasing capture.
func (m *Manager) Pause(deviceID string) error {
	s := m.activeSession(deviceID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, deviceID)
	}
	if err := s.engine.Pause(); err != nil {
		return err
	}
	m.emit(Event{Type: EventPaused, Session: s.info(), At: time.Now()})
	return nil
}

// Resume continues a paused session.
func (m *Manager) Resume(deviceID string) error {
	s := m.activeSession(deviceID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, deviceID)
	}
	if err := s.engine.Resume(); err != nil {
		return err
	}
	m.emit(Event{Type: EventResumed, Session: s.info(), At: time.Now()})
	return nil
}

// Get returns deviceID's active session, or its most recent ended one.
func (m *Manager) Get(deviceID string) (Info, bool) {
	m.mu.RLock()
	s, ok := m.active[deviceID]
	if !ok {
		s, ok = m.ended[deviceID]
	}
	m.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// List returns the active sessions ordered by device.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Subscribe registers fn for session events and returns a function that
// removes it. fn runs on the goroutine that made the change.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) emit(ev Event) {
	m.subMu.RLock()
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// nopCapturer and nopSource stand in for real capture while validating a
// config.
type nopCapturer struct{}

func (nopCapturer) Capture(context.Context) (image.Image, error) {
	return nil, engine.ErrCaptureUnavailable
}

type nopSource struct{}

func (nopSource) Read(context.Context) (music.Buffer, error) {
	return music.Buffer{}, io.EOF
}
