package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/lumisync-core/internal/command"
	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/protocol"
	"github.com/nerrad567/lumisync-core/internal/session"
)

// Registry is the subset of device.Registry the service uses.
type Registry interface {
	Get(id string) (*device.Device, error)
	List() []device.Device
	AddManual(ctx context.Context, m device.ManualDevice) (*device.Device, error)
	Remove(ctx context.Context, id string) error
	Select(ctx context.Context, id string) error
	Selected() (*device.Device, bool)
}

// Discoverer runs scan rounds.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]device.Device, error)
}

// Commander delivers one-off commands.
type Commander interface {
	Do(ctx context.Context, deviceID string, cmd protocol.Command) error
	QueryState(ctx context.Context, deviceID string) (device.State, error)
	Reconnect(deviceID string) error
	Stats(deviceID string) (command.Stats, bool)
}

// Sessions runs sync sessions.
type Sessions interface {
	Start(ctx context.Context, deviceID string, cfg session.Config) (session.Info, error)
	Stop(ctx context.Context, deviceID string) error
	Pause(deviceID string) error
	Resume(deviceID string) error
	Get(deviceID string) (session.Info, bool)
	List() []session.Info
}

// Logger defines the logging interface for the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Service implements the control operations.
type Service struct {
	registry   Registry
	discoverer Discoverer
	commander  Commander
	sessions   Sessions
	logger     Logger
}

// New creates a Service.
func New(registry Registry, discoverer Discoverer, commander Commander, sessions Sessions) *Service {
	return &Service{
		registry:   registry,
		discoverer: discoverer,
		commander:  commander,
		sessions:   sessions,
		logger:     engine.NoopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// resolve returns the device for id, or the selected device when id is
// empty.
func (s *Service) resolve(id string) (*device.Device, error) {
	if id == "" {
		d, ok := s.registry.Selected()
		if !ok {
			return nil, ErrNoDeviceSelected
		}
		return d, nil
	}
	return s.registry.Get(id)
}

// Discover scans the LAN. A zero timeout uses the discovery default.
func (s *Service) Discover(ctx context.Context, timeout time.Duration) ([]device.Device, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", protocol.ErrInvalidParameter)
	}
	return s.discoverer.Discover(ctx, timeout)
}

// ListDevices returns every known device in discovery order.
func (s *Service) ListDevices() []device.Device {
	return s.registry.List()
}

// GetDevice returns one device.
func (s *Service) GetDevice(id string) (*device.Device, error) {
	return s.resolve(id)
}

// StartSession starts cfg on the device, replacing its current session.
func (s *Service) StartSession(ctx context.Context, id string, cfg session.Config) (session.Info, error) {
	d, err := s.resolve(id)
	if err != nil {
		return session.Info{}, err
	}
	return s.sessions.Start(ctx, d.ID, cfg)
}

// StopSession stops the device's session.
func (s *Service) StopSession(ctx context.Context, id string) error {
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	return s.sessions.Stop(ctx, d.ID)
}

// PauseSession pauses the device's session.
func (s *Service) PauseSession(id string) error {
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	return s.sessions.Pause(d.ID)
}

// ResumeSession resumes the device's session.
func (s *Service) ResumeSession(id string) error {
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	return s.sessions.Resume(d.ID)
}

// Session returns the device's active or most recent session.
func (s *Service) Session(id string) (session.Info, bool) {
	d, err := s.resolve(id)
	if err != nil {
		return session.Info{}, false
	}
	return s.sessions.Get(d.ID)
}

// Sessions returns the active sessions.
func (s *Service) Sessions() []session.Info {
	return s.sessions.List()
}

// SetBrightness sets device brightness in percent. Values from 0 to 9 are
// raised to the 10% floor.
func (s *Service) SetBrightness(ctx context.Context, id string, percent int) error {
	if percent < 0 || percent > protocol.MaxBrightness {
		return fmt.Errorf("%w: brightness %d outside 0-%d", protocol.ErrInvalidParameter, percent, protocol.MaxBrightness)
	}
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	if !d.Capabilities.Brightness {
		return fmt.Errorf("%w: brightness on %s", ErrNotSupported, d.ID)
	}
	return s.commander.Do(ctx, d.ID, protocol.SetBrightness{Percent: percent})
}

// SetPower switches the device on or off.
func (s *Service) SetPower(ctx context.Context, id string, on bool) error {
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	if !d.Capabilities.Power {
		return fmt.Errorf("%w: power on %s", ErrNotSupported, d.ID)
	}
	return s.commander.Do(ctx, d.ID, protocol.SetPower{On: on})
}

// SetColor sets one color for the whole device. It is refused while a
// sync session is running, since the next frame would overwrite it.
func (s *Service) SetColor(ctx context.Context, id string, color protocol.RGB) error {
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	if !d.Capabilities.Color {
		return fmt.Errorf("%w: color on %s", ErrNotSupported, d.ID)
	}
	if info, ok := s.sessions.Get(d.ID); ok && info.State != engine.Stopped {
		return fmt.Errorf("%w: %s session on %s", ErrSessionActive, info.Mode, d.ID)
	}
	return s.commander.Do(ctx, d.ID, protocol.SetColor{R: int(color.R), G: int(color.G), B: int(color.B)})
}

// QueryState asks the device for its power, brightness and color.
func (s *Service) QueryState(ctx context.Context, id string) (device.State, error) {
	d, err := s.resolve(id)
	if err != nil {
		return device.State{}, err
	}
	return s.commander.QueryState(ctx, d.ID)
}

// Reconnect resumes a queue suspended after delivery failures.
func (s *Service) Reconnect(id string) error {
	d, err := s.resolve(id)
	if err != nil {
		return err
	}
	return s.commander.Reconnect(d.ID)
}

// CommandStats returns the device's command queue counters.
func (s *Service) CommandStats(id string) (command.Stats, bool) {
	d, err := s.resolve(id)
	if err != nil {
		return command.Stats{}, false
	}
	return s.commander.Stats(d.ID)
}

// AddDevice registers a device by address.
func (s *Service) AddDevice(ctx context.Context, m device.ManualDevice) (*device.Device, error) {
	d, err := s.registry.AddManual(ctx, m)
	if err != nil {
		return d, err
	}
	s.logger.Info("device added", "id", d.ID, "ip", d.IP)
	return d, nil
}

// RemoveDevice stops any session on the device and forgets it.
func (s *Service) RemoveDevice(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id required", device.ErrInvalidDevice)
	}
	if err := s.sessions.Stop(ctx, id); err != nil && !errors.Is(err, session.ErrNoSession) {
		return fmt.Errorf("stopping session: %w", err)
	}
	return s.registry.Remove(ctx, id)
}

// SelectDevice makes id the default target.
func (s *Service) SelectDevice(ctx context.Context, id string) error {
	return s.registry.Select(ctx, id)
}

// SelectedDevice returns the default target.
func (s *Service) SelectedDevice() (*device.Device, bool) {
	return s.registry.Selected()
}
