package device

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Defaults for Config.
const (
	DefaultLivenessTimeout = 30 * time.Second
	DefaultSweepInterval   = 5 * time.Second
)

// Keys in the repository's registry state store.
const (
	stateKeySelected      = "selected_device"
	stateKeyLastDiscovery = "last_discovery"
)

// Logger defines the logging interface used by the Registry.
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

// Config tunes liveness tracking. Zero values take the defaults.
type Config struct {
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
}

// Registry is the authoritative, ordered catalogue of devices. Mutations
// are written through to the Repository. All methods are safe for
// concurrent use; returned devices are deep copies.
type Registry struct {
	repo Repository
	cfg  Config

	mu            sync.RWMutex
	devices       map[string]*Device
	order         []string
	selected      string
	lastDiscovery time.Time

	subMu  sync.RWMutex
	subs   map[uint64]func(Event)
	nextID uint64

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. Call Load to restore the cache.
func NewRegistry(repo Repository, cfg Config) *Registry {
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Registry{
		repo:    repo,
		cfg:     cfg,
		devices: make(map[string]*Device),
		subs:    make(map[uint64]func(Event)),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// LivenessTimeout returns the configured liveness timeout.
func (r *Registry) LivenessTimeout() time.Duration {
	return r.cfg.LivenessTimeout
}

// Load replaces the in-memory cache with the persisted one. Loaded
// devices start offline until they answer a scan.
func (r *Registry) Load(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	selected, err := r.repo.GetState(ctx, stateKeySelected)
	if err != nil {
		return fmt.Errorf("loading selected device: %w", err)
	}

	var lastDiscovery time.Time
	if raw, err := r.repo.GetState(ctx, stateKeyLastDiscovery); err != nil {
		return fmt.Errorf("loading discovery time: %w", err)
	} else if raw != "" {
		lastDiscovery, _ = time.Parse(time.RFC3339, raw) //nolint:errcheck // zero time means stale
	}

	r.mu.Lock()
	r.devices = make(map[string]*Device, len(devices))
	r.order = r.order[:0]
	for i := range devices {
		d := devices[i].DeepCopy()
		d.Online = false
		r.devices[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	r.selected = ""
	if _, ok := r.devices[selected]; ok {
		r.selected = selected
	}
	r.lastDiscovery = lastDiscovery
	r.mu.Unlock()

	r.logger.Info("device cache loaded", "count", len(devices), "last_discovery", lastDiscovery)
	return nil
}

// Persist writes the full cache, in order, and the registry state.
func (r *Registry) Persist(ctx context.Context) error {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, *r.devices[id].DeepCopy())
	}
	selected := r.selected
	lastDiscovery := r.lastDiscovery
	r.mu.RUnlock()

	if err := r.repo.SaveAll(ctx, devices); err != nil {
		return fmt.Errorf("persisting devices: %w", err)
	}
	if err := r.repo.SetState(ctx, stateKeySelected, selected); err != nil {
		return fmt.Errorf("persisting selected device: %w", err)
	}
	if !lastDiscovery.IsZero() {
		if err := r.repo.SetState(ctx, stateKeyLastDiscovery, lastDiscovery.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("persisting discovery time: %w", err)
		}
	}
	return nil
}

// Upsert records a scan response. A new ID is appended in discovery
// order; a known ID must match its identity and has its mutable fields
// refreshed. Either way the device is online with a fresh liveness timer.
//
// Repeating an identical response changes nothing but LastSeen and emits
// no event.
func (r *Registry) Upsert(ctx context.Context, disc Discovered) (*Device, error) {
	if disc.ID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidDevice)
	}
	if !disc.IP.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, disc.IP)
	}

	now := r.now().UTC()
	var events []Event

	r.mu.Lock()
	existing, known := r.devices[disc.ID]

	// Another record on this address: a manual placeholder is superseded,
	// anything else is a conflict.
	if holder := r.findByIPLocked(disc.IP); holder != nil && holder.ID != disc.ID {
		if !holder.Manual {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s already belongs to %s", ErrIdentityMismatch, disc.IP, holder.ID)
		}
		r.removeLocked(holder.ID)
		events = append(events, Event{Type: EventRemoved, Device: *holder, At: now})
		if err := r.repo.Delete(ctx, holder.ID); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			r.logger.Warn("failed to delete superseded manual device", "id", holder.ID, "error", err)
		}
	}

	var d *Device
	switch {
	case !known:
		d = &Device{
			ID:           disc.ID,
			IP:           disc.IP,
			Model:        disc.Model,
			Capabilities: disc.Capabilities,
			Port:         DefaultPort,
			Firmware:     disc.Firmware,
			Online:       true,
			LastSeen:     now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		r.devices[d.ID] = d
		r.order = append(r.order, d.ID)
		if r.selected == "" {
			r.selected = d.ID
		}
		events = append(events, Event{Type: EventAdded, Device: *d.DeepCopy(), At: now})

	case existing.Manual:
		// First scan answer confirms a manual placeholder's identity.
		d = existing.DeepCopy()
		d.IP = disc.IP
		d.Model = disc.Model
		d.Capabilities = disc.Capabilities
		d.Firmware = disc.Firmware
		d.Manual = false
		d.Online = true
		d.LastSeen = now
		d.UpdatedAt = now
		r.devices[d.ID] = d
		events = append(events, Event{Type: EventUpdated, Device: *d.DeepCopy(), At: now})

	default:
		candidate := &Device{ID: disc.ID, IP: disc.IP, Model: disc.Model, Capabilities: disc.Capabilities}
		if !existing.sameIdentity(candidate) {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s reported ip=%s model=%s, registered ip=%s model=%s",
				ErrIdentityMismatch, disc.ID, disc.IP, disc.Model, existing.IP, existing.Model)
		}

		d = existing.DeepCopy()
		wasOnline := d.Online
		firmwareChanged := d.Firmware != disc.Firmware
		d.Firmware = disc.Firmware
		d.Online = true
		d.LastSeen = now
		if firmwareChanged {
			d.UpdatedAt = now
		}
		r.devices[d.ID] = d

		if !wasOnline {
			events = append(events, Event{Type: EventOnline, Device: *d.DeepCopy(), At: now})
		}
		if firmwareChanged {
			events = append(events, Event{Type: EventUpdated, Device: *d.DeepCopy(), At: now})
		}
	}

	out := d.DeepCopy()
	position := slices.Index(r.order, d.ID)
	r.mu.Unlock()

	r.emit(events)

	if err := r.repo.Save(ctx, *out, position); err != nil {
		r.logger.Warn("device cache write failed", "id", out.ID, "error", err)
		return out, fmt.Errorf("saving device %s: %w", out.ID, err)
	}
	return out, nil
}

// Get returns a copy of the device with the given ID.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// List returns all devices in discovery order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, *r.devices[id].DeepCopy())
	}
	return devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// MarkOffline flips a device offline. It emits EventOffline only when the
// device was online.
func (r *Registry) MarkOffline(_ context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	if !d.Online {
		r.mu.Unlock()
		return nil
	}
	updated := d.DeepCopy()
	updated.Online = false
	r.devices[id] = updated
	snapshot := *updated.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("device offline", "id", id, "last_seen", snapshot.LastSeen)
	r.emit([]Event{{Type: EventOffline, Device: snapshot, At: r.now().UTC()}})
	return nil
}

// Touch records a successful state query: the device is online, its
// liveness timer restarts and its State is replaced.
func (r *Registry) Touch(ctx context.Context, id string, state State) error {
	now := r.now().UTC()
	if state.ReceivedAt.IsZero() {
		state.ReceivedAt = now
	}

	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	updated := d.DeepCopy()
	wasOnline := updated.Online
	updated.Online = true
	updated.LastSeen = now
	updated.State = &state
	r.devices[id] = updated
	out := *updated.DeepCopy()
	position := slices.Index(r.order, id)
	r.mu.Unlock()

	events := []Event{{Type: EventUpdated, Device: out, At: now}}
	if !wasOnline {
		events = append([]Event{{Type: EventOnline, Device: out, At: now}}, events...)
	}
	r.emit(events)

	if err := r.repo.Save(ctx, out, position); err != nil {
		return fmt.Errorf("saving device %s: %w", id, err)
	}
	return nil
}

// SetLastColor records the color most recently applied to a device.
func (r *Registry) SetLastColor(ctx context.Context, id string, color protocol.RGB) error {
	now := r.now().UTC()

	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	updated := d.DeepCopy()
	updated.LastColor = &color
	updated.UpdatedAt = now
	r.devices[id] = updated
	out := *updated.DeepCopy()
	position := slices.Index(r.order, id)
	r.mu.Unlock()

	r.emit([]Event{{Type: EventUpdated, Device: out, At: now}})

	if err := r.repo.Save(ctx, out, position); err != nil {
		return fmt.Errorf("saving device %s: %w", id, err)
	}
	return nil
}

// AddManual registers a device that does not answer scans. An empty MAC is
// derived from the address; a duplicate address or ID is rejected.
func (r *Registry) AddManual(ctx context.Context, m ManualDevice) (*Device, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(m.IP))
	if err != nil || !ip.Is4() || ip.IsUnspecified() || ip.IsMulticast() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, m.IP)
	}

	id := strings.TrimSpace(m.MAC)
	if id == "" {
		id = MACFromIP(ip)
	}
	model := strings.TrimSpace(m.Model)
	if model == "" {
		model = ManualModel
	}
	port := m.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidDevice, port)
	}

	now := r.now().UTC()
	d := &Device{
		ID:           id,
		IP:           ip,
		Model:        model,
		Capabilities: protocol.LANCapabilities,
		Port:         port,
		Manual:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	if _, exists := r.devices[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: id %s", ErrDeviceExists, id)
	}
	if holder := r.findByIPLocked(ip); holder != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: address %s used by %s", ErrDeviceExists, ip, holder.ID)
	}
	r.devices[id] = d
	r.order = append(r.order, id)
	if r.selected == "" {
		r.selected = id
	}
	out := d.DeepCopy()
	position := len(r.order) - 1
	r.mu.Unlock()

	r.logger.Info("device added manually", "id", id, "ip", ip, "model", model)
	r.emit([]Event{{Type: EventAdded, Device: *out, At: now}})

	if err := r.repo.Save(ctx, *out, position); err != nil {
		return out, fmt.Errorf("saving device %s: %w", id, err)
	}
	return out, nil
}

// Remove deletes a device. If it was selected, the selection moves to the
// first remaining device.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	r.removeLocked(id)
	selected := r.selected
	r.mu.Unlock()

	r.logger.Info("device removed", "id", id)
	r.emit([]Event{{Type: EventRemoved, Device: *d.DeepCopy(), At: r.now().UTC()}})

	if err := r.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	if err := r.repo.SetState(ctx, stateKeySelected, selected); err != nil {
		return fmt.Errorf("persisting selected device: %w", err)
	}
	return nil
}

// Select makes id the default target device.
func (r *Registry) Select(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	r.selected = id
	snapshot := *d.DeepCopy()
	r.mu.Unlock()

	r.emit([]Event{{Type: EventSelected, Device: snapshot, At: r.now().UTC()}})

	if err := r.repo.SetState(ctx, stateKeySelected, id); err != nil {
		return fmt.Errorf("persisting selected device: %w", err)
	}
	return nil
}

// Selected returns the default target device, if any.
func (r *Registry) Selected() (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[r.selected]
	if !ok {
		return nil, false
	}
	return d.DeepCopy(), true
}

// MarkDiscovered records the completion time of a discovery round.
func (r *Registry) MarkDiscovered(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	r.lastDiscovery = at.UTC()
	r.mu.Unlock()

	if err := r.repo.SetState(ctx, stateKeyLastDiscovery, at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("persisting discovery time: %w", err)
	}
	return nil
}

// Stale reports whether the cache is empty or older than maxAge.
func (r *Registry) Stale(maxAge time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 || r.lastDiscovery.IsZero() {
		return true
	}
	return r.now().Sub(r.lastDiscovery) > maxAge
}

// Subscribe registers fn for registry events until unsubscribe is called.
// Events are delivered synchronously after the change is applied, so fn
// must not block.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// RunSweeper marks devices offline when their liveness timer expires. It
// blocks until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep flips every expired online device offline and returns their IDs.
func (r *Registry) sweep(ctx context.Context) []string {
	now := r.now()

	r.mu.RLock()
	var expired []string
	for _, id := range r.order {
		d := r.devices[id]
		if d.Online && now.Sub(d.LastSeen) >= r.cfg.LivenessTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		if err := r.MarkOffline(ctx, id); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			r.logger.Warn("sweep failed to mark device offline", "id", id, "error", err)
		}
	}
	return expired
}

func (r *Registry) findByIPLocked(ip netip.Addr) *Device {
	for _, id := range r.order {
		if d := r.devices[id]; d.IP == ip {
			return d
		}
	}
	return nil
}

func (r *Registry) removeLocked(id string) {
	delete(r.devices, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	if r.selected == id {
		r.selected = ""
		if len(r.order) > 0 {
			r.selected = r.order[0]
		}
	}
}

func (r *Registry) emit(events []Event) {
	if len(events) == 0 {
		return
	}

	r.subMu.RLock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
