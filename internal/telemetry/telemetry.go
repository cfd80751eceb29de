// Package telemetry periodically records command channel and sync session
// counters to a time-series store.
package telemetry

import (
	"context"
	"sort"
	"time"

	"github.com/nerrad567/lumisync-core/internal/command"
	"github.com/nerrad567/lumisync-core/internal/discovery"
	"github.com/nerrad567/lumisync-core/internal/session"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 10 * time.Second

// Writer is satisfied by *influxdb.Client.
type Writer interface {
	WriteChannelStats(deviceID string, sent, coalesced, failures uint64, suspended bool)
	WriteSessionStats(deviceID, mode string, frames, captureErrors uint64, fps float64)
	WriteDiscovery(found int, elapsed time.Duration)
}

// ChannelStats is satisfied by *command.Channel.
type ChannelStats interface {
	Snapshot() map[string]command.Stats
}

// Sessions is satisfied by *session.Manager.
type Sessions interface {
	List() []session.Info
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Reporter samples counters on a ticker and writes them as points.
type Reporter struct {
	writer   Writer
	channel  ChannelStats
	sessions Sessions
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// NewReporter creates a reporter. channel and sessions may be nil.
func NewReporter(writer Writer, channel ChannelStats, sessions Sessions, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		writer:   writer,
		channel:  channel,
		sessions: sessions,
		interval: interval,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (r *Reporter) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Run reports every interval until ctx is cancelled, with a final sample
// on the way out.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Report()
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report writes one sample of every channel queue and active session.
func (r *Reporter) Report() {
	var queues, sessions int

	if r.channel != nil {
		snap := r.channel.Snapshot()
		ids := make([]string, 0, len(snap))
		for id := range snap {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			s := snap[id]
			r.writer.WriteChannelStats(id, s.Sent, s.Coalesced, s.Failures, s.Suspended)
		}
		queues = len(ids)
	}

	if r.sessions != nil {
		now := r.now()
		for _, info := range r.sessions.List() {
			r.writeSession(info, now)
			sessions++
		}
	}

	r.logger.Debug("telemetry reported", "queues", queues, "sessions", sessions)
}

// OnSessionEvent records the final counters of a session as it stops.
// Register with session.Manager.Subscribe.
func (r *Reporter) OnSessionEvent(ev session.Event) {
	if ev.Type != session.EventStopped {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}
	r.writeSession(ev.Session, at)
}

// OnDiscovery records a discovery round. Register with
// discovery.Service.SetOnComplete.
func (r *Reporter) OnDiscovery(res discovery.Result) {
	r.writer.WriteDiscovery(len(res.Devices), res.Elapsed)
}

func (r *Reporter) writeSession(info session.Info, now time.Time) {
	r.writer.WriteSessionStats(info.DeviceID, string(info.Mode),
		info.Stats.Frames, info.Stats.CaptureErrors, info.Stats.FPS(now))
}
