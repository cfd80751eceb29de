package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementChannel   = "command_channel"
	MeasurementSession   = "sync_session"
	MeasurementDiscovery = "discovery"
)

// WriteChannelStats records the cumulative counters of one device's
// command channel.
func (c *Client) WriteChannelStats(deviceID string, sent, coalesced, failures uint64, suspended bool) {
	c.write(channelPoint(deviceID, sent, coalesced, failures, suspended, time.Now()))
}

// WriteSessionStats records progress of a running sync session.
func (c *Client) WriteSessionStats(deviceID, mode string, frames, captureErrors uint64, fps float64) {
	c.write(sessionPoint(deviceID, mode, frames, captureErrors, fps, time.Now()))
}

// WriteDiscovery records one discovery round.
func (c *Client) WriteDiscovery(found int, elapsed time.Duration) {
	c.write(write.NewPoint(MeasurementDiscovery, nil,
		map[string]any{"devices": found, "duration_ms": elapsed.Milliseconds()},
		time.Now()))
}

// WritePoint writes a custom measurement stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func channelPoint(deviceID string, sent, coalesced, failures uint64, suspended bool, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementChannel,
		map[string]string{"device_id": deviceID},
		map[string]any{
			"sent":      sent,
			"coalesced": coalesced,
			"failures":  failures,
			"suspended": suspended,
		},
		ts)
}

func sessionPoint(deviceID, mode string, frames, captureErrors uint64, fps float64, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementSession,
		map[string]string{"device_id": deviceID, "mode": mode},
		map[string]any{
			"frames":         frames,
			"capture_errors": captureErrors,
			"fps":            fps,
		},
		ts)
}
