package session

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/engine/monitor"
	"github.com/nerrad567/lumisync-core/internal/engine/music"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Mode names the engine a session runs.
type Mode string

const (
	ModeMonitor Mode = "monitor"
	ModeMusic   Mode = "music"
)

// Config is a session's tagged configuration: MonitorConfig or
// MusicConfig. Zero fields take the manager's defaults.
type Config interface {
	Mode() Mode
	sealed()
}

// Region maps a screen rectangle to an LED index.
type Region struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MonitorConfig configures screen sync.
type MonitorConfig struct {
	Display    string   `json:"display,omitempty"`
	FPS        int      `json:"fps,omitempty"`
	Brightness int      `json:"brightness,omitempty"`
	Smoothing  float64  `json:"smoothing,omitempty"`
	Regions    []Region `json:"regions,omitempty"`
}

// MusicConfig configures audio sync.
type MusicConfig struct {
	Source        string `json:"source,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
	Brightness    int    `json:"brightness,omitempty"`
	LEDs          int    `json:"leds,omitempty"`
	Color         string `json:"color,omitempty"`
	SilencePolicy string `json:"silence_policy,omitempty"`
}

func (MonitorConfig) Mode() Mode { return ModeMonitor }
func (MusicConfig) Mode() Mode   { return ModeMusic }

func (MonitorConfig) sealed() {}
func (MusicConfig) sealed()   {}

// MarshalJSON adds the mode tag.
func (c MonitorConfig) MarshalJSON() ([]byte, error) {
	type plain MonitorConfig
	return json.Marshal(struct {
		Mode Mode `json:"mode"`
		plain
	}{ModeMonitor, plain(c)})
}

// MarshalJSON adds the mode tag.
func (c MusicConfig) MarshalJSON() ([]byte, error) {
	type plain MusicConfig
	return json.Marshal(struct {
		Mode Mode `json:"mode"`
		plain
	}{ModeMusic, plain(c)})
}

// DecodeConfig parses a tagged config such as
// {"mode":"music","pattern":"wave"}.
func DecodeConfig(data []byte) (Config, error) {
	var tag struct {
		Mode Mode `json:"mode"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidConfig, err)
	}

	switch tag.Mode {
	case ModeMonitor:
		var c MonitorConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrInvalidConfig, err)
		}
		return c, nil
	case ModeMusic:
		var c MusicConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrInvalidConfig, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, tag.Mode)
	}
}

// engineConfig merges c over base for deviceID.
// Regions must have a positive width and height; image.Rect would
// otherwise swap the corners of a negative one into a valid rectangle.
func (c MonitorConfig) engineConfig(deviceID string, base monitor.Config) (monitor.Config, error) {
	out := base
	out.DeviceID = deviceID
	if c.FPS != 0 {
		out.FPS = c.FPS
	}
	if c.Brightness != 0 {
		out.Brightness = c.Brightness
	}
	if c.Smoothing != 0 {
		out.Smoothing = c.Smoothing
	}
	if len(c.Regions) > 0 {
		out.Regions = make([]monitor.Region, len(c.Regions))
		for i, r := range c.Regions {
			if r.Width <= 0 || r.Height <= 0 {
				return monitor.Config{}, fmt.Errorf("%w: region %d is %dx%d", engine.ErrInvalidConfig, r.Index, r.Width, r.Height)
			}
			out.Regions[i] = monitor.Region{
				Index: r.Index,
				Rect:  image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height),
			}
		}
	}
	return out, nil
}

// engineConfig merges c over base for deviceID.
func (c MusicConfig) engineConfig(deviceID string, base music.Config) (music.Config, error) {
	out := base
	out.DeviceID = deviceID
	if c.Pattern != "" {
		out.Pattern = c.Pattern
	}
	if c.Brightness != 0 {
		out.Brightness = c.Brightness
	}
	if c.LEDs != 0 {
		out.LEDs = c.LEDs
	}
	if c.SilencePolicy != "" {
		out.SilencePolicy = c.SilencePolicy
	}
	if c.Color != "" {
		rgb, err := protocol.ParseRGB(c.Color)
		if err != nil {
			return music.Config{}, fmt.Errorf("%w: %w", engine.ErrInvalidConfig, err)
		}
		out.Color = rgb
	}
	return out, nil
}
