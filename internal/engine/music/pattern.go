package music

import (
	"fmt"

	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/frame"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Pattern names.
const (
	PatternWave     = "wave"
	PatternSpectrum = "spectrum"
	PatternPulse    = "pulse"
)

// Wave thresholds on peak amplitude.
const (
	waveLowThreshold  = 0.04
	waveHighThreshold = 0.08
)

// Pattern maps features to a frame. Patterns may keep state between
// buffers and are not safe for concurrent use.
type Pattern interface {
	Next(f Features) frame.Frame
}

// NewPattern builds a pattern by name for n LEDs.
func NewPattern(name string, n int, color protocol.RGB) (Pattern, error) {
	if n < 1 || n > protocol.MaxSegments {
		return nil, fmt.Errorf("%w: led count %d outside 1-%d", engine.ErrInvalidConfig, n, protocol.MaxSegments)
	}
	switch name {
	case PatternWave, "":
		return NewWave(n), nil
	case PatternSpectrum:
		return &Spectrum{n: n}, nil
	case PatternPulse:
		return &Pulse{n: n, Color: color}, nil
	default:
		return nil, fmt.Errorf("%w: unknown pattern %q", engine.ErrInvalidConfig, name)
	}
}

// Wave scrolls one new color per buffer in from the end of the strip: red
// for quiet, green for moderate and blue for loud audio, each as bright as
// the peak amplitude.
type Wave struct {
	colors frame.Frame
}

// NewWave returns a dark wave of n LEDs.
func NewWave(n int) *Wave {
	return &Wave{colors: make(frame.Frame, n)}
}

// Next implements Pattern.
func (w *Wave) Next(f Features) frame.Frame {
	v := uint8(f.Peak * 255) //nolint:gosec // peak is in [0,1]

	var c protocol.RGB
	switch {
	case f.Peak < waveLowThreshold:
		c.R = v
	case f.Peak > waveLowThreshold && f.Peak < waveHighThreshold:
		c.G = v
	default:
		c.B = v
	}

	copy(w.colors, w.colors[1:])
	w.colors[len(w.colors)-1] = c
	return w.colors.Clone()
}

// Spectrum lays a red-to-blue hue ramp along the strip. The first third
// glows with low band energy, the middle with mid and the last with high,
// all scaled by the peak.
type Spectrum struct {
	n int
}

// Next implements Pattern.
func (s *Spectrum) Next(f Features) frame.Frame {
	out := make(frame.Frame, s.n)
	bands := [3]float64{f.Low, f.Mid, f.High}
	for i := range out {
		pos := 0.0
		if s.n > 1 {
			pos = float64(i) / float64(s.n-1)
		}
		band := min(int(pos*3), 2)
		out[i] = frame.Hue(240*pos, f.Peak*bands[band])
	}
	return out
}

// Pulse shows one color at a brightness following the RMS level.
type Pulse struct {
	n     int
	Color protocol.RGB
}

// Next implements Pattern. The RMS level is the pattern's own intensity;
// the engine then scales the frame by the session brightness, so a full
// level reaches the configured ceiling and quieter material sits below it.
func (p *Pulse) Next(f Features) frame.Frame {
	c := p.Color
	if c == (protocol.RGB{}) {
		c = protocol.RGB{R: 255, G: 255, B: 255}
	}
	// Loud program material sits near 0.66 RMS.
	level := clamp01(f.RMS * 1.5)
	return frame.Solid(p.n, c).Scale(int(level * 100))
}
