// Package frame holds the per-tick color output of the sync engines.
//
// A Frame is one color per LED target, in LED index order. Frames are
// produced by an engine, handed to the command channel as a segment
// command and never stored.
package frame

import (
	"slices"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Frame is one tick's colors.
type Frame []protocol.RGB

// Solid returns a frame of n copies of c.
func Solid(n int, c protocol.RGB) Frame {
	f := make(Frame, n)
	for i := range f {
		f[i] = c
	}
	return f
}

// Clone returns an independent copy.
func (f Frame) Clone() Frame {
	return slices.Clone(f)
}

// Equal reports whether two frames hold the same colors.
func (f Frame) Equal(other Frame) bool {
	return slices.Equal(f, other)
}

// IsBlack reports whether every color is off.
func (f Frame) IsBlack() bool {
	for _, c := range f {
		if c != (protocol.RGB{}) {
			return false
		}
	}
	return true
}

// Scale returns the frame with every channel multiplied by percent/100,
// truncating toward zero. percent is clamped to 0..100.
func (f Frame) Scale(percent int) Frame {
	percent = max(0, min(percent, 100))
	out := make(Frame, len(f))
	for i, c := range f {
		out[i] = protocol.RGB{
			R: uint8(int(c.R) * percent / 100), //nolint:gosec // result <= 255
			G: uint8(int(c.G) * percent / 100), //nolint:gosec // result <= 255
			B: uint8(int(c.B) * percent / 100), //nolint:gosec // result <= 255
		}
	}
	return out
}

// Fade returns the frame dimmed linearly for step of steps: step 0 is f
// unchanged and step >= steps is black.
func (f Frame) Fade(step, steps int) Frame {
	if steps <= 0 || step >= steps {
		return make(Frame, len(f))
	}
	if step <= 0 {
		return f.Clone()
	}
	out := make(Frame, len(f))
	for i, c := range f {
		out[i] = protocol.RGB{
			R: uint8(int(c.R) * (steps - step) / steps), //nolint:gosec // result <= 255
			G: uint8(int(c.G) * (steps - step) / steps), //nolint:gosec // result <= 255
			B: uint8(int(c.B) * (steps - step) / steps), //nolint:gosec // result <= 255
		}
	}
	return out
}

// Lerp blends from prev toward next by t in [0,1], per channel in RGB
// space. A prev of a different length is treated as black.
func Lerp(prev, next Frame, t float64) Frame {
	t = max(0, min(t, 1))
	if len(prev) != len(next) {
		prev = make(Frame, len(next))
	}
	out := make(Frame, len(next))
	for i := range next {
		out[i] = protocol.FromColorful(prev[i].Colorful().BlendRgb(next[i].Colorful(), t))
	}
	return out
}

// Gradient returns n colors blended in Lab space from a to b.
func Gradient(n int, a, b protocol.RGB) Frame {
	out := make(Frame, n)
	if n == 1 {
		out[0] = a
		return out
	}
	ca, cb := a.Colorful(), b.Colorful()
	for i := range out {
		out[i] = protocol.FromColorful(ca.BlendLab(cb, float64(i)/float64(n-1)))
	}
	return out
}

// Hue returns a fully saturated color at hue degrees and value v in [0,1].
func Hue(hue, v float64) protocol.RGB {
	return protocol.FromColorful(colorful.Hsv(hue, 1, max(0, min(v, 1))))
}

// Command wraps the frame as a segment command.
func (f Frame) Command() protocol.SetSegments {
	return protocol.SetSegments{Colors: f.Clone()}
}
