package protocol

import (
	"fmt"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ParseRGB parses a #rrggbb or #rgb hex string.
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: color %q", ErrInvalidParameter, s)
	}
	r, g, b := c.RGB255()
	return RGB{R: r, G: g, B: b}, nil
}

// Colorful converts c for blending in perceptual color spaces.
func (c RGB) Colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// FromColorful converts back from a colorful.Color, clamping out-of-gamut
// values.
func FromColorful(c colorful.Color) RGB {
	r, g, b := c.Clamped().RGB255()
	return RGB{R: r, G: g, B: b}
}

// Mask packs the capability flags into a bitmask: color, brightness, power
// and segments from the low bit up.
func (c Capabilities) Mask() int {
	var m int
	for i, f := range [4]bool{c.Color, c.Brightness, c.Power, c.Segments} {
		if f {
			m |= 1 << i
		}
	}
	return m
}

// CapabilitiesFromMask is the inverse of Capabilities.Mask.
func CapabilitiesFromMask(m int) Capabilities {
	return Capabilities{
		Color:      m&1 != 0,
		Brightness: m&2 != 0,
		Power:      m&4 != 0,
		Segments:   m&8 != 0,
	}
}
