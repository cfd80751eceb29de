package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRGB(t *testing.T) {
	tests := []struct {
		in   string
		want RGB
	}{
		{"#ff8000", RGB{R: 255, G: 128, B: 0}},
		{"00ff00", RGB{G: 255}},
		{"#fff", RGB{R: 255, G: 255, B: 255}},
		{" #0a0b0c ", RGB{R: 10, G: 11, B: 12}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRGB(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got.String(), 7)
		})
	}

	_, err := ParseRGB("#zzzzzz")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestColorfulRoundTrip(t *testing.T) {
	c := RGB{R: 12, G: 200, B: 99}
	assert.Equal(t, c, FromColorful(c.Colorful()))
}

func TestCapabilitiesMask(t *testing.T) {
	assert.Equal(t, 15, LANCapabilities.Mask())
	assert.Equal(t, 0, Capabilities{}.Mask())
	assert.Equal(t, LANCapabilities, CapabilitiesFromMask(15))
	assert.Equal(t, Capabilities{Brightness: true, Segments: true}, CapabilitiesFromMask(10))
}
