package protocol

import "fmt"

// Wire command names.
const (
	CmdScan       = "scan"
	CmdTurn       = "turn"
	CmdBrightness = "brightness"
	CmdColor      = "colorwc"
	CmdStatus     = "devStatus"
	CmdRazer      = "razer"
)

// Brightness bounds in percent. Values below MinBrightness leave some
// strips dark and unresponsive, so encoding raises them to the floor.
const (
	MinBrightness = 10
	MaxBrightness = 100
)

// MaxSegments is the largest number of colors one segment frame carries;
// the count is a single byte.
const MaxSegments = 255

// Command is a message sent to a device or the scan group.
type Command interface {
	// Cmd returns the wire command name.
	Cmd() string
	payload() (any, error)
}

// Discover asks every device on the LAN to announce itself.
type Discover struct{}

// SetPower turns a device on or off.
type SetPower struct {
	On bool
}

// SetBrightness sets the overall brightness in percent.
type SetBrightness struct {
	Percent int
}

// SetColor sets a single color across the whole device. Channels are ints
// so out-of-range values can be reported instead of wrapping.
type SetColor struct {
	R, G, B int
}

// QueryState requests a devStatus response.
type QueryState struct{}

// SetSegments sets per-segment colors in one frame. Segment mode must be
// enabled with SetSegmentMode first.
type SetSegments struct {
	Colors []RGB
}

// SetSegmentMode enables or disables per-segment ("razer") control.
type SetSegmentMode struct {
	On bool
}

// RGB is one color tuple.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// String formats the color as #rrggbb.
func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (Discover) Cmd() string       { return CmdScan }
func (SetPower) Cmd() string       { return CmdTurn }
func (SetBrightness) Cmd() string  { return CmdBrightness }
func (SetColor) Cmd() string       { return CmdColor }
func (QueryState) Cmd() string     { return CmdStatus }
func (SetSegments) Cmd() string    { return CmdRazer }
func (SetSegmentMode) Cmd() string { return CmdRazer }

type valueData struct {
	Value int `json:"value"`
}

type colorData struct {
	Color            RGB `json:"color"`
	ColorTemInKelvin int `json:"colorTemInKelvin"`
}

type scanData struct {
	AccountTopic string `json:"account_topic"`
}

type razerData struct {
	PT string `json:"pt"`
}

func (Discover) payload() (any, error) {
	return scanData{AccountTopic: "reserve"}, nil
}

func (c SetPower) payload() (any, error) {
	if c.On {
		return valueData{Value: 1}, nil
	}
	return valueData{Value: 0}, nil
}

func (c SetBrightness) payload() (any, error) {
	pct, err := ClampBrightness(c.Percent)
	if err != nil {
		return nil, err
	}
	return valueData{Value: pct}, nil
}

func (c SetColor) payload() (any, error) {
	rgb, err := NewRGB(c.R, c.G, c.B)
	if err != nil {
		return nil, err
	}
	return colorData{Color: rgb}, nil
}

func (QueryState) payload() (any, error) {
	return struct{}{}, nil
}

func (c SetSegments) payload() (any, error) {
	pt, err := EncodeSegments(c.Colors)
	if err != nil {
		return nil, err
	}
	return razerData{PT: pt}, nil
}

func (c SetSegmentMode) payload() (any, error) {
	return razerData{PT: encodeSegmentMode(c.On)}, nil
}

// NewRGB validates three channel values.
func NewRGB(r, g, b int) (RGB, error) {
	for _, v := range [3]int{r, g, b} {
		if v < 0 || v > 255 {
			return RGB{}, fmt.Errorf("%w: color channel %d outside 0-255", ErrInvalidParameter, v)
		}
	}
	return RGB{R: uint8(r), G: uint8(g), B: uint8(b)}, nil //nolint:gosec // range checked above
}

// ClampBrightness validates a brightness percentage. Values above
// MaxBrightness are rejected; values below MinBrightness, including
// negatives, are raised to MinBrightness.
func ClampBrightness(percent int) (int, error) {
	if percent > MaxBrightness {
		return 0, fmt.Errorf("%w: brightness %d above %d", ErrInvalidParameter, percent, MaxBrightness)
	}
	if percent < MinBrightness {
		return MinBrightness, nil
	}
	return percent, nil
}
