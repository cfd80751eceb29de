package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
)

// Message is anything Decode can produce: a Command or a response.
type Message interface {
	Cmd() string
}

// Capabilities describes what a device accepts.
type Capabilities struct {
	Color      bool `json:"color"`
	Brightness bool `json:"brightness"`
	Power      bool `json:"power"`
	Segments   bool `json:"segments"`
}

// LANCapabilities is what every LAN API device supports.
var LANCapabilities = Capabilities{Color: true, Brightness: true, Power: true, Segments: true}

// ScanResponse is a device's answer to Discover.
type ScanResponse struct {
	IP              netip.Addr
	Device          string
	SKU             string
	BLEVersionHard  string
	BLEVersionSoft  string
	WiFiVersionHard string
	WiFiVersionSoft string
}

// Cmd implements Message.
func (ScanResponse) Cmd() string { return CmdScan }

// Capabilities reports the flags implied by a scan response. The LAN API
// is only offered by devices supporting all of them.
func (ScanResponse) Capabilities() Capabilities { return LANCapabilities }

// StateResponse is a device's answer to QueryState.
type StateResponse struct {
	On             bool
	Brightness     int
	Color          RGB
	ColorTemKelvin int
}

// Cmd implements Message.
func (StateResponse) Cmd() string { return CmdStatus }

type envelope struct {
	Msg struct {
		Cmd  string          `json:"cmd"`
		Data json.RawMessage `json:"data"`
	} `json:"msg"`
}

// Encode serialises a command into a wire datagram.
func Encode(c Command) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidParameter)
	}
	data, err := c.payload()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", c.Cmd(), err)
	}

	var env envelope
	env.Msg.Cmd = c.Cmd()
	env.Msg.Data = raw
	return json.Marshal(env)
}

// MustEncode is Encode for commands with fixed, valid parameters.
func MustEncode(c Command) []byte {
	b, err := Encode(c)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a wire datagram.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	data := bytes.TrimSpace(env.Msg.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	switch env.Msg.Cmd {
	case CmdScan:
		return decodeScan(data)
	case CmdTurn:
		v, err := decodeValue(data, 0, 1)
		if err != nil {
			return nil, err
		}
		return SetPower{On: v == 1}, nil
	case CmdBrightness:
		v, err := decodeValue(data, 0, MaxBrightness)
		if err != nil {
			return nil, err
		}
		return SetBrightness{Percent: v}, nil
	case CmdColor:
		var d struct {
			Color rawRGB `json:"color"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, CmdColor, err)
		}
		rgb, err := d.Color.validate()
		if err != nil {
			return nil, err
		}
		return SetColor{R: int(rgb.R), G: int(rgb.G), B: int(rgb.B)}, nil
	case CmdStatus:
		return decodeStatus(data)
	case CmdRazer:
		var d razerData
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, CmdRazer, err)
		}
		return DecodeSegments(d.PT)
	case "":
		return nil, fmt.Errorf("%w: missing cmd", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown cmd %q", ErrMalformedMessage, env.Msg.Cmd)
	}
}

type rawRGB struct {
	R *int `json:"r"`
	G *int `json:"g"`
	B *int `json:"b"`
}

func (c rawRGB) validate() (RGB, error) {
	if c.R == nil || c.G == nil || c.B == nil {
		return RGB{}, fmt.Errorf("%w: color missing channel", ErrMalformedMessage)
	}
	rgb, err := NewRGB(*c.R, *c.G, *c.B)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return rgb, nil
}

func decodeValue(data []byte, lo, hi int) (int, error) {
	var d struct {
		Value *int `json:"value"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if d.Value == nil {
		return 0, fmt.Errorf("%w: missing value", ErrMalformedMessage)
	}
	if *d.Value < lo || *d.Value > hi {
		return 0, fmt.Errorf("%w: value %d outside %d-%d", ErrMalformedMessage, *d.Value, lo, hi)
	}
	return *d.Value, nil
}

func decodeScan(data []byte) (Message, error) {
	var d struct {
		AccountTopic    string `json:"account_topic"`
		IP              string `json:"ip"`
		Device          string `json:"device"`
		SKU             string `json:"sku"`
		BLEVersionHard  string `json:"bleVersionHard"`
		BLEVersionSoft  string `json:"bleVersionSoft"`
		WiFiVersionHard string `json:"wifiVersionHard"`
		WiFiVersionSoft string `json:"wifiVersionSoft"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrMalformedMessage, err)
	}

	// A request carries only the account topic.
	if d.IP == "" && d.Device == "" {
		if d.AccountTopic == "" {
			return nil, fmt.Errorf("%w: scan without device or account_topic", ErrMalformedMessage)
		}
		return Discover{}, nil
	}

	ip, err := netip.ParseAddr(d.IP)
	if err != nil || !ip.Is4() {
		return nil, fmt.Errorf("%w: scan response ip %q", ErrMalformedMessage, d.IP)
	}
	if d.Device == "" {
		return nil, fmt.Errorf("%w: scan response without device id", ErrMalformedMessage)
	}

	return ScanResponse{
		IP:              ip,
		Device:          d.Device,
		SKU:             d.SKU,
		BLEVersionHard:  d.BLEVersionHard,
		BLEVersionSoft:  d.BLEVersionSoft,
		WiFiVersionHard: d.WiFiVersionHard,
		WiFiVersionSoft: d.WiFiVersionSoft,
	}, nil
}

func decodeStatus(data []byte) (Message, error) {
	var d struct {
		OnOff          *int   `json:"onOff"`
		Brightness     *int   `json:"brightness"`
		Color          rawRGB `json:"color"`
		ColorTemKelvin int    `json:"colorTemInKelvin"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: devStatus: %w", ErrMalformedMessage, err)
	}

	// An empty body is the request.
	if d.OnOff == nil && d.Brightness == nil {
		return QueryState{}, nil
	}
	if d.OnOff == nil || d.Brightness == nil {
		return nil, fmt.Errorf("%w: devStatus missing onOff or brightness", ErrMalformedMessage)
	}
	if *d.Brightness < 0 || *d.Brightness > MaxBrightness {
		return nil, fmt.Errorf("%w: devStatus brightness %d", ErrMalformedMessage, *d.Brightness)
	}

	var rgb RGB
	if d.Color != (rawRGB{}) {
		var err error
		if rgb, err = d.Color.validate(); err != nil {
			return nil, err
		}
	}

	return StateResponse{
		On:             *d.OnOff == 1,
		Brightness:     *d.Brightness,
		Color:          rgb,
		ColorTemKelvin: d.ColorTemKelvin,
	}, nil
}
