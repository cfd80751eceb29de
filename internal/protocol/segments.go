package protocol

import (
	"encoding/base64"
	"fmt"
)

var segmentHeader = [...]byte{0xBB, 0x00, 0x0E, 0xB0, 0x01}

const (
	segmentModeOn  = 0xB1
	segmentModeOff = 0xB2
)

// EncodeSegments builds the base64 payload of a segment frame.
func EncodeSegments(colors []RGB) (string, error) {
	if len(colors) == 0 {
		return "", fmt.Errorf("%w: segment frame needs at least one color", ErrInvalidParameter)
	}
	if len(colors) > MaxSegments {
		return "", fmt.Errorf("%w: %d segments exceeds %d", ErrInvalidParameter, len(colors), MaxSegments)
	}

	buf := make([]byte, 0, len(segmentHeader)+1+3*len(colors)+1)
	buf = append(buf, segmentHeader[:]...)
	buf = append(buf, byte(len(colors)))
	for _, c := range colors {
		buf = append(buf, c.R, c.G, c.B)
	}
	buf = append(buf, xorChecksum(buf))
	return base64.StdEncoding.EncodeToString(buf), nil
}

// encodeSegmentMode builds the enable/disable frame:
// BB 00 01 B1|B2 01 <xor>.
func encodeSegmentMode(on bool) string {
	mode := byte(segmentModeOff)
	if on {
		mode = segmentModeOn
	}
	buf := []byte{0xBB, 0x00, 0x01, mode, 0x01}
	buf = append(buf, xorChecksum(buf))
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeSegments parses a razer payload into SetSegments or
// SetSegmentMode, verifying header, length and checksum.
func DecodeSegments(pt string) (Command, error) {
	buf, err := base64.StdEncoding.DecodeString(pt)
	if err != nil {
		return nil, fmt.Errorf("%w: razer payload: %w", ErrMalformedMessage, err)
	}
	if len(buf) < 6 {
		return nil, fmt.Errorf("%w: razer payload too short (%d bytes)", ErrMalformedMessage, len(buf))
	}

	body, sum := buf[:len(buf)-1], buf[len(buf)-1]
	if xorChecksum(body) != sum {
		return nil, fmt.Errorf("%w: razer checksum mismatch", ErrMalformedMessage)
	}

	if len(buf) == 6 && buf[0] == 0xBB && buf[1] == 0x00 && buf[2] == 0x01 && buf[4] == 0x01 {
		switch buf[3] {
		case segmentModeOn:
			return SetSegmentMode{On: true}, nil
		case segmentModeOff:
			return SetSegmentMode{On: false}, nil
		}
	}

	for i, b := range segmentHeader {
		if body[i] != b {
			return nil, fmt.Errorf("%w: razer header byte %d is %#x", ErrMalformedMessage, i, body[i])
		}
	}
	n := int(body[len(segmentHeader)])
	colors := body[len(segmentHeader)+1:]
	if n == 0 || len(colors) != 3*n {
		return nil, fmt.Errorf("%w: razer frame declares %d colors, carries %d bytes", ErrMalformedMessage, n, len(colors))
	}

	out := make([]RGB, n)
	for i := range out {
		out[i] = RGB{R: colors[3*i], G: colors[3*i+1], B: colors[3*i+2]}
	}
	return SetSegments{Colors: out}, nil
}

func xorChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}
