// Package protocol encodes and decodes the Govee LAN API wire format.
//
// Every datagram is a JSON envelope:
//
//	{"msg":{"cmd":"<name>","data":{...}}}
//
// Commands travel to a device's command port (4003); scan requests go to
// the multicast control port (4001); scan and devStatus responses arrive on
// the response port (4002).
//
// Encode validates parameters and fails with ErrInvalidParameter rather
// than clamping, except brightness, which is raised to MinBrightness.
// Decode accepts both responses and commands, so every command round-trips.
//
// Segment frames (cmd "razer") carry a base64 binary payload:
//
//	BB 00 0E B0 01 <n> <r g b>*n <xor>
//
// where the trailing byte is the XOR of all preceding bytes.
package protocol
