package device

import (
	"net/netip"
	"time"

	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// DefaultPort is the device command port.
const DefaultPort = 4003

// ManualModel is the model recorded for a manual add without one.
const ManualModel = "Manual Device"

// Device is one light known to the registry.
type Device struct {
	// Identity
	ID           string                `json:"id"`
	IP           netip.Addr            `json:"ip"`
	Model        string                `json:"model"`
	Capabilities protocol.Capabilities `json:"capabilities"`

	Port     int      `json:"port"`
	Firmware Firmware `json:"firmware"`
	Manual   bool     `json:"manual"`

	// Liveness and last known output
	Online    bool          `json:"online"`
	LastSeen  time.Time     `json:"last_seen,omitzero"`
	LastColor *protocol.RGB `json:"last_color,omitempty"`
	State     *State        `json:"state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Firmware holds the versions reported in a scan response.
type Firmware struct {
	BLEHard  string `json:"ble_hard,omitempty"`
	BLESoft  string `json:"ble_soft,omitempty"`
	WiFiHard string `json:"wifi_hard,omitempty"`
	WiFiSoft string `json:"wifi_soft,omitempty"`
}

// State is the last devStatus answer from a device.
type State struct {
	On             bool         `json:"on"`
	Brightness     int          `json:"brightness"`
	Color          protocol.RGB `json:"color"`
	ColorTemKelvin int          `json:"color_tem_kelvin"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// CommandAddr is where commands for this device are sent.
func (d *Device) CommandAddr() netip.AddrPort {
	port := d.Port
	if port <= 0 || port > 65535 {
		port = DefaultPort
	}
	return netip.AddrPortFrom(d.IP, uint16(port)) //nolint:gosec // range checked above
}

// DeepCopy returns a copy sharing no pointers with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.LastColor != nil {
		c := *d.LastColor
		cp.LastColor = &c
	}
	if d.State != nil {
		s := *d.State
		cp.State = &s
	}
	return &cp
}

// sameIdentity reports whether two records describe the same physical
// device.
func (d *Device) sameIdentity(other *Device) bool {
	return d.ID == other.ID &&
		d.IP == other.IP &&
		d.Model == other.Model &&
		d.Capabilities == other.Capabilities
}

// Discovered is a scan response ready for Upsert.
type Discovered struct {
	ID           string
	IP           netip.Addr
	Model        string
	Capabilities protocol.Capabilities
	Firmware     Firmware
}

// FromScan converts a decoded scan response.
func FromScan(resp protocol.ScanResponse) Discovered {
	return Discovered{
		ID:           resp.Device,
		IP:           resp.IP,
		Model:        resp.SKU,
		Capabilities: resp.Capabilities(),
		Firmware: Firmware{
			BLEHard:  resp.BLEVersionHard,
			BLESoft:  resp.BLEVersionSoft,
			WiFiHard: resp.WiFiVersionHard,
			WiFiSoft: resp.WiFiVersionSoft,
		},
	}
}

// ManualDevice describes a device added by hand, bypassing discovery.
type ManualDevice struct {
	IP    string `json:"ip"`
	Model string `json:"model,omitempty"`
	MAC   string `json:"mac,omitempty"`
	Port  int    `json:"port,omitempty"`
}

// EventType names a registry change.
type EventType string

// Registry event types.
const (
	EventAdded    EventType = "added"
	EventUpdated  EventType = "updated"
	EventOnline   EventType = "online"
	EventOffline  EventType = "offline"
	EventRemoved  EventType = "removed"
	EventSelected EventType = "selected"
)

// Event is delivered to Subscribe callbacks after a change is applied.
type Event struct {
	Type   EventType `json:"type"`
	Device Device    `json:"device"`
	At     time.Time `json:"at"`
}
