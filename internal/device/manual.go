package device

import (
	"fmt"
	"net/netip"
)

// MACFromIP derives a placeholder identifier for a device added without a
// MAC: two zero octets followed by the four address octets in decimal,
// each padded to two digits. 192.168.1.23 becomes 00:00:192:168:01:23.
func MACFromIP(ip netip.Addr) string {
	b := ip.As4()
	return fmt.Sprintf("00:00:%02d:%02d:%02d:%02d", b[0], b[1], b[2], b[3])
}
