// Package frame implements the C1 frame codec: typed byte-slice views over
// Ethernet, IPv4, UDP and TCP headers, plus the one's-complement checksum
// helpers shared by every protocol built on top of IPv4. Every type here is
// a span into a caller-owned buffer; none of them pun a pointer through an
// overlapping struct shape.
package frame

import "net"

// Addr is a link-layer/network-layer address pair, used wherever a
// collaborator needs "who do I send this to" (destination MAC plus,
// optionally, an IP and UDP/TCP port).
type Addr struct {
	MAC  net.HardwareAddr
	IP   net.IP
	Port uint16
}

// Well-known addresses used throughout the client.
var (
	EthBroadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	EthZero      = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	IP4Broadcast = net.IPv4(255, 255, 255, 255).To4()
	IP4Zero      = net.IPv4zero.To4()
)
