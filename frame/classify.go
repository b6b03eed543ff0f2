package frame

import (
	"encoding/binary"
	"net"
)

// Class is the C6 dispatcher's classification of an inbound Ethernet frame.
type Class int

const (
	ClassUnknown Class = iota
	ClassARPRequest
	ClassARPReply
	ClassICMPEchoRequest
	ClassDHCP
	ClassTCP
	ClassOther
)

const (
	arpOperationOffset = 6 // within the ARP payload
	arpOperationRequest = 1
	arpOperationReply    = 2

	dhcpClientPort = 68
	dhcpServerPort = 67
)

// Classify inspects only the fixed-offset fields needed to route a frame —
// it never allocates a protocol-specific view, so it has no dependency on
// the arp/dhcp4/tcp packages and therefore can't form an import cycle with
// them.
func Classify(ether Ether, hostUnicastIP [4]byte) Class {
	if !ether.IsValid() {
		return ClassUnknown
	}

	switch ether.EtherType() {
	case EthTypeARP:
		payload := ether.Payload()
		if len(payload) < 8 {
			return ClassUnknown
		}
		switch binary.BigEndian.Uint16(payload[arpOperationOffset : arpOperationOffset+2]) {
		case arpOperationRequest:
			return ClassARPRequest
		case arpOperationReply:
			return ClassARPReply
		}
		return ClassUnknown

	case EthTypeIPv4:
		ip := IP4(ether.Payload())
		if !ip.IsValid() {
			return ClassUnknown
		}
		switch ip.Protocol() {
		case ProtoICMP:
			payload := ip.Payload()
			if len(payload) > 0 && payload[0] == 8 && isUnicast(ip.Dst(), hostUnicastIP) {
				return ClassICMPEchoRequest
			}
			return ClassOther
		case ProtoUDP:
			u := UDP(ip.Payload())
			if len(u) < UDPHeaderLen {
				return ClassUnknown
			}
			if (u.SrcPort() == dhcpServerPort && u.DstPort() == dhcpClientPort) ||
				(u.SrcPort() == dhcpClientPort && u.DstPort() == dhcpServerPort) {
				return ClassDHCP
			}
			return ClassOther
		case ProtoTCP:
			if isUnicast(ip.Dst(), hostUnicastIP) {
				return ClassTCP
			}
			return ClassOther
		}
	}
	return ClassUnknown
}

func isUnicast(ip net.IP, hostIP [4]byte) bool {
	b := ip.To4()
	if b == nil {
		return false
	}
	return [4]byte{b[0], b[1], b[2], b[3]} == hostIP
}
