// Package dhcp4 implements the DHCP option codec (C2) and the DHCP client
// finite state machine (C4): lease acquisition, ARP-probe conflict
// detection, renew/rebind, and release.
package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MessageType is the DHCP message type carried in option 53.
type MessageType uint8

const (
	Discover MessageType = 1
	Offer    MessageType = 2
	Request  MessageType = 3
	Decline  MessageType = 4
	Ack      MessageType = 5
	Nak      MessageType = 6
	Release  MessageType = 7
	Inform   MessageType = 8
)

func (m MessageType) String() string {
	switch m {
	case Discover:
		return "DISCOVER"
	case Offer:
		return "OFFER"
	case Request:
		return "REQUEST"
	case Decline:
		return "DECLINE"
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	case Release:
		return "RELEASE"
	case Inform:
		return "INFORM"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(m))
	}
}

// BOOTP op codes.
const (
	OpRequest uint8 = 1
	OpReply   uint8 = 2
)

// Option tags this client reads or writes.
const (
	OptionSubnetMask         byte = 1
	OptionRouter             byte = 3
	OptionDomainNameServer   byte = 6
	OptionHostName           byte = 12
	OptionRequestedIPAddress byte = 50
	OptionIPAddressLeaseTime byte = 51
	OptionDHCPMessageType    byte = 53
	OptionServerIdentifier   byte = 54
	OptionParameterRequestList byte = 55
	OptionRenewalTimeT1      byte = 58
	OptionRebindingTimeT2    byte = 59
	OptionClientIdentifier   byte = 61

	optionSentinel byte = 255
	optionPad      byte = 0
)

const (
	magicCookie uint32 = 0x63825363

	// FixedLen is the length of the BOOTP fixed fields, including the
	// magic cookie, before the options region starts.
	FixedLen = 240

	clientPort = 68
	serverPort = 67
)

// DHCP4 is a view over a BOOTP/DHCP message: the 236-byte fixed header,
// the 4-byte magic cookie, and a variable-length options region.
type DHCP4 []byte

func (p DHCP4) IsValid() bool {
	return len(p) >= FixedLen && binary.BigEndian.Uint32(p[236:240]) == magicCookie
}

func (p DHCP4) Op() uint8     { return p[0] }
func (p DHCP4) HType() uint8  { return p[1] }
func (p DHCP4) HLen() uint8   { return p[2] }
func (p DHCP4) Hops() uint8   { return p[3] }
func (p DHCP4) XId() []byte   { return p[4:8] }
func (p DHCP4) Secs() uint16  { return binary.BigEndian.Uint16(p[8:10]) }
func (p DHCP4) Flags() uint16 { return binary.BigEndian.Uint16(p[10:12]) }
func (p DHCP4) Broadcast() bool { return p.Flags()&0x8000 != 0 }
func (p DHCP4) CIAddr() net.IP { return net.IP(p[12:16]) }
func (p DHCP4) YIAddr() net.IP { return net.IP(p[16:20]) }
func (p DHCP4) SIAddr() net.IP { return net.IP(p[20:24]) }
func (p DHCP4) GIAddr() net.IP { return net.IP(p[24:28]) }
func (p DHCP4) CHAddr() net.HardwareAddr {
	hlen := int(p.HLen())
	if hlen == 0 || hlen > 16 {
		hlen = 6
	}
	return net.HardwareAddr(p[28 : 28+hlen])
}

// Options returns the bytes after the magic cookie.
func (p DHCP4) Options() []byte { return p[FixedLen:] }

// ParseOptions is a convenience wrapper around Parse(p.Options()).
func (p DHCP4) ParseOptions() Options { return Parse(p.Options()) }

// Marshal writes a full BOOTP/DHCP message (fixed header + magic cookie +
// options + sentinel) into buf and returns the truncated view. msgType is
// written as option 53 automatically; opts must not also contain it.
func Marshal(buf []byte, op uint8, msgType MessageType, xid uint32, chaddr net.HardwareAddr,
	ciaddr, yiaddr net.IP, broadcast bool, opts Options) DHCP4 {

	if buf == nil || len(buf) < FixedLen {
		buf = make([]byte, 1500)
	}
	p := DHCP4(buf[:FixedLen])
	for i := range p {
		p[i] = 0
	}
	p[0] = op
	p[1] = 1 // htype: ethernet
	p[2] = 6 // hlen
	p[3] = 0 // hops
	binary.BigEndian.PutUint32(p[4:8], xid)
	binary.BigEndian.PutUint16(p[8:10], 0)
	if broadcast {
		binary.BigEndian.PutUint16(p[10:12], 0x8000)
	}
	if ciaddr != nil {
		copy(p[12:16], ciaddr.To4())
	}
	if yiaddr != nil {
		copy(p[16:20], yiaddr.To4())
	}
	if chaddr != nil {
		copy(p[28:28+len(chaddr)], chaddr)
	}
	binary.BigEndian.PutUint32(p[236:240], magicCookie)

	all := append(Options{{Code: OptionDHCPMessageType, Value: []byte{byte(msgType)}}}, opts...)
	return Encode(p, all)
}
