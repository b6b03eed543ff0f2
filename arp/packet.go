// Package arp provides the ARP frame view/marshal helpers and the Request/
// Reply/Probe send operations the DHCP and TCP clients need: a conflict
// probe for an offered DHCP lease, and resolution of a gateway's hardware
// address before the first TCP SYN.
package arp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/tiva-iot/netstack/frame"
)

// Operation types.
const (
	OperationRequest = 1
	OperationReply   = 2
)

// Len is the fixed wire length of an ARP packet for Ethernet/IPv4: header
// (8) + 2 MACs (6 each) + 2 IPs (4 each).
const Len = 8 + 2*6 + 2*4

// Frame is a view over an ARP packet.
type Frame []byte

func (b Frame) IsValid() bool {
	if len(b) < Len {
		return false
	}
	if b.HType() != 1 {
		return false
	}
	if b.Proto() != frame.EthTypeIPv4 {
		return false
	}
	if b.HLen() != 6 || b.PLen() != 4 {
		return false
	}
	return true
}

func (b Frame) HType() uint16 { return binary.BigEndian.Uint16(b[0:2]) }
func (b Frame) Proto() uint16 { return binary.BigEndian.Uint16(b[2:4]) }
func (b Frame) HLen() uint8   { return b[4] }
func (b Frame) PLen() uint8   { return b[5] }

func (b Frame) Operation() uint16 { return binary.BigEndian.Uint16(b[6:8]) }

func (b Frame) SrcMAC() net.HardwareAddr { return net.HardwareAddr(b[8:14]) }
func (b Frame) SrcIP() net.IP            { return net.IP(b[14:18]) }
func (b Frame) DstMAC() net.HardwareAddr { return net.HardwareAddr(b[18:24]) }
func (b Frame) DstIP() net.IP            { return net.IP(b[24:28]) }

func (b Frame) String() string {
	return fmt.Sprintf("operation=%d srcMAC=%s srcIP=%s dstMAC=%s dstIP=%s",
		b.Operation(), b.SrcMAC(), b.SrcIP(), b.DstMAC(), b.DstIP())
}

// MarshalBinary writes an ARP packet into b (allocating Len bytes if b is
// nil). It is used both for ordinary request/reply and for probes/
// announcements, which are just requests with a zero or repeated sender IP
// (see Probe).
func MarshalBinary(b []byte, operation uint16, srcAddr, dstAddr frame.Addr) (Frame, error) {
	if b == nil {
		b = make([]byte, Len)
	}
	if cap(b) < Len {
		return nil, fmt.Errorf("arp: buffer too small: %d < %d", cap(b), Len)
	}
	b = b[:Len]

	binary.BigEndian.PutUint16(b[0:2], 1)
	binary.BigEndian.PutUint16(b[2:4], frame.EthTypeIPv4)
	b[4] = 6
	b[5] = 4
	binary.BigEndian.PutUint16(b[6:8], operation)
	copy(b[8:8+6], srcAddr.MAC[:6])
	copy(b[14:14+4], srcAddr.IP.To4()[:4])
	copy(b[18:18+6], dstAddr.MAC[:6])
	copy(b[24:24+4], dstAddr.IP.To4()[:4])
	return b, nil
}
