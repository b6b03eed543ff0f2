package frame

import (
	"encoding/binary"
	"net"
)

const (
	EthHeaderLen = 14
	EthMaxFrame  = 1518

	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
)

// Ether is a view over an Ethernet II header plus whatever payload follows
// it in the same backing array.
type Ether []byte

// EtherMarshalBinary writes an Ethernet header into buf (allocating a
// max-size frame if buf is nil) and returns the header-only view; callers
// append a payload with SetPayload.
func EtherMarshalBinary(buf []byte, ethType uint16, src, dst net.HardwareAddr) Ether {
	if buf == nil {
		buf = make([]byte, EthMaxFrame)
	}
	e := Ether(buf[:EthHeaderLen])
	copy(e[0:6], dst)
	copy(e[6:12], src)
	binary.BigEndian.PutUint16(e[12:14], ethType)
	return e
}

func (e Ether) IsValid() bool { return len(e) >= EthHeaderLen }

func (e Ether) Dst() net.HardwareAddr { return net.HardwareAddr(e[0:6]) }
func (e Ether) Src() net.HardwareAddr { return net.HardwareAddr(e[6:12]) }

func (e Ether) EtherType() uint16 { return binary.BigEndian.Uint16(e[12:14]) }

// Payload returns everything after the 14-byte header.
func (e Ether) Payload() []byte { return e[EthHeaderLen:] }

// SetPayload truncates the frame to the header plus exactly len(p) bytes of
// payload, which must already be resident in e's backing array starting at
// e[EthHeaderLen:] (i.e. the caller built the payload via Payload()).
func (e Ether) SetPayload(p []byte) Ether {
	return e[:EthHeaderLen+len(p)]
}

// AppendPayload is SetPayload for callers that haven't yet written the
// payload into e's backing array.
func (e Ether) AppendPayload(p []byte) Ether {
	out := e[:EthHeaderLen+len(p)]
	copy(out[EthHeaderLen:], p)
	return out
}
