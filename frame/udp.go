package frame

import (
	"encoding/binary"
	"net"
)

const UDPHeaderLen = 8

// UDP is a view over a UDP header plus its payload.
type UDP []byte

// UDPMarshalBinary writes a UDP header with a zeroed length/checksum into
// buf; callers finish the frame with AppendPayload.
func UDPMarshalBinary(buf []byte, srcPort, dstPort uint16) UDP {
	u := UDP(buf[:UDPHeaderLen])
	binary.BigEndian.PutUint16(u[0:2], srcPort)
	binary.BigEndian.PutUint16(u[2:4], dstPort)
	binary.BigEndian.PutUint16(u[4:6], 0)
	binary.BigEndian.PutUint16(u[6:8], 0)
	return u
}

func (u UDP) SrcPort() uint16 { return binary.BigEndian.Uint16(u[0:2]) }
func (u UDP) DstPort() uint16 { return binary.BigEndian.Uint16(u[2:4]) }
func (u UDP) Length() uint16  { return binary.BigEndian.Uint16(u[4:6]) }

// Payload returns the bytes following the 8-byte UDP header, bounded by the
// UDP length field.
func (u UDP) Payload() []byte {
	n := int(u.Length())
	if n < UDPHeaderLen || n > len(u) {
		return u[UDPHeaderLen:]
	}
	return u[UDPHeaderLen:n]
}

// AppendPayload copies p into u's backing array right after the header,
// sets the length field and returns the truncated view. The checksum is
// left zero until SetChecksum is called (it needs the owning IP4's
// addresses for the pseudo-header).
func (u UDP) AppendPayload(p []byte) UDP {
	total := UDPHeaderLen + len(p)
	out := u[:total]
	copy(out[UDPHeaderLen:], p)
	binary.BigEndian.PutUint16(out[4:6], uint16(total))
	return out
}

// SetChecksum computes the UDP checksum over the pseudo-header and the
// datagram. A result of zero is sent as all-ones, per RFC 768.
func (u UDP) SetChecksum(srcIP, dstIP net.IP) {
	binary.BigEndian.PutUint16(u[6:8], 0)
	sum := PseudoHeaderSum(srcIP, dstIP, ProtoUDP, u.Length())
	sum = SumWords(u[:u.Length()], sum)
	cs := FoldChecksum(sum)
	if cs == 0 {
		cs = 0xffff
	}
	binary.BigEndian.PutUint16(u[6:8], cs)
}
