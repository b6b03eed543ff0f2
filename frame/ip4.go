package frame

import (
	"encoding/binary"
	"net"
)

const (
	IP4HeaderLen = 20

	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17

	DefaultTTL = 128
)

// IP4 is a view over an IPv4 header (IHL 5, no options — every frame this
// client builds or parses uses a bare 20-byte header) plus its payload.
type IP4 []byte

// IP4MarshalBinary writes a fixed 20-byte IPv4 header into buf at offset 0
// (buf is expected to already hold the Ethernet header before this point;
// callers pass ether.Payload() as buf). Total length, protocol and checksum
// are filled in later by SetPayload/CalcIPChecksum.
func IP4MarshalBinary(buf []byte, ttl uint8, src, dst net.IP) IP4 {
	ip := IP4(buf[:IP4HeaderLen])
	ip[0] = 0x45 // version 4, IHL 5 (no options)
	ip[1] = 0    // type of service
	binary.BigEndian.PutUint16(ip[2:4], 0)
	binary.BigEndian.PutUint16(ip[4:6], 0) // identification
	binary.BigEndian.PutUint16(ip[6:8], 0) // flags + fragment offset
	ip[8] = ttl
	ip[9] = 0
	binary.BigEndian.PutUint16(ip[10:12], 0) // checksum, filled by CalcIPChecksum
	copy(ip[12:16], src.To4())
	copy(ip[16:20], dst.To4())
	return ip
}

func (ip IP4) IsValid() bool { return len(ip) >= IP4HeaderLen && ip[0]>>4 == 4 }

func (ip IP4) IHL() int          { return int(ip[0]&0x0f) * 4 }
func (ip IP4) Protocol() uint8   { return ip[9] }
func (ip IP4) TTL() uint8        { return ip[8] }
func (ip IP4) TotalLen() uint16  { return binary.BigEndian.Uint16(ip[2:4]) }
func (ip IP4) Src() net.IP       { return net.IP(ip[12:16]) }
func (ip IP4) Dst() net.IP       { return net.IP(ip[16:20]) }

func (ip IP4) setTotalLen(n uint16) { binary.BigEndian.PutUint16(ip[2:4], n) }
func (ip IP4) setProtocol(p uint8)  { ip[9] = p }

// Payload returns the bytes following the (fixed-length) IPv4 header, up to
// TotalLen.
func (ip IP4) Payload() []byte {
	n := int(ip.TotalLen())
	if n == 0 || n > len(ip) {
		return ip[ip.IHL():]
	}
	return ip[ip.IHL():n]
}

// SetPayload sets protocol and total length for a payload of len(p) bytes
// (already UDP/TCP framed) and recomputes the header checksum. It does not
// copy p: the payload must already be resident in ip's backing array right
// after the header (i.e. built via Payload()). It returns the IP4 view
// truncated to header+payload.
func (ip IP4) SetPayload(p []byte, proto uint8) IP4 {
	ip.setProtocol(proto)
	total := ip.IHL() + len(p)
	ip.setTotalLen(uint16(total))
	out := ip[:total]
	CalcIPChecksum(out)
	return out
}

// AppendPayload copies p into ip's backing array immediately after the
// header, then behaves like SetPayload.
func (ip IP4) AppendPayload(p []byte, proto uint8) IP4 {
	payload := ip[ip.IHL() : ip.IHL()+len(p)]
	copy(payload, p)
	return ip.SetPayload(payload, proto)
}

// CalcIPChecksum zeroes and recomputes the IPv4 header checksum in place,
// covering exactly the header (ip[:ip.IHL()]).
func CalcIPChecksum(ip IP4) {
	binary.BigEndian.PutUint16(ip[10:12], 0)
	sum := SumWords(ip[:ip.IHL()], 0)
	binary.BigEndian.PutUint16(ip[10:12], FoldChecksum(sum))
}
