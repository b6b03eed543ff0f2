package frame

import (
	"encoding/binary"
	"net"
)

const TCPHeaderLen = 20

// TCP flag bits, matching original_source/tcp/tcp.c's TCPFIN/TCPSYN/TCPRST/
// TCPPSH/TCPACK/TCPURG constants.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// TCP is a view over a (no-options, 20-byte) TCP header plus its payload.
type TCP []byte

// TCPMarshalBinary writes a TCP header into buf. The checksum is left zero
// until SetChecksum is called.
func TCPMarshalBinary(buf []byte, srcPort, dstPort uint16, seq, ack uint32, flags uint8, window uint16) TCP {
	t := TCP(buf[:TCPHeaderLen])
	binary.BigEndian.PutUint16(t[0:2], srcPort)
	binary.BigEndian.PutUint16(t[2:4], dstPort)
	binary.BigEndian.PutUint32(t[4:8], seq)
	binary.BigEndian.PutUint32(t[8:12], ack)
	t[12] = byte((TCPHeaderLen / 4) << 4)
	t[13] = flags
	binary.BigEndian.PutUint16(t[14:16], window)
	binary.BigEndian.PutUint16(t[16:18], 0) // checksum
	binary.BigEndian.PutUint16(t[18:20], 0) // urgent pointer
	return t
}

func (t TCP) SrcPort() uint16   { return binary.BigEndian.Uint16(t[0:2]) }
func (t TCP) DstPort() uint16   { return binary.BigEndian.Uint16(t[2:4]) }
func (t TCP) Seq() uint32       { return binary.BigEndian.Uint32(t[4:8]) }
func (t TCP) Ack() uint32       { return binary.BigEndian.Uint32(t[8:12]) }
func (t TCP) DataOffset() int   { return int(t[12]>>4) * 4 }
func (t TCP) Flags() uint8      { return t[13] }
func (t TCP) HasFlags(f uint8) bool { return t.Flags()&f == f }

// Payload returns the segment data, given the owning IPv4 datagram's total
// length (the TCP header carries no length field of its own).
func (t TCP) Payload(ipTotalLen, ipHeaderLen int) []byte {
	n := ipTotalLen - ipHeaderLen
	off := t.DataOffset()
	if off > n || off < TCPHeaderLen {
		return nil
	}
	return t[off:n]
}

// AppendPayload copies p into t's backing array right after the (fixed,
// option-free) header.
func (t TCP) AppendPayload(p []byte) TCP {
	total := TCPHeaderLen + len(p)
	out := t[:total]
	copy(out[TCPHeaderLen:], p)
	return out
}

// SetChecksum computes the TCP checksum over the pseudo-header and the
// segment (header through totalLen bytes).
func (t TCP) SetChecksum(srcIP, dstIP net.IP, totalLen int) {
	binary.BigEndian.PutUint16(t[16:18], 0)
	sum := PseudoHeaderSum(srcIP, dstIP, ProtoTCP, uint16(totalLen))
	sum = SumWords(t[:totalLen], sum)
	cs := FoldChecksum(sum)
	if cs == 0 {
		cs = 0xffff
	}
	binary.BigEndian.PutUint16(t[16:18], cs)
}
