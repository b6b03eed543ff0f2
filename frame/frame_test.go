package frame

import (
	"net"
	"testing"
)

func TestEtherMarshalRoundTrip(t *testing.T) {
	src := net.HardwareAddr{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}
	dst := EthBroadcast
	e := EtherMarshalBinary(nil, EthTypeIPv4, src, dst)
	if e.EtherType() != EthTypeIPv4 {
		t.Fatalf("ethertype mismatch")
	}
	if e.Src().String() != src.String() || e.Dst().String() != dst.String() {
		t.Fatalf("src/dst mismatch")
	}
}

func TestIP4ChecksumIdempotent(t *testing.T) {
	buf := make([]byte, EthMaxFrame)
	ip := IP4MarshalBinary(buf, DefaultTTL, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))
	ip = ip.SetPayload([]byte("hello"), ProtoUDP)

	before := make([]byte, 2)
	copy(before, ip[10:12])

	CalcIPChecksum(ip)
	after := ip[10:12]
	if before[0] != after[0] || before[1] != after[1] {
		t.Fatalf("checksum changed on recompute of an already-consistent header: before=%v after=%v", before, after)
	}
}

func TestUDPChecksumIdempotence(t *testing.T) {
	buf := make([]byte, EthMaxFrame)
	src := net.IPv4(192, 168, 1, 50)
	dst := net.IPv4(192, 168, 1, 1)
	ip := IP4MarshalBinary(buf, DefaultTTL, src, dst)

	u := UDPMarshalBinary(ip.Payload(), 68, 67)
	u = u.AppendPayload([]byte("dhcp-payload"))
	u.SetChecksum(src, dst)
	ip = ip.SetPayload(u, ProtoUDP)

	u2 := UDP(ip.Payload())
	cs1 := make([]byte, 2)
	copy(cs1, u2[6:8])
	u2.SetChecksum(src, dst)
	cs2 := u2[6:8]
	if cs1[0] != cs2[0] || cs1[1] != cs2[1] {
		t.Fatalf("recomputing UDP checksum on an unmodified datagram changed it: %v -> %v", cs1, cs2)
	}
}

func TestTCPFlagHelpers(t *testing.T) {
	buf := make([]byte, TCPHeaderLen)
	tcp := TCPMarshalBinary(buf, 50234, 1883, 1000, 0, TCPFlagSYN, 1024)
	if !tcp.HasFlags(TCPFlagSYN) {
		t.Fatalf("expected SYN flag set")
	}
	if tcp.HasFlags(TCPFlagACK) {
		t.Fatalf("ACK flag should not be set")
	}
	if tcp.DataOffset() != TCPHeaderLen {
		t.Fatalf("expected data offset %d, got %d", TCPHeaderLen, tcp.DataOffset())
	}
}

func TestClassifyDHCP(t *testing.T) {
	buf := make([]byte, EthMaxFrame)
	mac := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	e := EtherMarshalBinary(buf, EthTypeIPv4, mac, EthBroadcast)
	ip := IP4MarshalBinary(e.Payload(), DefaultTTL, IP4Zero, IP4Broadcast)
	u := UDPMarshalBinary(ip.Payload(), 68, 67)
	u = u.AppendPayload(make([]byte, 240))
	ip = ip.SetPayload(u, ProtoUDP)
	e = e.SetPayload(ip)

	if got := Classify(e, [4]byte{192, 168, 1, 50}); got != ClassDHCP {
		t.Fatalf("expected ClassDHCP, got %v", got)
	}
}
