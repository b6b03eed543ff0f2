package netstack

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiva-iot/netstack/arp"
	"github.com/tiva-iot/netstack/dhcp4"
	"github.com/tiva-iot/netstack/frame"
	"github.com/tiva-iot/netstack/linklayer"
)

var (
	engineTestMAC   = net.HardwareAddr{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}
	engineServerMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	engineServerIP  = net.IPv4(192, 168, 1, 1).To4()
	enginePeerMAC   = net.HardwareAddr{0x00, 0x66, 0x66, 0x66, 0x66, 0x66}
	enginePeerIP    = net.IPv4(192, 168, 1, 99).To4()
	engineOfferedIP = net.IPv4(192, 168, 1, 42).To4()
	engineRemoteIP  = net.IPv4(52, 54, 110, 50).To4()
)

func newTestEngine(t *testing.T) (*Engine, *linklayer.Buffered) {
	t.Helper()
	conn := linklayer.NewBuffered()
	e, err := New(Config{
		MAC:           engineTestMAC,
		Conn:          conn,
		TCPLocalPort:  50234,
		TCPRemoteIP:   engineRemoteIP,
		TCPRemotePort: 1883,
	})
	require.NoError(t, err)
	return e, conn
}

// lastEther returns the most recently sent frame.
func lastEther(conn *linklayer.Buffered) frame.Ether {
	sent := conn.Sent()
	return sent[len(sent)-1]
}

// lastDHCP returns the DHCP message inside the most recently sent frame.
func lastDHCP(conn *linklayer.Buffered) dhcp4.DHCP4 {
	ip := frame.IP4(lastEther(conn).Payload())
	udp := frame.UDP(ip.Payload())
	return dhcp4.DHCP4(udp.Payload())
}

func buildOfferOrAck(xid uint32, msgType dhcp4.MessageType, yiaddr net.IP, opts dhcp4.Options) frame.Ether {
	buf := make([]byte, 1500)
	pkt := dhcp4.Marshal(buf, dhcp4.OpReply, msgType, xid, engineTestMAC, nil, yiaddr, false, opts)

	ebuf := make([]byte, frame.EthMaxFrame)
	ether := frame.EtherMarshalBinary(ebuf, frame.EthTypeIPv4, engineServerMAC, engineTestMAC)
	ip := frame.IP4MarshalBinary(ether.Payload(), frame.DefaultTTL, engineServerIP, frame.IP4Broadcast)
	udp := frame.UDPMarshalBinary(ip.Payload(), 67, 68)
	udp = udp.AppendPayload(pkt)
	udp.SetChecksum(engineServerIP, frame.IP4Broadcast)
	ip = ip.SetPayload(udp, frame.ProtoUDP)
	return ether.SetPayload(ip)
}

func leaseOptions(total, t1, t2 uint32) dhcp4.Options {
	buf32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
	return dhcp4.Options{
		{Code: dhcp4.OptionIPAddressLeaseTime, Value: buf32(total)},
		{Code: dhcp4.OptionServerIdentifier, Value: engineServerIP},
		{Code: dhcp4.OptionRenewalTimeT1, Value: buf32(t1)},
		{Code: dhcp4.OptionRebindingTimeT2, Value: buf32(t2)},
	}
}

// currentXid reads the xid out of the most recently sent DHCP message.
func currentXid(conn *linklayer.Buffered) uint32 {
	return binary.BigEndian.Uint32(lastDHCP(conn).XId())
}

// TestHappyPathLeaseThroughEngine is scenario 1 from §8, driven through the
// Engine's dispatch path (C6) instead of calling the DHCP client directly:
// DISCOVER -> OFFER -> REQUEST -> ACK -> ARP probe into TestingIP.
func TestHappyPathLeaseThroughEngine(t *testing.T) {
	e, conn := newTestEngine(t)
	e.dhcp.Enable()
	e.tick()

	require.Equal(t, dhcp4.Selecting, e.dhcp.State())
	xid := currentXid(conn)

	offer := buildOfferOrAck(xid, dhcp4.Offer, engineOfferedIP, dhcp4.Options{
		{Code: dhcp4.OptionServerIdentifier, Value: engineServerIP},
	})
	e.dispatch(offer)
	e.tick()
	require.Equal(t, dhcp4.Requesting, e.dhcp.State())

	ack := buildOfferOrAck(xid, dhcp4.Ack, engineOfferedIP, leaseOptions(3600, 1800, 3150))
	e.dispatch(ack)
	assert.Equal(t, dhcp4.TestingIP, e.dhcp.State())

	// The ACK handler immediately issues an ARP probe: sender == target
	// == the offered address, per the GLOSSARY's "ARP probe" definition.
	probe := arp.Frame(lastEther(conn).Payload())
	assert.True(t, probe.SrcIP().Equal(engineOfferedIP))
	assert.True(t, probe.DstIP().Equal(engineOfferedIP))
}

// TestArpRequestAutoReply exercises the dispatcher's C6 "ARP request ->
// auto-reply" path: once bound, a who-has for our own address gets a
// reply with our MAC.
func TestArpRequestAutoReply(t *testing.T) {
	e, conn := newTestEngine(t)
	e.netif.SetIP(engineOfferedIP)

	ebuf := make([]byte, frame.EthMaxFrame)
	ether := frame.EtherMarshalBinary(ebuf, frame.EthTypeARP, enginePeerMAC, frame.EthBroadcast)
	reqPkt, err := arp.MarshalBinary(ether.Payload(), arp.OperationRequest,
		frame.Addr{MAC: enginePeerMAC, IP: enginePeerIP},
		frame.Addr{MAC: frame.EthZero, IP: engineOfferedIP},
	)
	require.NoError(t, err)
	ether = ether.SetPayload(reqPkt)

	e.dispatch(ether)

	sent := conn.Sent()
	require.Len(t, sent, 1)
	reply := arp.Frame(sent[0].Payload())
	assert.Equal(t, uint16(arp.OperationReply), reply.Operation())
	assert.Equal(t, engineTestMAC.String(), reply.SrcMAC().String())
	assert.True(t, reply.SrcIP().Equal(engineOfferedIP))
	assert.True(t, reply.DstIP().Equal(enginePeerIP))
}

// TestTCPHandshakeThroughEngine is scenario 5 from §8, driven through the
// Engine's dispatcher: SYN -> SYN|ACK -> ACK, ending ESTABLISHED.
func TestTCPHandshakeThroughEngine(t *testing.T) {
	e, conn := newTestEngine(t)
	localIP := net.IPv4(192, 168, 1, 50).To4()
	gatewayIP := net.IPv4(192, 168, 1, 1).To4()
	e.netif.SetIP(localIP)

	// The gateway's hardware address must be resolved before sendSegment
	// can address the handshake ACK.
	gwReply, err := arp.MarshalBinary(nil, arp.OperationReply,
		frame.Addr{MAC: enginePeerMAC, IP: gatewayIP},
		frame.Addr{MAC: engineTestMAC, IP: localIP},
	)
	require.NoError(t, err)
	e.tcp.ProcessArpResponse(gwReply)

	e.tcp.SynReq()
	e.tick()
	require.Equal(t, "SYN_SENT", tcpState(e))

	sock := e.tcp.Socket()
	clientSeq := sock.Seq - 1 // Tick incremented Seq by 1 after sending the SYN

	synAckBuf := make([]byte, frame.EthMaxFrame)
	ether := frame.EtherMarshalBinary(synAckBuf, frame.EthTypeIPv4, enginePeerMAC, engineTestMAC)
	ip := frame.IP4MarshalBinary(ether.Payload(), frame.DefaultTTL, engineRemoteIP, localIP)
	peerSeq := uint32(0xbeef0001)
	tcpSeg := frame.TCPMarshalBinary(ip.Payload(), 1883, sock.LocalPort, peerSeq, clientSeq+1,
		frame.TCPFlagSYN|frame.TCPFlagACK, 1024)
	ip = ip.SetPayload(tcpSeg, frame.ProtoTCP)
	ether = ether.SetPayload(ip)

	e.dispatch(ether)
	assert.Equal(t, "ESTABLISHED", tcpState(e))

	lastTCP := frame.TCP(frame.IP4(lastEther(conn).Payload()).Payload())
	assert.Equal(t, clientSeq+1, lastTCP.Seq())
	assert.Equal(t, peerSeq+1, lastTCP.Ack())
}

func tcpState(e *Engine) string { return e.tcp.State().String() }
