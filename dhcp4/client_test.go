package dhcp4

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiva-iot/netstack/arp"
	"github.com/tiva-iot/netstack/frame"
	"github.com/tiva-iot/netstack/timer"
)

var (
	testMAC      = net.HardwareAddr{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}
	testServerIP = net.IPv4(192, 168, 1, 1).To4()
	testOffered  = net.IPv4(192, 168, 1, 42).To4()
)

type fakeSender struct {
	sent []frame.Ether
}

func (f *fakeSender) Send(ether frame.Ether) error {
	cp := append(frame.Ether(nil), ether...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSender) last() DHCP4 {
	if len(f.sent) == 0 {
		return nil
	}
	ether := f.sent[len(f.sent)-1]
	ip := frame.IP4(ether.Payload())
	udp := frame.UDP(ip.Payload())
	return DHCP4(udp.Payload())
}

type fakeNetif struct {
	ip      net.IP
	subnet  net.IPMask
	gateway net.IP
	dns     net.IP
}

func (n *fakeNetif) SetIP(ip net.IP)           { n.ip = ip }
func (n *fakeNetif) SetSubnet(m net.IPMask)    { n.subnet = m }
func (n *fakeNetif) SetGateway(ip net.IP)      { n.gateway = ip }
func (n *fakeNetif) SetDNS(ip net.IP)          { n.dns = ip }

type fakeARP struct {
	probed []net.IP
}

func (a *fakeARP) Probe(ip net.IP) error {
	a.probed = append(a.probed, ip)
	return nil
}

type fakeRebooter struct {
	reasons []string
}

func (r *fakeRebooter) Fatal(reason string) {
	r.reasons = append(r.reasons, reason)
}

func newTestClient(t *testing.T) (*Client, *fakeSender, *fakeNetif, *fakeARP, *fakeRebooter, *timer.Registry) {
	t.Helper()
	sender := &fakeSender{}
	netif := &fakeNetif{}
	arpFake := &fakeARP{}
	reboot := &fakeRebooter{}
	timers := timer.New()

	seq := uint32(0xdeadbeef)
	c, err := New(Config{
		MAC:    testMAC,
		Sender: sender,
		Netif:  netif,
		ARP:    arpFake,
		Timers: timers,
		Reboot: reboot,
		Rand:   func() uint32 { return seq },
	})
	require.NoError(t, err)
	return c, sender, netif, arpFake, reboot, timers
}

// buildOfferOrAck constructs a server -> client DHCP frame as Marshal would
// produce it from the server side, for feeding into ProcessDhcpResponse.
func buildOfferOrAck(xid uint32, msgType MessageType, yiaddr net.IP, opts Options) frame.Ether {
	dhcpBuf := make([]byte, 1500)
	pkt := Marshal(dhcpBuf, OpReply, msgType, xid, testMAC, nil, yiaddr, false, opts)

	buf := make([]byte, frame.EthMaxFrame)
	ether := frame.EtherMarshalBinary(buf, frame.EthTypeIPv4, net.HardwareAddr{0, 1, 2, 3, 4, 5}, frame.EthBroadcast)
	ip := frame.IP4MarshalBinary(ether.Payload(), frame.DefaultTTL, testServerIP, frame.IP4Broadcast)
	udp := frame.UDPMarshalBinary(ip.Payload(), serverPort, clientPort)
	udp = udp.AppendPayload(pkt)
	udp.SetChecksum(testServerIP, frame.IP4Broadcast)
	ip = ip.SetPayload(udp, frame.ProtoUDP)
	return ether.SetPayload(ip)
}

func currentXid(sender *fakeSender) uint32 {
	return binary.BigEndian.Uint32(sender.last().XId())
}

func leaseOptions(total, t1, t2 uint32) Options {
	buf := make([]byte, 4)
	mk := func(v uint32) []byte {
		b := append([]byte(nil), buf...)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
	return Options{
		{Code: OptionServerIdentifier, Value: testServerIP},
		{Code: OptionSubnetMask, Value: net.IPv4(255, 255, 255, 0).To4()},
		{Code: OptionRouter, Value: net.IPv4(192, 168, 1, 1).To4()},
		{Code: OptionDomainNameServer, Value: net.IPv4(8, 8, 8, 8).To4()},
		{Code: OptionIPAddressLeaseTime, Value: mk(total)},
		{Code: OptionRenewalTimeT1, Value: mk(t1)},
		{Code: OptionRebindingTimeT2, Value: mk(t2)},
	}
}

// Scenario 1: happy-path lease acquisition end to end.
func TestHappyPathLease(t *testing.T) {
	c, sender, netif, arpFake, _, _ := newTestClient(t)

	c.Enable()
	assert.Equal(t, Init, c.State())

	c.Tick() // INIT -> send DISCOVER, state SELECTING
	assert.Equal(t, Selecting, c.State())
	assert.Equal(t, Discover, sender.last().ParseOptions().mustType(t))

	xid := currentXid(sender)
	offer := buildOfferOrAck(xid, Offer, testOffered, Options{
		{Code: OptionServerIdentifier, Value: testServerIP},
	})
	c.ProcessDhcpResponse(offer)
	assert.True(t, c.flags.request)

	c.Tick() // SELECTING -> send REQUEST, state REQUESTING
	assert.Equal(t, Requesting, c.State())
	assert.Equal(t, Request, sender.last().ParseOptions().mustType(t))

	ack := buildOfferOrAck(xid, Ack, testOffered, leaseOptions(600, 300, 525))
	c.ProcessDhcpResponse(ack)
	assert.Equal(t, TestingIP, c.State())
	assert.Len(t, arpFake.probed, 1)
	assert.Equal(t, testOffered.String(), arpFake.probed[0].String())

	c.onArpTimeout() // conflict-check window elapses clean
	c.Tick()          // TESTING_IP + arpAllClear -> BOUND

	assert.Equal(t, Bound, c.State())
	assert.Equal(t, testOffered.String(), netif.ip.String())
	lease := c.Lease()
	assert.EqualValues(t, 600, lease.Total)
	assert.EqualValues(t, 300, lease.T1)
	assert.EqualValues(t, 525, lease.T2)
}

// Scenario 2: ACK missing explicit T1/T2 falls back to the RFC 2131
// defaults (half the lease, 7/8 the lease).
func TestMissingT1T2Defaults(t *testing.T) {
	c, sender, _, _, _, _ := newTestClient(t)
	c.Enable()
	c.Tick()

	xid := currentXid(sender)
	offer := buildOfferOrAck(xid, Offer, testOffered, Options{
		{Code: OptionServerIdentifier, Value: testServerIP},
	})
	c.ProcessDhcpResponse(offer)
	c.Tick()

	ack := buildOfferOrAck(xid, Ack, testOffered, Options{
		{Code: OptionServerIdentifier, Value: testServerIP},
		{Code: OptionIPAddressLeaseTime, Value: func() []byte {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, 800)
			return b
		}()},
	})
	c.ProcessDhcpResponse(ack)

	lease := c.Lease()
	assert.EqualValues(t, 800, lease.Total)
	assert.EqualValues(t, 400, lease.T1)
	assert.EqualValues(t, 700, lease.T2)
}

// Scenario 3: an ARP reply claiming the offered address from a foreign MAC
// during the TESTING_IP window is a conflict; the client declines and
// restarts from INIT.
func TestConflictDuringTestingIP(t *testing.T) {
	c, sender, _, arpFake, _, _ := newTestClient(t)
	c.Enable()
	c.Tick()

	xid := currentXid(sender)
	offer := buildOfferOrAck(xid, Offer, testOffered, Options{
		{Code: OptionServerIdentifier, Value: testServerIP},
	})
	c.ProcessDhcpResponse(offer)
	c.Tick()

	ack := buildOfferOrAck(xid, Ack, testOffered, leaseOptions(600, 300, 525))
	c.ProcessDhcpResponse(ack)
	assert.Equal(t, TestingIP, c.State())
	_ = arpFake

	foreignMAC := net.HardwareAddr{0x00, 0x99, 0x99, 0x99, 0x99, 0x99}
	reply, err := arp.MarshalBinary(nil, arp.OperationReply,
		frame.Addr{MAC: foreignMAC, IP: testOffered},
		frame.Addr{MAC: testMAC, IP: testOffered},
	)
	require.NoError(t, err)

	c.ProcessArpResponse(reply)
	assert.Equal(t, Init, c.State())
}

// Scenario 4: T1 firing while BOUND requests a renewal, which Tick sends
// as a unicast REQUEST to the lease's own server.
func TestRenewOnT1(t *testing.T) {
	c, sender, _, _, _, _ := newTestClient(t)
	c.Enable()
	c.Tick()

	xid := currentXid(sender)
	c.ProcessDhcpResponse(buildOfferOrAck(xid, Offer, testOffered, Options{
		{Code: OptionServerIdentifier, Value: testServerIP},
	}))
	c.Tick()
	c.ProcessDhcpResponse(buildOfferOrAck(xid, Ack, testOffered, leaseOptions(600, 300, 525)))
	c.onArpTimeout()
	c.Tick()
	require.Equal(t, Bound, c.State())

	c.onT1Timeout()
	c.Tick()

	assert.Equal(t, Renewing, c.State())
	assert.Equal(t, Request, sender.last().ParseOptions().mustType(t))
}

// Scenario 6: exceeding the failed-discover threshold is fatal; the client
// reports through Rebooter rather than resetting itself.
func TestDiscoverRebootThreshold(t *testing.T) {
	c, _, _, _, reboot, _ := newTestClient(t)
	c.Enable()
	c.Tick()

	c.onDiscoveryTimeout()
	assert.Empty(t, reboot.reasons)
	assert.True(t, c.flags.extraDiscoverNeeded)

	c.onDiscoveryTimeout()
	require.Len(t, reboot.reasons, 1)
}

func (o Options) mustType(t *testing.T) MessageType {
	t.Helper()
	v, ok := o.Get(OptionDHCPMessageType)
	require.True(t, ok)
	require.Len(t, v, 1)
	return MessageType(v[0])
}
