package dhcp4

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tiva-iot/netstack/arp"
	"github.com/tiva-iot/netstack/frame"
	"github.com/tiva-iot/netstack/internal/fastlog"
	"github.com/tiva-iot/netstack/timer"
)

const module = "dhcp4"

// State is one of the DHCP client's lifecycle states (C4). Exactly one
// value holds at any time; the zero value is Disabled.
type State int

const (
	Disabled State = iota
	Init
	Selecting
	Requesting
	TestingIP
	Bound
	Renewing
	Rebinding
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "DISABLED"
	case Init:
		return "INIT"
	case Selecting:
		return "SELECTING"
	case Requesting:
		return "REQUESTING"
	case TestingIP:
		return "TESTING_IP"
	case Bound:
		return "BOUND"
	case Renewing:
		return "RENEWING"
	case Rebinding:
		return "REBINDING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Lease is the client's view of its binding (§3). It is the zero value
// until a DHCPACK is committed, and is reset to the zero value on Disable
// or on lease expiry.
type Lease struct {
	Offered net.IP
	Server  net.IP
	Total   uint32
	T1      uint32
	T2      uint32
}

// Counters tracks the monotonic failure counts that drive the reboot/
// restart thresholds in §4.1.
type Counters struct {
	FailedDiscovers uint8
	FailedRequests  uint8
}

type flags struct {
	renew                  bool
	rebind                 bool
	release                bool
	request                bool
	extraDiscoverNeeded    bool
	arpAllClear            bool
	conflictResolutionMode bool
	sendTestArp            bool
}

// Timing constants grounded on original_source/dhcp.c.
const (
	discoveryPeriod    = 5
	requestPeriod      = 5
	arpTimeoutSeconds  = 20
	testArpDelaySeconds = 10

	maxFailedDiscovers = 2
	maxFailedRequests  = 4
)

// Sender is the minimal link-layer collaborator the DHCP client needs to
// put a fully framed packet on the wire.
type Sender interface {
	Send(ether frame.Ether) error
}

// Netif is the subset of the eth-driver collaborator contract (§6) the
// DHCP client writes to when it acquires, updates or releases the
// interface's network configuration.
type Netif interface {
	SetIP(ip net.IP)
	SetSubnet(mask net.IPMask)
	SetGateway(ip net.IP)
	SetDNS(ip net.IP)
}

// ARPProber sends the conflict-detection probe the client issues while in
// TestingIP.
type ARPProber interface {
	Probe(ip net.IP) error
}

// Rebooter is the platform reset collaborator (§7 "Reboot as an error
// path" redesign): the FSM never resets the device directly, it reports a
// reason and lets the platform decide what a fatal condition means.
type Rebooter interface {
	Fatal(reason string)
}

var _ ARPProber = (*arp.Handler)(nil)

// Config holds the collaborators and tunables a Client is built from.
type Config struct {
	MAC      net.HardwareAddr
	Sender   Sender
	Netif    Netif
	ARP      ARPProber
	Timers   *timer.Registry
	Reboot   Rebooter

	// StaticIP, if non-nil and non-zero, is the EEPROM-configured static
	// address (§6 slot 2). Enable logs a warning if DHCP is being turned
	// on over a configured static address (§2.3 CheckAddr-style guard).
	StaticIP net.IP

	// Rand returns a fresh 32-bit transaction identifier. Defaults to
	// math/rand; tests override it for determinism.
	Rand func() uint32
}

// Client is the owned DHCP client FSM (C4): no package-level globals, all
// state lives on this struct, constructed via New.
type Client struct {
	mac      net.HardwareAddr
	sender   Sender
	netif    Netif
	arp      ARPProber
	timers   *timer.Registry
	reboot   Rebooter
	rand     func() uint32
	staticIP net.IP

	mu       sync.Mutex
	state    State
	xid      uint32
	lease    Lease
	counters Counters
	flags    flags

	discoveryHandle timer.Handle
	requestHandle   timer.Handle
	t1Handle        timer.Handle
	t2Handle        timer.Handle
	leaseHandle     timer.Handle
	arpTimeout      timer.Handle
	testArpHandle   timer.Handle
}

// New validates cfg and constructs a Client in the Disabled state.
func New(cfg Config) (*Client, error) {
	if cfg.MAC == nil {
		return nil, fmt.Errorf("dhcp4: %w: MAC required", errInvalidConfig)
	}
	if cfg.Sender == nil || cfg.Netif == nil || cfg.ARP == nil || cfg.Timers == nil || cfg.Reboot == nil {
		return nil, fmt.Errorf("dhcp4: %w: collaborators required", errInvalidConfig)
	}
	c := &Client{
		mac:      cfg.MAC,
		sender:   cfg.Sender,
		netif:    cfg.Netif,
		arp:      cfg.ARP,
		timers:   cfg.Timers,
		reboot:   cfg.Reboot,
		rand:     cfg.Rand,
		staticIP: cfg.StaticIP,
		state:    Disabled,
	}
	if c.rand == nil {
		c.rand = rand.Uint32
	}
	return c, nil
}

var errInvalidConfig = fmt.Errorf("invalid config")

// State reports the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lease returns a copy of the client's current lease record.
func (c *Client) Lease() Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease
}

// IsEnabled reports whether the client is anywhere outside Disabled.
func (c *Client) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Disabled
}

// LeaseSeconds returns the total lease duration negotiated with the
// server, or zero if no lease is held.
func (c *Client) LeaseSeconds() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease.Total
}

// SetStaticIP records the EEPROM-loaded static address (§6 slot 2) for the
// §2.3 CheckAddr-style guard Enable performs. The engine calls this once at
// boot, after loading the EEPROM record but before deciding whether to
// enable DHCP.
func (c *Client) SetStaticIP(ip net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staticIP = ip
}

// Enable transitions Disabled -> Init. It is a no-op if already enabled.
// §2.3's CheckAddr-style guard: if a static address is configured, enabling
// DHCP over it is allowed but logged, since DHCP wins once it binds.
func (c *Client) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Disabled {
		return
	}
	if c.staticIP != nil && !c.staticIP.Equal(net.IPv4zero) {
		log.WithFields(log.Fields{"module": module, "staticIP": c.staticIP}).
			Warn("dhcp4: enabling over a configured static address; DHCP wins once bound")
	}
	c.setState(Init)
}

// Disable stops all timers, clears every pending flag, releases the
// interface address and resets the lease record to its zero value (§2.3).
func (c *Client) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAllTimersLocked()
	c.flags = flags{}
	c.lease = Lease{}
	c.netif.SetIP(frame.IP4Zero)
	c.setState(Disabled)
}

// RequestRenew, RequestRebind and RequestRelease set the corresponding
// pending flag. They never block and never transmit directly (§4.1).
func (c *Client) RequestRenew() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.renew = true
}

func (c *Client) RequestRebind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.rebind = true
}

func (c *Client) RequestRelease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.release = true
}

func (c *Client) setState(next State) {
	if c.state == next {
		return
	}
	fastlog.NewLine(module, "state transition").String("from", c.state.String()).String("to", next.String()).Write()
	c.state = next
}

func (c *Client) stopAllTimersLocked() {
	c.timers.Stop(c.discoveryHandle)
	c.timers.Stop(c.requestHandle)
	c.timers.Stop(c.t1Handle)
	c.timers.Stop(c.t2Handle)
	c.timers.Stop(c.leaseHandle)
	c.timers.Stop(c.arpTimeout)
	c.timers.Stop(c.testArpHandle)
}

func (c *Client) regenerateXid() {
	c.xid = c.rand()
}

// currentSrcIP implements I1/I2: the interface's own address in
// Bound/Renewing/Rebinding, 0.0.0.0 everywhere else.
func (c *Client) currentSrcIP() net.IP {
	switch c.state {
	case Bound, Renewing, Rebinding:
		return c.lease.Offered
	default:
		return frame.IP4Zero
	}
}

func clientIdentifier(mac net.HardwareAddr) []byte {
	id := make([]byte, 0, 1+len(mac))
	id = append(id, 1) // hardware type: ethernet
	id = append(id, mac...)
	return id
}

var parameterRequestList = []byte{
	OptionSubnetMask,
	OptionRouter,
	OptionDomainNameServer,
	OptionRenewalTimeT1,
	OptionRebindingTimeT2,
}

// transmit builds and sends one DHCP message (§4.1 "Frame construction
// rules"). ciaddr may be nil. dstIP/broadcast select the IP-layer
// destination and the BOOTP broadcast bit; the Ethernet destination is
// always the broadcast address, matching original_source/dhcp.c.
func (c *Client) transmit(msgType MessageType, ciaddr net.IP, broadcast bool, dstIP net.IP, opts Options) error {
	dhcpBuf := make([]byte, 1500)
	pkt := Marshal(dhcpBuf, OpRequest, msgType, c.xid, c.mac, ciaddr, nil, broadcast, opts)

	srcIP := c.currentSrcIP()
	buf := make([]byte, frame.EthMaxFrame)
	ether := frame.EtherMarshalBinary(buf, frame.EthTypeIPv4, c.mac, frame.EthBroadcast)
	ip := frame.IP4MarshalBinary(ether.Payload(), frame.DefaultTTL, srcIP, dstIP)
	udp := frame.UDPMarshalBinary(ip.Payload(), clientPort, serverPort)
	udp = udp.AppendPayload(pkt)
	udp.SetChecksum(srcIP, dstIP)
	ip = ip.SetPayload(udp, frame.ProtoUDP)
	ether = ether.SetPayload(ip)

	fastlog.NewLine(module, "send").String("type", msgType.String()).ByteArray("xid", dhcpBuf[4:8]).IP("dst", dstIP).Write()
	return c.sender.Send(ether)
}

func (c *Client) sendDiscover() error {
	c.regenerateXid()
	opts := Options{{Code: OptionParameterRequestList, Value: parameterRequestList}}
	return c.transmit(Discover, nil, true, frame.IP4Broadcast, opts)
}

func (c *Client) sendRequestAfterOffer() error {
	opts := Options{
		{Code: OptionParameterRequestList, Value: parameterRequestList},
		{Code: OptionServerIdentifier, Value: c.lease.Server.To4()},
		{Code: OptionRequestedIPAddress, Value: c.lease.Offered.To4()},
	}
	return c.transmit(Request, nil, true, frame.IP4Broadcast, opts)
}

func (c *Client) sendRequestRenew() error {
	opts := Options{
		{Code: OptionParameterRequestList, Value: parameterRequestList},
		{Code: OptionClientIdentifier, Value: clientIdentifier(c.mac)},
	}
	return c.transmit(Request, c.lease.Offered, false, c.lease.Server, opts)
}

func (c *Client) sendRequestRebind() error {
	opts := Options{{Code: OptionParameterRequestList, Value: parameterRequestList}}
	return c.transmit(Request, c.lease.Offered, true, frame.IP4Broadcast, opts)
}

func (c *Client) sendRelease() error {
	opts := Options{{Code: OptionServerIdentifier, Value: c.lease.Server.To4()}}
	return c.transmit(Release, c.lease.Offered, c.state != Renewing, c.lease.Server, opts)
}

func (c *Client) sendDecline() error {
	opts := Options{
		{Code: OptionServerIdentifier, Value: c.lease.Server.To4()},
		{Code: OptionRequestedIPAddress, Value: c.lease.Offered.To4()},
	}
	return c.transmit(Decline, nil, true, frame.IP4Broadcast, opts)
}

// Tick runs the DHCP client's once-per-main-loop "send pending" step
// (§4.1). Exactly one branch fires per call.
func (c *Client) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.flags.sendTestArp:
		c.flags.sendTestArp = false
		c.arp.Probe(c.lease.Offered)

	case c.state == Init:
		c.sendDiscover()
		c.setState(Selecting)
		if !c.flags.extraDiscoverNeeded {
			if !c.timers.Restart(c.discoveryHandle) {
				c.discoveryHandle = c.timers.StartPeriodic(c.discoveryHandle, discoveryPeriod, c.onDiscoveryTimeout)
			}
		}

	case c.flags.release:
		c.flags.release = false
		c.sendRelease()
		c.netif.SetIP(frame.IP4Zero)
		c.stopAllTimersLocked()

	case c.flags.renew:
		c.flags.renew = false
		c.flags.request = false
		c.setState(Renewing)
		c.sendRequestRenew()
		if !c.timers.Restart(c.requestHandle) {
			c.requestHandle = c.timers.StartPeriodic(c.requestHandle, requestPeriod, c.onRequestTimeout)
		}

	case c.flags.rebind:
		c.flags.rebind = false
		c.setState(Rebinding)
		c.sendRequestRebind()
		if !c.timers.Restart(c.requestHandle) {
			c.requestHandle = c.timers.StartPeriodic(c.requestHandle, requestPeriod, c.onRequestTimeout)
		}

	case c.flags.request:
		c.flags.request = false
		switch c.state {
		case Selecting:
			c.sendRequestAfterOffer()
			c.setState(Requesting)
		case Renewing:
			c.sendRequestRenew()
		case Rebinding:
			c.sendRequestRebind()
		}
		if !c.timers.Restart(c.requestHandle) {
			c.requestHandle = c.timers.StartPeriodic(c.requestHandle, requestPeriod, c.onRequestTimeout)
		}

	case c.flags.arpAllClear && c.state == TestingIP:
		c.flags.arpAllClear = false
		c.netif.SetIP(c.lease.Offered)
		c.setState(Bound)
		c.leaseHandle = c.timers.StartOneshot(c.leaseHandle, int(c.lease.Total), c.onLeaseTimeout)
		c.t1Handle = c.timers.StartOneshot(c.t1Handle, int(c.lease.T1), c.onT1Timeout)
		c.t2Handle = c.timers.StartOneshot(c.t2Handle, int(c.lease.T2), c.onT2Timeout)
	}
}

// ProcessDhcpResponse validates and dispatches an inbound DHCP frame
// already classified as DHCP by the C6 dispatcher.
func (c *Client) ProcessDhcpResponse(ether frame.Ether) {
	ip := frame.IP4(ether.Payload())
	if !ip.IsValid() {
		return
	}
	udp := frame.UDP(ip.Payload())
	if len(udp) < frame.UDPHeaderLen || udp.SrcPort() != serverPort || udp.DstPort() != clientPort {
		return
	}
	pkt := DHCP4(udp.Payload())
	if !pkt.IsValid() || pkt.Op() != OpReply {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if binary.BigEndian.Uint32(pkt.XId()) != c.xid {
		return
	}
	opts := pkt.ParseOptions()
	typeVal, ok := opts.Get(OptionDHCPMessageType)
	if !ok || len(typeVal) != 1 {
		return
	}
	msgType := MessageType(typeVal[0])

	switch {
	case c.state == Selecting && msgType == Offer:
		c.handleOffer(pkt, opts)
	case c.state == Requesting && msgType == Ack:
		c.handleAck(pkt, opts)
	case (c.state == Renewing || c.state == Rebinding) && msgType == Ack:
		c.handleRenewRebindAck()
	}
}

func (c *Client) handleOffer(pkt DHCP4, opts Options) {
	c.timers.Stop(c.discoveryHandle)
	c.flags.extraDiscoverNeeded = false
	c.counters.FailedDiscovers = 0

	c.lease.Offered = append(net.IP(nil), pkt.YIAddr()...)
	if srv, ok := opts.Get(OptionServerIdentifier); ok && len(srv) == 4 {
		c.lease.Server = net.IP(srv)
	}
	c.flags.request = true
}

func (c *Client) handleAck(pkt DHCP4, opts Options) {
	c.timers.Stop(c.requestHandle)

	leaseVal, ok := opts.Get(OptionIPAddressLeaseTime)
	if !ok || len(leaseVal) != 4 {
		// §7(a): lease missing is fatal for this ACK; it is not committed.
		fastlog.NewLine(module, "ack missing lease time, dropping").Write()
		return
	}

	c.lease.Offered = append(net.IP(nil), pkt.YIAddr()...)
	if srv, ok := opts.Get(OptionServerIdentifier); ok && len(srv) == 4 {
		c.lease.Server = net.IP(srv)
	}
	if mask, ok := opts.Get(OptionSubnetMask); ok && len(mask) == 4 {
		c.netif.SetSubnet(net.IPMask(mask))
	}
	if gw, ok := opts.Get(OptionRouter); ok && len(gw) == 4 {
		c.netif.SetGateway(net.IP(gw))
	}
	if dns, ok := opts.Get(OptionDomainNameServer); ok && len(dns) >= 4 {
		c.netif.SetDNS(net.IP(dns[:4]))
	}

	c.lease.Total = binary.BigEndian.Uint32(leaseVal)
	if t1, ok := opts.Get(OptionRenewalTimeT1); ok && len(t1) == 4 {
		c.lease.T1 = binary.BigEndian.Uint32(t1)
	} else {
		c.lease.T1 = c.lease.Total / 2
	}
	if t2, ok := opts.Get(OptionRebindingTimeT2); ok && len(t2) == 4 {
		c.lease.T2 = binary.BigEndian.Uint32(t2)
	} else {
		c.lease.T2 = c.lease.Total * 7 / 8
	}

	c.counters.FailedRequests = 0
	c.setState(TestingIP)
	c.flags.conflictResolutionMode = true
	c.arpTimeout = c.timers.StartOneshot(c.arpTimeout, arpTimeoutSeconds, c.onArpTimeout)
	c.testArpHandle = c.timers.StartOneshot(c.testArpHandle, testArpDelaySeconds, c.onSendTestArp)
	c.arp.Probe(c.lease.Offered)
}

func (c *Client) handleRenewRebindAck() {
	c.timers.Stop(c.requestHandle)
	if !c.timers.Restart(c.leaseHandle) {
		c.leaseHandle = c.timers.StartOneshot(c.leaseHandle, int(c.lease.Total), c.onLeaseTimeout)
	}
	if !c.timers.Restart(c.t1Handle) {
		c.t1Handle = c.timers.StartOneshot(c.t1Handle, int(c.lease.T1), c.onT1Timeout)
	}
	if !c.timers.Restart(c.t2Handle) {
		c.t2Handle = c.timers.StartOneshot(c.t2Handle, int(c.lease.T2), c.onT2Timeout)
	}
	c.setState(Bound)
}

// ProcessArpResponse implements the conflict-detection check in §4.1: a
// reply naming our own offered address from a MAC that isn't ours means
// another host is already using it.
func (c *Client) ProcessArpResponse(pkt arp.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flags.arpAllClear || !c.flags.conflictResolutionMode {
		return
	}
	c.timers.Stop(c.arpTimeout)

	if pkt.SrcMAC().String() == c.mac.String() {
		c.timers.Restart(c.arpTimeout)
		return
	}
	if c.lease.Offered != nil && pkt.SrcIP().Equal(c.lease.Offered) {
		fastlog.NewLine(module, "ip conflict detected").IP("ip", c.lease.Offered).MAC("other", pkt.SrcMAC()).Write()
		c.sendDecline()
		c.setState(Init)
	}
}

func (c *Client) onDiscoveryTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.FailedDiscovers++
	if c.counters.FailedDiscovers >= maxFailedDiscovers {
		c.reboot.Fatal("dhcp4: exceeded failed discover threshold")
		return
	}
	c.flags.extraDiscoverNeeded = true
	c.setState(Init)
}

func (c *Client) onRequestTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.request = true
	c.counters.FailedRequests++
	if c.counters.FailedRequests >= maxFailedRequests {
		c.setState(Init)
	}
}

func (c *Client) onT1Timeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.renew = true
}

func (c *Client) onT2Timeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.rebind = true
}

func (c *Client) onLeaseTimeout() {
	c.mu.Lock()
	c.setState(Disabled)
	c.lease = Lease{}
	c.mu.Unlock()
	c.reboot.Fatal("dhcp4: lease expired")
}

func (c *Client) onArpTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.arpAllClear = true
	c.flags.conflictResolutionMode = false
}

func (c *Client) onSendTestArp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.sendTestArp = true
}
