// Package tcp implements the TCP client finite state machine (C5): a
// three-way handshake, a single data-carrying ESTABLISHED state, and the
// passive-close half of teardown (CLOSE_WAIT -> CLOSED). Retransmission
// and congestion control are out of scope; every segment is sent once.
package tcp

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/tiva-iot/netstack/arp"
	"github.com/tiva-iot/netstack/frame"
	"github.com/tiva-iot/netstack/internal/fastlog"
)

const module = "tcp"

// State is one of the subset of RFC 793 states this client exercises.
type State int

const (
	Closed State = iota
	SynSent
	Established
	CloseWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYN_SENT"
	case Established:
		return "ESTABLISHED"
	case CloseWait:
		return "CLOSE_WAIT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	windowSize = 1024

	// defaultGatewayIP is the next hop this client resolves via ARP before
	// it can address any segment off-link.
	defaultGatewayIP = "192.168.1.1"
)

// Sender is the minimal link-layer collaborator needed to transmit a fully
// framed segment.
type Sender interface {
	Send(ether frame.Ether) error
}

// ARPRequester resolves the hardware address for an IP address already on
// the local subnet (used once, for the gateway).
type ARPRequester interface {
	Request(srcIP, dstIP net.IP) error
}

var _ ARPRequester = (*arp.Handler)(nil)

// Socket holds one TCP connection's addressing and sequencing state (§3).
// RemoteMAC is the gateway's resolved hardware address: every segment this
// client sends leaves the LAN through the gateway, so RemoteMAC is always
// the next hop, not necessarily the peer itself.
type Socket struct {
	LocalIP    net.IP
	LocalPort  uint16
	RemoteIP   net.IP
	RemotePort uint16
	RemoteMAC  net.HardwareAddr

	Seq         uint32
	AckExpected uint32
}

// Config holds the collaborators and addressing a Client is built from.
type Config struct {
	MAC        net.HardwareAddr
	LocalIP    net.IP
	LocalPort  uint16
	RemoteIP   net.IP
	RemotePort uint16

	// GatewayIP defaults to 192.168.1.1 if unset.
	GatewayIP net.IP

	Sender Sender
	ARP    ARPRequester

	// Rand returns the initial sequence number. Defaults to math/rand;
	// tests override it for determinism.
	Rand func() uint32
}

type flags struct {
	syn bool
	gw  bool
	fin bool
}

// Client is the owned TCP client FSM: no package-level globals, constructed
// via New.
type Client struct {
	mac       net.HardwareAddr
	sender    Sender
	arpClient ARPRequester
	gatewayIP net.IP
	rand      func() uint32

	mu     sync.Mutex
	state  State
	socket Socket
	flags  flags
}

// New validates cfg and constructs a Client in the Closed state.
func New(cfg Config) (*Client, error) {
	if cfg.MAC == nil || cfg.Sender == nil || cfg.ARP == nil {
		return nil, fmt.Errorf("tcp: %w: collaborators required", errInvalidConfig)
	}
	if cfg.RemoteIP == nil {
		return nil, fmt.Errorf("tcp: %w: remote IP required", errInvalidConfig)
	}
	localIP := cfg.LocalIP
	if localIP == nil {
		// The interface may not have an address yet (DHCP not bound);
		// the owning engine calls SetLocalIP once it does.
		localIP = frame.IP4Zero
	}
	gw := cfg.GatewayIP
	if gw == nil {
		gw = net.ParseIP(defaultGatewayIP)
	}
	c := &Client{
		mac:       cfg.MAC,
		sender:    cfg.Sender,
		arpClient: cfg.ARP,
		gatewayIP: gw,
		rand:      cfg.Rand,
		state:     Closed,
		socket: Socket{
			LocalIP:    localIP,
			LocalPort:  cfg.LocalPort,
			RemoteIP:   cfg.RemoteIP,
			RemotePort: cfg.RemotePort,
		},
	}
	if c.rand == nil {
		c.rand = rand.Uint32
	}
	return c, nil
}

var errInvalidConfig = fmt.Errorf("invalid config")

// State reports the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Socket returns a copy of the connection's current addressing/sequencing
// state.
func (c *Client) Socket() Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket
}

// SetLocalIP updates the socket's local address. The owning engine calls
// this whenever the DHCP client acquires or releases the interface
// address, since this client's local IP is not necessarily static.
func (c *Client) SetLocalIP(ip net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.socket.LocalIP = ip
}

// SynReq requests that Tick send the opening SYN. Tick acts on the request
// only while Closed; made in any other state, it stays pending until then.
func (c *Client) SynReq() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.syn = true
}

// GatewayReq requests that Tick resolve the configured gateway's hardware
// address via ARP before any segment can be addressed.
func (c *Client) GatewayReq() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.gw = true
}

// FinReq requests that Tick send a FIN. Only meaningful from Established.
func (c *Client) FinReq() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.fin = true
}

func (c *Client) setState(next State) {
	if c.state == next {
		return
	}
	fastlog.NewLine(module, "state transition").String("from", c.state.String()).String("to", next.String()).Write()
	c.state = next
}

// sendSegment builds and transmits one TCP segment (Ether/IP4/TCP, no
// options, window fixed at 1024) addressed through the resolved gateway
// MAC, mirroring original_source/tcp/tcp.c's tcpSendMessage.
func (c *Client) sendSegment(flags uint8, seq, ack uint32) error {
	if c.socket.RemoteMAC == nil {
		return fmt.Errorf("tcp: %w", errGatewayUnresolved)
	}
	buf := make([]byte, frame.EthMaxFrame)
	ether := frame.EtherMarshalBinary(buf, frame.EthTypeIPv4, c.mac, c.socket.RemoteMAC)
	ip := frame.IP4MarshalBinary(ether.Payload(), frame.DefaultTTL, c.socket.LocalIP, c.socket.RemoteIP)
	tcp := frame.TCPMarshalBinary(ip.Payload(), c.socket.LocalPort, c.socket.RemotePort, seq, ack, flags, windowSize)
	ip = ip.SetPayload(tcp, frame.ProtoTCP)
	tcpView := frame.TCP(ip.Payload())
	tcpView.SetChecksum(c.socket.LocalIP, c.socket.RemoteIP, len(tcpView))
	ether = ether.SetPayload(ip)

	fastlog.NewLine(module, "send").Uint8("flags", flags).Uint32("seq", seq).Uint32("ack", ack).Write()
	return c.sender.Send(ether)
}

var errGatewayUnresolved = fmt.Errorf("gateway MAC not yet resolved")

// Tick runs the TCP client's once-per-main-loop "send pending" step. The
// three flags are independent of each other (unlike DHCP's Tick, this is
// not a single else-if chain): a gateway resolve request and a SYN request
// can both be pending in the same call.
func (c *Client) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flags.gw {
		c.flags.gw = false
		c.arpClient.Request(c.socket.LocalIP, c.gatewayIP)
	}

	if c.flags.syn && c.state == Closed {
		c.flags.syn = false
		c.socket.Seq = c.rand()
		c.socket.AckExpected = 0
		if err := c.sendSegment(frame.TCPFlagSYN, c.socket.Seq, 0); err != nil {
			fastlog.NewLine(module, "syn send failed").Error(err).Write()
			return
		}
		c.socket.Seq++
		c.setState(SynSent)
	}

	if c.flags.fin && c.state == Established {
		c.flags.fin = false
		if err := c.sendSegment(frame.TCPFlagFIN|frame.TCPFlagACK, c.socket.Seq, c.socket.AckExpected); err != nil {
			fastlog.NewLine(module, "fin send failed").Error(err).Write()
			return
		}
		c.socket.Seq++
		c.setState(CloseWait)
	}
}

// ProcessArpResponse records the gateway's resolved hardware address onto
// the socket for reuse by every subsequent segment.
func (c *Client) ProcessArpResponse(pkt arp.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pkt.SrcIP().Equal(c.gatewayIP) {
		c.socket.RemoteMAC = append(net.HardwareAddr(nil), pkt.SrcMAC()...)
		fastlog.NewLine(module, "gateway resolved").MAC("mac", c.socket.RemoteMAC).Write()
	}
}

// ProcessTcpResponse implements the client's half of the handshake and
// passive close, grounded on original_source/tcp/tcp.c's
// tcpProcessTcpResponse.
func (c *Client) ProcessTcpResponse(ether frame.Ether) {
	ip := frame.IP4(ether.Payload())
	if !ip.IsValid() || ip.Protocol() != frame.ProtoTCP {
		return
	}
	tcp := frame.TCP(ip.Payload())
	if len(tcp) < frame.TCPHeaderLen {
		return
	}
	if tcp.DstPort() != c.socket.LocalPort || tcp.SrcPort() != c.socket.RemotePort {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	segSeq := tcp.Seq()
	segAck := tcp.Ack()

	// tcpValidateNumber (§4.2): the inbound ack must equal our current
	// seq or the segment is out of sequence and silently dropped.
	if !c.validAck(segAck) {
		return
	}

	switch {
	case c.state == SynSent && tcp.HasFlags(frame.TCPFlagSYN|frame.TCPFlagACK):
		c.socket.Seq = segAck
		c.socket.AckExpected = segSeq + 1
		c.sendSegment(frame.TCPFlagACK, c.socket.Seq, c.socket.AckExpected)
		c.setState(Established)

	case c.state == Established && tcp.HasFlags(frame.TCPFlagACK):
		c.socket.Seq = segAck
		switch {
		case tcp.HasFlags(frame.TCPFlagFIN):
			c.socket.AckExpected = segSeq + 1
			c.sendSegment(frame.TCPFlagACK, c.socket.Seq, c.socket.AckExpected)
			c.setState(Closed)
		case tcp.HasFlags(frame.TCPFlagPSH):
			dataLen := ip.TotalLen() - uint16(ip.IHL()) - uint16(tcp.DataOffset())
			c.socket.AckExpected = segSeq + uint32(dataLen)
			c.sendSegment(frame.TCPFlagACK, c.socket.Seq, c.socket.AckExpected)
			fastlog.NewLine(module, "data received").Uint16("bytes", dataLen).Write()
		}

	case c.state == CloseWait && tcp.HasFlags(frame.TCPFlagACK):
		c.setState(Closed)
	}
}

// validAck implements tcpValidateNumber (§4.2): the inbound ack must equal
// our current seq, otherwise the segment is out of sequence.
func (c *Client) validAck(segAck uint32) bool {
	return segAck == c.socket.Seq
}
