// Package netstack wires the DHCP client (C4), the TCP client (C5), ARP
// and a timer registry (C3) into the cooperative main loop described in
// §2: each pass ticks both FSMs' pending-send step, then classifies and
// dispatches whatever frame arrived (C6). Engine is the single owned
// record every operation hangs off (§9 "Global FSM state" redesign: no
// package-level state, the controller is the only mutator).
package netstack

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tiva-iot/netstack/arp"
	"github.com/tiva-iot/netstack/dhcp4"
	"github.com/tiva-iot/netstack/eeprom"
	"github.com/tiva-iot/netstack/frame"
	"github.com/tiva-iot/netstack/internal/fastlog"
	"github.com/tiva-iot/netstack/linklayer"
	"github.com/tiva-iot/netstack/tcp"
	"github.com/tiva-iot/netstack/timer"
)

const module = "netstack"

// pollPeriod is how often the foreground loop drives each FSM's Tick and
// re-checks for an inbound frame when none is immediately available.
const pollPeriod = 100 * time.Millisecond

// rxQueueDepth bounds how many inbound frames the receive goroutine may
// buffer ahead of the foreground loop before it blocks.
const rxQueueDepth = 64

// Config holds the collaborators and static addressing an Engine is built
// from.
type Config struct {
	MAC  net.HardwareAddr
	Conn linklayer.Conn

	// EEPROM, if non-nil, is consulted at Boot for the DHCP-enabled flag
	// and static fallback addresses (§6). A nil EEPROM boots with DHCP
	// enabled, matching a freshly flashed device.
	EEPROM *eeprom.Store

	// TCP static addressing: this client always dials exactly one peer.
	TCPLocalPort  uint16
	TCPRemoteIP   net.IP
	TCPRemotePort uint16
	TCPGatewayIP  net.IP

	// OnFatal receives the reason string whenever the DHCP FSM or the shell
	// reports a fatal condition (lease expiry, exceeded discover threshold,
	// or the shell's "reboot" command); the TCP FSM reports none. It is the platform reset binding (§9
	// "Reboot as an error path"); a nil OnFatal only logs.
	OnFatal func(reason string)
}

// Engine is the composition root (C6 dispatcher plus the cooperative main
// loop of §2).
type Engine struct {
	mac    net.HardwareAddr
	conn   linklayer.Conn
	netif  *Netif
	timers *timer.Registry
	store  *eeprom.Store
	onFatal func(reason string)

	arpHandler *arp.Handler
	dhcp       *dhcp4.Client
	tcp        *tcp.Client

	rxCh chan frame.Ether
}

var errInvalidConfig = fmt.Errorf("invalid config")

// New validates cfg and wires an Engine in the boot-ready state: the DHCP
// and TCP clients exist but DHCP is still Disabled until Boot (or a shell
// "dhcp on") enables it.
func New(cfg Config) (*Engine, error) {
	if cfg.MAC == nil || cfg.Conn == nil {
		return nil, fmt.Errorf("netstack: %w: MAC and Conn required", errInvalidConfig)
	}
	if cfg.TCPRemoteIP == nil {
		return nil, fmt.Errorf("netstack: %w: TCPRemoteIP required", errInvalidConfig)
	}

	e := &Engine{
		mac:     cfg.MAC,
		conn:    cfg.Conn,
		netif:   &Netif{},
		timers:  timer.New(),
		store:   cfg.EEPROM,
		onFatal: cfg.OnFatal,
		rxCh:    make(chan frame.Ether, rxQueueDepth),
	}
	e.arpHandler = &arp.Handler{MAC: cfg.MAC, Sender: cfg.Conn}

	dhcpClient, err := dhcp4.New(dhcp4.Config{
		MAC:    cfg.MAC,
		Sender: cfg.Conn,
		Netif:  e.netif,
		ARP:    e.arpHandler,
		Timers: e.timers,
		Reboot: e,
	})
	if err != nil {
		return nil, fmt.Errorf("netstack: dhcp4.New: %w", err)
	}
	e.dhcp = dhcpClient

	tcpClient, err := tcp.New(tcp.Config{
		MAC:           cfg.MAC,
		LocalPort:     cfg.TCPLocalPort,
		RemoteIP:      cfg.TCPRemoteIP,
		RemotePort:    cfg.TCPRemotePort,
		GatewayIP:     cfg.TCPGatewayIP,
		Sender:        cfg.Conn,
		ARP:           e.arpHandler,
	})
	if err != nil {
		return nil, fmt.Errorf("netstack: tcp.New: %w", err)
	}
	e.tcp = tcpClient

	return e, nil
}

// DHCP, TCP and Netif expose the three collaborators the shell drives and
// reports on.
func (e *Engine) DHCP() *dhcp4.Client { return e.dhcp }
func (e *Engine) TCP() *tcp.Client    { return e.tcp }
func (e *Engine) Netif() *Netif       { return e.netif }

// Fatal implements dhcp4.Rebooter and shell.Rebooter (§9 "Reboot as an
// error path"): the FSM reports a reason, the platform binding (OnFatal)
// decides what a fatal condition means; Engine itself only logs.
func (e *Engine) Fatal(reason string) {
	fastlog.NewLine(module, "fatal").String("reason", reason).Write()
	if e.onFatal != nil {
		e.onFatal(reason)
	}
}

// Boot applies the EEPROM collaborator contract (§6): if DHCP is flagged
// enabled, Enable the client; otherwise apply the static fallback address
// directly to the interface. A nil EEPROM store enables DHCP, matching a
// freshly flashed device with no configuration slots written yet.
func (e *Engine) Boot() {
	if e.store == nil {
		e.dhcp.Enable()
		return
	}
	rec, err := e.store.Load()
	if err != nil {
		log.WithFields(log.Fields{"module": module}).WithError(err).
			Warn("netstack: eeprom load failed, defaulting to DHCP enabled")
		e.dhcp.Enable()
		return
	}
	e.dhcp.SetStaticIP(rec.IP)
	if rec.DHCPEnabled {
		e.dhcp.Enable()
		return
	}
	e.netif.SetStaticIP(rec.IP)
	if rec.Subnet != nil {
		e.netif.SetStaticSubnet(rec.Subnet)
	}
	e.netif.SetStaticGateway(rec.Gateway)
	e.netif.SetStaticDNS(rec.DNS)
	e.netif.SetStaticTimeServer(rec.TimeServer)
	e.netif.ApplyStatic()
}

// Save persists the current static configuration and DHCP-enabled flag to
// the EEPROM collaborator. A no-op if no store was configured.
func (e *Engine) Save() error {
	if e.store == nil {
		return nil
	}
	return e.store.Save(eeprom.Record{
		DHCPEnabled: e.dhcp.IsEnabled(),
		IP:          e.netif.staticIP,
		Subnet:      net.IP(e.netif.staticSubnet),
		Gateway:     e.netif.staticGateway,
		DNS:         e.netif.staticDNS,
		TimeServer:  e.netif.staticTimeServer,
	})
}

// Run drives the cooperative main loop (§2) until ctx is cancelled: the
// timer registry ticks on its own goroutine (§5, the "timer-interrupt"
// context), a second goroutine blocks on Conn.Receive and forwards
// whatever arrives onto rxCh, and this goroutine — the single foreground
// context — services both FSMs' Tick and drains rxCh, so all state other
// than the timers' own flag writes is touched from exactly one place.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.timers.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.receiveLoop(ctx)
	}()

	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.tick()
		case ether := <-e.rxCh:
			e.dispatch(ether)
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context) {
	buf := make([]byte, frame.EthMaxFrame)
	for {
		if ctx.Err() != nil {
			return
		}
		ether, err := e.conn.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient read errors (e.g. a deadline re-armed by the
			// collaborator between polls) are not fatal to the link.
			continue
		}
		select {
		case e.rxCh <- append(frame.Ether(nil), ether...):
		case <-ctx.Done():
			return
		}
	}
}

// tick runs both FSMs' "send pending" step once per main-loop pass (§2.ii,
// §2.iii) and keeps the TCP socket's local address in sync with whatever
// DHCP currently has bound, since the TCP client's addressing is otherwise
// static.
func (e *Engine) tick() {
	e.dhcp.Tick()
	if ip := e.netif.IP(); ip != nil {
		e.tcp.SetLocalIP(ip)
	}
	e.tcp.Tick()
}

// dispatch implements C6: classify an inbound frame and route it to the
// ARP auto-reply, the ICMP echo responder, or the owning FSM.
func (e *Engine) dispatch(ether frame.Ether) {
	switch frame.Classify(ether, e.netif.hostUnicastIP4()) {
	case frame.ClassARPRequest:
		e.handleArpRequest(ether)
	case frame.ClassARPReply:
		pkt := arp.Frame(ether.Payload())
		if !pkt.IsValid() {
			return
		}
		e.dhcp.ProcessArpResponse(pkt)
		e.tcp.ProcessArpResponse(pkt)
	case frame.ClassICMPEchoRequest:
		e.handleIcmpEchoRequest(ether)
	case frame.ClassDHCP:
		e.dhcp.ProcessDhcpResponse(ether)
	case frame.ClassTCP:
		e.tcp.ProcessTcpResponse(ether)
	}
}

// handleArpRequest answers a request for our own bound address; requests
// for anything else are not this client's concern (it has no neighbor
// table to answer on behalf of).
func (e *Engine) handleArpRequest(ether frame.Ether) {
	req := arp.Frame(ether.Payload())
	if !req.IsValid() {
		return
	}
	myIP := e.netif.IP()
	if myIP == nil || !req.DstIP().Equal(myIP) {
		return
	}
	if err := e.arpHandler.Reply(req.SrcMAC(), myIP, req.SrcMAC(), req.SrcIP()); err != nil {
		fastlog.NewLine(module, "arp reply failed").Error(err).Write()
	}
}

// handleIcmpEchoRequest answers a unicast ping with an echo reply carrying
// the same identifier, sequence number and payload (§6 "sendPingResponse").
func (e *Engine) handleIcmpEchoRequest(ether frame.Ether) {
	ip := frame.IP4(ether.Payload())
	req := ip.Payload()
	if len(req) < 8 {
		return
	}
	reply := append([]byte(nil), req...)
	reply[0] = 0 // echo reply
	reply[1] = 0
	binary.BigEndian.PutUint16(reply[2:4], 0)
	binary.BigEndian.PutUint16(reply[2:4], frame.FoldChecksum(frame.SumWords(reply, 0)))

	buf := make([]byte, frame.EthMaxFrame)
	outEther := frame.EtherMarshalBinary(buf, frame.EthTypeIPv4, e.mac, ether.Src())
	outIP := frame.IP4MarshalBinary(outEther.Payload(), frame.DefaultTTL, ip.Dst(), ip.Src())
	outIP = outIP.AppendPayload(reply, frame.ProtoICMP)
	outEther = outEther.SetPayload(outIP)

	if err := e.conn.Send(outEther); err != nil {
		fastlog.NewLine(module, "icmp echo reply failed").Error(err).Write()
	}
}
