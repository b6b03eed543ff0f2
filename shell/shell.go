// Package shell implements the line-oriented command console the original
// firmware drove over its UART (§6): turn DHCP on/off, force a renew or
// release, print interface configuration, set a static address field, open
// or close the TCP connection, and reboot.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
)

// DHCP is the subset of dhcp4.Client the shell drives.
type DHCP interface {
	Enable()
	Disable()
	RequestRenew()
	RequestRebind()
	RequestRelease()
	IsEnabled() bool
}

// TCP is the subset of tcp.Client the shell drives.
type TCP interface {
	SynReq()
	FinReq()
	GatewayReq()
}

// Rebooter is satisfied by the same type the DHCP/TCP FSMs report fatal
// conditions to; the shell's "reboot" command calls it directly.
type Rebooter interface {
	Fatal(reason string)
}

// Netif is the read side of the interface configuration the shell prints
// for "ifconfig" and writes for "set".
type Netif interface {
	IP() net.IP
	Subnet() net.IP
	Gateway() net.IP
	DNS() net.IP
	TimeServer() net.IP
	SetStaticIP(ip net.IP)
	SetStaticSubnet(ip net.IP)
	SetStaticGateway(ip net.IP)
	SetStaticDNS(ip net.IP)
	SetStaticTimeServer(ip net.IP)
}

// Shell reads commands from r, one per line, and writes responses to w.
type Shell struct {
	DHCP   DHCP
	TCP    TCP
	Reboot Rebooter
	Netif  Netif

	r *bufio.Scanner
	w io.Writer
}

// New constructs a Shell reading from r and writing to w.
func New(r io.Reader, w io.Writer, dhcp DHCP, tcp TCP, reboot Rebooter, netif Netif) *Shell {
	return &Shell{
		DHCP:   dhcp,
		TCP:    tcp,
		Reboot: reboot,
		Netif:  netif,
		r:      bufio.NewScanner(r),
		w:      w,
	}
}

// Run reads and dispatches commands until r is exhausted or returns an
// error.
func (s *Shell) Run() error {
	for s.r.Scan() {
		s.Dispatch(s.r.Text())
	}
	return s.r.Err()
}

// Dispatch parses and executes a single command line.
func (s *Shell) Dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "dhcp":
		s.dispatchDHCP(fields[1:])
	case "tcp":
		s.dispatchTCP(fields[1:])
	case "set":
		s.dispatchSet(fields[1:])
	case "ifconfig":
		s.printIfconfig()
	case "reboot":
		s.Reboot.Fatal("shell: reboot requested")
	case "help":
		s.printHelp()
	default:
		fmt.Fprintf(s.w, "unknown command: %s\n", fields[0])
	}
}

func (s *Shell) dispatchDHCP(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.w, "usage: dhcp {on|off|renew|release}")
		return
	}
	switch args[0] {
	case "on":
		s.DHCP.Enable()
	case "off":
		s.DHCP.Disable()
	case "renew":
		s.DHCP.RequestRenew()
	case "release":
		s.DHCP.RequestRelease()
	default:
		fmt.Fprintln(s.w, "usage: dhcp {on|off|renew|release}")
	}
}

func (s *Shell) dispatchTCP(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.w, "usage: tcp {syn|fin|gw}")
		return
	}
	switch args[0] {
	case "syn":
		s.TCP.SynReq()
	case "fin":
		s.TCP.FinReq()
	case "gw":
		s.TCP.GatewayReq()
	default:
		fmt.Fprintln(s.w, "usage: tcp {syn|fin|gw}")
	}
}

func (s *Shell) dispatchSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.w, "usage: set {ip|sn|gw|dns|time} w.x.y.z")
		return
	}
	ip := net.ParseIP(args[1]).To4()
	if ip == nil {
		fmt.Fprintf(s.w, "invalid address: %s\n", args[1])
		return
	}
	switch args[0] {
	case "ip":
		s.Netif.SetStaticIP(ip)
	case "sn":
		s.Netif.SetStaticSubnet(ip)
	case "gw":
		s.Netif.SetStaticGateway(ip)
	case "dns":
		s.Netif.SetStaticDNS(ip)
	case "time":
		s.Netif.SetStaticTimeServer(ip)
	default:
		fmt.Fprintln(s.w, "usage: set {ip|sn|gw|dns|time} w.x.y.z")
	}
}

func (s *Shell) printIfconfig() {
	fmt.Fprintf(s.w, "dhcp: %v\n", s.DHCP.IsEnabled())
	fmt.Fprintf(s.w, "ip: %s\n", s.Netif.IP())
	fmt.Fprintf(s.w, "subnet: %s\n", s.Netif.Subnet())
	fmt.Fprintf(s.w, "gateway: %s\n", s.Netif.Gateway())
	fmt.Fprintf(s.w, "dns: %s\n", s.Netif.DNS())
	fmt.Fprintf(s.w, "time server: %s\n", s.Netif.TimeServer())
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.w, "commands: dhcp {on|off|renew|release}, tcp {syn|fin|gw}, set {ip|sn|gw|dns|time} w.x.y.z, ifconfig, reboot, help")
}
