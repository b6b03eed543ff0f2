package linklayer

import (
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/raw"
	"golang.org/x/sys/unix"

	"github.com/tiva-iot/netstack/frame"
)

// Raw is the production eth-driver collaborator (§6): an AF_PACKET socket
// bound to one interface (promiscuous mode is not enabled). The socket is opened with
// unix.ETH_P_ALL, so the kernel delivers every EtherType (ARP included) to
// this process; frame.Classify (C6), not the socket binding, is what
// narrows that down to the types this client cares about.
type Raw struct {
	ifi         *net.Interface
	conn        *raw.Conn
	readTimeout time.Duration
}

// NewRaw opens a raw socket on ifaceName. It is bound with unix.ETH_P_ALL
// rather than a single EtherType: binding to frame.EthTypeIPv4 alone would
// have the kernel silently drop every ARP frame before Receive ever saw it,
// breaking ARP conflict detection and gateway resolution. readTimeout bounds
// each Receive call so the foreground loop driving it can still service its
// own cooperative ticks; zero disables the deadline.
func NewRaw(ifaceName string, readTimeout time.Duration) (*Raw, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("linklayer: interface %s: %w", ifaceName, err)
	}
	conn, err := raw.ListenPacket(ifi, uint16(unix.ETH_P_ALL), &raw.Config{})
	if err != nil {
		return nil, fmt.Errorf("linklayer: listen on %s: %w", ifaceName, err)
	}
	return &Raw{ifi: ifi, conn: conn, readTimeout: readTimeout}, nil
}

// MAC returns the bound interface's hardware address.
func (r *Raw) MAC() net.HardwareAddr { return r.ifi.HardwareAddr }

// Send implements Conn.
func (r *Raw) Send(ether frame.Ether) error {
	_, err := r.conn.WriteTo(ether, &raw.Addr{HardwareAddr: ether.Dst()})
	return err
}

// Receive implements Conn. Each call re-arms the read deadline so the
// foreground loop polling it regains control even when nothing arrives.
func (r *Raw) Receive(buf []byte) (frame.Ether, error) {
	if r.readTimeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	}
	n, _, err := r.conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	return frame.Ether(buf[:n]), nil
}

// Close implements Conn.
func (r *Raw) Close() error { return r.conn.Close() }
