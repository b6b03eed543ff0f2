// Package linklayer implements the eth-driver collaborator contract (§6):
// something that can put a fully framed Ethernet frame on the wire and
// hand back the next one that arrives. Raw is the production AF_PACKET
// transport; Buffered is an in-memory pair used by tests.
package linklayer

import "github.com/tiva-iot/netstack/frame"

// Conn is the collaborator every FSM-driving component (netstack.Engine,
// arp.Handler, dhcp4.Client, tcp.Client) ultimately sends through.
type Conn interface {
	// Send transmits a fully framed Ethernet frame (header through payload).
	Send(ether frame.Ether) error
	// Receive blocks until the next frame arrives, writing it into buf and
	// returning the used portion as a frame.Ether view over buf.
	Receive(buf []byte) (frame.Ether, error)
	Close() error
}
