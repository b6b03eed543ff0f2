package arp

import (
	"net"

	"github.com/tiva-iot/netstack/frame"
)

// Sender is the minimal link-layer collaborator arp needs: given a fully
// framed Ethernet packet, put it on the wire. It is satisfied by
// linklayer.Raw and linklayer.Buffered.
type Sender interface {
	Send(ether frame.Ether) error
}

// Handler sends ARP requests, replies and conflict-detection probes on
// behalf of a single local MAC. Unlike the teacher's arp.Handler it keeps
// no neighbor table: this client only ever probes the address it is about
// to bind (DHCP) or resolves a single gateway address (TCP), and the
// response — if any — arrives back through the owning FSM's
// ProcessArpResponse, not through a blocking call here.
type Handler struct {
	MAC    net.HardwareAddr
	Sender Sender
}

// Request sends an ARP request ("who has dstIP? tell srcIP") from h.MAC/
// srcIP, broadcast on the local link.
func (h *Handler) Request(srcIP net.IP, dstIP net.IP) error {
	return h.requestTo(frame.EthBroadcast, srcIP, dstIP)
}

func (h *Handler) requestTo(dstEther net.HardwareAddr, srcIP, dstIP net.IP) error {
	ether := frame.EtherMarshalBinary(nil, frame.EthTypeARP, h.MAC, dstEther)
	pkt, err := MarshalBinary(ether.Payload(), OperationRequest,
		frame.Addr{MAC: h.MAC, IP: srcIP},
		frame.Addr{MAC: frame.EthZero, IP: dstIP},
	)
	if err != nil {
		return err
	}
	return h.Sender.Send(ether.SetPayload(pkt))
}

// Reply sends an ARP reply ("srcIP is at h.MAC") to dstMAC/dstIP.
func (h *Handler) Reply(dstEther net.HardwareAddr, srcIP net.IP, dstMAC net.HardwareAddr, dstIP net.IP) error {
	ether := frame.EtherMarshalBinary(nil, frame.EthTypeARP, h.MAC, dstEther)
	pkt, err := MarshalBinary(ether.Payload(), OperationReply,
		frame.Addr{MAC: h.MAC, IP: srcIP},
		frame.Addr{MAC: dstMAC, IP: dstIP},
	)
	if err != nil {
		return err
	}
	return h.Sender.Send(ether.SetPayload(pkt))
}

// Probe sends an ARP probe for ip: sender and target protocol address both
// equal ip (§4.1 step 1, GLOSSARY "ARP probe" — this client's probe is not
// the RFC 5227 form with a zero sender address). Used by the DHCP client
// FSM to test an offered address for conflicts before committing to it.
func (h *Handler) Probe(ip net.IP) error {
	return h.Request(ip, ip)
}
