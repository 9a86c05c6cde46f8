package expect

import (
	"fmt"
	"net/netip"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
)

// Sender writes a finished frame back to the device under test.
type Sender interface {
	Send(frame []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(frame []byte) error

func (f SenderFunc) Send(frame []byte) error { return f(frame) }

var allNodes = netip.MustParseAddr("ff02::1")

// ARPRequestFor matches an Ethernet frame carrying an ARP request for addr.
func ARPRequestFor(addr netip.Addr) *Pattern {
	return On(packet.KindEthernet).Payload(
		On(packet.KindARP).
			Eq(packet.ARPOper, packet.ARPRequest).
			Eq(packet.ARPTPA, addr),
	)
}

// NeighborSolicitationFor matches an Ethernet frame carrying a Neighbor
// Solicitation whose target is addr.
func NeighborSolicitationFor(addr netip.Addr) *Pattern {
	return On(packet.KindEthernet).Has(
		On(packet.KindNeighborSolicitation).Eq(packet.NDTarget, addr),
	)
}

// ReplyARP answers ARP requests for addr with mac.
func ReplyARP(mac packet.MAC, addr netip.Addr, out Sender) Action {
	return func(pkt packet.Packet) error {
		eth, ok := pkt.(*packet.Ethernet)
		if !ok {
			return fmt.Errorf("%w: arp reply needs an ethernet frame, got %s", core.ErrActionFailed, pkt.Kind())
		}
		req, ok := eth.Payload.Packet.(*packet.ARP)
		if !ok || req.Oper != packet.ARPRequest || req.TPA != addr {
			return fmt.Errorf("%w: not an arp request for %s", core.ErrActionFailed, addr)
		}
		frame, err := packet.Encode(&packet.Ethernet{
			Dst:     req.SHA,
			Src:     mac,
			Payload: packet.Nested(req.Reply(mac)),
		})
		if err != nil {
			return err
		}
		return out.Send(frame)
	}
}

// ReplyNeighbor answers Neighbor Solicitations for addr with a solicited,
// overriding advertisement carrying mac. Solicitations from the unspecified
// address (duplicate address detection) are answered to all-nodes, unsolicited.
func ReplyNeighbor(mac packet.MAC, addr netip.Addr, out Sender) Action {
	return func(pkt packet.Packet) error {
		eth, ok := pkt.(*packet.Ethernet)
		if !ok {
			return fmt.Errorf("%w: neighbor reply needs an ethernet frame, got %s", core.ErrActionFailed, pkt.Kind())
		}
		ip, ok := eth.Payload.Packet.(*packet.IPv6)
		if !ok {
			return fmt.Errorf("%w: neighbor solicitation not carried by ipv6", core.ErrActionFailed)
		}
		ns, ok := packet.Find(ip, packet.KindNeighborSolicitation).(*packet.NeighborSolicitation)
		if !ok || ns.Target != addr {
			return fmt.Errorf("%w: not a neighbor solicitation for %s", core.ErrActionFailed, addr)
		}

		dstIP, dstMAC, solicited := ip.Src, eth.Src, true
		if !ip.Src.IsValid() || ip.Src.IsUnspecified() {
			dstIP, dstMAC, solicited = allNodes, packet.MAC{0x33, 0x33, 0, 0, 0, 1}, false
		}
		frame, err := packet.Encode(&packet.Ethernet{
			Dst: dstMAC,
			Src: mac,
			Payload: packet.Nested(&packet.IPv6{
				HopLimit: 255,
				Src:      addr,
				Dst:      dstIP,
				Payload: packet.Nested(&packet.ICMPv6{
					Payload: packet.Nested(&packet.NeighborAdvertisement{
						Solicited: solicited,
						Override:  true,
						Target:    addr,
						Options:   []packet.NDOption{packet.TargetLinkAddrOption(mac)},
					}),
				}),
			}),
		})
		if err != nil {
			return err
		}
		return out.Send(frame)
	}
}
