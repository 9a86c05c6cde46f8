package expect

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
)

var (
	hostMAC = packet.MustParseMAC("02:00:00:00:00:01")
	peerMAC = packet.MustParseMAC("02:00:00:00:00:02")
	hostIP  = netip.MustParseAddr("10.0.0.1")
	peerIP  = netip.MustParseAddr("10.0.0.2")
	hostLL  = netip.MustParseAddr("fe80::1")
	peerLL  = netip.MustParseAddr("fe80::2")
)

// decoded round-trips p through the wire format, as a capture would see it.
func decoded(t *testing.T, p packet.Packet) packet.Packet {
	t.Helper()
	b, err := packet.Encode(p)
	require.NoError(t, err)
	eth, err := packet.DecodeEthernet(b)
	require.NoError(t, err)
	return eth
}

func udpFrame(t *testing.T, payload string) packet.Packet {
	return decoded(t, &packet.Ethernet{
		Dst: peerMAC,
		Src: hostMAC,
		Payload: packet.Nested(&packet.IPv4{
			TTL: 64,
			Src: hostIP,
			Dst: peerIP,
			Payload: packet.Nested(&packet.UDP{
				SrcPort: 5000,
				DstPort: 5001,
				Payload: packet.Opaque([]byte(payload)),
			}),
		}),
	})
}

func arpRequest(t *testing.T, target netip.Addr) packet.Packet {
	return decoded(t, &packet.Ethernet{
		Dst: packet.BroadcastMAC,
		Src: hostMAC,
		Payload: packet.Nested(&packet.ARP{
			Oper: packet.ARPRequest,
			SHA:  hostMAC,
			SPA:  hostIP,
			TPA:  target,
		}),
	})
}

func pingPattern(payload string) *Pattern {
	return On(packet.KindEthernet).Payload(
		On(packet.KindIPv4).Eq(packet.IPv4Dst, peerIP).Payload(
			On(packet.KindUDP).Eq(packet.UDPDstPort, 5001).Eq(packet.FieldPayload, payload),
		),
	)
}

func TestPatternMatch(t *testing.T) {
	ping := udpFrame(t, "ping")

	assert.True(t, Any().Match(ping))
	assert.True(t, pingPattern("ping").Match(ping))
	assert.False(t, pingPattern("pong").Match(ping))
	assert.False(t, On(packet.KindIPv4).Match(ping), "kind is checked first")
	assert.False(t, Any().Match(nil))

	assert.True(t, On(packet.KindEthernet).Has(On(packet.KindUDP).Eq(packet.UDPSrcPort, uint16(5000))).Match(ping))
	assert.False(t, On(packet.KindEthernet).Has(On(packet.KindARP)).Match(ping))
}

func TestPatternMissingField(t *testing.T) {
	ping := udpFrame(t, "ping")
	assert.False(t, Any().Eq("no_such_field", 1).Match(ping))

	// A nested pattern against opaque bytes is a non-match, not a panic.
	udp := packet.Find(ping, packet.KindUDP)
	assert.False(t, On(packet.KindUDP).Payload(Any()).Match(udp))
}

func TestPatternPredicates(t *testing.T) {
	ping := udpFrame(t, "ping")
	ttl := func(v any) bool { n, ok := v.(uint8); return ok && n > 32 }

	assert.True(t, On(packet.KindEthernet).Payload(On(packet.KindIPv4).Where(packet.IPv4TTL, ttl)).Match(ping))
	assert.True(t, On(packet.KindEthernet).Eq(packet.EthType, packet.EtherTypeIPv4).Match(ping))
	assert.True(t, On(packet.KindEthernet).Where(packet.EthType, OneOf(packet.EtherTypeARP, packet.EtherTypeIPv4)).Match(ping))
	assert.False(t, On(packet.KindEthernet).Where(packet.EthType, Not(OneOf(0x0800))).Match(ping))
}

func TestPatternIsImmutable(t *testing.T) {
	base := On(packet.KindEthernet)
	a := base.Eq(packet.EthDst, peerMAC)
	b := base.Eq(packet.EthDst, hostMAC)

	ping := udpFrame(t, "ping")
	assert.True(t, base.Match(ping))
	assert.True(t, a.Match(ping))
	assert.False(t, b.Match(ping))
	assert.Equal(t, "Ethernet", base.String())
	assert.Contains(t, a.String(), "dst=02:00:00:00:00:02")
}

func TestExpectationBudget(t *testing.T) {
	ping := udpFrame(t, "ping")

	e := New(pingPattern("ping"))
	assert.True(t, e.Pending())
	ok, err := e.Check(ping)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.Pending())

	ok, _ = e.Check(ping)
	assert.False(t, ok, "budget exhausted")
	assert.Equal(t, 1, e.Matched())

	zero := New(Any(), Times(0))
	ok, _ = zero.Check(ping)
	assert.False(t, ok)
	assert.False(t, zero.Active())

	many := New(Any(), Unlimited())
	for i := 0; i < 3; i++ {
		ok, _ = many.Check(ping)
		assert.True(t, ok)
	}
	assert.False(t, many.Pending())
	_, bounded := many.Remaining()
	assert.False(t, bounded)
}

func TestExpectationAction(t *testing.T) {
	ping := udpFrame(t, "ping")

	var seen packet.Packet
	e := New(Any(), Times(2), Do(func(p packet.Packet) error { seen = p; return nil }))
	ok, err := e.Check(ping)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, ping, seen)
	n, _ := e.Remaining()
	assert.Equal(t, 1, n)

	failing := New(Any(), Named("boom"), Do(func(packet.Packet) error { return errors.New("send failed") }))
	ok, err = failing.Check(ping)
	assert.True(t, ok)
	assert.ErrorIs(t, err, core.ErrActionFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestListFirstMatchWins(t *testing.T) {
	var l List
	first := New(Any(), Named("first"))
	second := New(pingPattern("ping"), Named("second"))
	l.Add(first, second)

	ping := udpFrame(t, "ping")
	got, err := l.Check(ping)
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.True(t, l.Pending())

	got, _ = l.Check(ping)
	assert.Same(t, second, got)
	assert.False(t, l.Pending())

	got, _ = l.Check(ping)
	assert.Nil(t, got)
	assert.Empty(t, l.Unsatisfied())
}

func TestReplyARP(t *testing.T) {
	var sent [][]byte
	out := SenderFunc(func(b []byte) error { sent = append(sent, b); return nil })

	e := New(ARPRequestFor(peerIP), Do(ReplyARP(peerMAC, peerIP, out)))
	ok, _ := e.Check(arpRequest(t, netip.MustParseAddr("10.0.0.9")))
	assert.False(t, ok, "request for another address")

	ok, err := e.Check(arpRequest(t, peerIP))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sent, 1)

	eth, err := packet.DecodeEthernet(sent[0])
	require.NoError(t, err)
	assert.Equal(t, hostMAC, eth.Dst)
	assert.Equal(t, peerMAC, eth.Src)
	reply, ok := eth.Payload.Packet.(*packet.ARP)
	require.True(t, ok)
	assert.Equal(t, packet.ARPReply, reply.Oper)
	assert.Equal(t, peerMAC, reply.SHA)
	assert.Equal(t, peerIP, reply.SPA)
	assert.Equal(t, hostMAC, reply.THA)
	assert.Equal(t, hostIP, reply.TPA)

	err = ReplyARP(peerMAC, peerIP, out)(udpFrame(t, "x"))
	assert.ErrorIs(t, err, core.ErrActionFailed)
}

func TestReplyNeighbor(t *testing.T) {
	solicit := func(src netip.Addr) packet.Packet {
		return decoded(t, &packet.Ethernet{
			Dst: packet.MustParseMAC("33:33:ff:00:00:02"),
			Src: hostMAC,
			Payload: packet.Nested(&packet.IPv6{
				HopLimit: 255,
				Src:      src,
				Dst:      netip.MustParseAddr("ff02::1:ff00:2"),
				Payload: packet.Nested(&packet.ICMPv6{
					Payload: packet.Nested(&packet.NeighborSolicitation{
						Target:  peerLL,
						Options: []packet.NDOption{packet.SourceLinkAddrOption(hostMAC)},
					}),
				}),
			}),
		})
	}

	var sent [][]byte
	out := SenderFunc(func(b []byte) error { sent = append(sent, b); return nil })
	e := New(NeighborSolicitationFor(peerLL), Times(2), Do(ReplyNeighbor(peerMAC, peerLL, out)))

	ok, err := e.Check(solicit(hostLL))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.Check(solicit(netip.IPv6Unspecified()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sent, 2)

	eth, err := packet.DecodeEthernet(sent[0])
	require.NoError(t, err)
	assert.Equal(t, hostMAC, eth.Dst)
	ip, ok := eth.Payload.Packet.(*packet.IPv6)
	require.True(t, ok)
	assert.Equal(t, hostLL, ip.Dst)
	assert.Equal(t, uint8(255), ip.HopLimit)
	na, ok := packet.Find(eth, packet.KindNeighborAdvertisement).(*packet.NeighborAdvertisement)
	require.True(t, ok)
	assert.True(t, na.Solicited)
	assert.True(t, na.Override)
	assert.Equal(t, peerLL, na.Target)
	tll, ok := na.Field(packet.NDTargetLinkAddr)
	require.True(t, ok)
	assert.Equal(t, peerMAC, tll)

	dad, err := packet.DecodeEthernet(sent[1])
	require.NoError(t, err)
	ip, ok = dad.Payload.Packet.(*packet.IPv6)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("ff02::1"), ip.Dst)
	na, ok = packet.Find(dad, packet.KindNeighborAdvertisement).(*packet.NeighborAdvertisement)
	require.True(t, ok)
	assert.False(t, na.Solicited)
}
