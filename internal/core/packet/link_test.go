package packet

import (
	"net"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mdlayher/arp"
	"github.com/mdlayher/ethernet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tapcheck/internal/core"
)

// nsFrame is Ethernet / IPv6 fe80::1 -> ff02::1:ff00:2 (hlim 255) /
// ICMPv6 Neighbor Solicitation for fe80::2 with a source link-layer option.
const nsFrame = "3333ff00000202000000000186dd6000000000203afffe8000000000000000" +
	"00000000000001ff0200000000000000000001ff00000287007a9700000000" +
	"fe8000000000000000000000000000020101020000000001"

var (
	hostLL    = netip.MustParseAddr("fe80::1")
	peerLL    = netip.MustParseAddr("fe80::2")
	solicited = netip.MustParseAddr("ff02::1:ff00:2")
)

func newSolicitation() *Ethernet {
	return &Ethernet{
		Dst: MustParseMAC("33:33:ff:00:00:02"),
		Src: hostMAC,
		Payload: Nested(&IPv6{
			HopLimit: 255,
			Src:      hostLL,
			Dst:      solicited,
			Payload: Nested(&ICMPv6{
				Payload: Nested(&NeighborSolicitation{
					Target:  peerLL,
					Options: []NDOption{SourceLinkAddrOption(hostMAC)},
				}),
			}),
		}),
	}
}

func TestEthernetARPMatchesMdlayher(t *testing.T) {
	zero := net.HardwareAddr{0, 0, 0, 0, 0, 0}
	req, err := arp.NewPacket(arp.OperationRequest, hostMAC.HardwareAddr(), hostIP, zero, peerIP)
	require.NoError(t, err)
	body, err := req.MarshalBinary()
	require.NoError(t, err)
	frame := &ethernet.Frame{
		Destination: ethernet.Broadcast,
		Source:      hostMAC.HardwareAddr(),
		EtherType:   ethernet.EtherTypeARP,
		Payload:     body,
	}
	want, err := frame.MarshalBinary()
	require.NoError(t, err)

	ours, err := Encode(&Ethernet{
		Dst: BroadcastMAC,
		Src: hostMAC,
		Payload: Nested(&ARP{
			Oper: ARPRequest,
			SHA:  hostMAC,
			SPA:  hostIP,
			TPA:  peerIP,
		}),
	})
	require.NoError(t, err)
	require.Len(t, ours, 42)
	assert.Equal(t, want[:42], ours)

	// The padded frame decodes with the padding kept behind the ARP message.
	eth, err := DecodeEthernet(want)
	require.NoError(t, err)
	msg, ok := eth.Payload.Packet.(*ARP)
	require.True(t, ok)
	assert.Equal(t, ARPRequest, msg.Oper)
	assert.Equal(t, hostMAC, msg.SHA)
	assert.Equal(t, hostIP, msg.SPA)
	assert.Equal(t, peerIP, msg.TPA)
	assert.Len(t, msg.Payload.Raw, len(want)-42)
}

func TestARPReply(t *testing.T) {
	req := &ARP{Oper: ARPRequest, SHA: hostMAC, SPA: hostIP, TPA: peerIP}
	reply := req.Reply(peerMAC)
	assert.Equal(t, ARPReply, reply.Oper)
	assert.Equal(t, peerMAC, reply.SHA)
	assert.Equal(t, peerIP, reply.SPA)
	assert.Equal(t, hostMAC, reply.THA)
	assert.Equal(t, hostIP, reply.TPA)

	b, err := Encode(reply)
	require.NoError(t, err)
	var decoded arp.Packet
	require.NoError(t, decoded.UnmarshalBinary(b))
	assert.Equal(t, arp.OperationReply, decoded.Operation)
	assert.Equal(t, peerMAC.HardwareAddr(), decoded.SenderHardwareAddr)
	assert.Equal(t, peerIP, decoded.SenderIP)
	assert.Equal(t, hostIP, decoded.TargetIP)
}

func TestARPOtherAddressSizes(t *testing.T) {
	raw := []byte{
		0x00, 0x06, 0x08, 0x00, 0x08, 0x04, 0x00, 0x01,
		1, 2, 3, 4, 5, 6, 7, 8, 10, 0, 0, 1,
	}
	msg, err := DecodeARP(raw)
	require.NoError(t, err)
	assert.Equal(t, Set(uint8(8)), msg.HLen)
	assert.Equal(t, raw[8:], msg.Payload.Raw)

	again, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, raw, again)

	_, err = DecodeARP(raw[:5])
	assert.ErrorIs(t, err, core.ErrTruncated)
}

func TestEncodeSolicitation(t *testing.T) {
	b, err := Encode(newSolicitation())
	require.NoError(t, err)
	assert.Equal(t, nsFrame, hexBytes(b))

	pkt := gopacket.NewPacket(b, layers.LayerTypeEthernet, gopacket.Default)
	icmp, ok := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	require.True(t, ok)
	assert.Equal(t, uint8(ICMPv6NeighborSolicitation), icmp.TypeCode.Type())
	ns, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
	require.True(t, ok)
	assert.Equal(t, net.IP(peerLL.AsSlice()), ns.TargetAddress)
	require.Len(t, ns.Options, 1)
	assert.Equal(t, layers.ICMPv6OptSourceAddress, ns.Options[0].Type)
	assert.Equal(t, []byte(hostMAC[:]), ns.Options[0].Data)
}

func TestDecodeSolicitation(t *testing.T) {
	eth, err := DecodeEthernet(mustHex(t, nsFrame))
	require.NoError(t, err)

	icmp, ok := Find(eth, KindICMPv6).(*ICMPv6)
	require.True(t, ok)
	assert.Equal(t, Set(uint16(0x7a97)), icmp.Checksum)

	ns, ok := icmp.Payload.Packet.(*NeighborSolicitation)
	require.True(t, ok)
	assert.Equal(t, peerLL, ns.Target)
	sll, ok := ns.Field(NDSourceLinkAddr)
	require.True(t, ok)
	assert.Equal(t, hostMAC, sll)
	_, ok = ns.Field(NDTargetLinkAddr)
	assert.False(t, ok)

	assert.True(t, Equal(ns.Options, newSolicitation().Payload.Packet.Body().Packet.Body().Packet.(*NeighborSolicitation).Options))
}

func TestNeighborAdvertisement(t *testing.T) {
	na := &IPv6{
		HopLimit: 255,
		Src:      peerLL,
		Dst:      hostLL,
		Payload: Nested(&ICMPv6{
			Payload: Nested(&NeighborAdvertisement{
				Solicited: true,
				Override:  true,
				Target:    peerLL,
				Options:   []NDOption{TargetLinkAddrOption(peerMAC)},
			}),
		}),
	}
	b, err := Encode(na)
	require.NoError(t, err)
	require.Len(t, b, 40+4+20+8)
	assert.Equal(t, ICMPv6NeighborAdvertisement, b[40])
	assert.Equal(t, byte(0x60), b[44])

	// Verifying a received message: pseudo-header plus message folds to zero.
	pseudo := ipv6Pseudo(peerLL, hostLL)(IPProtocolICMPv6, len(b)-40)
	assert.Equal(t, uint16(0), Checksum(append(pseudo, b[40:]...)))

	pkt := gopacket.NewPacket(b, layers.LayerTypeIPv6, gopacket.Default)
	adv, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
	require.True(t, ok)
	assert.True(t, adv.Solicited())
	assert.True(t, adv.Override())
	assert.False(t, adv.Router())

	decoded, err := DecodeIPv6(b)
	require.NoError(t, err)
	got, ok := Find(decoded, KindNeighborAdvertisement).(*NeighborAdvertisement)
	require.True(t, ok)
	assert.True(t, got.Solicited)
	assert.False(t, got.Router)
	tll, ok := got.Field(NDTargetLinkAddr)
	require.True(t, ok)
	assert.Equal(t, peerMAC, tll)
}

func TestEchoRoundTrip(t *testing.T) {
	p := &IPv6{
		HopLimit: 64,
		Src:      hostLL,
		Dst:      peerLL,
		Payload: Nested(&ICMPv6{
			Type:    Set(ICMPv6EchoRequest),
			Payload: Nested(&Echo{ID: 7, Seq: 1, Data: []byte("abc")}),
		}),
	}
	b, err := Encode(p)
	require.NoError(t, err)

	decoded, err := DecodeIPv6(b)
	require.NoError(t, err)
	echo, ok := Find(decoded, KindEcho).(*Echo)
	require.True(t, ok)
	assert.Equal(t, uint16(7), echo.ID)
	assert.Equal(t, []byte("abc"), echo.Data)

	// Echo does not imply a direction, so the type must be given.
	p.Payload.Packet.(*ICMPv6).Type.Clear()
	_, err = Encode(p)
	assert.ErrorIs(t, err, core.ErrFieldUnset)
}

func TestParseNDOptions(t *testing.T) {
	t.Run("unknown type kept", func(t *testing.T) {
		raw := []byte{
			99, 1, 0xa, 0xb, 0xc, 0xd, 0xe, 0xf,
			1, 1, 2, 0, 0, 0, 0, 1,
		}
		opts := ParseNDOptions(raw)
		require.Len(t, opts, 2)
		assert.Equal(t, uint8(99), opts[0].Type)
		assert.Equal(t, []byte{0xa, 0xb, 0xc, 0xd, 0xe, 0xf}, opts[0].Data)
		_, ok := opts[0].LinkAddr()
		assert.False(t, ok)
		mac, ok := opts[1].LinkAddr()
		require.True(t, ok)
		assert.Equal(t, hostMAC, mac)

		assert.Equal(t, raw, appendNDOptions(nil, opts))
	})

	t.Run("zero length stops parsing", func(t *testing.T) {
		raw := []byte{1, 1, 2, 0, 0, 0, 0, 1, 5, 0, 0xde, 0xad}
		opts := ParseNDOptions(raw)
		require.Len(t, opts, 2)
		assert.Equal(t, Set(uint8(0)), opts[1].Length)
		assert.Equal(t, []byte{0xde, 0xad}, opts[1].Data)
	})

	t.Run("length past end", func(t *testing.T) {
		opts := ParseNDOptions([]byte{3, 4, 1, 2})
		require.Len(t, opts, 1)
		assert.Equal(t, []byte{1, 2}, opts[0].Data)
	})

	t.Run("padding", func(t *testing.T) {
		b := NDOption{Type: 42, Data: []byte{1, 2, 3, 4, 5, 6, 7}}.wire()
		assert.Equal(t, []byte{42, 2, 1, 2, 3, 4, 5, 6, 7, 0, 0, 0, 0, 0, 0, 0}, b)
	})
}

func TestAFFraming(t *testing.T) {
	ip6 := &IPv6{HopLimit: 1, Src: hostLL, Dst: peerLL, NextHeader: Set(uint8(59))}
	b, err := Encode(&AF{Payload: Nested(ip6)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, byte(AFInet6)}, b[:4])

	for _, family := range []uint32{AFInet6Linux, AFInet6OpenBSD, AFInet6FreeBSD, AFInet6Darwin} {
		b[3] = byte(family)
		af, err := DecodeAF(b)
		require.NoError(t, err)
		assert.Equal(t, KindIPv6, af.Payload.Packet.Kind(), "family %d", family)
	}

	ip4, err := Encode(&AF{Payload: Nested(newPing().Payload.Packet)})
	require.NoError(t, err)
	af, err := DecodeAF(ip4)
	require.NoError(t, err)
	assert.Equal(t, Set(AFInet), af.Family)
	assert.NotNil(t, Find(af, KindUDP))

	af, err = DecodeAF([]byte{0, 0, 0, 99, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, af.Payload.Raw)

	_, err = DecodeAF([]byte{0, 0})
	assert.ErrorIs(t, err, core.ErrTruncated)
}

func TestDecodeNullByteOrder(t *testing.T) {
	ip4 := mustHex(t, pingFrame)[14:]

	le, err := DecodeNull(append([]byte{2, 0, 0, 0}, ip4...))
	require.NoError(t, err)
	assert.Equal(t, Set(AFInet), le.Family)
	assert.True(t, le.LittleEndian)
	assert.NotNil(t, Find(le, KindUDP))

	out, err := Encode(le)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0}, out[:4])

	be, err := DecodeNull(append([]byte{0, 0, 0, 30}, ip4...))
	require.NoError(t, err)
	assert.Equal(t, Set(AFInet6Darwin), be.Family)
	assert.False(t, be.LittleEndian)

	_, err = DecodeNull([]byte{2, 0})
	assert.ErrorIs(t, err, core.ErrTruncated)
}

func TestDecoderFor(t *testing.T) {
	raw := mustHex(t, pingFrame)
	cases := []struct {
		name string
		buf  []byte
		kind Kind
	}{
		{"tap", raw, KindEthernet},
		{"tun", raw[14:], KindIPv4},
		{"af", append([]byte{0, 0, 0, 2}, raw[14:]...), KindAF},
		{"null", append([]byte{2, 0, 0, 0}, raw[14:]...), KindAF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lt, err := ParseLinkType(tc.name)
			require.NoError(t, err)
			decode, err := DecoderFor(lt)
			require.NoError(t, err)
			p, err := decode(tc.buf)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.Kind())
			assert.NotNil(t, Find(p, KindUDP))
		})
	}

	_, err := ParseLinkType("token-ring")
	assert.ErrorIs(t, err, core.ErrUnknownLink)
	_, err = DecoderFor(layers.LinkTypeFDDI)
	assert.ErrorIs(t, err, core.ErrUnknownLink)
}

func TestFieldLookup(t *testing.T) {
	ping := newPing()
	typ, ok := ping.Field(EthType)
	require.True(t, ok)
	assert.Equal(t, EtherTypeIPv4, typ)

	ip := ping.Payload.Packet
	_, ok = ip.Field(IPv4Checksum)
	assert.False(t, ok, "unset checksum")
	_, ok = ip.Field("no_such_field")
	assert.False(t, ok)
	proto, ok := ip.Field(IPv4Protocol)
	require.True(t, ok)
	assert.True(t, Equal(proto, 17))

	payload, ok := ip.Field(FieldPayload)
	require.True(t, ok)
	assert.Equal(t, KindUDP, payload.(Packet).Kind())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(uint8(5), 5))
	assert.True(t, Equal(uint16(0x0800), uint32(0x0800)))
	assert.False(t, Equal(-1, uint64(1<<64-1)))
	assert.True(t, Equal([]byte("ab"), "ab"))
	assert.False(t, Equal([]byte("ab"), 5))
	assert.True(t, Equal(hostMAC, MustParseMAC("02:00:00:00:00:01")))
	assert.True(t, Equal(hostIP, netip.MustParseAddr("10.0.0.1")))
	assert.False(t, Equal(hostIP, peerIP))

	a := []NDOption{SourceLinkAddrOption(hostMAC)}
	b := []NDOption{{Type: NDOptionSourceLinkAddr, Length: Set(uint8(1)), Data: hostMAC[:]}}
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, []NDOption{TargetLinkAddrOption(hostMAC)}))
}

func TestString(t *testing.T) {
	s := newPing().String()
	for _, part := range []string{"Ethernet(", " / IPv4(", "proto=17", " / UDP(sport=5000", "Raw(4 bytes)"} {
		assert.True(t, strings.Contains(s, part), "%q missing %q", s, part)
	}
	assert.Contains(t, newSolicitation().String(), "NeighborSolicitation(target=fe80::2")
	assert.Equal(t, "NeighborSolicitation", KindNeighborSolicitation.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
