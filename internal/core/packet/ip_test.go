package packet

import (
	"encoding/binary"
	"encoding/hex"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tapcheck/internal/core"
)

var (
	hostMAC = MustParseMAC("02:00:00:00:00:01")
	peerMAC = MustParseMAC("02:00:00:00:00:02")
	hostIP  = netip.MustParseAddr("10.0.0.1")
	peerIP  = netip.MustParseAddr("10.0.0.2")
)

// pingFrame is Ethernet / IPv4(DF, id 0x1234, ttl 64) / UDP 5000->5001 / "ping"
// with every length and checksum filled in.
const pingFrame = "020000000002020000000001080045000020123440004011" +
	"14970a0000010a00000213881389000ce5f170696e67"

func newPing() *Ethernet {
	return &Ethernet{
		Dst: peerMAC,
		Src: hostMAC,
		Payload: Nested(&IPv4{
			ID:    0x1234,
			Flags: IPv4DontFragment,
			TTL:   64,
			Src:   hostIP,
			Dst:   peerIP,
			Payload: Nested(&UDP{
				SrcPort: 5000,
				DstPort: 5001,
				Payload: Opaque([]byte("ping")),
			}),
		}),
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestEncodeFillsLengthsAndChecksums(t *testing.T) {
	b, err := Encode(newPing())
	require.NoError(t, err)
	assert.Equal(t, pingFrame, hex.EncodeToString(b))
}

func TestEncodeMatchesGopacket(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		Id:       0x1234,
		Flags:    layers.IPv4DontFragment,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(hostIP.AsSlice()),
		DstIP:    net.IP(peerIP.AsSlice()),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 5001}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	eth := &layers.Ethernet{
		SrcMAC:       hostMAC.HardwareAddr(),
		DstMAC:       peerMAC.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("ping")))

	ours, err := Encode(newPing())
	require.NoError(t, err)
	// gopacket pads short frames to the 60 byte minimum.
	want := buf.Bytes()
	require.GreaterOrEqual(t, len(want), len(ours))
	assert.Equal(t, want[:len(ours)], ours)
	assert.Equal(t, make([]byte, len(want)-len(ours)), want[len(ours):])
}

func TestDecodePingRoundTrip(t *testing.T) {
	raw := mustHex(t, pingFrame)
	eth, err := DecodeEthernet(raw)
	require.NoError(t, err)

	ip, ok := eth.Payload.Packet.(*IPv4)
	require.True(t, ok, "payload: %s", eth.Payload)
	assert.Equal(t, hostIP, ip.Src)
	assert.Equal(t, peerIP, ip.Dst)
	assert.Equal(t, IPv4DontFragment, ip.Flags)
	assert.Equal(t, Set(uint8(5)), ip.IHL)

	udp, ok := ip.Payload.Packet.(*UDP)
	require.True(t, ok)
	assert.Equal(t, []byte("ping"), udp.Payload.Raw)

	// The decoded checksum agrees with a fresh pseudo-header computation.
	sum, _ := udp.Checksum.Get()
	udp.Checksum.Clear()
	again, err := Encode(eth)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
	udp2, err := DecodeUDP(again[34:])
	require.NoError(t, err)
	assert.Equal(t, Set(sum), udp2.Checksum)

	v, ok := udp.Field(FieldPayload)
	require.True(t, ok)
	assert.True(t, Equal(v, "ping"))
}

func TestIPv4HeaderChecksumVerifies(t *testing.T) {
	b, err := Encode(newPing().Payload.Packet)
	require.NoError(t, err)
	hl := int(b[0]&0x0f) * 4
	assert.Equal(t, uint16(0), Checksum(b[:hl]), "checksum over a finished header folds to zero")

	// With options the checksum still covers the whole header.
	ip := &IPv4{TTL: 1, Src: hostIP, Dst: peerIP, Options: []byte{0x94, 0x04, 0x00}, Protocol: Set(uint8(253))}
	b, err = Encode(ip)
	require.NoError(t, err)
	require.Equal(t, byte(0x46), b[0])
	assert.Equal(t, uint16(0), Checksum(b[:24]))
	assert.Equal(t, uint16(24), binary.BigEndian.Uint16(b[2:4]))
}

func TestIPv4DeclaredIHLMovesPayload(t *testing.T) {
	ip := &IPv4{
		IHL:      Set(uint8(6)),
		TTL:      64,
		Protocol: Set(uint8(253)),
		Src:      hostIP,
		Dst:      peerIP,
		Payload:  Opaque([]byte{0xaa, 0xbb}),
	}
	b, err := Encode(ip)
	require.NoError(t, err)
	require.Len(t, b, 26)
	assert.Equal(t, []byte{0xaa, 0xbb}, b[24:])

	decoded, err := DecodeIPv4(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, decoded.Options)
	assert.Equal(t, []byte{0xaa, 0xbb}, decoded.Payload.Raw)
}

func TestExplicitZeroChecksumIsKept(t *testing.T) {
	eth := newPing()
	ip := eth.Payload.Packet.(*IPv4)
	ip.Checksum = Set(uint16(0))
	ip.Payload.Packet.(*UDP).Checksum = Set(uint16(0))

	b, err := Encode(eth)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, b[24:26])
	assert.Equal(t, []byte{0, 0}, b[40:42])
}

func TestUDPWithoutIPLeavesChecksumZero(t *testing.T) {
	b, err := Encode(&UDP{SrcPort: 1, DstPort: 2, Payload: Opaque([]byte{1, 2, 3})})
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "00010002000b0000010203"), b)
}

func TestDecodeTruncatedFrame(t *testing.T) {
	raw := mustHex(t, pingFrame)

	t.Run("inside udp header", func(t *testing.T) {
		eth, err := DecodeEthernet(raw[:14+20+4])
		require.NoError(t, err)
		ip, ok := eth.Payload.Packet.(*IPv4)
		require.True(t, ok)
		assert.True(t, ip.Payload.IsOpaque())
		assert.Equal(t, raw[34:38], ip.Payload.Raw)
	})

	t.Run("inside ip header", func(t *testing.T) {
		eth, err := DecodeEthernet(raw[:14+10])
		require.NoError(t, err)
		assert.True(t, eth.Payload.IsOpaque())
		assert.Len(t, eth.Payload.Raw, 10)
	})

	t.Run("inside ethernet header", func(t *testing.T) {
		_, err := DecodeEthernet(raw[:9])
		assert.ErrorIs(t, err, core.ErrTruncated)
	})

	t.Run("udp payload cut short", func(t *testing.T) {
		eth, err := DecodeEthernet(raw[:len(raw)-2])
		require.NoError(t, err)
		udp := Find(eth, KindUDP)
		require.NotNil(t, udp)
		assert.Equal(t, []byte("pi"), udp.Body().Raw)
	})
}

func TestDecodeTrimsEthernetPadding(t *testing.T) {
	raw := append(mustHex(t, pingFrame), make([]byte, 18)...)
	eth, err := DecodeEthernet(raw)
	require.NoError(t, err)
	udp := Find(eth, KindUDP)
	require.NotNil(t, udp)
	assert.Equal(t, []byte("ping"), udp.Body().Raw)
}

func TestUnknownProtocolIsOpaque(t *testing.T) {
	ip := &IPv4{TTL: 1, Protocol: Set(uint8(6)), Src: hostIP, Dst: peerIP, Payload: Opaque([]byte{1, 2, 3, 4})}
	b, err := Encode(ip)
	require.NoError(t, err)

	decoded, err := DecodeIPv4(b)
	require.NoError(t, err)
	assert.True(t, decoded.Payload.IsOpaque())
	assert.Equal(t, []byte{1, 2, 3, 4}, decoded.Payload.Raw)
}

func TestUnsetProtocolWithOpaquePayload(t *testing.T) {
	_, err := Encode(&IPv4{Src: hostIP, Dst: peerIP, Payload: Opaque([]byte{1})})
	assert.ErrorIs(t, err, core.ErrFieldUnset)
}

func TestDecodeIPDispatchesOnVersion(t *testing.T) {
	raw := mustHex(t, pingFrame)[14:]
	p, err := DecodeIP(raw)
	require.NoError(t, err)
	assert.Equal(t, KindIPv4, p.Kind())

	p, err = DecodeIP([]byte{0x50, 0x01})
	require.NoError(t, err)
	require.Equal(t, KindRaw, p.Kind())
	out, err := Encode(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x50, 0x01}, out)

	_, err = DecodeIP(nil)
	assert.ErrorIs(t, err, core.ErrTruncated)
}

func TestIPv6UDPChecksum(t *testing.T) {
	p := &IPv6{
		HopLimit: 64,
		Src:      netip.MustParseAddr("fd00::1"),
		Dst:      netip.MustParseAddr("fd00::2"),
		Payload:  Nested(&UDP{SrcPort: 5000, DstPort: 5001, Payload: Opaque([]byte("ping"))}),
	}
	b, err := Encode(p)
	require.NoError(t, err)
	require.Len(t, b, 40+8+4)
	assert.Equal(t, uint16(12), binary.BigEndian.Uint16(b[4:6]))
	assert.Equal(t, IPProtocolUDP, b[6])

	pkt := gopacket.NewPacket(b, layers.LayerTypeIPv6, gopacket.Default)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, layers.UDPPort(5001), udp.DstPort)

	// Verifying a received segment: pseudo-header plus segment folds to zero.
	pseudo := ipv6Pseudo(p.Src, p.Dst)(IPProtocolUDP, 12)
	assert.Equal(t, uint16(0), Checksum(append(pseudo, b[40:]...)))
}

func TestPseudoHeaderChecksum(t *testing.T) {
	ip := &IPv4{Src: hostIP, Dst: peerIP}
	want := Checksum(mustHex(t, "0a0000010a00000200110010"))
	assert.Equal(t, want, ip.PseudoHeaderChecksum(IPProtocolUDP, 16))
}

func TestChecksumOddLength(t *testing.T) {
	assert.Equal(t, ^uint16(0x0100), Checksum([]byte{0x01}))
	assert.Equal(t, uint16(0xffff), Checksum(nil))
	// RFC 1071 worked example.
	assert.Equal(t, ^uint16(0xddf2), Checksum([]byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}))
}
