package cmd

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
)

func udpFrame(t *testing.T, payload string) []byte {
	t.Helper()
	b, err := packet.Encode(&packet.Ethernet{
		Dst: packet.MustParseMAC("02:00:00:00:00:01"),
		Src: packet.MustParseMAC("02:00:00:00:00:02"),
		Payload: packet.Nested(&packet.IPv4{
			TTL: 64,
			Src: netip.MustParseAddr("10.0.0.2"),
			Dst: netip.MustParseAddr("10.0.0.1"),
			Payload: packet.Nested(&packet.UDP{
				SrcPort: 5001,
				DstPort: 5000,
				Payload: packet.Opaque([]byte(payload)),
			}),
		}),
	})
	require.NoError(t, err)
	return b
}

func capture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, b := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(b), Length: len(b)}
		require.NoError(t, w.WritePacket(ci, b))
	}
	return path
}

const pingScenario = `
name: ping
timeout: 1s
expectations:
  - name: ping
    times: 2
    match:
      kind: ethernet
      has: [{kind: udp, fields: {dport: 5000, payload: ping}}]
`

func TestReplayPasses(t *testing.T) {
	pcap := capture(t, udpFrame(t, "ping"), udpFrame(t, "ping"))
	sc := writeFile(t, "ping.yml", pingScenario)

	var buf bytes.Buffer
	err := runReplay(context.Background(), testConfig(t), sc, pcap, &buf)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ ping passed")
}

func TestReplayUnexpected(t *testing.T) {
	pcap := capture(t, udpFrame(t, "ping"), udpFrame(t, "pong"))
	sc := writeFile(t, "ping.yml", pingScenario)

	var buf bytes.Buffer
	err := runReplay(context.Background(), testConfig(t), sc, pcap, &buf)

	assert.ErrorIs(t, err, core.ErrUnexpectedPacket)
	assert.Contains(t, buf.String(), "✗ ping failed")
	assert.Contains(t, buf.String(), "pending: ping")
}

func TestReplayShortCapture(t *testing.T) {
	pcap := capture(t, udpFrame(t, "ping"))
	sc := writeFile(t, "ping.yml", pingScenario)

	var buf bytes.Buffer
	err := runReplay(context.Background(), testConfig(t), sc, pcap, &buf)

	assert.ErrorIs(t, err, errUnsatisfied)
}

func TestReplayNeedsCapturePath(t *testing.T) {
	sc := writeFile(t, "ping.yml", pingScenario)
	err := runReplay(context.Background(), testConfig(t), sc, "", &bytes.Buffer{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
