//go:build !linux

package source

import (
	"errors"
	"time"
)

type AFPacketConfig struct {
	Device       string        `mapstructure:"device"`
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	EtherTypes   []uint16      `mapstructure:"ether_types"`
}

type AFPacket struct{}

func OpenAFPacket(AFPacketConfig) (*AFPacket, error) {
	return nil, errors.New("afpacket sources are only available on linux")
}

func (*AFPacket) Read(*Cancel) ([]byte, error) { return nil, errors.New("afpacket unsupported") }
func (*AFPacket) Close() error                 { return nil }
