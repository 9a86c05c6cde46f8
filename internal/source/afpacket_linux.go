package source

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/tapcheck/internal/core"
)

// AFPacketConfig describes a live capture on a host interface, usually the
// kernel side of a TAP device.
type AFPacketConfig struct {
	Device       string        `mapstructure:"device"`
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	EtherTypes   []uint16      `mapstructure:"ether_types"`
}

// AFPacket captures from an interface through a TPACKET_V3 ring. The ring
// is polled with a timeout, so a cancel is observed within PollTimeout.
type AFPacket struct {
	handle *afpacket.TPacket
}

func OpenAFPacket(cfg AFPacketConfig) (*AFPacket, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("afpacket source requires a device")
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = DefaultBufferSize
	}
	if cfg.BufferSizeMB <= 0 {
		cfg.BufferSizeMB = 2
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 50 * time.Millisecond
	}
	frameSize, blockSize, numBlocks, err := ringSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open afpacket on %s: %w", cfg.Device, err)
	}
	if len(cfg.EtherTypes) > 0 {
		prog, err := EtherTypeFilter(uint32(cfg.SnapLen), cfg.EtherTypes...)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return nil, fmt.Errorf("attach filter: %w", err)
		}
	}
	return &AFPacket{handle: tp}, nil
}

func (s *AFPacket) Read(cancel *Cancel) ([]byte, error) {
	for {
		if cancel.Fired() {
			return nil, core.ErrCanceled
		}
		data, _, err := s.handle.ReadPacketData()
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, afpacket.ErrTimeout), errors.Is(err, afpacket.ErrPoll):
			continue
		default:
			return nil, fmt.Errorf("afpacket read: %w", err)
		}
	}
}

func (s *AFPacket) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *AFPacket) Close() error {
	s.handle.Close()
	return nil
}
