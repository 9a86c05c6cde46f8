package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
)

// Interface kinds
const (
	InterfaceTAP  = "tap"
	InterfaceTUN  = "tun"
	InterfaceFile = "file"
)

// Source types
const (
	SourceDevice   = "device"
	SourcePcap     = "pcap"
	SourceAFPacket = "afpacket"
)

// InterfaceConfig describes the device under test and the addresses used to
// build expected and synthesized packets.
type InterfaceConfig struct {
	Type          string `mapstructure:"type"`      // tap / tun / file
	Name          string `mapstructure:"name"`      // interface name for tap/tun
	Path          string `mapstructure:"path"`      // device path for file
	LinkType      string `mapstructure:"link_type"` // file only: ethernet / raw / null / loop
	LocalIP       string `mapstructure:"local_ip"`
	RemoteIP      string `mapstructure:"remote_ip"`
	DestinationIP string `mapstructure:"destination_ip"`
	MAC           string `mapstructure:"mac"`
	PeerMAC       string `mapstructure:"peer_mac"`
}

// Addresses is the parsed form of the address fields.
type Addresses struct {
	Local       netip.Addr
	Remote      netip.Addr
	Destination netip.Addr
	MAC         packet.MAC
	PeerMAC     packet.MAC
}

// Validate validates interface configuration.
func (ic *InterfaceConfig) Validate() error {
	ic.Type = strings.ToLower(ic.Type)
	switch ic.Type {
	case "":
		ic.Type = InterfaceTAP
		fallthrough
	case InterfaceTAP, InterfaceTUN:
	case InterfaceFile:
		if ic.Path == "" {
			return fmt.Errorf("%w: interface.path is required for file interfaces", core.ErrConfigInvalid)
		}
		if ic.LinkType == "" {
			ic.LinkType = "ethernet"
		}
		if _, err := packet.ParseLinkType(ic.LinkType); err != nil {
			return fmt.Errorf("%w: interface.link_type: %w", core.ErrConfigInvalid, err)
		}
	default:
		return fmt.Errorf("%w: interface.type must be tap/tun/file, got %q", core.ErrConfigInvalid, ic.Type)
	}
	_, err := ic.Addresses()
	return err
}

// Addresses parses the address fields. Empty fields stay zero.
func (ic *InterfaceConfig) Addresses() (Addresses, error) {
	var a Addresses
	var err error
	if a.Local, err = parseAddr("interface.local_ip", ic.LocalIP); err != nil {
		return a, err
	}
	if a.Remote, err = parseAddr("interface.remote_ip", ic.RemoteIP); err != nil {
		return a, err
	}
	if a.Destination, err = parseAddr("interface.destination_ip", ic.DestinationIP); err != nil {
		return a, err
	}
	if a.MAC, err = parseMAC("interface.mac", ic.MAC); err != nil {
		return a, err
	}
	if a.PeerMAC, err = parseMAC("interface.peer_mac", ic.PeerMAC); err != nil {
		return a, err
	}
	return a, nil
}

// LinkLayer returns the link type datagrams from the interface carry.
func (ic *InterfaceConfig) LinkLayer() (layers.LinkType, error) {
	switch ic.Type {
	case InterfaceTUN:
		return layers.LinkTypeRaw, nil
	case InterfaceFile:
		return packet.ParseLinkType(ic.LinkType)
	}
	return layers.LinkTypeEthernet, nil
}

// SourceConfig selects where the reader takes datagrams from.
type SourceConfig struct {
	Type       string         `mapstructure:"type"`     // device / pcap / afpacket
	Strategy   string         `mapstructure:"strategy"` // device only: direct / forked
	BufferSize int            `mapstructure:"buffer_size"`
	PcapFile   string         `mapstructure:"pcap_file"`
	Record     string         `mapstructure:"record"` // optional pcap file receiving every datagram read
	AFPacket   AFPacketConfig `mapstructure:"afpacket"`
}

// AFPacketConfig captures the host side of a TAP interface.
type AFPacketConfig struct {
	Device       string        `mapstructure:"device"`
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	EtherTypes   []uint16      `mapstructure:"ether_types"`
}

// Validate validates source configuration against the interface it reads.
func (sc *SourceConfig) Validate(ic *InterfaceConfig) error {
	sc.Type = strings.ToLower(sc.Type)
	sc.Strategy = strings.ToLower(sc.Strategy)
	if sc.BufferSize <= 0 {
		sc.BufferSize = 65536
	}
	switch sc.Type {
	case "":
		sc.Type = SourceDevice
		fallthrough
	case SourceDevice:
		switch sc.Strategy {
		case "":
			sc.Strategy = "direct"
		case "direct", "forked":
		default:
			return fmt.Errorf("%w: source.strategy must be direct/forked, got %q", core.ErrConfigInvalid, sc.Strategy)
		}
	case SourcePcap:
		if sc.PcapFile == "" {
			return fmt.Errorf("%w: source.pcap_file is required for pcap sources", core.ErrConfigInvalid)
		}
	case SourceAFPacket:
		if sc.AFPacket.Device == "" {
			sc.AFPacket.Device = ic.Name
		}
		if sc.AFPacket.Device == "" {
			return fmt.Errorf("%w: source.afpacket.device is required", core.ErrConfigInvalid)
		}
		if sc.AFPacket.SnapLen <= 0 {
			sc.AFPacket.SnapLen = sc.BufferSize
		}
		if sc.AFPacket.BufferSizeMB <= 0 {
			sc.AFPacket.BufferSizeMB = 2
		}
		if sc.AFPacket.PollTimeout <= 0 {
			sc.AFPacket.PollTimeout = 50 * time.Millisecond
		}
	default:
		return fmt.Errorf("%w: source.type must be device/pcap/afpacket, got %q", core.ErrConfigInvalid, sc.Type)
	}
	return nil
}
