package packet

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tapcheck/internal/core"
)

// DecoderFor returns the top-level decoder for frames read from a device
// with the given link type: Ethernet for TAP devices, bare IP for TUN
// devices, and the address-family header for BSD style tunnels.
func DecoderFor(lt layers.LinkType) (DecodeFunc, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return adapt(DecodeEthernet), nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return DecodeIP, nil
	case layers.LinkTypeNull:
		return adapt(DecodeNull), nil
	case layers.LinkTypeLoop:
		return adapt(DecodeAF), nil
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnknownLink, lt)
}

// DecodeIP decodes an IPv4 or IPv6 packet by its version nibble. Other
// versions come back as Raw.
func DecodeIP(b []byte) (Packet, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: ip: empty buffer", core.ErrTruncated)
	}
	var (
		p   Packet
		err error
	)
	switch v := b[0] >> 4; v {
	case 4:
		p, err = DecodeIPv4(b)
	case 6:
		p, err = DecodeIPv6(b)
	default:
		return &Raw{Data: b}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

var linkTypeNames = map[string]layers.LinkType{
	"ethernet": layers.LinkTypeEthernet,
	"tap":      layers.LinkTypeEthernet,
	"raw":      layers.LinkTypeRaw,
	"ip":       layers.LinkTypeRaw,
	"tun":      layers.LinkTypeRaw,
	"null":     layers.LinkTypeNull,
	"loop":     layers.LinkTypeLoop,
	"af":       layers.LinkTypeLoop,
}

// ParseLinkType maps a configuration name to a link type.
func ParseLinkType(name string) (layers.LinkType, error) {
	if lt, ok := linkTypeNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lt, nil
	}
	return 0, fmt.Errorf("%w: %q", core.ErrUnknownLink, name)
}
