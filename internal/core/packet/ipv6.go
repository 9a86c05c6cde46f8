package packet

import (
	"fmt"
	"net/netip"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// IPv6 fields
const (
	IPv6Version       FieldName = "version"
	IPv6TrafficClass  FieldName = "traffic_class"
	IPv6FlowLabel     FieldName = "flow_label"
	IPv6PayloadLength FieldName = "payload_length"
	IPv6NextHeader    FieldName = "next_header"
	IPv6HopLimit      FieldName = "hop_limit"
	IPv6Src           FieldName = "src"
	IPv6Dst           FieldName = "dst"
)

var ipv6Format = bitfield.NewFormat(
	bitfield.Uint(string(IPv6Version), 4),
	bitfield.Uint(string(IPv6TrafficClass), 8),
	bitfield.Uint(string(IPv6FlowLabel), 20),
	bitfield.Uint(string(IPv6PayloadLength), 16),
	bitfield.Uint(string(IPv6NextHeader), 8),
	bitfield.Uint(string(IPv6HopLimit), 8),
	bitfield.Bytes(string(IPv6Src), 128),
	bitfield.Bytes(string(IPv6Dst), 128),
)

// IPv6 is an IPv6 packet (RFC 8200) without extension header parsing.
// PayloadLength is computed when unset; NextHeader is inferred from the payload kind.
type IPv6 struct {
	Version       Opt[uint8]
	TrafficClass  uint8
	FlowLabel     uint32
	PayloadLength Opt[uint16]
	NextHeader    Opt[uint8]
	HopLimit      uint8
	Src           netip.Addr
	Dst           netip.Addr
	Payload       Payload
}

// DecodeIPv6 decodes a packet, trimming the payload to PayloadLength when the buffer holds it.
func DecodeIPv6(b []byte) (*IPv6, error) {
	values, err := ipv6Format.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: ipv6: %w", core.ErrTruncated, err)
	}
	p := &IPv6{
		Version:       Set(uint8(values[0].U)),
		TrafficClass:  uint8(values[1].U),
		FlowLabel:     uint32(values[2].U),
		PayloadLength: Set(uint16(values[3].U)),
		NextHeader:    Set(uint8(values[4].U)),
		HopLimit:      uint8(values[5].U),
		Src:           netip.AddrFrom16([16]byte(values[6].B)),
		Dst:           netip.AddrFrom16([16]byte(values[7].B)),
	}
	rest := b[ipv6Format.MinBytes():]
	if pl := int(values[3].U); pl <= len(rest) {
		rest = rest[:pl]
	}
	p.Payload = ipProtocols.decode(uint8(values[4].U), rest)
	return p, nil
}

func (p *IPv6) Kind() Kind    { return KindIPv6 }
func (p *IPv6) Body() Payload { return p.Payload }

func (p *IPv6) Field(name FieldName) (any, bool) {
	switch name {
	case IPv6Version:
		return p.Version.Or(6), true
	case IPv6TrafficClass:
		return p.TrafficClass, true
	case IPv6FlowLabel:
		return p.FlowLabel, true
	case IPv6PayloadLength:
		return p.PayloadLength.field()
	case IPv6NextHeader:
		if v, ok := p.NextHeader.Get(); ok {
			return v, true
		}
		return ipProtocolOf(p.Payload.Packet)
	case IPv6HopLimit:
		return p.HopLimit, true
	case IPv6Src:
		return p.Src, true
	case IPv6Dst:
		return p.Dst, true
	case FieldPayload:
		return p.Payload.value(), true
	}
	return nil, false
}

func (p *IPv6) String() string {
	nh, _ := p.Field(IPv6NextHeader)
	head := fmt.Sprintf("IPv6(src=%s dst=%s nh=%v hlim=%d)", p.Src, p.Dst, nh, p.HopLimit)
	return layered(head, p.Payload)
}

func (p *IPv6) marshal(_ pseudoHeader) ([]byte, error) {
	nh, ok := p.NextHeader.Get()
	if !ok {
		if nh, ok = ipProtocolOf(p.Payload.Packet); !ok {
			return nil, fmt.Errorf("%w: ipv6 next header", core.ErrFieldUnset)
		}
	}
	body, err := p.Payload.marshal(ipv6Pseudo(p.Src, p.Dst))
	if err != nil {
		return nil, err
	}
	length, ok := p.PayloadLength.Get()
	if !ok {
		if len(body) > 0xffff {
			return nil, fmt.Errorf("%w: ipv6 payload length %d", core.ErrPayloadTooLong, len(body))
		}
		length = uint16(len(body))
	}
	src, dst := addr16(p.Src), addr16(p.Dst)
	hdr, err := ipv6Format.Pack([]bitfield.Value{
		bitfield.U64(uint64(p.Version.Or(6))),
		bitfield.U64(uint64(p.TrafficClass)),
		bitfield.U64(uint64(p.FlowLabel)),
		bitfield.U64(uint64(length)),
		bitfield.U64(uint64(nh)),
		bitfield.U64(uint64(p.HopLimit)),
		bitfield.B(src[:]),
		bitfield.B(dst[:]),
	})
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}
