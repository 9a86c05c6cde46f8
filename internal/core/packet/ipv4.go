package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// IP protocol numbers
const (
	IPProtocolUDP    uint8 = 17
	IPProtocolICMPv6 uint8 = 58
)

// IPv4 flag bits
const (
	IPv4DontFragment  uint8 = 0x2
	IPv4MoreFragments uint8 = 0x1
)

// IPv4 fields
const (
	IPv4Version     FieldName = "version"
	IPv4IHL         FieldName = "ihl"
	IPv4DSCP        FieldName = "dscp"
	IPv4ECN         FieldName = "ecn"
	IPv4TotalLength FieldName = "total_length"
	IPv4ID          FieldName = "id"
	IPv4Flags       FieldName = "flags"
	IPv4FragOffset  FieldName = "frag_offset"
	IPv4TTL         FieldName = "ttl"
	IPv4Protocol    FieldName = "proto"
	IPv4Checksum    FieldName = "checksum"
	IPv4Src         FieldName = "src"
	IPv4Dst         FieldName = "dst"
	IPv4Options     FieldName = "options"
)

const ipv4MinHeader = 20

var ipv4Format = bitfield.NewFormat(
	bitfield.Uint(string(IPv4Version), 4),
	bitfield.Uint(string(IPv4IHL), 4),
	bitfield.Uint(string(IPv4DSCP), 6),
	bitfield.Uint(string(IPv4ECN), 2),
	bitfield.Uint(string(IPv4TotalLength), 16),
	bitfield.Uint(string(IPv4ID), 16),
	bitfield.Uint(string(IPv4Flags), 3),
	bitfield.Uint(string(IPv4FragOffset), 13),
	bitfield.Uint(string(IPv4TTL), 8),
	bitfield.Uint(string(IPv4Protocol), 8),
	bitfield.Uint(string(IPv4Checksum), 16),
	bitfield.Bytes(string(IPv4Src), 32),
	bitfield.Bytes(string(IPv4Dst), 32),
)

// IPv4 is an IPv4 datagram (RFC 791).
//
// IHL, TotalLength and Checksum are computed at encode time when unset, in
// that order: the header length fixes the payload offset, and the checksum
// covers the final header. Protocol is inferred from the payload kind.
type IPv4 struct {
	Version     Opt[uint8]
	IHL         Opt[uint8]
	DSCP        uint8
	ECN         uint8
	TotalLength Opt[uint16]
	ID          uint16
	Flags       uint8
	FragOffset  uint16
	TTL         uint8
	Protocol    Opt[uint8]
	Checksum    Opt[uint16]
	Src         netip.Addr
	Dst         netip.Addr
	Options     []byte
	Payload     Payload
}

// DecodeIPv4 decodes a datagram. The payload starts at IHL×4 and ends at
// TotalLength when both are consistent with the buffer; otherwise as much as
// the buffer holds is kept.
func DecodeIPv4(b []byte) (*IPv4, error) {
	values, err := ipv4Format.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: ipv4: %w", core.ErrTruncated, err)
	}
	p := &IPv4{
		Version:     Set(uint8(values[0].U)),
		IHL:         Set(uint8(values[1].U)),
		DSCP:        uint8(values[2].U),
		ECN:         uint8(values[3].U),
		TotalLength: Set(uint16(values[4].U)),
		ID:          uint16(values[5].U),
		Flags:       uint8(values[6].U),
		FragOffset:  uint16(values[7].U),
		TTL:         uint8(values[8].U),
		Protocol:    Set(uint8(values[9].U)),
		Checksum:    Set(uint16(values[10].U)),
		Src:         netip.AddrFrom4([4]byte(values[11].B)),
		Dst:         netip.AddrFrom4([4]byte(values[12].B)),
	}

	hl := int(values[1].U) * 4
	if hl < ipv4MinHeader {
		hl = ipv4MinHeader
	}
	if hl > len(b) {
		hl = len(b)
	}
	if hl > ipv4MinHeader {
		p.Options = b[ipv4MinHeader:hl]
	}
	end := len(b)
	if tl := int(values[4].U); tl >= hl && tl <= len(b) {
		end = tl
	}
	p.Payload = ipProtocols.decode(uint8(values[9].U), b[hl:end])
	return p, nil
}

func (p *IPv4) Kind() Kind    { return KindIPv4 }
func (p *IPv4) Body() Payload { return p.Payload }

func (p *IPv4) Field(name FieldName) (any, bool) {
	switch name {
	case IPv4Version:
		return p.Version.Or(4), true
	case IPv4IHL:
		return p.IHL.field()
	case IPv4DSCP:
		return p.DSCP, true
	case IPv4ECN:
		return p.ECN, true
	case IPv4TotalLength:
		return p.TotalLength.field()
	case IPv4ID:
		return p.ID, true
	case IPv4Flags:
		return p.Flags, true
	case IPv4FragOffset:
		return p.FragOffset, true
	case IPv4TTL:
		return p.TTL, true
	case IPv4Protocol:
		if v, ok := p.Protocol.Get(); ok {
			return v, true
		}
		return ipProtocolOf(p.Payload.Packet)
	case IPv4Checksum:
		return p.Checksum.field()
	case IPv4Src:
		return p.Src, true
	case IPv4Dst:
		return p.Dst, true
	case IPv4Options:
		return p.Options, true
	case FieldPayload:
		return p.Payload.value(), true
	}
	return nil, false
}

func (p *IPv4) String() string {
	proto, _ := p.Field(IPv4Protocol)
	head := fmt.Sprintf("IPv4(src=%s dst=%s proto=%v ttl=%d)", p.Src, p.Dst, proto, p.TTL)
	return layered(head, p.Payload)
}

// PseudoHeaderChecksum returns the checksum of the RFC 768 pseudo-header for
// a transport segment of the given protocol and length carried by p.
func (p *IPv4) PseudoHeaderChecksum(proto uint8, length int) uint16 {
	return Checksum(ipv4Pseudo(p.Src, p.Dst)(proto, length))
}

func (p *IPv4) marshal(_ pseudoHeader) ([]byte, error) {
	proto, ok := p.Protocol.Get()
	if !ok {
		if proto, ok = ipProtocolOf(p.Payload.Packet); !ok {
			return nil, fmt.Errorf("%w: ipv4 protocol", core.ErrFieldUnset)
		}
	}
	body, err := p.Payload.marshal(ipv4Pseudo(p.Src, p.Dst))
	if err != nil {
		return nil, err
	}

	opts := p.Options
	if pad := len(opts) % 4; pad != 0 {
		opts = append(append([]byte(nil), opts...), make([]byte, 4-pad)...)
	}
	ihl, ok := p.IHL.Get()
	if !ok {
		ihl = uint8((ipv4MinHeader + len(opts)) / 4)
	}
	// A declared header length longer than the options moves the payload.
	if want := int(ihl)*4 - ipv4MinHeader; want > len(opts) {
		opts = append(append([]byte(nil), opts...), make([]byte, want-len(opts))...)
	}
	total, ok := p.TotalLength.Get()
	if !ok {
		n := ipv4MinHeader + len(opts) + len(body)
		if n > 0xffff {
			return nil, fmt.Errorf("%w: ipv4 total length %d", core.ErrPayloadTooLong, n)
		}
		total = uint16(n)
	}

	src, dst := addr4(p.Src), addr4(p.Dst)
	hdr, err := ipv4Format.Pack([]bitfield.Value{
		bitfield.U64(uint64(p.Version.Or(4))),
		bitfield.U64(uint64(ihl)),
		bitfield.U64(uint64(p.DSCP)),
		bitfield.U64(uint64(p.ECN)),
		bitfield.U64(uint64(total)),
		bitfield.U64(uint64(p.ID)),
		bitfield.U64(uint64(p.Flags)),
		bitfield.U64(uint64(p.FragOffset)),
		bitfield.U64(uint64(p.TTL)),
		bitfield.U64(uint64(proto)),
		bitfield.U64(0),
		bitfield.B(src[:]),
		bitfield.B(dst[:]),
	})
	if err != nil {
		return nil, err
	}
	hdr = append(hdr, opts...)

	checksum, ok := p.Checksum.Get()
	if !ok {
		checksum = Checksum(hdr)
	}
	binary.BigEndian.PutUint16(hdr[10:12], checksum)
	return append(hdr, body...), nil
}
