package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// ICMPv6 message types
const (
	ICMPv6EchoRequest           uint8 = 128
	ICMPv6EchoReply             uint8 = 129
	ICMPv6RouterSolicitation    uint8 = 133
	ICMPv6RouterAdvertisement   uint8 = 134
	ICMPv6NeighborSolicitation  uint8 = 135
	ICMPv6NeighborAdvertisement uint8 = 136
)

// ICMPv6 fields
const (
	ICMPv6Type     FieldName = "type"
	ICMPv6Code     FieldName = "code"
	ICMPv6Checksum FieldName = "checksum"
)

var icmpv6Format = bitfield.NewFormat(
	bitfield.Uint(string(ICMPv6Type), 8),
	bitfield.Uint(string(ICMPv6Code), 8),
	bitfield.Uint(string(ICMPv6Checksum), 16),
)

// ICMPv6 is the common ICMPv6 header (RFC 4443). The message body is
// dispatched on Type. The checksum covers the IPv6 pseudo-header and is
// computed when unset.
type ICMPv6 struct {
	Type     Opt[uint8]
	Code     uint8
	Checksum Opt[uint16]
	Payload  Payload
}

// DecodeICMPv6 decodes the header and the message body for known types.
func DecodeICMPv6(b []byte) (*ICMPv6, error) {
	values, err := icmpv6Format.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: icmpv6: %w", core.ErrTruncated, err)
	}
	typ := uint8(values[0].U)
	return &ICMPv6{
		Type:     Set(typ),
		Code:     uint8(values[1].U),
		Checksum: Set(uint16(values[2].U)),
		Payload:  icmpv6Types.decode(typ, b[icmpv6Format.MinBytes():]),
	}, nil
}

func (m *ICMPv6) Kind() Kind    { return KindICMPv6 }
func (m *ICMPv6) Body() Payload { return m.Payload }

func (m *ICMPv6) Field(name FieldName) (any, bool) {
	switch name {
	case ICMPv6Type:
		if v, ok := m.Type.Get(); ok {
			return v, true
		}
		return icmpv6TypeOf(m.Payload.Packet)
	case ICMPv6Code:
		return m.Code, true
	case ICMPv6Checksum:
		return m.Checksum.field()
	case FieldPayload:
		return m.Payload.value(), true
	}
	return nil, false
}

func (m *ICMPv6) String() string {
	typ, _ := m.Field(ICMPv6Type)
	return layered(fmt.Sprintf("ICMPv6(type=%v code=%d)", typ, m.Code), m.Payload)
}

func (m *ICMPv6) marshal(ph pseudoHeader) ([]byte, error) {
	typ, ok := m.Type.Get()
	if !ok {
		if typ, ok = icmpv6TypeOf(m.Payload.Packet); !ok {
			return nil, fmt.Errorf("%w: icmpv6 type", core.ErrFieldUnset)
		}
	}
	body, err := m.Payload.marshal(nil)
	if err != nil {
		return nil, err
	}
	hdr, err := icmpv6Format.Pack([]bitfield.Value{
		bitfield.U64(uint64(typ)),
		bitfield.U64(uint64(m.Code)),
		bitfield.U64(0),
	})
	if err != nil {
		return nil, err
	}
	checksum, ok := m.Checksum.Get()
	if !ok && ph != nil {
		checksum = transportChecksum(ph(IPProtocolICMPv6, len(hdr)+len(body)), hdr, body)
	}
	binary.BigEndian.PutUint16(hdr[2:4], checksum)
	return append(hdr, body...), nil
}

// Neighbor Discovery message fields
const (
	NDReserved       FieldName = "reserved"
	NDTarget         FieldName = "target"
	NDOptions        FieldName = "options"
	NDSourceLinkAddr FieldName = "sll"
	NDTargetLinkAddr FieldName = "tll"
	NARouter         FieldName = "router"
	NASolicited      FieldName = "solicited"
	NAOverride       FieldName = "override"
)

var (
	nsFormat = bitfield.NewFormat(
		bitfield.Uint(string(NDReserved), 32),
		bitfield.Bytes(string(NDTarget), 128),
	)
	naFormat = bitfield.NewFormat(
		bitfield.Uint(string(NARouter), 1),
		bitfield.Uint(string(NASolicited), 1),
		bitfield.Uint(string(NAOverride), 1),
		bitfield.Uint(string(NDReserved), 29),
		bitfield.Bytes(string(NDTarget), 128),
	)
)

// NeighborSolicitation is the body of an ICMPv6 type 135 message (RFC 4861 §4.3).
type NeighborSolicitation struct {
	Reserved uint32
	Target   netip.Addr
	Options  []NDOption
}

// DecodeNeighborSolicitation decodes the message body following the ICMPv6 header.
func DecodeNeighborSolicitation(b []byte) (*NeighborSolicitation, error) {
	values, err := nsFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: neighbor solicitation: %w", core.ErrTruncated, err)
	}
	return &NeighborSolicitation{
		Reserved: uint32(values[0].U),
		Target:   netip.AddrFrom16([16]byte(values[1].B)),
		Options:  ParseNDOptions(b[nsFormat.MinBytes():]),
	}, nil
}

func (ns *NeighborSolicitation) Kind() Kind    { return KindNeighborSolicitation }
func (ns *NeighborSolicitation) Body() Payload { return Payload{} }

func (ns *NeighborSolicitation) Field(name FieldName) (any, bool) {
	switch name {
	case NDReserved:
		return ns.Reserved, true
	case NDTarget:
		return ns.Target, true
	case NDOptions:
		return ns.Options, true
	case NDSourceLinkAddr:
		return linkAddrOption(ns.Options, NDOptionSourceLinkAddr)
	case NDTargetLinkAddr:
		return linkAddrOption(ns.Options, NDOptionTargetLinkAddr)
	}
	return nil, false
}

func (ns *NeighborSolicitation) String() string {
	return fmt.Sprintf("NeighborSolicitation(target=%s options=%d)", ns.Target, len(ns.Options))
}

func (ns *NeighborSolicitation) marshal(_ pseudoHeader) ([]byte, error) {
	target := addr16(ns.Target)
	hdr, err := nsFormat.Pack([]bitfield.Value{
		bitfield.U64(uint64(ns.Reserved)),
		bitfield.B(target[:]),
	})
	if err != nil {
		return nil, err
	}
	return appendNDOptions(hdr, ns.Options), nil
}

// NeighborAdvertisement is the body of an ICMPv6 type 136 message (RFC 4861 §4.4).
type NeighborAdvertisement struct {
	Router    bool
	Solicited bool
	Override  bool
	Reserved  uint32
	Target    netip.Addr
	Options   []NDOption
}

// DecodeNeighborAdvertisement decodes the message body following the ICMPv6 header.
func DecodeNeighborAdvertisement(b []byte) (*NeighborAdvertisement, error) {
	values, err := naFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: neighbor advertisement: %w", core.ErrTruncated, err)
	}
	return &NeighborAdvertisement{
		Router:    values[0].U != 0,
		Solicited: values[1].U != 0,
		Override:  values[2].U != 0,
		Reserved:  uint32(values[3].U),
		Target:    netip.AddrFrom16([16]byte(values[4].B)),
		Options:   ParseNDOptions(b[naFormat.MinBytes():]),
	}, nil
}

func (na *NeighborAdvertisement) Kind() Kind    { return KindNeighborAdvertisement }
func (na *NeighborAdvertisement) Body() Payload { return Payload{} }

func (na *NeighborAdvertisement) Field(name FieldName) (any, bool) {
	switch name {
	case NARouter:
		return na.Router, true
	case NASolicited:
		return na.Solicited, true
	case NAOverride:
		return na.Override, true
	case NDReserved:
		return na.Reserved, true
	case NDTarget:
		return na.Target, true
	case NDOptions:
		return na.Options, true
	case NDSourceLinkAddr:
		return linkAddrOption(na.Options, NDOptionSourceLinkAddr)
	case NDTargetLinkAddr:
		return linkAddrOption(na.Options, NDOptionTargetLinkAddr)
	}
	return nil, false
}

func (na *NeighborAdvertisement) String() string {
	return fmt.Sprintf("NeighborAdvertisement(target=%s R=%t S=%t O=%t options=%d)",
		na.Target, na.Router, na.Solicited, na.Override, len(na.Options))
}

func (na *NeighborAdvertisement) marshal(_ pseudoHeader) ([]byte, error) {
	target := addr16(na.Target)
	hdr, err := naFormat.Pack([]bitfield.Value{
		bitfield.U64(boolBit(na.Router)),
		bitfield.U64(boolBit(na.Solicited)),
		bitfield.U64(boolBit(na.Override)),
		bitfield.U64(uint64(na.Reserved)),
		bitfield.B(target[:]),
	})
	if err != nil {
		return nil, err
	}
	return appendNDOptions(hdr, na.Options), nil
}

// Echo fields
const (
	EchoID   FieldName = "id"
	EchoSeq  FieldName = "seq"
	EchoData FieldName = "data"
)

var echoFormat = bitfield.NewFormat(
	bitfield.Uint(string(EchoID), 16),
	bitfield.Uint(string(EchoSeq), 16),
)

// Echo is the body of an ICMPv6 echo request or reply (RFC 4443 §4).
type Echo struct {
	ID   uint16
	Seq  uint16
	Data []byte
}

// DecodeEcho decodes the message body following the ICMPv6 header.
func DecodeEcho(b []byte) (*Echo, error) {
	values, err := echoFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: echo: %w", core.ErrTruncated, err)
	}
	return &Echo{
		ID:   uint16(values[0].U),
		Seq:  uint16(values[1].U),
		Data: b[echoFormat.MinBytes():],
	}, nil
}

func (e *Echo) Kind() Kind    { return KindEcho }
func (e *Echo) Body() Payload { return Payload{} }

func (e *Echo) Field(name FieldName) (any, bool) {
	switch name {
	case EchoID:
		return e.ID, true
	case EchoSeq:
		return e.Seq, true
	case EchoData:
		return e.Data, true
	}
	return nil, false
}

func (e *Echo) String() string {
	return fmt.Sprintf("Echo(id=%d seq=%d len=%d)", e.ID, e.Seq, len(e.Data))
}

func (e *Echo) marshal(_ pseudoHeader) ([]byte, error) {
	hdr, err := echoFormat.Pack([]bitfield.Value{
		bitfield.U64(uint64(e.ID)),
		bitfield.U64(uint64(e.Seq)),
	})
	if err != nil {
		return nil, err
	}
	return append(hdr, e.Data...), nil
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
