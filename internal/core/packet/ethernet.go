package packet

import (
	"fmt"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// EtherType values
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86DD
)

// Ethernet fields
const (
	EthDst  FieldName = "dst"
	EthSrc  FieldName = "src"
	EthType FieldName = "type"
)

var ethernetFormat = bitfield.NewFormat(
	bitfield.Bytes(string(EthDst), 48),
	bitfield.Bytes(string(EthSrc), 48),
	bitfield.Uint(string(EthType), 16),
)

// Ethernet is an Ethernet II frame. Type is inferred from the payload kind when unset.
type Ethernet struct {
	Dst     MAC
	Src     MAC
	Type    Opt[uint16]
	Payload Payload
}

// DecodeEthernet decodes a frame. Payloads with an unknown EtherType stay opaque.
func DecodeEthernet(b []byte) (*Ethernet, error) {
	values, err := ethernetFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: ethernet: %w", core.ErrTruncated, err)
	}
	e := &Ethernet{
		Dst:  MAC(values[0].B),
		Src:  MAC(values[1].B),
		Type: Set(uint16(values[2].U)),
	}
	e.Payload = etherTypes.decode(uint16(values[2].U), b[ethernetFormat.MinBytes():])
	return e, nil
}

func (e *Ethernet) Kind() Kind    { return KindEthernet }
func (e *Ethernet) Body() Payload { return e.Payload }

func (e *Ethernet) Field(name FieldName) (any, bool) {
	switch name {
	case EthDst:
		return e.Dst, true
	case EthSrc:
		return e.Src, true
	case EthType:
		if t, ok := e.Type.Get(); ok {
			return t, true
		}
		return etherTypeOf(e.Payload.Packet)
	case FieldPayload:
		return e.Payload.value(), true
	}
	return nil, false
}

func (e *Ethernet) String() string {
	head := fmt.Sprintf("Ethernet(dst=%s src=%s type=%s)", e.Dst, e.Src, hexOpt16(e.Type))
	return layered(head, e.Payload)
}

func (e *Ethernet) marshal(_ pseudoHeader) ([]byte, error) {
	body, err := e.Payload.marshal(nil)
	if err != nil {
		return nil, err
	}
	typ, ok := e.Type.Get()
	if !ok {
		if typ, ok = etherTypeOf(e.Payload.Packet); !ok {
			return nil, fmt.Errorf("%w: ethernet type", core.ErrFieldUnset)
		}
	}
	hdr, err := ethernetFormat.Pack([]bitfield.Value{
		bitfield.B(e.Dst[:]),
		bitfield.B(e.Src[:]),
		bitfield.U64(uint64(typ)),
	})
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}

func hexOpt16(o Opt[uint16]) string {
	if v, ok := o.Get(); ok {
		return fmt.Sprintf("%#04x", v)
	}
	return "unset"
}
