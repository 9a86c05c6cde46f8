package packet

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// Address family values seen in the 4-byte tunnel header. The IPv6 value
// differs between kernels.
const (
	AFInet         uint32 = 2
	AFInet6Linux   uint32 = 10
	AFInet6OpenBSD uint32 = 24
	AFInet6FreeBSD uint32 = 28
	AFInet6Darwin  uint32 = 30

	// AFInet6 is the family written when an IPv6 payload leaves it unset.
	AFInet6 = AFInet6Darwin
)

// AFFamily is the only AF header field.
const AFFamily FieldName = "family"

var afFormat = bitfield.NewFormat(bitfield.Uint(string(AFFamily), 32))

// AF is the address-family tagged framing used by point-to-point tunnel
// devices: a 32-bit family followed by an IP packet. The family is
// big-endian on loop links and in host byte order on null links.
type AF struct {
	Family Opt[uint32]
	// LittleEndian marks a family word stored least significant byte first.
	LittleEndian bool
	Payload      Payload
}

// DecodeAF decodes the family word and dispatches the payload on it.
func DecodeAF(b []byte) (*AF, error) {
	values, err := afFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: af: %w", core.ErrTruncated, err)
	}
	family := uint32(values[0].U)
	return &AF{
		Family:  Set(family),
		Payload: addressFamilies.decode(family, b[afFormat.MinBytes():]),
	}, nil
}

// DecodeNull decodes a null-link frame, whose family word is in the byte
// order of the capturing host. Family values fit in the low byte, so a
// word with any of its upper three bytes set is read as little-endian.
func DecodeNull(b []byte) (*AF, error) {
	if len(b) < afFormat.MinBytes() {
		return nil, fmt.Errorf("%w: af: need %d bytes, have %d", core.ErrTruncated, afFormat.MinBytes(), len(b))
	}
	if binary.BigEndian.Uint32(b)&0xFFFFFF00 == 0 {
		return DecodeAF(b)
	}
	family := binary.LittleEndian.Uint32(b)
	return &AF{
		Family:       Set(family),
		LittleEndian: true,
		Payload:      addressFamilies.decode(family, b[afFormat.MinBytes():]),
	}, nil
}

func (a *AF) Kind() Kind    { return KindAF }
func (a *AF) Body() Payload { return a.Payload }

func (a *AF) Field(name FieldName) (any, bool) {
	switch name {
	case AFFamily:
		if v, ok := a.Family.Get(); ok {
			return v, true
		}
		return familyOf(a.Payload.Packet)
	case FieldPayload:
		return a.Payload.value(), true
	}
	return nil, false
}

func (a *AF) String() string {
	family, _ := a.Field(AFFamily)
	return layered(fmt.Sprintf("AF(family=%v)", family), a.Payload)
}

func (a *AF) marshal(_ pseudoHeader) ([]byte, error) {
	family, ok := a.Family.Get()
	if !ok {
		if family, ok = familyOf(a.Payload.Packet); !ok {
			return nil, fmt.Errorf("%w: af family", core.ErrFieldUnset)
		}
	}
	body, err := a.Payload.marshal(nil)
	if err != nil {
		return nil, err
	}
	if a.LittleEndian {
		family = bits.ReverseBytes32(family)
	}
	hdr, err := afFormat.Pack([]bitfield.Value{bitfield.U64(uint64(family))})
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}
