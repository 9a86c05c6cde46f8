package packet

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// UDP fields
const (
	UDPSrcPort  FieldName = "sport"
	UDPDstPort  FieldName = "dport"
	UDPLength   FieldName = "length"
	UDPChecksum FieldName = "checksum"
)

const udpHeaderLen = 8

var udpFormat = bitfield.NewFormat(
	bitfield.Uint(string(UDPSrcPort), 16),
	bitfield.Uint(string(UDPDstPort), 16),
	bitfield.Uint(string(UDPLength), 16),
	bitfield.Uint(string(UDPChecksum), 16),
)

// UDP is a UDP datagram (RFC 768). Length and Checksum are computed when
// unset; the checksum needs an enclosing IPv4 or IPv6 packet for its
// pseudo-header and is left zero otherwise.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   Opt[uint16]
	Checksum Opt[uint16]
	Payload  Payload
}

// DecodeUDP decodes a datagram. The payload is always opaque.
func DecodeUDP(b []byte) (*UDP, error) {
	values, err := udpFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: udp: %w", core.ErrTruncated, err)
	}
	u := &UDP{
		SrcPort:  uint16(values[0].U),
		DstPort:  uint16(values[1].U),
		Length:   Set(uint16(values[2].U)),
		Checksum: Set(uint16(values[3].U)),
	}
	end := len(b)
	if l := int(values[2].U); l >= udpHeaderLen && l <= len(b) {
		end = l
	}
	u.Payload = Opaque(b[udpHeaderLen:end])
	return u, nil
}

func (u *UDP) Kind() Kind    { return KindUDP }
func (u *UDP) Body() Payload { return u.Payload }

func (u *UDP) Field(name FieldName) (any, bool) {
	switch name {
	case UDPSrcPort:
		return u.SrcPort, true
	case UDPDstPort:
		return u.DstPort, true
	case UDPLength:
		return u.Length.field()
	case UDPChecksum:
		return u.Checksum.field()
	case FieldPayload:
		return u.Payload.value(), true
	}
	return nil, false
}

func (u *UDP) String() string {
	head := fmt.Sprintf("UDP(sport=%d dport=%d)", u.SrcPort, u.DstPort)
	return layered(head, u.Payload)
}

func (u *UDP) marshal(ph pseudoHeader) ([]byte, error) {
	body, err := u.Payload.marshal(nil)
	if err != nil {
		return nil, err
	}
	length, ok := u.Length.Get()
	if !ok {
		n := udpHeaderLen + len(body)
		if n > 0xffff {
			return nil, fmt.Errorf("%w: udp length %d", core.ErrPayloadTooLong, n)
		}
		length = uint16(n)
	}
	hdr, err := udpFormat.Pack([]bitfield.Value{
		bitfield.U64(uint64(u.SrcPort)),
		bitfield.U64(uint64(u.DstPort)),
		bitfield.U64(uint64(length)),
		bitfield.U64(0),
	})
	if err != nil {
		return nil, err
	}
	checksum, ok := u.Checksum.Get()
	if !ok && ph != nil {
		checksum = transportChecksum(ph(IPProtocolUDP, int(length)), hdr, body)
		// Zero means "no checksum" on the wire.
		if checksum == 0 {
			checksum = 0xffff
		}
	}
	binary.BigEndian.PutUint16(hdr[6:8], checksum)
	return append(hdr, body...), nil
}
