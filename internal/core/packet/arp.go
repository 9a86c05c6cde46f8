package packet

import (
	"fmt"
	"net/netip"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// ARP operations
const (
	ARPRequest uint16 = 1
	ARPReply   uint16 = 2
)

// ARP fields
const (
	ARPHType FieldName = "htype"
	ARPPType FieldName = "ptype"
	ARPHLen  FieldName = "hlen"
	ARPPLen  FieldName = "plen"
	ARPOper  FieldName = "oper"
	ARPSHA   FieldName = "sha"
	ARPSPA   FieldName = "spa"
	ARPTHA   FieldName = "tha"
	ARPTPA   FieldName = "tpa"
)

const arpHardwareEthernet = 1

var (
	arpPrefixFormat = bitfield.NewFormat(
		bitfield.Uint(string(ARPHType), 16),
		bitfield.Uint(string(ARPPType), 16),
		bitfield.Uint(string(ARPHLen), 8),
		bitfield.Uint(string(ARPPLen), 8),
		bitfield.Uint(string(ARPOper), 16),
	)
	arpFormat = bitfield.NewFormat(append(arpPrefixFormat.Fields(),
		bitfield.Bytes(string(ARPSHA), 48),
		bitfield.Bytes(string(ARPSPA), 32),
		bitfield.Bytes(string(ARPTHA), 48),
		bitfield.Bytes(string(ARPTPA), 32),
	)...)
)

// ARP is an Ethernet/IPv4 ARP message (RFC 826). HType, PType, HLen and PLen
// default to 1, 0x0800, 6 and 4. Messages for other address sizes decode their
// fixed prefix only and keep the addresses as opaque payload.
type ARP struct {
	HType   Opt[uint16]
	PType   Opt[uint16]
	HLen    Opt[uint8]
	PLen    Opt[uint8]
	Oper    uint16
	SHA     MAC
	SPA     netip.Addr
	THA     MAC
	TPA     netip.Addr
	Payload Payload
}

// DecodeARP decodes an ARP message. Trailing bytes (frame padding) are kept as opaque payload.
func DecodeARP(b []byte) (*ARP, error) {
	prefix, err := arpPrefixFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: arp: %w", core.ErrTruncated, err)
	}
	a := &ARP{
		HType: Set(uint16(prefix[0].U)),
		PType: Set(uint16(prefix[1].U)),
		HLen:  Set(uint8(prefix[2].U)),
		PLen:  Set(uint8(prefix[3].U)),
		Oper:  uint16(prefix[4].U),
	}
	if prefix[2].U != 6 || prefix[3].U != 4 {
		a.Payload = Opaque(b[arpPrefixFormat.MinBytes():])
		return a, nil
	}
	values, err := arpFormat.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: arp: %w", core.ErrTruncated, err)
	}
	a.SHA = MAC(values[5].B)
	a.SPA = netip.AddrFrom4([4]byte(values[6].B))
	a.THA = MAC(values[7].B)
	a.TPA = netip.AddrFrom4([4]byte(values[8].B))
	if rest := b[arpFormat.MinBytes():]; len(rest) > 0 {
		a.Payload = Opaque(rest)
	}
	return a, nil
}

// Reply builds the answer to a request: sender and target swap, and mac
// becomes the sender hardware address.
func (a *ARP) Reply(mac MAC) *ARP {
	return &ARP{
		HType: a.HType,
		PType: a.PType,
		HLen:  a.HLen,
		PLen:  a.PLen,
		Oper:  ARPReply,
		SHA:   mac,
		SPA:   a.TPA,
		THA:   a.SHA,
		TPA:   a.SPA,
	}
}

func (a *ARP) Kind() Kind    { return KindARP }
func (a *ARP) Body() Payload { return a.Payload }

func (a *ARP) Field(name FieldName) (any, bool) {
	switch name {
	case ARPHType:
		return a.HType.Or(arpHardwareEthernet), true
	case ARPPType:
		return a.PType.Or(EtherTypeIPv4), true
	case ARPHLen:
		return a.HLen.Or(6), true
	case ARPPLen:
		return a.PLen.Or(4), true
	case ARPOper:
		return a.Oper, true
	case ARPSHA:
		return a.SHA, true
	case ARPSPA:
		return a.SPA, true
	case ARPTHA:
		return a.THA, true
	case ARPTPA:
		return a.TPA, true
	case FieldPayload:
		return a.Payload.value(), true
	}
	return nil, false
}

func (a *ARP) String() string {
	op := fmt.Sprint(a.Oper)
	switch a.Oper {
	case ARPRequest:
		op = "request"
	case ARPReply:
		op = "reply"
	}
	head := fmt.Sprintf("ARP(%s sha=%s spa=%s tha=%s tpa=%s)", op, a.SHA, a.SPA, a.THA, a.TPA)
	return layered(head, a.Payload)
}

func (a *ARP) marshal(_ pseudoHeader) ([]byte, error) {
	values := []bitfield.Value{
		bitfield.U64(uint64(a.HType.Or(arpHardwareEthernet))),
		bitfield.U64(uint64(a.PType.Or(EtherTypeIPv4))),
		bitfield.U64(uint64(a.HLen.Or(6))),
		bitfield.U64(uint64(a.PLen.Or(4))),
		bitfield.U64(uint64(a.Oper)),
	}
	format := arpPrefixFormat
	if a.HLen.Or(6) == 6 && a.PLen.Or(4) == 4 {
		spa, tpa := addr4(a.SPA), addr4(a.TPA)
		values = append(values, bitfield.B(a.SHA[:]), bitfield.B(spa[:]), bitfield.B(a.THA[:]), bitfield.B(tpa[:]))
		format = arpFormat
	}
	hdr, err := format.Pack(values)
	if err != nil {
		return nil, err
	}
	body, err := a.Payload.marshal(nil)
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}
