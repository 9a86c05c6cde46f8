// Package packet implements the layered packet model used by capture assertions.
//
// Every header is laid out through a bitfield.Format. Decoding dispatches on a
// discriminator field (EtherType, IP protocol, ICMPv6 type, address family) via
// registries; anything unrecognised is kept as an opaque payload.
package packet

import (
	"bytes"
	"fmt"
	"net"
	"strings"
)

// Kind identifies a packet format.
type Kind uint8

const (
	KindEthernet Kind = iota + 1
	KindARP
	KindIPv4
	KindIPv6
	KindICMPv6
	KindNeighborSolicitation
	KindNeighborAdvertisement
	KindEcho
	KindUDP
	KindAF
	KindRaw
)

var kindNames = map[Kind]string{
	KindEthernet:              "Ethernet",
	KindARP:                   "ARP",
	KindIPv4:                  "IPv4",
	KindIPv6:                  "IPv6",
	KindICMPv6:                "ICMPv6",
	KindNeighborSolicitation:  "NeighborSolicitation",
	KindNeighborAdvertisement: "NeighborAdvertisement",
	KindEcho:                  "Echo",
	KindUDP:                   "UDP",
	KindAF:                    "AF",
	KindRaw:                   "Raw",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, true
		}
	}
	return 0, false
}

// FieldName names a header field. Each format exports its own constants.
type FieldName string

// FieldPayload resolves to the nested Packet, or to the opaque bytes when the
// payload was not decoded.
const FieldPayload FieldName = "payload"

// Packet is a decoded or synthesized packet. The set of implementations is closed.
type Packet interface {
	Kind() Kind
	// Field returns the value of a header field. Unset optional fields and
	// names the format does not define report false.
	Field(name FieldName) (any, bool)
	// Body returns the payload carried after the header.
	Body() Payload
	String() string

	marshal(ph pseudoHeader) ([]byte, error)
}

// pseudoHeader builds the checksum pseudo-header an IP layer offers to its payload.
type pseudoHeader func(proto uint8, length int) []byte

// Encode finalizes unset length/checksum fields and serializes p.
func Encode(p Packet) ([]byte, error) {
	return p.marshal(nil)
}

// Payload is empty, opaque bytes, or a nested Packet.
type Payload struct {
	Raw    []byte
	Packet Packet
}

// Opaque wraps bytes that are not decoded further.
func Opaque(b []byte) Payload { return Payload{Raw: b} }

// Nested wraps a packet carried as payload.
func Nested(p Packet) Payload { return Payload{Packet: p} }

// IsEmpty reports whether the payload carries nothing.
func (p Payload) IsEmpty() bool { return p.Packet == nil && len(p.Raw) == 0 }

// IsOpaque reports whether the payload is undecoded bytes (including none).
func (p Payload) IsOpaque() bool { return p.Packet == nil }

func (p Payload) value() any {
	if p.Packet != nil {
		return p.Packet
	}
	if p.Raw == nil {
		return []byte{}
	}
	return p.Raw
}

func (p Payload) marshal(ph pseudoHeader) ([]byte, error) {
	if p.Packet != nil {
		return p.Packet.marshal(ph)
	}
	return p.Raw, nil
}

func (p Payload) String() string {
	switch {
	case p.Packet != nil:
		return p.Packet.String()
	case len(p.Raw) == 0:
		return ""
	default:
		return fmt.Sprintf("Raw(%d bytes)", len(p.Raw))
	}
}

// layered renders "head / payload".
func layered(head string, body Payload) string {
	rest := body.String()
	if rest == "" {
		return head
	}
	return head + " / " + rest
}

// Opt is an optional field value. Unset fields are computed when encoding;
// set fields are emitted exactly as given, zero included.
type Opt[T any] struct {
	val T
	set bool
}

// Set returns an Opt holding v.
func Set[T any](v T) Opt[T] { return Opt[T]{val: v, set: true} }

// Get returns the value and whether it is set.
func (o Opt[T]) Get() (T, bool) { return o.val, o.set }

// IsSet reports whether a value is present.
func (o Opt[T]) IsSet() bool { return o.set }

// Or returns the value, or def when unset.
func (o Opt[T]) Or(def T) T {
	if o.set {
		return o.val
	}
	return def
}

// Clear unsets the option so the next Encode recomputes it.
func (o *Opt[T]) Clear() { *o = Opt[T]{} }

func (o Opt[T]) field() (any, bool) {
	if !o.set {
		return nil, false
	}
	return o.val, true
}

func (o Opt[T]) String() string {
	if !o.set {
		return "unset"
	}
	return fmt.Sprint(o.val)
}

// MAC is a 48-bit link-layer address.
type MAC [6]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses an EUI-48 address in any form net.ParseMAC accepts.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("packet: %q is not a 48-bit address", s)
	}
	return MAC(hw), nil
}

// MustParseMAC is ParseMAC that panics on error. Intended for tests and constants.
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m MAC) String() string { return net.HardwareAddr(m[:]).String() }

// HardwareAddr converts to the net package representation.
func (m MAC) HardwareAddr() net.HardwareAddr { return net.HardwareAddr(m[:]) }

// Equal reports structural equality of two field values as produced by
// Packet.Field. Integer kinds compare by value, byte slices and strings by content.
func Equal(a, b any) bool {
	if ua, ok := asUint(a); ok {
		ub, ok := asUint(b)
		return ok && ua == ub
	}
	if ab, ok := asBytes(a); ok {
		bb, ok := asBytes(b)
		return ok && bytes.Equal(ab, bb)
	}
	if ao, ok := a.([]NDOption); ok {
		bo, ok := b.([]NDOption)
		if !ok || len(ao) != len(bo) {
			return false
		}
		for i := range ao {
			if !ao[i].equal(bo[i]) {
				return false
			}
		}
		return true
	}
	if !isComparable(a) || !isComparable(b) {
		return false
	}
	return a == b
}

func isComparable(v any) bool {
	switch v.(type) {
	case []byte, []NDOption, Payload:
		return false
	}
	return true
}

func asBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	}
	return nil, false
}

func asUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case int:
		return uint64(n), n >= 0
	case int8:
		return uint64(n), n >= 0
	case int16:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	}
	return 0, false
}

// Walk calls fn for p and every nested packet below it, outermost first.
func Walk(p Packet, fn func(Packet) bool) {
	for p != nil {
		if !fn(p) {
			return
		}
		p = p.Body().Packet
	}
}

// Find returns the first packet of kind k in the chain starting at p.
func Find(p Packet, k Kind) Packet {
	var found Packet
	Walk(p, func(q Packet) bool {
		if q.Kind() == k {
			found = q
			return false
		}
		return true
	})
	return found
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}
