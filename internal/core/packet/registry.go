package packet

import (
	"sync"
)

// DecodeFunc decodes a buffer into a packet.
type DecodeFunc func([]byte) (Packet, error)

type registry[K comparable] struct {
	mu       sync.RWMutex
	decoders map[K]DecodeFunc
}

func newRegistry[K comparable]() *registry[K] {
	return &registry[K]{decoders: make(map[K]DecodeFunc)}
}

func (r *registry[K]) register(key K, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[key] = fn
}

func (r *registry[K]) lookup(key K) (DecodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decoders[key]
	return fn, ok
}

// decode resolves the payload type for key. Unknown discriminators and payloads
// that fail to decode are kept as opaque bytes.
func (r *registry[K]) decode(key K, b []byte) Payload {
	fn, ok := r.lookup(key)
	if !ok {
		return Opaque(b)
	}
	p, err := fn(b)
	if err != nil {
		return Opaque(b)
	}
	return Nested(p)
}

var (
	etherTypes      = newRegistry[uint16]()
	ipProtocols     = newRegistry[uint8]()
	icmpv6Types     = newRegistry[uint8]()
	addressFamilies = newRegistry[uint32]()
)

// RegisterEtherType installs the payload decoder for an EtherType.
func RegisterEtherType(etherType uint16, fn DecodeFunc) { etherTypes.register(etherType, fn) }

// RegisterIPProtocol installs the payload decoder for an IPv4 protocol / IPv6 next header.
func RegisterIPProtocol(proto uint8, fn DecodeFunc) { ipProtocols.register(proto, fn) }

// RegisterICMPv6Type installs the message body decoder for an ICMPv6 type.
func RegisterICMPv6Type(typ uint8, fn DecodeFunc) { icmpv6Types.register(typ, fn) }

// RegisterAddressFamily installs the payload decoder for a tunnel address family.
func RegisterAddressFamily(family uint32, fn DecodeFunc) { addressFamilies.register(family, fn) }

func adapt[P Packet](fn func([]byte) (P, error)) DecodeFunc {
	return func(b []byte) (Packet, error) {
		p, err := fn(b)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func init() {
	RegisterEtherType(EtherTypeARP, adapt(DecodeARP))
	RegisterEtherType(EtherTypeIPv4, adapt(DecodeIPv4))
	RegisterEtherType(EtherTypeIPv6, adapt(DecodeIPv6))

	RegisterIPProtocol(IPProtocolUDP, adapt(DecodeUDP))
	RegisterIPProtocol(IPProtocolICMPv6, adapt(DecodeICMPv6))

	RegisterICMPv6Type(ICMPv6NeighborSolicitation, adapt(DecodeNeighborSolicitation))
	RegisterICMPv6Type(ICMPv6NeighborAdvertisement, adapt(DecodeNeighborAdvertisement))
	RegisterICMPv6Type(ICMPv6EchoRequest, adapt(DecodeEcho))
	RegisterICMPv6Type(ICMPv6EchoReply, adapt(DecodeEcho))

	RegisterAddressFamily(AFInet, adapt(DecodeIPv4))
	for _, af := range []uint32{AFInet6Linux, AFInet6OpenBSD, AFInet6FreeBSD, AFInet6Darwin} {
		RegisterAddressFamily(af, adapt(DecodeIPv6))
	}
}

// discriminators used to fill unset type fields from the payload's kind.

func etherTypeOf(p Packet) (uint16, bool) {
	switch p.(type) {
	case *ARP:
		return EtherTypeARP, true
	case *IPv4:
		return EtherTypeIPv4, true
	case *IPv6:
		return EtherTypeIPv6, true
	}
	return 0, false
}

func ipProtocolOf(p Packet) (uint8, bool) {
	switch p.(type) {
	case *UDP:
		return IPProtocolUDP, true
	case *ICMPv6:
		return IPProtocolICMPv6, true
	}
	return 0, false
}

func icmpv6TypeOf(p Packet) (uint8, bool) {
	switch p.(type) {
	case *NeighborSolicitation:
		return ICMPv6NeighborSolicitation, true
	case *NeighborAdvertisement:
		return ICMPv6NeighborAdvertisement, true
	}
	return 0, false
}

func familyOf(p Packet) (uint32, bool) {
	switch p.(type) {
	case *IPv4:
		return AFInet, true
	case *IPv6:
		return AFInet6, true
	}
	return 0, false
}
