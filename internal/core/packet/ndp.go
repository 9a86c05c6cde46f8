package packet

import (
	"bytes"
	"fmt"

	"firestige.xyz/tapcheck/internal/core/bitfield"
)

// Neighbor Discovery option types (RFC 4861 §4.6)
const (
	NDOptionSourceLinkAddr uint8 = 1
	NDOptionTargetLinkAddr uint8 = 2
	NDOptionPrefixInfo     uint8 = 3
	NDOptionMTU            uint8 = 5
)

var ndOptionFormat = bitfield.NewFormat(
	bitfield.Uint("type", 8),
	bitfield.Uint("length", 8),
)

// NDOption is a type-length-value Neighbor Discovery option. Length counts
// 8-byte units including the two header bytes and is computed when unset.
// Options of unknown type are kept as-is.
type NDOption struct {
	Type   uint8
	Length Opt[uint8]
	Data   []byte
}

// SourceLinkAddrOption builds a Source Link-Layer Address option.
func SourceLinkAddrOption(mac MAC) NDOption {
	return NDOption{Type: NDOptionSourceLinkAddr, Data: append([]byte(nil), mac[:]...)}
}

// TargetLinkAddrOption builds a Target Link-Layer Address option.
func TargetLinkAddrOption(mac MAC) NDOption {
	return NDOption{Type: NDOptionTargetLinkAddr, Data: append([]byte(nil), mac[:]...)}
}

// LinkAddr returns the address carried by a link-layer address option.
func (o NDOption) LinkAddr() (MAC, bool) {
	if o.Type != NDOptionSourceLinkAddr && o.Type != NDOptionTargetLinkAddr {
		return MAC{}, false
	}
	if len(o.Data) < 6 {
		return MAC{}, false
	}
	return MAC(o.Data[:6]), true
}

func (o NDOption) String() string {
	if mac, ok := o.LinkAddr(); ok {
		return fmt.Sprintf("NDOption(type=%d lladdr=%s)", o.Type, mac)
	}
	return fmt.Sprintf("NDOption(type=%d data=%s)", o.Type, hexBytes(o.Data))
}

func (o NDOption) equal(other NDOption) bool {
	return o.Type == other.Type && bytes.Equal(o.wire()[2:], other.wire()[2:])
}

// wire encodes the option, padding the data to a multiple of 8 bytes overall.
func (o NDOption) wire() []byte {
	size := 2 + len(o.Data)
	if rem := size % 8; rem != 0 {
		size += 8 - rem
	}
	length, ok := o.Length.Get()
	if !ok {
		length = uint8(size / 8)
	}
	hdr, _ := ndOptionFormat.Pack([]bitfield.Value{bitfield.U64(uint64(o.Type)), bitfield.U64(uint64(length))})
	out := make([]byte, size)
	copy(out, hdr)
	copy(out[2:], o.Data)
	return out
}

// ParseNDOptions consumes options until fewer than two bytes remain. A zero
// length option is malformed: it and everything after it are kept as one
// opaque option and parsing stops.
func ParseNDOptions(b []byte) []NDOption {
	var opts []NDOption
	for len(b) >= ndOptionFormat.MinBytes() {
		values, err := ndOptionFormat.Unpack(b)
		if err != nil {
			break
		}
		typ, units := uint8(values[0].U), int(values[1].U)
		if units == 0 {
			opts = append(opts, NDOption{Type: typ, Length: Set(uint8(0)), Data: b[2:]})
			break
		}
		n := units * 8
		if n > len(b) {
			n = len(b)
		}
		opts = append(opts, NDOption{Type: typ, Length: Set(uint8(units)), Data: b[2:n]})
		b = b[n:]
	}
	return opts
}

func appendNDOptions(b []byte, opts []NDOption) []byte {
	for _, o := range opts {
		b = append(b, o.wire()...)
	}
	return b
}

func linkAddrOption(opts []NDOption, typ uint8) (any, bool) {
	for _, o := range opts {
		if o.Type != typ {
			continue
		}
		if mac, ok := o.LinkAddr(); ok {
			return mac, true
		}
	}
	return nil, false
}
