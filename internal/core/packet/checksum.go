package packet

import (
	"encoding/binary"
	"net/netip"
)

// Checksum is the Internet checksum (RFC 1071): the ones' complement of the
// ones' complement sum of all 16-bit words in b. An odd trailing byte is padded
// with zero on the right.
func Checksum(b []byte) uint16 {
	return fold(sum(0, b))
}

func sum(acc uint32, b []byte) uint32 {
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		acc += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if len(b)&1 != 0 {
		acc += uint32(b[len(b)-1]) << 8
	}
	return acc
}

func fold(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = acc&0xffff + acc>>16
	}
	return ^uint16(acc)
}

// transportChecksum computes a checksum over pseudo-header, header and body,
// which are summed as one contiguous byte string.
func transportChecksum(pseudo, hdr, body []byte) uint16 {
	buf := make([]byte, 0, len(pseudo)+len(hdr)+len(body))
	buf = append(buf, pseudo...)
	buf = append(buf, hdr...)
	buf = append(buf, body...)
	return Checksum(buf)
}

// ipv4Pseudo is the RFC 768 pseudo-header: src, dst, zero, protocol, length.
func ipv4Pseudo(src, dst netip.Addr) pseudoHeader {
	return func(proto uint8, length int) []byte {
		b := make([]byte, 12)
		s, d := addr4(src), addr4(dst)
		copy(b[0:4], s[:])
		copy(b[4:8], d[:])
		b[9] = proto
		binary.BigEndian.PutUint16(b[10:12], uint16(length))
		return b
	}
}

// ipv6Pseudo is the RFC 8200 §8.1 pseudo-header: src, dst, 32-bit length,
// three zero bytes, next header.
func ipv6Pseudo(src, dst netip.Addr) pseudoHeader {
	return func(proto uint8, length int) []byte {
		b := make([]byte, 40)
		s, d := addr16(src), addr16(dst)
		copy(b[0:16], s[:])
		copy(b[16:32], d[:])
		binary.BigEndian.PutUint32(b[32:36], uint32(length))
		b[39] = proto
		return b
	}
}

func addr4(a netip.Addr) [4]byte {
	a = a.Unmap()
	if !a.Is4() {
		return [4]byte{}
	}
	return a.As4()
}

func addr16(a netip.Addr) [16]byte {
	if !a.IsValid() {
		return [16]byte{}
	}
	return a.As16()
}
