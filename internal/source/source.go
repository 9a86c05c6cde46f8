// Package source provides datagram sources for a packet reader.
//
// Every source blocks in Read until a datagram arrives, the stream ends
// (io.EOF), or the Cancel passed in fires (core.ErrCanceled). Device sources
// watch the cancel descriptor in the same poll as the data descriptor so a
// stop request unblocks a stalled read immediately.
package source

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
)

// DefaultBufferSize fits any frame a TUN/TAP device hands out with the default MTU.
const DefaultBufferSize = 65536

type Source interface {
	// Read returns the next datagram. The slice is owned by the caller.
	Read(cancel *Cancel) ([]byte, error)
	// Close releases the underlying descriptor, and for forked sources
	// terminates and joins the helper process.
	Close() error
}

// LinkTyper is implemented by sources that know their link type.
type LinkTyper interface {
	LinkType() layers.LinkType
}

// Strategy selects how a device descriptor is read.
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyForked Strategy = "forked"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyDirect, StrategyForked:
		return st, nil
	case "":
		return StrategyDirect, nil
	}
	return "", fmt.Errorf("unknown source strategy %q", s)
}
