package source

import (
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Helper frames travel parent-ward as length-delimited protobuf messages:
//
//	message Frame {
//	  uint32 kind  = 1;
//	  bytes  data  = 2;
//	  string error = 3;
//	}
type frameKind uint32

const (
	frameData frameKind = iota + 1
	frameEOF
	frameError
)

const (
	fieldKind  protowire.Number = 1
	fieldData  protowire.Number = 2
	fieldError protowire.Number = 3
)

type frame struct {
	kind frameKind
	data []byte
	err  string
}

var errFrameIncomplete = errors.New("incomplete frame")

func appendFrame(b []byte, f frame) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldKind, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(f.kind))
	if len(f.data) > 0 {
		msg = protowire.AppendTag(msg, fieldData, protowire.BytesType)
		msg = protowire.AppendBytes(msg, f.data)
	}
	if f.err != "" {
		msg = protowire.AppendTag(msg, fieldError, protowire.BytesType)
		msg = protowire.AppendString(msg, f.err)
	}
	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...)
}

// consumeFrame decodes one frame from the front of b and returns the number of
// bytes used. errFrameIncomplete means more input is needed.
func consumeFrame(b []byte) (frame, int, error) {
	size, n := protowire.ConsumeVarint(b)
	if n < 0 {
		err := protowire.ParseError(n)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return frame{}, 0, errFrameIncomplete
		}
		return frame{}, 0, fmt.Errorf("helper frame length: %w", err)
	}
	if uint64(len(b)-n) < size {
		return frame{}, 0, errFrameIncomplete
	}
	msg := b[n : n+int(size)]
	var f frame
	for len(msg) > 0 {
		num, typ, m := protowire.ConsumeTag(msg)
		if m < 0 {
			return frame{}, 0, protowire.ParseError(m)
		}
		msg = msg[m:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(msg)
			if m < 0 {
				return frame{}, 0, protowire.ParseError(m)
			}
			f.kind = frameKind(v)
			msg = msg[m:]
		case num == fieldData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(msg)
			if m < 0 {
				return frame{}, 0, protowire.ParseError(m)
			}
			f.data = append([]byte(nil), v...)
			msg = msg[m:]
		case num == fieldError && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(msg)
			if m < 0 {
				return frame{}, 0, protowire.ParseError(m)
			}
			f.err = v
			msg = msg[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, msg)
			if m < 0 {
				return frame{}, 0, protowire.ParseError(m)
			}
			msg = msg[m:]
		}
	}
	if f.kind < frameData || f.kind > frameError {
		return frame{}, 0, fmt.Errorf("helper frame kind %d", f.kind)
	}
	return f, n + int(size), nil
}
