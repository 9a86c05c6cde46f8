// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the codec, packet model, sources and reader.
var (
	// Bit-field codec errors
	ErrShortBuffer = errors.New("tapcheck: buffer shorter than format")
	ErrFieldCount  = errors.New("tapcheck: value count does not match format")

	// Packet decoding/encoding errors
	ErrTruncated      = errors.New("tapcheck: packet truncated")
	ErrMalformed      = errors.New("tapcheck: malformed packet")
	ErrFieldUnset     = errors.New("tapcheck: required field unset")
	ErrUnknownLink    = errors.New("tapcheck: unknown link type")
	ErrPayloadTooLong = errors.New("tapcheck: payload too long for length field")

	// Source errors
	ErrCanceled      = errors.New("tapcheck: read canceled")
	ErrSourceClosed  = errors.New("tapcheck: source closed")
	ErrHelperFailure = errors.New("tapcheck: helper process failed")

	// Reader errors
	ErrReaderState       = errors.New("tapcheck: invalid reader state")
	ErrUnexpectedPacket  = errors.New("tapcheck: packet matched no expectation")
	ErrActionFailed      = errors.New("tapcheck: expectation action failed")
	ErrTransportRequired = errors.New("tapcheck: reader has no transport")

	// Configuration errors
	ErrConfigInvalid = errors.New("tapcheck: invalid configuration")
)
