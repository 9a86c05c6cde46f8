package packet

import "fmt"

// Raw is a top-level datagram of an unknown format, such as an IP packet
// with a version other than 4 or 6 on a TUN device. It carries its bytes
// unchanged and encodes back to them.
type Raw struct {
	Data []byte
}

func (r *Raw) Kind() Kind    { return KindRaw }
func (r *Raw) Body() Payload { return Opaque(r.Data) }

func (r *Raw) Field(name FieldName) (any, bool) {
	if name == FieldPayload {
		return r.Body().value(), true
	}
	return nil, false
}

func (r *Raw) String() string { return fmt.Sprintf("Raw(%d bytes)", len(r.Data)) }

func (r *Raw) marshal(_ pseudoHeader) ([]byte, error) { return r.Data, nil }
