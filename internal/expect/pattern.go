// Package expect matches decoded packets against declarative patterns.
//
// A Pattern constrains a packet's kind and named fields. Values are compared
// as literals, tested with a Predicate, or matched against a nested Pattern
// when the field holds a packet (typically the payload).
package expect

import (
	"fmt"
	"strings"

	"firestige.xyz/tapcheck/internal/core/packet"
)

// Predicate tests a field value as returned by packet.Packet.Field.
type Predicate func(v any) bool

type condKind uint8

const (
	condEq condKind = iota
	condWhere
	condSub
)

type cond struct {
	kind  condKind
	field packet.FieldName
	lit   any
	pred  Predicate
	sub   *Pattern
}

// Pattern is an immutable packet shape. Builder methods return a new Pattern.
type Pattern struct {
	kind  packet.Kind
	conds []cond
	has   []*Pattern
}

// On matches packets of the given kind.
func On(kind packet.Kind) *Pattern { return &Pattern{kind: kind} }

// Any matches every packet.
func Any() *Pattern { return &Pattern{} }

func (p *Pattern) clone() *Pattern {
	return &Pattern{
		kind:  p.kind,
		conds: p.conds[:len(p.conds):len(p.conds)],
		has:   p.has[:len(p.has):len(p.has)],
	}
}

func (p *Pattern) with(c cond) *Pattern {
	q := p.clone()
	q.conds = append(q.conds, c)
	return q
}

// Eq requires field to equal v. Integer kinds compare by value and byte
// slices by content.
func (p *Pattern) Eq(field packet.FieldName, v any) *Pattern {
	return p.with(cond{kind: condEq, field: field, lit: v})
}

// Where requires pred to hold for field.
func (p *Pattern) Where(field packet.FieldName, pred Predicate) *Pattern {
	return p.with(cond{kind: condWhere, field: field, pred: pred})
}

// Sub requires field to hold a packet matching sub.
func (p *Pattern) Sub(field packet.FieldName, sub *Pattern) *Pattern {
	return p.with(cond{kind: condSub, field: field, sub: sub})
}

// Payload is Sub on the payload field.
func (p *Pattern) Payload(sub *Pattern) *Pattern {
	return p.Sub(packet.FieldPayload, sub)
}

// Has requires some packet nested anywhere below this one to match sub.
func (p *Pattern) Has(sub *Pattern) *Pattern {
	q := p.clone()
	q.has = append(q.has, sub)
	return q
}

// Match reports whether pkt has this shape. A field the packet does not
// define, or leaves unset, is a non-match.
func (p *Pattern) Match(pkt packet.Packet) bool {
	if pkt == nil {
		return false
	}
	if p.kind != 0 && pkt.Kind() != p.kind {
		return false
	}
	for _, c := range p.conds {
		v, ok := pkt.Field(c.field)
		if !ok {
			return false
		}
		switch c.kind {
		case condEq:
			if !packet.Equal(v, c.lit) {
				return false
			}
		case condWhere:
			if !c.pred(v) {
				return false
			}
		case condSub:
			nested, ok := v.(packet.Packet)
			if !ok || !c.sub.Match(nested) {
				return false
			}
		}
	}
	for _, sub := range p.has {
		found := false
		packet.Walk(pkt.Body().Packet, func(q packet.Packet) bool {
			found = sub.Match(q)
			return !found
		})
		if !found {
			return false
		}
	}
	return true
}

func (p *Pattern) String() string {
	var sb strings.Builder
	if p.kind == 0 {
		sb.WriteString("Any")
	} else {
		sb.WriteString(p.kind.String())
	}
	parts := make([]string, 0, len(p.conds)+len(p.has))
	for _, c := range p.conds {
		switch c.kind {
		case condEq:
			parts = append(parts, fmt.Sprintf("%s=%v", c.field, c.lit))
		case condWhere:
			parts = append(parts, fmt.Sprintf("%s=<predicate>", c.field))
		case condSub:
			parts = append(parts, fmt.Sprintf("%s:%s", c.field, c.sub))
		}
	}
	for _, sub := range p.has {
		parts = append(parts, "has:"+sub.String())
	}
	if len(parts) > 0 {
		sb.WriteString("{" + strings.Join(parts, ", ") + "}")
	}
	return sb.String()
}

// OneOf holds when the value equals any of vals.
func OneOf(vals ...any) Predicate {
	return func(v any) bool {
		for _, want := range vals {
			if packet.Equal(v, want) {
				return true
			}
		}
		return false
	}
}

// Not negates pred.
func Not(pred Predicate) Predicate {
	return func(v any) bool { return !pred(v) }
}
