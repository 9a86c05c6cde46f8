package scenario

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
	"firestige.xyz/tapcheck/internal/expect"
	"firestige.xyz/tapcheck/internal/log"
)

// Env supplies what compiled actions need from the session.
type Env struct {
	Sender expect.Sender
	// MAC and Local answer address resolution when an action names none.
	MAC    packet.MAC
	Local  netip.Addr
	Logger log.Logger
}

// Compile turns every expectation of sc into a matcher, in declaration order.
func Compile(sc *Scenario, env Env) ([]*expect.Expectation, error) {
	if env.Logger == nil {
		env.Logger = log.GetLogger()
	}
	out := make([]*expect.Expectation, 0, len(sc.Expectations))
	for i, spec := range sc.Expectations {
		e, err := compileExpectation(spec, env)
		if err != nil {
			name := spec.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("expectation %s: %w", name, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Frames decodes the inject list.
func (sc *Scenario) Frames() ([][]byte, error) {
	frames := make([][]byte, 0, len(sc.Inject))
	for i, s := range sc.Inject {
		b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("%w: inject[%d]: %w", core.ErrConfigInvalid, i, err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

func compileExpectation(spec ExpectationSpec, env Env) (*expect.Expectation, error) {
	p, err := compilePattern(&spec.Match)
	if err != nil {
		return nil, err
	}
	var opts []expect.Option
	if spec.Name != "" {
		opts = append(opts, expect.Named(spec.Name))
	}
	times, err := timesOption(spec.Times)
	if err != nil {
		return nil, err
	}
	if times != nil {
		opts = append(opts, times)
	}
	if spec.Action != nil {
		a, err := compileAction(spec.Action, env)
		if err != nil {
			return nil, err
		}
		opts = append(opts, expect.Do(a))
	}
	return expect.New(p, opts...), nil
}

func timesOption(v any) (expect.Option, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		if t < 0 {
			return nil, fmt.Errorf("%w: negative times %d", core.ErrConfigInvalid, t)
		}
		return expect.Times(t), nil
	case string:
		if strings.EqualFold(t, "unlimited") {
			return expect.Unlimited(), nil
		}
	}
	return nil, fmt.Errorf("%w: times must be a count or \"unlimited\", got %v", core.ErrConfigInvalid, v)
}

func compilePattern(spec *PatternSpec) (*expect.Pattern, error) {
	p := expect.Any()
	if spec.Kind != "" {
		k, ok := packet.ParseKind(spec.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: unknown packet kind %q", core.ErrConfigInvalid, spec.Kind)
		}
		p = expect.On(k)
	}

	// Sorted so the rendered pattern is stable.
	names := make([]string, 0, len(spec.Fields))
	for name := range spec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pred, err := predicate(spec.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		p = p.Where(packet.FieldName(name), pred)
	}

	if spec.Payload != nil {
		sub, err := compilePattern(spec.Payload)
		if err != nil {
			return nil, err
		}
		p = p.Payload(sub)
	}
	for _, h := range spec.Has {
		sub, err := compilePattern(h)
		if err != nil {
			return nil, err
		}
		p = p.Has(sub)
	}
	fields := make([]string, 0, len(spec.Sub))
	for name := range spec.Sub {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		sub, err := compilePattern(spec.Sub[name])
		if err != nil {
			return nil, err
		}
		p = p.Sub(packet.FieldName(name), sub)
	}
	return p, nil
}

// predicate builds the test for one YAML field value.
func predicate(v any) (expect.Predicate, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return literal(v), nil
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("%w: field operator map needs exactly one key", core.ErrConfigInvalid)
	}
	if vals, ok := m["one_of"]; ok {
		list, ok := vals.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: one_of needs a list", core.ErrConfigInvalid)
		}
		preds := make([]expect.Predicate, len(list))
		for i, x := range list {
			preds[i] = literal(x)
		}
		return func(f any) bool {
			for _, pred := range preds {
				if pred(f) {
					return true
				}
			}
			return false
		}, nil
	}
	if x, ok := m["not"]; ok {
		inner, err := predicate(x)
		if err != nil {
			return nil, err
		}
		return expect.Not(inner), nil
	}
	return nil, fmt.Errorf("%w: unknown field operator in %v", core.ErrConfigInvalid, m)
}

// literal compares structurally, and a string also matches a value whose
// text form is equal, so addresses can be written as YAML strings.
func literal(want any) expect.Predicate {
	s, isString := want.(string)
	return func(v any) bool {
		if packet.Equal(v, want) {
			return true
		}
		if st, ok := v.(fmt.Stringer); ok && isString {
			return strings.EqualFold(st.String(), s)
		}
		return false
	}
}
