package expect

import (
	"fmt"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
)

// Action runs synchronously on the packet that satisfied an expectation.
type Action func(pkt packet.Packet) error

// Expectation pairs a Pattern with a repeat budget and an optional Action.
// It is not safe for concurrent use.
type Expectation struct {
	name    string
	pattern *Pattern
	times   *int
	action  Action
	matched int
}

type Option func(*Expectation)

// Times bounds the expectation to n matches. Zero makes it inert.
func Times(n int) Option {
	return func(e *Expectation) {
		if n < 0 {
			n = 0
		}
		e.times = &n
	}
}

// Unlimited lets the expectation match any number of packets. Unlimited
// expectations never hold a reader's Run open.
func Unlimited() Option {
	return func(e *Expectation) { e.times = nil }
}

// Do attaches a reactive action.
func Do(a Action) Option {
	return func(e *Expectation) { e.action = a }
}

// Named labels the expectation in logs and errors.
func Named(name string) Option {
	return func(e *Expectation) { e.name = name }
}

// New creates an expectation for p, bounded to one match unless an option
// says otherwise.
func New(p *Pattern, opts ...Option) *Expectation {
	one := 1
	e := &Expectation{pattern: p, times: &one}
	for _, opt := range opts {
		opt(e)
	}
	if e.name == "" {
		e.name = p.String()
	}
	return e
}

// Check tests pkt. On a match a bounded budget is decremented and the action
// runs. The returned error comes from the action only.
func (e *Expectation) Check(pkt packet.Packet) (bool, error) {
	if !e.Active() || !e.pattern.Match(pkt) {
		return false, nil
	}
	if e.times != nil {
		*e.times--
	}
	e.matched++
	if e.action == nil {
		return true, nil
	}
	if err := e.action(pkt); err != nil {
		return true, fmt.Errorf("%w: %s: %w", core.ErrActionFailed, e.name, err)
	}
	return true, nil
}

// Active reports whether the expectation can still match.
func (e *Expectation) Active() bool { return e.times == nil || *e.times > 0 }

// Pending reports whether a bounded budget remains.
func (e *Expectation) Pending() bool { return e.times != nil && *e.times > 0 }

// Remaining returns the budget left, or false when unlimited.
func (e *Expectation) Remaining() (int, bool) {
	if e.times == nil {
		return 0, false
	}
	return *e.times, true
}

// Matched counts successful checks.
func (e *Expectation) Matched() int { return e.matched }

func (e *Expectation) Name() string { return e.name }

func (e *Expectation) Pattern() *Pattern { return e.pattern }

func (e *Expectation) String() string {
	if e.times == nil {
		return fmt.Sprintf("%s (matched %d, unlimited)", e.name, e.matched)
	}
	return fmt.Sprintf("%s (matched %d, remaining %d)", e.name, e.matched, *e.times)
}

// List holds expectations in registration order, which is match priority.
type List struct {
	items []*Expectation
}

func (l *List) Add(e ...*Expectation) { l.items = append(l.items, e...) }

func (l *List) Len() int { return len(l.items) }

func (l *List) Items() []*Expectation { return l.items }

// Check offers pkt to each expectation in order and stops at the first match.
func (l *List) Check(pkt packet.Packet) (*Expectation, error) {
	for _, e := range l.items {
		ok, err := e.Check(pkt)
		if ok {
			return e, err
		}
	}
	return nil, nil
}

// Pending reports whether any bounded expectation still has budget.
func (l *List) Pending() bool {
	for _, e := range l.items {
		if e.Pending() {
			return true
		}
	}
	return false
}

// Unsatisfied lists bounded expectations with budget left.
func (l *List) Unsatisfied() []*Expectation {
	var out []*Expectation
	for _, e := range l.items {
		if e.Pending() {
			out = append(out, e)
		}
	}
	return out
}
