// Package reader drives a capture session: a background consumer pulls
// datagrams from a source, decodes them, and queues the results; Run
// resolves queued packets against registered expectations on the caller's
// goroutine.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
	"firestige.xyz/tapcheck/internal/expect"
	"firestige.xyz/tapcheck/internal/log"
	"firestige.xyz/tapcheck/internal/metrics"
	"firestige.xyz/tapcheck/internal/source"
)

// DefaultQueueSize bounds the results waiting for Run.
const DefaultQueueSize = 256

// State of a reader.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// UnmatchedPolicy decides what Run does with a packet no expectation accepts.
type UnmatchedPolicy string

const (
	// UnmatchedFail makes Run return core.ErrUnexpectedPacket.
	UnmatchedFail UnmatchedPolicy = "fail"
	// UnmatchedLog logs the packet at warning level and keeps going.
	UnmatchedLog UnmatchedPolicy = "log"
	// UnmatchedSkip drops the packet silently.
	UnmatchedSkip UnmatchedPolicy = "skip"
)

func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch p := UnmatchedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case UnmatchedFail, UnmatchedLog, UnmatchedSkip:
		return p, nil
	case "":
		return UnmatchedFail, nil
	}
	return "", fmt.Errorf("%w: unknown unmatched policy %q", core.ErrConfigInvalid, s)
}

// result is one entry of the queue between the consumer and Run.
type result struct {
	raw []byte
	pkt packet.Packet
	err error
	eof bool
}

type Option func(*Reader)

// WithName labels logs and metrics.
func WithName(name string) Option { return func(r *Reader) { r.name = name } }

func WithQueueSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithUnmatched(p UnmatchedPolicy) Option { return func(r *Reader) { r.unmatched = p } }

// WithDecoder overrides the decoder picked from the source's link type.
func WithDecoder(d packet.DecodeFunc) Option { return func(r *Reader) { r.decode = d } }

// WithSender sets where Send writes; usually the transport under test.
func WithSender(s expect.Sender) Option { return func(r *Reader) { r.sender = s } }

func WithLogger(l log.Logger) Option { return func(r *Reader) { r.log = l } }

// Reader owns its source for its whole lifetime.
type Reader struct {
	name      string
	queueSize int
	unmatched UnmatchedPolicy
	decode    packet.DecodeFunc
	sender    expect.Sender
	log       log.Logger

	src          source.Source
	expectations expect.List

	mu      sync.Mutex
	state   State
	cancel  *source.Cancel
	results chan result
	done    chan struct{}
	eof     bool

	stopOnce sync.Once
	stopErr  error
}

// New creates an idle reader over src. Without WithDecoder the decoder is
// chosen from the source's link type, falling back to Ethernet.
func New(src source.Source, opts ...Option) (*Reader, error) {
	r := &Reader{
		name:      "reader",
		queueSize: DefaultQueueSize,
		unmatched: UnmatchedFail,
		src:       src,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.GetLogger()
	}
	r.log = r.log.WithField("reader", r.name)
	if r.decode == nil {
		lt := layers.LinkTypeEthernet
		if typer, ok := src.(source.LinkTyper); ok {
			lt = typer.LinkType()
		}
		d, err := packet.DecoderFor(lt)
		if err != nil {
			return nil, err
		}
		r.decode = d
	}
	if _, err := ParseUnmatchedPolicy(string(r.unmatched)); err != nil {
		return nil, err
	}
	metrics.ReaderState.WithLabelValues(r.name).Set(float64(StateIdle))
	return r, nil
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reader) setState(s State) {
	r.state = s
	metrics.ReaderState.WithLabelValues(r.name).Set(float64(s))
}

// Expect registers expectations. Registration order is match priority.
func (r *Reader) Expect(e ...*expect.Expectation) {
	r.expectations.Add(e...)
}

// Expectations returns the registered expectations in priority order.
func (r *Reader) Expectations() []*expect.Expectation { return r.expectations.Items() }

// Unsatisfied lists bounded expectations that still have budget.
func (r *Reader) Unsatisfied() []*expect.Expectation { return r.expectations.Unsatisfied() }

// Start spawns the background consumer.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("%w: start in state %s", core.ErrReaderState, r.state)
	}
	cancel, err := source.NewCancel()
	if err != nil {
		return fmt.Errorf("create cancel signal: %w", err)
	}
	r.cancel = cancel
	r.results = make(chan result, r.queueSize)
	r.done = make(chan struct{})
	r.setState(StateRunning)
	go r.consume()
	r.log.Debug("reader started")
	return nil
}

// consume is the only goroutine touching the source until Stop joins it.
// The results channel is closed on exit, which Run reads as end of stream.
func (r *Reader) consume() {
	defer close(r.done)
	defer close(r.results)
	for {
		data, err := r.src.Read(r.cancel)
		var res result
		switch {
		case err == nil:
			res = r.decodeResult(data)
		case errors.Is(err, io.EOF):
			res = result{eof: true}
		case errors.Is(err, core.ErrCanceled):
			return
		default:
			metrics.ReaderReadErrorsTotal.WithLabelValues(r.name).Inc()
			res = result{err: err}
		}
		select {
		case r.results <- res:
			metrics.ReaderQueueDepth.WithLabelValues(r.name).Set(float64(len(r.results)))
		case <-r.cancel.Done():
			return
		}
		if res.eof || res.err != nil {
			return
		}
	}
}

func (r *Reader) decodeResult(data []byte) result {
	pkt, err := r.decode(data)
	if err != nil {
		metrics.ReaderDatagramsTotal.WithLabelValues(r.name, metrics.OutcomeDecodeError).Inc()
		return result{raw: data, err: fmt.Errorf("decode %d byte datagram: %w", len(data), err)}
	}
	return result{raw: data, pkt: pkt}
}

// Run consumes queued packets while any bounded expectation is pending. It
// reports whether every bounded expectation was satisfied. A timeout > 0 is
// an idle limit: it restarts whenever a packet arrives, and expiring yields
// (false, nil). A timeout <= 0 sets no idle limit. End of stream ends the
// run. Read and decode errors, action errors, and unmatched packets under
// UnmatchedFail are returned.
func (r *Reader) Run(ctx context.Context, timeout time.Duration) (ok bool, err error) {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != StateRunning {
		return false, fmt.Errorf("%w: run in state %s", core.ErrReaderState, state)
	}

	start := time.Now()
	outcome := metrics.RunSatisfied
	defer func() {
		switch {
		case err != nil:
			outcome = metrics.RunError
		case !ok && outcome == metrics.RunSatisfied:
			outcome = metrics.RunEOF
		}
		metrics.ReaderRunSeconds.WithLabelValues(r.name, outcome).Observe(time.Since(start).Seconds())
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		idle = timer.C
	}

	for r.expectations.Pending() && !r.eof {
		select {
		case res, open := <-r.results:
			metrics.ReaderQueueDepth.WithLabelValues(r.name).Set(float64(len(r.results)))
			if !open || res.eof {
				r.eof = true
				r.log.Debug("end of stream")
				continue
			}
			if res.err != nil {
				return false, res.err
			}
			if err := r.handle(res.pkt); err != nil {
				return false, err
			}
			if timer != nil {
				timer.Reset(timeout)
			}
		case <-idle:
			outcome = metrics.RunTimeout
			r.log.Debugf("run timed out after %s idle, %d expectation(s) pending", timeout, len(r.Unsatisfied()))
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return !r.expectations.Pending(), nil
}

func (r *Reader) handle(pkt packet.Packet) error {
	e, err := r.expectations.Check(pkt)
	if e != nil {
		metrics.ReaderDatagramsTotal.WithLabelValues(r.name, metrics.OutcomeMatched).Inc()
		r.log.WithField("expectation", e.Name()).Tracef("matched %s", pkt)
		return err
	}
	metrics.ReaderDatagramsTotal.WithLabelValues(r.name, metrics.OutcomeUnmatched).Inc()
	switch r.unmatched {
	case UnmatchedLog:
		r.log.Warnf("unexpected packet: %s", pkt)
	case UnmatchedSkip:
	default:
		return fmt.Errorf("%w: %s", core.ErrUnexpectedPacket, pkt)
	}
	return nil
}

// Send writes a frame through the configured sender.
func (r *Reader) Send(frame []byte) error {
	if r.sender == nil {
		return core.ErrTransportRequired
	}
	if err := r.sender.Send(frame); err != nil {
		return err
	}
	metrics.ReaderSentTotal.WithLabelValues(r.name).Inc()
	return nil
}

// SendPacket encodes p and sends it.
func (r *Reader) SendPacket(p packet.Packet) error {
	frame, err := packet.Encode(p)
	if err != nil {
		return err
	}
	return r.Send(frame)
}

// Stop fires the cancel signal, joins the consumer, and closes the source.
// It is safe to call more than once and from any state.
func (r *Reader) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		wasRunning := r.state == StateRunning
		r.setState(StateStopping)
		r.mu.Unlock()

		if wasRunning {
			r.cancel.Fire()
			<-r.done
		}
		err := r.src.Close()
		if r.cancel != nil {
			err = errors.Join(err, r.cancel.Close())
		}
		r.stopErr = err

		r.mu.Lock()
		r.setState(StateStopped)
		r.mu.Unlock()
		r.log.Debug("reader stopped")
	})
	return r.stopErr
}
