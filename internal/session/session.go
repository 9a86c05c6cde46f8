// Package session assembles a capture session from configuration: the
// transport under test, the source reading it, and a reader loaded with a
// scenario's expectations.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tapcheck/internal/config"
	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
	"firestige.xyz/tapcheck/internal/expect"
	"firestige.xyz/tapcheck/internal/log"
	"firestige.xyz/tapcheck/internal/reader"
	"firestige.xyz/tapcheck/internal/scenario"
	"firestige.xyz/tapcheck/internal/source"
	"firestige.xyz/tapcheck/internal/transport"
)

// Session owns every resource it opens and releases them in Close.
type Session struct {
	cfg      *config.Config
	scenario *scenario.Scenario
	addrs    config.Addresses
	linkType layers.LinkType

	transport transport.Transport
	record    *os.File
	reader    *reader.Reader
	log       log.Logger
}

// Result summarizes a run.
type Result struct {
	Satisfied   bool
	Elapsed     time.Duration
	Unsatisfied []string
}

// Open builds the session. sc may be nil; expectations can then be added
// through Reader().Expect.
func Open(cfg *config.Config, sc *scenario.Scenario) (_ *Session, err error) {
	addrs, err := cfg.Interface.Addresses()
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		scenario: sc,
		addrs:    addrs,
		log:      log.GetLogger().WithField("session", cfg.Reader.Name),
	}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	src, err := s.openSource()
	if err != nil {
		return nil, err
	}
	if cfg.Source.Record != "" {
		if src, err = s.recordTo(src); err != nil {
			return nil, err
		}
	}

	unmatched := cfg.Reader.Unmatched
	if sc != nil && sc.Unmatched != "" {
		unmatched = sc.Unmatched
	}
	policy, err := reader.ParseUnmatchedPolicy(unmatched)
	if err != nil {
		src.Close()
		return nil, err
	}
	decode, err := packet.DecoderFor(s.linkType)
	if err != nil {
		src.Close()
		return nil, err
	}
	r, err := reader.New(src,
		reader.WithName(cfg.Reader.Name),
		reader.WithQueueSize(cfg.Reader.QueueSize),
		reader.WithUnmatched(policy),
		reader.WithDecoder(decode),
		reader.WithSender(s.sender()),
		reader.WithLogger(s.log),
	)
	if err != nil {
		src.Close()
		return nil, err
	}
	s.reader = r

	if sc != nil {
		es, err := scenario.Compile(sc, scenario.Env{
			Sender: r,
			MAC:    s.addrs.MAC,
			Local:  s.addrs.Local,
			Logger: s.log,
		})
		if err != nil {
			return nil, err
		}
		r.Expect(es...)
	}
	return s, nil
}

func (s *Session) openSource() (source.Source, error) {
	sc := s.cfg.Source
	switch sc.Type {
	case config.SourcePcap:
		p, err := source.OpenPcap(sc.PcapFile)
		if err != nil {
			return nil, err
		}
		s.linkType = p.LinkType()
		return p, nil

	case config.SourceAFPacket:
		a, err := source.OpenAFPacket(source.AFPacketConfig{
			Device:       sc.AFPacket.Device,
			SnapLen:      sc.AFPacket.SnapLen,
			BufferSizeMB: sc.AFPacket.BufferSizeMB,
			PollTimeout:  sc.AFPacket.PollTimeout,
			EtherTypes:   sc.AFPacket.EtherTypes,
		})
		if err != nil {
			return nil, err
		}
		s.linkType = layers.LinkTypeEthernet
		return a, nil
	}

	t, err := s.openTransport()
	if err != nil {
		return nil, err
	}
	s.transport = t
	s.linkType = t.LinkType()
	f, err := t.Dup()
	if err != nil {
		return nil, err
	}
	strategy, err := source.ParseStrategy(sc.Strategy)
	if err != nil {
		f.Close()
		return nil, err
	}
	var src source.Source
	if strategy == source.StrategyForked {
		src, err = source.NewForked(f, sc.BufferSize)
	} else {
		src, err = source.NewDirect(f, sc.BufferSize)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func (s *Session) openTransport() (transport.Transport, error) {
	ic := s.cfg.Interface
	addrs := transport.Addrs{
		Local:       s.addrs.Local,
		Remote:      s.addrs.Remote,
		Destination: s.addrs.Destination,
		MAC:         s.addrs.MAC,
		PeerMAC:     s.addrs.PeerMAC,
	}
	var t transport.Transport
	switch ic.Type {
	case config.InterfaceFile:
		lt, err := ic.LinkLayer()
		if err != nil {
			return nil, err
		}
		t = &transport.FileTransport{Path: ic.Path, Link: lt, Addr: addrs}
	case config.InterfaceTUN:
		t = transport.NewWaterTransport(ic.Name, false, addrs)
	default:
		t = transport.NewWaterTransport(ic.Name, true, addrs)
	}
	if err := t.Open(); err != nil {
		return nil, err
	}
	// The device may report its own MAC once open.
	s.addrs.MAC = t.Addrs().MAC
	return t, nil
}

func (s *Session) recordTo(src source.Source) (source.Source, error) {
	f, err := os.Create(s.cfg.Source.Record)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create recording %s: %w", s.cfg.Source.Record, err)
	}
	rec, err := source.Record(src, f, s.linkType, uint32(s.cfg.Source.BufferSize))
	if err != nil {
		f.Close()
		src.Close()
		return nil, err
	}
	s.record = f
	return rec, nil
}

// sender is the transport, or for offline sources a sink that logs and
// drops, so reactive scenarios can still be replayed.
func (s *Session) sender() expect.Sender {
	if s.transport != nil {
		return s.transport
	}
	return expect.SenderFunc(func(frame []byte) error {
		s.log.Debugf("offline source, dropping %d byte reply", len(frame))
		return nil
	})
}

// Reader exposes the underlying reader.
func (s *Session) Reader() *reader.Reader { return s.reader }

// Transport is nil for offline sources.
func (s *Session) Transport() transport.Transport { return s.transport }

func (s *Session) LinkType() layers.LinkType { return s.linkType }

// Run starts the reader, injects the scenario's frames and waits for the
// expectations. The idle timeout comes from the scenario, else from config.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.reader.State() == reader.StateIdle {
		if err := s.reader.Start(); err != nil {
			return nil, err
		}
	}
	timeout := s.cfg.Reader.Timeout
	if s.scenario != nil {
		if s.scenario.Timeout > 0 {
			timeout = s.scenario.Timeout
		}
		frames, err := s.scenario.Frames()
		if err != nil {
			return nil, err
		}
		for _, f := range frames {
			if err := s.inject(f); err != nil {
				return nil, err
			}
		}
	}

	start := time.Now()
	ok, err := s.reader.Run(ctx, timeout)
	res := &Result{Satisfied: ok, Elapsed: time.Since(start)}
	for _, e := range s.reader.Unsatisfied() {
		res.Unsatisfied = append(res.Unsatisfied, e.String())
	}
	if err != nil {
		return res, err
	}
	s.log.WithField("elapsed", res.Elapsed).Infof("run finished, satisfied=%t", ok)
	return res, nil
}

func (s *Session) inject(frame []byte) error {
	if s.transport == nil {
		return fmt.Errorf("inject: %w", core.ErrTransportRequired)
	}
	return s.reader.Send(frame)
}

// Close stops the reader, then releases the transport and recording.
func (s *Session) Close() error {
	return s.closeResources()
}

func (s *Session) closeResources() error {
	var errs []error
	if s.reader != nil {
		errs = append(errs, s.reader.Stop())
	}
	if s.transport != nil {
		errs = append(errs, s.transport.Close())
	}
	if s.record != nil {
		errs = append(errs, s.record.Close())
	}
	return errors.Join(errs...)
}
