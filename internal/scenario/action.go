package scenario

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/tapcheck/internal/core"
	"firestige.xyz/tapcheck/internal/core/packet"
	"firestige.xyz/tapcheck/internal/expect"
	"firestige.xyz/tapcheck/internal/log"
)

// Action types
const (
	ActionReplyARP      = "reply_arp"
	ActionReplyNeighbor = "reply_neighbor"
	ActionSend          = "send"
	ActionLog           = "log"
)

type replyParams struct {
	MAC  string `mapstructure:"mac"`
	Addr string `mapstructure:"addr"`
}

type sendParams struct {
	Frame string `mapstructure:"frame"`
}

type logParams struct {
	Message string `mapstructure:"message"`
}

func decodeParams(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: action params: %w", core.ErrConfigInvalid, err)
	}
	return nil
}

func compileAction(spec *ActionSpec, env Env) (expect.Action, error) {
	switch strings.ToLower(spec.Type) {
	case ActionReplyARP, ActionReplyNeighbor:
		var p replyParams
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		mac, addr, err := p.resolve(env)
		if err != nil {
			return nil, err
		}
		if err := requireSender(env); err != nil {
			return nil, err
		}
		if strings.ToLower(spec.Type) == ActionReplyARP {
			if !addr.Is4() {
				return nil, fmt.Errorf("%w: reply_arp needs an IPv4 address, got %s", core.ErrConfigInvalid, addr)
			}
			return expect.ReplyARP(mac, addr, env.Sender), nil
		}
		if !addr.Is6() {
			return nil, fmt.Errorf("%w: reply_neighbor needs an IPv6 address, got %s", core.ErrConfigInvalid, addr)
		}
		return expect.ReplyNeighbor(mac, addr, env.Sender), nil

	case ActionSend:
		var p sendParams
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		frame, err := hex.DecodeString(strings.ReplaceAll(p.Frame, " ", ""))
		if err != nil || len(frame) == 0 {
			return nil, fmt.Errorf("%w: send needs a hex frame", core.ErrConfigInvalid)
		}
		if err := requireSender(env); err != nil {
			return nil, err
		}
		return func(packet.Packet) error { return env.Sender.Send(frame) }, nil

	case ActionLog:
		var p logParams
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		logger := env.Logger
		if logger == nil {
			logger = log.GetLogger()
		}
		return func(pkt packet.Packet) error {
			logger.Infof("%s: %s", p.Message, pkt)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown action type %q", core.ErrConfigInvalid, spec.Type)
}

func (p replyParams) resolve(env Env) (packet.MAC, netip.Addr, error) {
	mac, addr := env.MAC, env.Local
	if p.MAC != "" {
		m, err := packet.ParseMAC(p.MAC)
		if err != nil {
			return mac, addr, fmt.Errorf("%w: mac: %w", core.ErrConfigInvalid, err)
		}
		mac = m
	}
	if p.Addr != "" {
		a, err := netip.ParseAddr(p.Addr)
		if err != nil {
			return mac, addr, fmt.Errorf("%w: addr: %w", core.ErrConfigInvalid, err)
		}
		addr = a
	}
	if mac == (packet.MAC{}) {
		return mac, addr, fmt.Errorf("%w: reply needs a mac", core.ErrConfigInvalid)
	}
	if !addr.IsValid() {
		return mac, addr, fmt.Errorf("%w: reply needs an addr", core.ErrConfigInvalid)
	}
	return mac, addr, nil
}

func requireSender(env Env) error {
	if env.Sender == nil {
		return fmt.Errorf("%w: action needs a transport", core.ErrTransportRequired)
	}
	return nil
}
