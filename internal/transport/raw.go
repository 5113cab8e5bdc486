package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

const (
	ephemeralPortStart = 32768
	ephemeralPortEnd   = 61000
)

var errUnsupported = errors.New("raw sockets are not supported on this platform")

// RawConfig tunes the raw transport.
type RawConfig struct {
	// Interface forces the egress interface; empty lets the kernel pick.
	Interface string
	// Unprivileged makes ICMP use datagram ping sockets instead of raw ones.
	Unprivileged bool
}

// Raw is the Transport that talks to the network. It keeps no state between
// calls; every Send opens and closes its own socket.
type Raw struct {
	iface      string
	privileged bool
	logger     *zap.Logger
}

// NewRaw creates a raw socket transport.
func NewRaw(cfg RawConfig, logger *zap.Logger) *Raw {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Raw{
		iface:      cfg.Interface,
		privileged: !cfg.Unprivileged,
		logger:     logger,
	}
}

// Send implements Transport.
func (r *Raw) Send(ctx context.Context, probe Probe, timeout, interval time.Duration) ([]Exchange, error) {
	if !probe.Target.IsValid() {
		return nil, newError("send", probe.Target, errors.New("invalid target address"))
	}

	r.logger.Debug("sending probe",
		zap.Stringer("kind", probe.Kind),
		zap.Stringer("target", probe.Target),
		zap.Uint16("port", probe.Port),
		zap.Duration("timeout", timeout),
	)

	switch probe.Kind {
	case KindARP:
		return r.sendARP(ctx, probe, timeout)
	case KindICMPEcho:
		return r.sendICMP(ctx, probe, timeout, interval)
	case KindTCPSyn:
		return r.sendSYN(ctx, probe, timeout)
	case KindTCPReset:
		return nil, r.sendRST(probe)
	default:
		return nil, newError("send", probe.Target, fmt.Errorf("unknown probe kind %s", probe.Kind))
	}
}

func ephemeralPort() uint16 {
	return uint16(ephemeralPortStart + rand.IntN(ephemeralPortEnd-ephemeralPortStart))
}
