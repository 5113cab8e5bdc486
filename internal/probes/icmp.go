package probes

import (
	"context"
	"fmt"
	"iter"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/transport"
)

// ICMPOptions are the per-echo parameters of a ping sweep.
type ICMPOptions struct {
	Timeout    time.Duration
	TTL        int
	Interval   time.Duration
	PacketSize int
}

// ICMPScanner finds hosts that answer ICMP echo requests.
type ICMPScanner struct {
	env  Env
	opts ICMPOptions
}

// NewICMPScanner creates a ping sweep scanner.
func NewICMPScanner(env Env, opts ICMPOptions) *ICMPScanner {
	return &ICMPScanner{env: env.withDefaults(), opts: opts}
}

// Scan sends one echo per target, spaced at least Interval apart, and
// returns a record per distinct responder.
func (s *ICMPScanner) Scan(ctx context.Context, targets iter.Seq[netip.Addr]) ([]model.HostRecord, error) {
	var hosts []model.HostRecord
	seen := make(map[netip.Addr]struct{})

	limit := rate.Inf
	if s.opts.Interval > 0 {
		limit = rate.Every(s.opts.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for target := range targets {
		if err := ctx.Err(); err != nil {
			return hosts, err
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return hosts, ctx.Err()
			}
			return hosts, fmt.Errorf("ping sweep: %w", err)
		}

		probe := transport.Probe{
			Kind:        transport.KindICMPEcho,
			Target:      target,
			TTL:         s.opts.TTL,
			PayloadSize: s.opts.PacketSize,
		}
		exchanges, err := s.env.send(ctx, probe, s.opts.Timeout, s.opts.Interval)
		if err != nil {
			return hosts, fmt.Errorf("ping sweep %s: %w", target, err)
		}
		// A reply window cut short by cancellation is not a finished probe.
		if err := ctx.Err(); err != nil {
			return hosts, err
		}

		for _, ex := range exchanges {
			if err := ctx.Err(); err != nil {
				return hosts, err
			}
			src := ex.Reply.Source
			if _, dup := seen[src]; dup {
				continue
			}
			seen[src] = struct{}{}

			ip := src.String()
			rec := model.NewHostRecord(ip, "", s.env.hostname(ctx, ip))
			hosts = append(hosts, rec)

			s.env.Metrics.HostDiscovered("icmp")
			s.env.Logger.Debug("host found",
				zap.String("ip", rec.IP),
				zap.String("hostname", rec.Hostname),
				zap.Duration("rtt", ex.Reply.RTT),
			)
			s.env.emit(rec)
		}
	}
	return hosts, nil
}
