package probes

import (
	"context"
	"fmt"
	"iter"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/transport"
)

// DefaultARPWindow is how long the ARP scanner listens after each request.
const DefaultARPWindow = 2 * time.Second

// ARPScanner finds hosts on the local segment with ARP who-has requests.
type ARPScanner struct {
	env    Env
	window time.Duration
}

// NewARPScanner creates an ARP scanner. A non-positive window means
// DefaultARPWindow.
func NewARPScanner(env Env, window time.Duration) *ARPScanner {
	if window <= 0 {
		window = DefaultARPWindow
	}
	return &ARPScanner{env: env.withDefaults(), window: window}
}

// Scan sends one request per target and returns a record per distinct
// responder, in reply order.
func (s *ARPScanner) Scan(ctx context.Context, targets iter.Seq[netip.Addr]) ([]model.HostRecord, error) {
	var hosts []model.HostRecord
	seen := make(map[netip.Addr]struct{})

	for target := range targets {
		if err := ctx.Err(); err != nil {
			return hosts, err
		}

		exchanges, err := s.env.send(ctx, transport.Probe{Kind: transport.KindARP, Target: target}, s.window, 0)
		if err != nil {
			return hosts, fmt.Errorf("arp scan %s: %w", target, err)
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
			rec := model.NewHostRecord(ip, strings.ToLower(ex.Reply.HardwareAddr.String()), s.env.hostname(ctx, ip))
			hosts = append(hosts, rec)

			s.env.Metrics.HostDiscovered("arp")
			s.env.Logger.Debug("host found",
				zap.String("ip", rec.IP),
				zap.String("mac", rec.MAC),
				zap.String("hostname", rec.Hostname),
			)
			s.env.emit(rec)
		}
	}
	return hosts, nil
}
