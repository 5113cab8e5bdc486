package probes

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/transport"
)

// DefaultPortTimeout is the reply window after each SYN.
const DefaultPortTimeout = time.Second

// PortOptions select the ports to probe.
type PortOptions struct {
	Start   int
	End     int
	Timeout time.Duration
}

// PortScanner finds open TCP ports with half-open SYN probes.
type PortScanner struct {
	env  Env
	opts PortOptions
}

// NewPortScanner creates a port scanner over the inclusive range
// [opts.Start, opts.End].
func NewPortScanner(env Env, opts PortOptions) *PortScanner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPortTimeout
	}
	return &PortScanner{env: env.withDefaults(), opts: opts}
}

// Scan probes every port of every host, in order. The result holds the
// hosts whose scan was started, each with a sorted, non-nil open port list.
// After cancellation the host in progress keeps the ports found so far and
// the hosts not yet reached are left out.
func (s *PortScanner) Scan(ctx context.Context, hosts []model.HostRecord) ([]model.HostRecord, error) {
	out := make([]model.HostRecord, 0, len(hosts))

	for _, h := range hosts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		h.OpenPorts = []int{}
		out = append(out, h)
		cur := &out[len(out)-1]

		err := s.scanHost(ctx, cur)
		slices.Sort(cur.OpenPorts)
		cur.OpenPorts = slices.Compact(cur.OpenPorts)
		if err != nil {
			return out, err
		}
		s.env.emit(*cur)
	}
	return out, nil
}

func (s *PortScanner) scanHost(ctx context.Context, host *model.HostRecord) error {
	addr, err := netip.ParseAddr(host.IP)
	if err != nil {
		s.env.Logger.Warn("skipping host with bad address", zap.String("ip", host.IP), zap.Error(err))
		return nil
	}

	for port := s.opts.Start; port <= s.opts.End; port++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		open, err := s.probe(ctx, addr, uint16(port))
		if err != nil {
			return fmt.Errorf("port scan %s:%d: %w", host.IP, port, err)
		}
		if open {
			host.OpenPorts = append(host.OpenPorts, port)
			s.env.Metrics.OpenPort()
			s.env.Logger.Debug("open port", zap.String("ip", host.IP), zap.Int("port", port))
		}
	}
	return nil
}

// probe sends one SYN and reports whether a SYN/ACK came back from port.
// An open port is reset so no half-open connection is left behind.
func (s *PortScanner) probe(ctx context.Context, addr netip.Addr, port uint16) (bool, error) {
	syn := transport.Probe{Kind: transport.KindTCPSyn, Target: addr, Port: port}
	exchanges, err := s.env.send(ctx, syn, s.opts.Timeout, 0)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	for _, ex := range exchanges {
		if ex.Reply.Port != port || !ex.Reply.Flags.Has(transport.FlagSYN|transport.FlagACK) {
			continue
		}
		rst := transport.Probe{
			Kind:    transport.KindTCPReset,
			Target:  addr,
			Port:    port,
			SrcPort: ex.Request.SrcPort,
			Seq:     ex.Reply.Ack,
		}
		if _, err := s.env.send(ctx, rst, 0, 0); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

var serviceNames = map[int]string{
	21: "ftp", 22: "ssh", 23: "telnet", 25: "smtp", 53: "dns",
	80: "http", 110: "pop3", 111: "rpc", 135: "msrpc", 139: "netbios",
	143: "imap", 443: "https", 445: "smb", 993: "imaps", 995: "pop3s",
	1433: "mssql", 1521: "oracle", 1723: "pptp", 3306: "mysql", 3389: "rdp",
	5432: "postgresql", 5900: "vnc", 5984: "couchdb", 6379: "redis",
	8080: "http-alt", 8443: "https-alt", 8888: "http-alt", 9092: "kafka",
	9200: "elasticsearch", 11211: "memcached", 27017: "mongodb",
}

// ServiceName returns the well-known service on port, or "".
func ServiceName(port int) string {
	return serviceNames[port]
}
