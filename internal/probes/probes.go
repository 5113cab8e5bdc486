// Package probes drives a transport over an address range to discover hosts
// (ARP, ICMP) and over a port range to find open TCP ports.
//
// Every scanner checks its context between units of work. A scanner that
// sees cancellation returns what it has collected so far together with
// ctx.Err().
package probes

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/netscan/internal/metrics"
	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/transport"
)

// Resolver does reverse name lookups.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Env is what a scanner needs from its surroundings.
type Env struct {
	Transport transport.Transport
	Resolver  Resolver
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// OnHost, when set, is called with each record as soon as it is built.
	OnHost func(model.HostRecord)
}

func (e Env) withDefaults() Env {
	if e.Resolver == nil {
		e.Resolver = net.DefaultResolver
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e
}

func (e Env) emit(rec model.HostRecord) {
	if e.OnHost != nil {
		e.OnHost(rec)
	}
}

// hostname returns the first PTR name of ip, or model.UnknownHost.
func (e Env) hostname(ctx context.Context, ip string) string {
	names, err := e.Resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		e.Logger.Debug("reverse lookup failed", zap.String("ip", ip), zap.Error(err))
		return model.UnknownHost
	}
	name := strings.TrimSuffix(names[0], ".")
	if name == "" {
		return model.UnknownHost
	}
	return name
}

// send sends one probe and accounts for it in metrics.
func (e Env) send(ctx context.Context, probe transport.Probe, timeout, interval time.Duration) ([]transport.Exchange, error) {
	kind := probe.Kind.String()
	e.Metrics.ProbeSent(kind)
	exchanges, err := e.Transport.Send(ctx, probe, timeout, interval)
	if err != nil {
		return nil, err
	}
	e.Metrics.RepliesReceived(kind, len(exchanges))
	return exchanges, nil
}
