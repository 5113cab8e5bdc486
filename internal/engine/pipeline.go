package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/netscan/internal/iprange"
	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/probes"
)

// EventKind identifies an observer event.
type EventKind int

const (
	// EventStageStarted is sent when a pipeline stage begins.
	EventStageStarted EventKind = iota + 1
	// EventHostFound carries a record from host discovery.
	EventHostFound
	// EventHostScanned carries a record whose port scan is finished.
	EventHostScanned
)

// Stage names.
const (
	StageARP  = "arp"
	StageICMP = "icmp"
	StagePort = "port"
)

// Event is a progress notification from a running scan.
type Event struct {
	Kind  EventKind
	RunID string
	Stage string
	Host  model.HostRecord
}

// Observer receives events from the scan goroutine.
type Observer func(Event)

// pipeline runs the stages for req.Mode and returns the records produced by
// the last stage that ran.
func (o *Orchestrator) pipeline(ctx context.Context, runID string, req model.ScanRequest, notify func(Event)) ([]model.HostRecord, error) {
	if req.Range == nil {
		return nil, &iprange.InvalidRangeError{Reason: "no address range"}
	}

	env := probes.Env{
		Transport: o.cfg.Transport,
		Resolver:  o.cfg.Resolver,
		Logger:    o.logger.With(zap.String("run", runID)),
		Metrics:   o.cfg.Metrics,
		OnHost: func(h model.HostRecord) {
			notify(Event{Kind: EventHostFound, Host: h})
		},
	}

	switch req.Mode {
	case model.ModeARP:
		notify(Event{Kind: EventStageStarted, Stage: StageARP})
		return probes.NewARPScanner(env, o.cfg.ARPWindow).Scan(ctx, req.Range.All())

	case model.ModeICMP:
		return o.sweep(ctx, env, req, notify)

	case model.ModePort:
		hosts, err := o.sweep(ctx, env, req, notify)
		if err != nil {
			return hosts, err
		}

		notify(Event{Kind: EventStageStarted, Stage: StagePort})
		env.OnHost = func(h model.HostRecord) {
			notify(Event{Kind: EventHostScanned, Host: h})
		}
		return probes.NewPortScanner(env, probes.PortOptions{
			Start:   req.StartPort,
			End:     req.EndPort,
			Timeout: o.cfg.PortTimeout,
		}).Scan(ctx, hosts)

	default:
		return nil, fmt.Errorf("unknown scan mode %s", req.Mode)
	}
}

func (o *Orchestrator) sweep(ctx context.Context, env probes.Env, req model.ScanRequest, notify func(Event)) ([]model.HostRecord, error) {
	notify(Event{Kind: EventStageStarted, Stage: StageICMP})
	return probes.NewICMPScanner(env, probes.ICMPOptions{
		Timeout:    req.Timeout,
		TTL:        req.TTL,
		Interval:   req.Interval,
		PacketSize: req.PacketSize,
	}).Scan(ctx, req.Range.All())
}
