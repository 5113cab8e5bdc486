package engine

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/netscan/internal/iprange"
	"github.com/user/netscan/internal/metrics"
	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/transport"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []transport.Probe
	handle func(context.Context, transport.Probe) ([]transport.Exchange, error)
}

func (f *fakeTransport) Send(ctx context.Context, p transport.Probe, timeout, interval time.Duration) ([]transport.Exchange, error) {
	f.mu.Lock()
	f.sent = append(f.sent, p)
	f.mu.Unlock()
	if f.handle == nil {
		return nil, nil
	}
	return f.handle(ctx, p)
}

func (f *fakeTransport) count(kind transport.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.sent {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

type resolverFunc func(ctx context.Context, addr string) ([]string, error)

func (f resolverFunc) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return f(ctx, addr)
}

var noNames = resolverFunc(func(context.Context, string) ([]string, error) {
	return nil, errors.New("no such host")
})

func echo(p transport.Probe) []transport.Exchange {
	return []transport.Exchange{{Request: p, Reply: transport.Reply{Source: p.Target}}}
}

func request(t *testing.T, mode model.ScanMode, start, end string) model.ScanRequest {
	t.Helper()
	r, err := iprange.Resolve(start, end, 24)
	require.NoError(t, err)
	return model.ScanRequest{
		Mode:       mode,
		Range:      r,
		Timeout:    time.Millisecond,
		TTL:        128,
		Interval:   time.Millisecond,
		PacketSize: 32,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func TestPortScanEndToEnd(t *testing.T) {
	ft := &fakeTransport{handle: func(_ context.Context, p transport.Probe) ([]transport.Exchange, error) {
		switch p.Kind {
		case transport.KindICMPEcho:
			return echo(p), nil
		case transport.KindTCPSyn:
			if p.Port == 22 {
				p.SrcPort = 50000
				return []transport.Exchange{{Request: p, Reply: transport.Reply{
					Source: p.Target,
					Port:   22,
					Flags:  transport.FlagSYN | transport.FlagACK,
					Ack:    7,
				}}}, nil
			}
		}
		return nil, nil
	}}
	m := metrics.New()
	o := New(Config{Transport: ft, Resolver: noNames, Logger: zaptest.NewLogger(t), Metrics: m})

	req := request(t, model.ModePort, "10.0.0.1", "")
	req.StartPort, req.EndPort = 20, 22
	rec := &recorder{}

	require.NoError(t, o.Start(req, rec.observe))
	out, ok := o.Wait()
	require.True(t, ok)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.NotEmpty(t, out.RunID)
	assert.NoError(t, out.Err)
	assert.Equal(t, []model.HostRecord{{
		IP:        "10.0.0.1",
		MAC:       "",
		Hostname:  model.UnknownHost,
		OpenPorts: []int{22},
	}}, out.Hosts)

	assert.Equal(t, []EventKind{EventStageStarted, EventHostFound, EventStageStarted, EventHostScanned}, rec.kinds())
	assert.Equal(t, StageICMP, rec.events[0].Stage)
	assert.Equal(t, StagePort, rec.events[2].Stage)
	assert.Equal(t, out.RunID, rec.events[3].RunID)

	assert.Equal(t, 3, ft.count(transport.KindTCPSyn))
	assert.Equal(t, 1, ft.count(transport.KindTCPReset))
	assert.Equal(t, StateIdle, o.State())

	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP netscan_scan_total Finished scans by mode and outcome.
# TYPE netscan_scan_total counter
netscan_scan_total{mode="port",outcome="completed"} 1
`), "netscan_scan_total"))
}

func TestARPAbortKeepsPartialResults(t *testing.T) {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	ft := &fakeTransport{handle: func(_ context.Context, p transport.Probe) ([]transport.Exchange, error) {
		ex := echo(p)
		ex[0].Reply.HardwareAddr = mac
		return ex, nil
	}}

	var o *Orchestrator
	aborted := make(chan Outcome, 1)
	resolver := resolverFunc(func(ctx context.Context, addr string) ([]string, error) {
		if addr == "10.0.0.3" {
			go func() {
				out, _ := o.Abort()
				aborted <- out
			}()
			<-ctx.Done()
		}
		return []string{"host-" + addr + "."}, nil
	})
	o = New(Config{Transport: ft, Resolver: resolver, Logger: zaptest.NewLogger(t), ARPWindow: time.Millisecond})

	require.NoError(t, o.Start(request(t, model.ModeARP, "10.0.0.1", "10.0.0.9"), nil))
	out, ok := o.Wait()
	require.True(t, ok)

	assert.Equal(t, StatusAborted, out.Status)
	var ips []string
	for _, h := range out.Hosts {
		ips = append(ips, h.IP)
		assert.Equal(t, "00:11:22:33:44:55", h.MAC)
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, ips)
	assert.Equal(t, "host-10.0.0.3", out.Hosts[2].Hostname)
	assert.Equal(t, 3, ft.count(transport.KindARP))

	select {
	case got := <-aborted:
		assert.Equal(t, out, got)
	case <-time.After(5 * time.Second):
		t.Fatal("Abort did not return")
	}
}

func TestStartRejectedWhileRunning(t *testing.T) {
	sending := make(chan struct{}, 1)
	ft := &fakeTransport{handle: func(ctx context.Context, _ transport.Probe) ([]transport.Exchange, error) {
		sending <- struct{}{}
		<-ctx.Done()
		return nil, nil
	}}
	o := New(Config{Transport: ft, Resolver: noNames})
	req := request(t, model.ModeICMP, "10.0.0.1", "10.0.0.5")

	require.NoError(t, o.Start(req, nil))
	assert.Equal(t, StateRunning, o.State())
	assert.ErrorIs(t, o.Start(req, nil), ErrScanRunning)
	assert.Equal(t, StateRunning, o.State())

	<-sending
	out, ok := o.Abort()
	require.True(t, ok)
	assert.Equal(t, StatusAborted, out.Status)
	assert.NotNil(t, out.Hosts)
	assert.Empty(t, out.Hosts)
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 1, ft.count(transport.KindICMPEcho))
}

func TestOutcomeMustBeCollected(t *testing.T) {
	o := New(Config{Transport: &fakeTransport{}, Resolver: noNames})
	req := request(t, model.ModeICMP, "10.0.0.1", "")

	require.NoError(t, o.Start(req, nil))
	<-o.Done()
	assert.Equal(t, StateCompleted, o.State())
	assert.ErrorIs(t, o.Start(req, nil), ErrOutcomePending)

	out, ok := o.Wait()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, StateIdle, o.State())

	require.NoError(t, o.Start(req, nil))
	_, ok = o.Wait()
	assert.True(t, ok)
}

func TestAbortAfterFinishIsCompleted(t *testing.T) {
	ft := &fakeTransport{handle: func(_ context.Context, p transport.Probe) ([]transport.Exchange, error) {
		return echo(p), nil
	}}
	o := New(Config{Transport: ft, Resolver: noNames})

	require.NoError(t, o.Start(request(t, model.ModeICMP, "10.0.0.1", "10.0.0.2"), nil))
	<-o.Done()

	out, ok := o.Abort()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Len(t, out.Hosts, 2)
}

func TestIdleOrchestrator(t *testing.T) {
	o := New(Config{})

	_, ok := o.Wait()
	assert.False(t, ok)
	_, ok = o.Abort()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, o.State())

	select {
	case <-o.Done():
	default:
		t.Fatal("Done should be closed when idle")
	}
}

func TestTransportErrorFailsRun(t *testing.T) {
	ft := &fakeTransport{handle: func(_ context.Context, p transport.Probe) ([]transport.Exchange, error) {
		if p.Target == netip.MustParseAddr("10.0.0.2") {
			return nil, &transport.Error{Op: "icmp", Target: p.Target.String(), Err: errors.New("operation not permitted")}
		}
		return echo(p), nil
	}}
	o := New(Config{Transport: ft, Resolver: noNames})

	require.NoError(t, o.Start(request(t, model.ModeICMP, "10.0.0.1", "10.0.0.3"), nil))
	out, _ := o.Wait()

	assert.Equal(t, StatusFailed, out.Status)
	assert.Nil(t, out.Hosts)
	var terr *transport.Error
	require.ErrorAs(t, out.Err, &terr)
	assert.Contains(t, out.Reason, "operation not permitted")
}

func TestMissingRangeFailsRun(t *testing.T) {
	ft := &fakeTransport{}
	o := New(Config{Transport: ft})

	require.NoError(t, o.Start(model.ScanRequest{Mode: model.ModeARP}, nil))
	out, _ := o.Wait()

	assert.Equal(t, StatusFailed, out.Status)
	assert.Nil(t, out.Hosts)
	var rerr *iprange.InvalidRangeError
	assert.ErrorAs(t, out.Err, &rerr)
	assert.Empty(t, ft.sent)
}

func TestCancelledSweepSkipsPortStage(t *testing.T) {
	ft := &fakeTransport{handle: func(_ context.Context, p transport.Probe) ([]transport.Exchange, error) {
		return echo(p), nil
	}}

	var o *Orchestrator
	resolver := resolverFunc(func(ctx context.Context, addr string) ([]string, error) {
		go o.Abort()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o = New(Config{Transport: ft, Resolver: resolver})

	req := request(t, model.ModePort, "10.0.0.1", "10.0.0.4")
	req.StartPort, req.EndPort = 1, 1024
	rec := &recorder{}
	require.NoError(t, o.Start(req, rec.observe))
	out, _ := o.Wait()

	assert.Equal(t, StatusAborted, out.Status)
	require.Len(t, out.Hosts, 1)
	assert.Equal(t, model.UnknownHost, out.Hosts[0].Hostname)
	assert.Equal(t, []int{}, out.Hosts[0].OpenPorts)
	assert.Zero(t, ft.count(transport.KindTCPSyn))
	assert.Equal(t, []EventKind{EventStageStarted, EventHostFound}, rec.kinds())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "aborted", StatusAborted.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestAbortDuringLastProbeIsAborted(t *testing.T) {
	sending := make(chan struct{}, 1)
	ft := &fakeTransport{handle: func(ctx context.Context, p transport.Probe) ([]transport.Exchange, error) {
		sending <- struct{}{}
		<-ctx.Done()
		return echo(p), nil
	}}
	o := New(Config{Transport: ft, Resolver: noNames})

	require.NoError(t, o.Start(request(t, model.ModeICMP, "10.0.0.1", ""), nil))
	<-sending
	out, ok := o.Abort()

	require.True(t, ok)
	assert.Equal(t, StatusAborted, out.Status)
	assert.Empty(t, out.Hosts)
}
