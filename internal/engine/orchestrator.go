// Package engine runs one scan at a time: it picks the pipeline for the
// requested mode, runs it on its own goroutine, and hands the outcome to
// whoever waits for it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/netscan/internal/metrics"
	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/probes"
	"github.com/user/netscan/internal/transport"
)

var (
	// ErrScanRunning is returned by Start while a scan is in progress.
	ErrScanRunning = errors.New("a scan is already running")
	// ErrOutcomePending is returned by Start while the previous outcome has
	// not been collected with Wait or Abort.
	ErrOutcomePending = errors.New("previous scan outcome not collected")
)

// State is the lifecycle position of the orchestrator.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is how a run ended.
type Status int

const (
	StatusCompleted Status = iota + 1
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) state() State {
	switch s {
	case StatusAborted:
		return StateAborted
	case StatusFailed:
		return StateFailed
	default:
		return StateCompleted
	}
}

// Outcome is the terminal result of one run. Hosts is nil when Status is
// StatusFailed; Err and Reason are set only then.
type Outcome struct {
	RunID    string
	Mode     model.ScanMode
	Status   Status
	Hosts    []model.HostRecord
	Err      error
	Reason   string
	Duration time.Duration
}

// Config wires the orchestrator to its collaborators.
type Config struct {
	Transport transport.Transport
	Resolver  probes.Resolver
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	ARPWindow   time.Duration
	PortTimeout time.Duration
}

// Orchestrator owns at most one scan run.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	run *run
}

type run struct {
	id      string
	mode    model.ScanMode
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// New creates an idle orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, logger: logger}
}

// Start launches a scan for req. Events are delivered to observer, which may
// be nil, from the scan goroutine.
func (o *Orchestrator) Start(req model.ScanRequest, observer Observer) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil {
		select {
		case <-o.run.done:
			return ErrOutcomePending
		default:
			return ErrScanRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     uuid.NewString(),
		mode:   req.Mode,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.run = r

	fields := []zap.Field{zap.String("run", r.id), zap.Stringer("mode", req.Mode)}
	if req.Range != nil {
		fields = append(fields, zap.Stringer("range", req.Range))
	}
	o.logger.Info("scan started", fields...)

	go o.execute(ctx, r, req, observer)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, req model.ScanRequest, observer Observer) {
	defer close(r.done)
	defer r.cancel()

	started := time.Now()
	notify := func(e Event) {
		if observer != nil {
			e.RunID = r.id
			observer(e)
		}
	}

	hosts, err := o.pipeline(ctx, r.id, req, notify)

	out := Outcome{
		RunID:    r.id,
		Mode:     req.Mode,
		Duration: time.Since(started),
	}
	switch {
	case err == nil:
		out.Status = StatusCompleted
		out.Hosts = hosts
	case errors.Is(err, context.Canceled):
		out.Status = StatusAborted
		out.Hosts = hosts
	default:
		out.Status = StatusFailed
		out.Err = err
		out.Reason = err.Error()
	}
	if out.Status != StatusFailed && out.Hosts == nil {
		out.Hosts = []model.HostRecord{}
	}
	r.outcome = out

	o.cfg.Metrics.ScanFinished(req.Mode.String(), out.Status.String(), out.Duration.Seconds())

	fields := []zap.Field{
		zap.String("run", r.id),
		zap.Stringer("status", out.Status),
		zap.Int("hosts", len(out.Hosts)),
		zap.Duration("duration", out.Duration),
	}
	if out.Status == StatusFailed {
		o.logger.Error("scan failed", append(fields, zap.Error(err))...)
	} else {
		o.logger.Info("scan finished", fields...)
	}
}

// Abort cancels the current run and waits for it to stop. The outcome is
// Aborted, or Completed if the work had already finished. It returns false
// when there is no run.
func (o *Orchestrator) Abort() (Outcome, bool) {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return Outcome{}, false
	}
	r.cancel()
	return o.Wait()
}

// Wait blocks until the current run is terminal and collects its outcome,
// returning the orchestrator to idle. Concurrent callers all receive the same
// outcome. It returns false when there is no run.
func (o *Orchestrator) Wait() (Outcome, bool) {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return Outcome{}, false
	}

	<-r.done

	o.mu.Lock()
	if o.run == r {
		o.run = nil
	}
	o.mu.Unlock()
	return r.outcome, true
}

// State reports where the orchestrator is in its lifecycle.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run == nil {
		return StateIdle
	}
	select {
	case <-o.run.done:
		return o.run.outcome.Status.state()
	default:
		return StateRunning
	}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the current run is terminal. With no
// run it returns a closed channel.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return closedCh
	}
	return o.run.done
}
