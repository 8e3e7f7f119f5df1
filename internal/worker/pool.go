// Package worker hosts the fixed-size pool of worker goroutines that execute
// deployments. Each worker loops over a bounded, shared dispatch channel
// and runs the chain-appropriate deployment to completion.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/queue"
)

// ErrChannelClosed is returned by Execute when the pool has been shut down
// or when the dispatch channel is full.
var ErrChannelClosed = errors.New("worker: pool is shut down")

// msgKind tags the dispatch channel's message variant.
type msgKind int

const (
	msgNewDeployment msgKind = iota
	msgDeploymentComplete
	msgDeploymentFailed
	msgShutdown
)

type message struct {
	kind    msgKind
	request *queue.Request
	id      uuid.UUID
	reason  string
}

// Deployer runs a single chain's deployment protocol to completion.
type Deployer interface {
	// Supports reports whether this deployer handles the given chain kind.
	Supports(chain queue.ChainKind) bool
	// Deploy drives the deployment through to a terminal state, returning
	// an error only for conditions the caller should treat as a failure.
	Deploy(ctx context.Context, req *queue.Request) error
}

// Metrics bundles the Prometheus collectors the pool updates. Constructed
// once per process and handed to the pool, in the same
// collector-bundle-by-value style the teacher uses for its orchestrator
// config structs. The pool updates ActiveWorkers and DeploymentsTotal;
// QueueDepth is registered but nothing sets it, so it stays at zero.
type Metrics struct {
	ActiveWorkers    prometheus.Gauge
	QueueDepth       prometheus.Gauge
	DeploymentsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh Metrics bundle on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deployctl_worker_active",
			Help: "Number of workers currently executing a deployment.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deployctl_queue_pending",
			Help: "Number of deployments waiting in the pending queue.",
		}),
		DeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deployctl_deployments_total",
			Help: "Deployments processed, by terminal outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.ActiveWorkers, m.QueueDepth, m.DeploymentsTotal)
	return m
}

// Pool is a fixed-size set of worker goroutines consuming a bounded
// dispatch channel. Each worker runs its own deployment to completion
// before taking the next message; multiple workers run in parallel.
type Pool struct {
	size      int
	ch        chan message
	deployers []Deployer
	metrics   *Metrics
	logger    *slog.Logger
	auditLog  *audit.Store

	onComplete func(id uuid.UUID)
	onFailed   func(id uuid.UUID, reason string)

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// Config configures a new Pool.
type Config struct {
	Size      int // number of worker goroutines, typically 4
	QueueSize int // dispatch channel capacity
	Deployers []Deployer
	Metrics   *Metrics
	Logger    *slog.Logger

	// AuditLog, if set, has its log file for a deployment created here, at
	// dispatch time — not by the façade at admission time. A request still
	// sitting in the pending queue has no log file yet (spec invariant iv).
	AuditLog *audit.Store

	// OnComplete/OnFailed are invoked (from a worker goroutine) after a
	// deployment finishes, so the queue manager can drain pending work.
	OnComplete func(id uuid.UUID)
	OnFailed   func(id uuid.UUID, reason string)
}

// New starts size worker goroutines reading from a channel of capacity
// QueueSize and returns the running Pool.
func New(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		size:       cfg.Size,
		ch:         make(chan message, cfg.QueueSize),
		deployers:  cfg.Deployers,
		metrics:    cfg.Metrics,
		logger:     logger,
		auditLog:   cfg.AuditLog,
		onComplete: cfg.OnComplete,
		onFailed:   cfg.OnFailed,
	}
	for i := 0; i < cfg.Size; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

// Execute enqueues req for dispatch. It returns ErrChannelClosed only if
// the channel is full (dispatch saturated) — the spec's QueueFull — or if
// the pool has been shut down.
func (p *Pool) Execute(req *queue.Request) error {
	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	select {
	case p.ch <- message{kind: msgNewDeployment, request: req}:
		if p.metrics != nil {
			p.metrics.ActiveWorkers.Inc()
		}
		return nil
	default:
		return ErrChannelClosed
	}
}

// Shutdown sends one Shutdown message per worker and blocks until every
// started worker has been joined.
func (p *Pool) Shutdown() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()

	for i := 0; i < p.size; i++ {
		p.ch <- message{kind: msgShutdown}
	}
	p.wg.Wait()
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for msg := range p.ch {
		switch msg.kind {
		case msgNewDeployment:
			p.deploy(id, msg.request)
		case msgDeploymentComplete:
			p.logger.Info("deployment complete", slog.String("deployment_id", msg.id.String()))
		case msgDeploymentFailed:
			p.logger.Warn("deployment failed", slog.String("deployment_id", msg.id.String()), slog.String("reason", msg.reason))
		case msgShutdown:
			return
		}
	}
}

func (p *Pool) deploy(workerID int, req *queue.Request) {
	if p.metrics != nil {
		p.metrics.ActiveWorkers.Inc()
	}
	defer func() {
		if p.metrics != nil {
			p.metrics.ActiveWorkers.Dec()
		}
	}()

	deployer := p.deployerFor(req.Chain)
	if deployer == nil {
		p.fail(req, "no deployer registered for chain "+string(req.Chain))
		return
	}

	if p.auditLog != nil {
		if _, err := p.auditLog.Init(req.ID, string(req.Chain)); err != nil {
			p.fail(req, "audit log init failed: "+err.Error())
			return
		}
	}

	p.logger.Info("deployment starting",
		slog.String("deployment_id", req.ID.String()),
		slog.String("chain", string(req.Chain)),
		slog.Int("worker_id", workerID),
	)

	if err := deployer.Deploy(context.Background(), req); err != nil {
		p.fail(req, err.Error())
		return
	}

	if p.metrics != nil {
		p.metrics.DeploymentsTotal.WithLabelValues("completed").Inc()
	}
	if p.onComplete != nil {
		p.onComplete(req.ID)
	}
}

func (p *Pool) fail(req *queue.Request, reason string) {
	p.logger.Error("deployment failed",
		slog.String("deployment_id", req.ID.String()),
		slog.String("reason", reason),
	)
	if p.metrics != nil {
		p.metrics.DeploymentsTotal.WithLabelValues("failed").Inc()
	}
	if p.onFailed != nil {
		p.onFailed(req.ID, reason)
	}
}

func (p *Pool) deployerFor(chain queue.ChainKind) Deployer {
	for _, d := range p.deployers {
		if d.Supports(chain) {
			return d
		}
	}
	return nil
}
