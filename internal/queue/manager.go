package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pool is the subset of worker.Pool the manager needs, kept narrow so the
// manager can be tested without spinning up real goroutines.
type Pool interface {
	Execute(req *Request) error
}

// Manager owns a Queue under a single mutex and a handle to the worker
// pool. It is the sole admission point for the service.
type Manager struct {
	mu     sync.Mutex
	q      *Queue
	pool   Pool
	logger *slog.Logger

	completed int64
	failed    int64
}

// NewManager builds a Manager around cfg and the given pool handle.
func NewManager(cfg Config, pool Pool, logger *slog.Logger) (*Manager, error) {
	q, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{q: q, pool: pool, logger: logger}, nil
}

// Enqueue admits req. See spec §4.E for the exact ordering contract: the
// lock is released before the pool is called, which briefly lets the
// active set claim a slot with no corresponding pool entry. If the pool
// rejects the submission, the active entry is rolled back.
func (m *Manager) Enqueue(req *Request) (uuid.UUID, error) {
	if err := validatePayload(req.Chain, req.Payload); err != nil {
		return uuid.Nil, err
	}

	req.ID = uuid.New()
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now

	m.mu.Lock()
	pending := m.q.pendingLen()
	active := m.q.activeLen()

	if pending >= m.q.cfg.MaxPending {
		m.mu.Unlock()
		return uuid.Nil, ErrQueueFull
	}

	if active >= m.q.cfg.MaxActive {
		req.Status = Status{Kind: StatusQueued}
		m.q.pushPending(req)
		m.mu.Unlock()
		return req.ID, nil
	}

	req.Status = Status{Kind: StatusProcessing}
	m.q.promote(req, -1)
	m.mu.Unlock()

	if err := m.pool.Execute(req); err != nil {
		m.mu.Lock()
		m.q.removeActive(req.ID)
		m.mu.Unlock()
		return uuid.Nil, err
	}

	return req.ID, nil
}

// GetStatus scans active (O(1)) then pending (O(n)) for id.
func (m *Manager) GetStatus(id uuid.UUID) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ad, ok := m.q.active[id]; ok {
		return ad.Request.Status, nil
	}
	for e := m.q.pending.Front(); e != nil; e = e.Next() {
		r := e.Value.(*Request)
		if r.ID == id {
			return r.Status, nil
		}
	}
	return Status{}, ErrNotFound
}

// GetStats returns a point-in-time snapshot. Completed/failed counters are
// maintained in memory here (spec §9 open question resolved in favor of
// tracking rather than dropping them) and are lost at shutdown, same as
// the rest of the in-memory queue state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Pending:   m.q.pendingLen(),
		Active:    m.q.activeLen(),
		Completed: m.completed,
		Failed:    m.failed,
	}
}

// MarkComplete removes id from active and records the completion. It is
// called by the worker pool's completion callback, then attempts to
// drain one pending request into the newly freed active slot.
func (m *Manager) MarkComplete(id uuid.UUID) {
	m.mu.Lock()
	m.q.removeActive(id)
	m.completed++
	m.mu.Unlock()
	m.processQueue()
}

// MarkFailed removes id from active and records the failure, then drains
// pending work the same way MarkComplete does.
func (m *Manager) MarkFailed(id uuid.UUID, reason string) {
	m.mu.Lock()
	m.q.removeActive(id)
	m.failed++
	m.mu.Unlock()
	m.logger.Warn("deployment failed", slog.String("deployment_id", id.String()), slog.String("reason", reason))
	m.processQueue()
}

// processQueue promotes pending requests into active slots while both
// remain available, dispatching each to the pool. Strictly FIFO: no
// priority, no starvation handling beyond admission order.
func (m *Manager) processQueue() {
	for {
		m.mu.Lock()
		if m.q.activeLen() >= m.q.cfg.MaxActive {
			m.mu.Unlock()
			return
		}
		req := m.q.popPending()
		if req == nil {
			m.mu.Unlock()
			return
		}
		req.Status = Status{Kind: StatusProcessing}
		req.UpdatedAt = time.Now()
		m.q.promote(req, -1)
		m.mu.Unlock()

		if err := m.pool.Execute(req); err != nil {
			m.mu.Lock()
			m.q.removeActive(req.ID)
			m.mu.Unlock()
			m.logger.Error("failed to dispatch drained deployment",
				slog.String("deployment_id", req.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// Shutdown logs the final queue state. Worker-pool teardown is the
// caller's responsibility (the pool outlives the manager's reference to
// it in terms of ownership semantics described in spec §4.D).
func (m *Manager) Shutdown() {
	stats := m.GetStats()
	m.logger.Info("queue manager shutting down",
		slog.Int("pending", stats.Pending),
		slog.Int("active", stats.Active),
		slog.Int64("completed", stats.Completed),
		slog.Int64("failed", stats.Failed),
	)
}
