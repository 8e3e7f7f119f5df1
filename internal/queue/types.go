// Package queue implements the admission & scheduling layer: a two-tier
// bounded queue (pending FIFO + active set) that converts deployment
// requests into work items dispatched to the worker pool.
package queue

import (
	"container/list"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChainKind identifies the target blockchain backend for a deployment.
type ChainKind string

const (
	ChainSolana ChainKind = "solana"
	ChainEVM    ChainKind = "evm"
)

// StatusKind tags the DeploymentStatus variant.
type StatusKind string

const (
	StatusQueued     StatusKind = "queued"
	StatusProcessing StatusKind = "processing"
	StatusCompleted  StatusKind = "completed"
	StatusFailed     StatusKind = "failed"
)

// Status is the tagged DeploymentStatus variant from spec §3. Reason is
// only meaningful when Kind == StatusFailed.
type Status struct {
	Kind   StatusKind
	Reason string
}

func (s Status) String() string {
	if s.Kind == StatusFailed && s.Reason != "" {
		return string(s.Kind) + ": " + s.Reason
	}
	return string(s.Kind)
}

// Request is a DeploymentRequest: identity, opaque program payload, target
// chain, a caller-supplied redirect URI, current status, and timestamps.
type Request struct {
	ID          uuid.UUID
	Payload     []byte
	Chain       ChainKind
	RedirectURI string
	ProgramName string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveDeployment is a Request plus an advisory worker-id assignment; the
// pool does not guarantee affinity to that worker.
type ActiveDeployment struct {
	Request  *Request
	WorkerID int
}

// Config bounds the two-tier queue. Invariant: MaxPending >= MaxActive >= 1.
type Config struct {
	MaxPending int
	MaxActive  int
}

var (
	ErrQueueFull       = errors.New("queue: pending queue is full")
	ErrNotFound        = errors.New("queue: deployment not found")
	ErrBadConfig       = errors.New("queue: max_pending must be >= max_active >= 1")
	ErrEmptyPayload    = errors.New("queue: program payload is empty")
	ErrInvalidELFMagic = errors.New("queue: invalid BPF program format")
)

// elfMagic is the canonical ELF header prefix. The BPF loader's own magic
// check compares against "ELF\x00" instead, which would accept malformed
// images; admission here uses the canonical magic deliberately.
var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// validatePayload enforces the chain-specific payload rules admission must
// reject before a request ever reaches a worker (spec §4.B, §4.E).
func validatePayload(chain ChainKind, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if chain == ChainSolana {
		if len(payload) < 4 || !bytesHasPrefix(payload, elfMagic) {
			return ErrInvalidELFMagic
		}
	}
	return nil
}

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Queue holds the pending FIFO and the active set. It is NOT safe for
// concurrent use on its own — Manager serializes access under a mutex.
type Queue struct {
	cfg     Config
	pending *list.List // of *Request, ordered oldest-first
	active  map[uuid.UUID]*ActiveDeployment
}

// NewQueue validates cfg and returns an empty Queue.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.MaxActive < 1 || cfg.MaxPending < cfg.MaxActive {
		return nil, ErrBadConfig
	}
	return &Queue{
		cfg:     cfg,
		pending: list.New(),
		active:  make(map[uuid.UUID]*ActiveDeployment),
	}, nil
}

func (q *Queue) pendingLen() int { return q.pending.Len() }
func (q *Queue) activeLen() int  { return len(q.active) }

// pushPending appends a request to the tail of the pending FIFO.
func (q *Queue) pushPending(r *Request) {
	q.pending.PushBack(r)
}

// popPending removes and returns the head of the pending FIFO, or nil if empty.
func (q *Queue) popPending() *Request {
	front := q.pending.Front()
	if front == nil {
		return nil
	}
	q.pending.Remove(front)
	return front.Value.(*Request)
}

// promote inserts r into the active set under the given worker id.
func (q *Queue) promote(r *Request, workerID int) {
	q.active[r.ID] = &ActiveDeployment{Request: r, WorkerID: workerID}
}

// removeActive deletes id from the active set, if present.
func (q *Queue) removeActive(id uuid.UUID) {
	delete(q.active, id)
}

// Stats is the in-memory snapshot returned by GetStats.
type Stats struct {
	Pending   int
	Active    int
	Completed int64
	Failed    int64
}
