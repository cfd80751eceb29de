package command

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Stats holds per-device counters.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Coalesced uint64 `json:"coalesced"`
	Failures  uint64 `json:"failures"`
	Dropped   uint64 `json:"dropped"`
	Pending   bool   `json:"pending"`
	Suspended bool   `json:"suspended"`
}

type queue struct {
	id      string
	limiter *rate.Limiter

	// sendMu serialises deliveries from the drain goroutine and Do.
	sendMu sync.Mutex

	mu        sync.Mutex
	pending   protocol.Command
	suspended bool

	wake chan struct{}
	done chan struct{}
	once sync.Once

	sent      atomic.Uint64
	coalesced atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
}

func newQueue(id string, hz float64) *queue {
	return &queue{
		id:      id,
		limiter: rate.NewLimiter(rate.Limit(hz), 1),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (q *queue) put(cmd protocol.Command) {
	q.mu.Lock()
	if q.pending != nil {
		q.coalesced.Add(1)
	}
	q.pending = cmd
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) take() (protocol.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil || q.suspended {
		return nil, false
	}
	cmd := q.pending
	q.pending = nil
	return cmd, true
}

func (q *queue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending != nil && !q.suspended
}

func (q *queue) suspend() {
	q.mu.Lock()
	q.suspended = true
	if q.pending != nil {
		q.pending = nil
		q.dropped.Add(1)
	}
	q.mu.Unlock()
}

// resume clears suspension and reports whether the queue was suspended.
func (q *queue) resume() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	was := q.suspended
	q.suspended = false
	return was
}

func (q *queue) isSuspended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suspended
}

func (q *queue) stop() {
	q.once.Do(func() { close(q.done) })
}

func (q *queue) stats() Stats {
	q.mu.Lock()
	pending := q.pending != nil
	suspended := q.suspended
	q.mu.Unlock()

	return Stats{
		Sent:      q.sent.Load(),
		Coalesced: q.coalesced.Load(),
		Failures:  q.failures.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   pending,
		Suspended: suspended,
	}
}
