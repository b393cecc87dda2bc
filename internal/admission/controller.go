// Package admission implements the query-execution admission plane
// described for the service loop: a bounded-concurrency, bounded-queue
// gate in front of query execution, with a reserved pool so sync and
// compaction are never starved by query load, and per-client fairness
// caps. It holds no knowledge of queries themselves; callers acquire a
// permit, do their work, and release it.
package admission

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/errors"
)

// Counters exposes the running totals a status/health response surfaces.
type Counters struct {
	InFlight     int64
	QueueDepth   int64
	Admitted     int64
	BusyTotal    int64
	TimeoutTotal int64
	SlowTotal    int64
}

// Controller gates concurrent query execution: a
// semaphore of size MaxConcurrentQueries-ReservedMaintenancePermits for
// queries, a queue bounded by MaxQueryQueueDepth, and a second reserved
// semaphore maintenance work draws from so a saturated query load can
// never block sync/compaction from acquiring a permit.
type Controller struct {
	cfg      config.AdmissionConfig
	querySem *semaphore.Weighted
	maintSem *semaphore.Weighted
	slowMs   int64

	queueDepth   atomic.Int64
	inFlight     atomic.Int64
	admitted     atomic.Int64
	busyTotal    atomic.Int64
	timeoutTotal atomic.Int64
	slowTotal    atomic.Int64

	mu        sync.Mutex
	perClient map[string]int
}

// New builds a Controller from cfg. slowQueryMs marks a query as "slow"
// in Counters.SlowTotal once it has held its permit that long; it does
// not affect admission decisions.
func New(cfg config.AdmissionConfig, slowQueryMs int64) *Controller {
	querySlots := cfg.MaxConcurrentQueries - cfg.ReservedMaintenancePermits
	if querySlots < 1 {
		querySlots = 1
	}
	maintSlots := cfg.ReservedMaintenancePermits
	if maintSlots < 1 {
		maintSlots = 1
	}
	return &Controller{
		cfg:       cfg,
		querySem:  semaphore.NewWeighted(int64(querySlots)),
		maintSem:  semaphore.NewWeighted(int64(maintSlots)),
		slowMs:    slowQueryMs,
		perClient: make(map[string]int),
	}
}

// Lease is a held admission permit. Release must be called exactly
// once, regardless of how the caller's work concluded.
type Lease struct {
	ctrl      *Controller
	clientID  string
	sem       *semaphore.Weighted
	startedAt time.Time
}

// Acquire admits one query. clientID may be empty (no per-client cap
// applies). It blocks until a permit is available, ctx is done, or the
// queue is already at MaxQueryQueueDepth, in which case it returns
// immediately with a busy *errors.GgrepError carrying a retry_after_ms
// suggestion instead of waiting.
func (c *Controller) Acquire(ctx context.Context, clientID string) (*Lease, error) {
	if clientID != "" && c.cfg.MaxQueriesPerClient > 0 {
		c.mu.Lock()
		if c.perClient[clientID] >= c.cfg.MaxQueriesPerClient {
			c.mu.Unlock()
			c.busyTotal.Add(1)
			return nil, busyError(100)
		}
		c.perClient[clientID]++
		c.mu.Unlock()
	}

	if c.cfg.MaxQueryQueueDepth >= 0 {
		waiting := c.queueDepth.Add(1)
		if waiting > int64(c.cfg.MaxQueryQueueDepth) {
			c.queueDepth.Add(-1)
			c.releaseClientSlot(clientID)
			c.busyTotal.Add(1)
			return nil, busyError(250)
		}
		defer c.queueDepth.Add(-1)
	}

	if err := c.querySem.Acquire(ctx, 1); err != nil {
		c.releaseClientSlot(clientID)
		if ctx.Err() != nil {
			c.timeoutTotal.Add(1)
			return nil, errors.TimeoutError("deadline exceeded while waiting for admission", ctx.Err())
		}
		return nil, err
	}

	c.admitted.Add(1)
	c.inFlight.Add(1)
	return &Lease{ctrl: c, clientID: clientID, sem: c.querySem, startedAt: time.Now()}, nil
}

// AcquireMaintenance admits one sync/compaction operation from the
// reserved pool. It never competes with query admission for permits.
func (c *Controller) AcquireMaintenance(ctx context.Context) (*Lease, error) {
	if err := c.maintSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c.inFlight.Add(1)
	return &Lease{ctrl: c, sem: c.maintSem, startedAt: time.Now()}, nil
}

// Release returns the permit. Safe to call once; a nil receiver is a
// no-op so callers can defer release() unconditionally after a failed
// Acquire.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.ctrl.inFlight.Add(-1)
	l.ctrl.releaseClientSlot(l.clientID)
	l.sem.Release(1)
	if l.ctrl.slowMs > 0 && time.Since(l.startedAt).Milliseconds() >= l.ctrl.slowMs {
		l.ctrl.slowTotal.Add(1)
	}
}

func (c *Controller) releaseClientSlot(clientID string) {
	if clientID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.perClient[clientID]; n > 0 {
		if n == 1 {
			delete(c.perClient, clientID)
		} else {
			c.perClient[clientID] = n - 1
		}
	}
}

// Snapshot returns a point-in-time copy of the running counters.
func (c *Controller) Snapshot() Counters {
	return Counters{
		InFlight:     c.inFlight.Load(),
		QueueDepth:   c.queueDepth.Load(),
		Admitted:     c.admitted.Load(),
		BusyTotal:    c.busyTotal.Load(),
		TimeoutTotal: c.timeoutTotal.Load(),
		SlowTotal:    c.slowTotal.Load(),
	}
}

func busyError(retryAfterMs int) *errors.GgrepError {
	return errors.BusyError("admission queue saturated", nil).
		WithDetail("retry_after_ms", strconv.Itoa(retryAfterMs))
}
