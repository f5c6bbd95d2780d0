// Package dispatch matches funded jobs to eligible workers and supervises
// assignment deadlines. Matching contention and empty candidate sets are
// normal distributed-system friction here: retried and requeued internally,
// surfaced only once retry budgets are exhausted.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/core/directory"
	"github.com/gridmesh/gridmesh/core/ledger"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// OfferSender delivers assignment offers to workers. Fire-and-forget; the
// attestation or the timeout sweep closes the loop.
type OfferSender interface {
	SendOffer(ctx context.Context, offer types.AssignmentOffer) error
}

// Dispatcher owns the pending-job queue and the two background loops: the
// match loop and the assignment timeout sweep. Both are cancellable and
// restartable without corrupting in-flight state.
type Dispatcher struct {
	params  types.Params
	ledger  *ledger.Ledger
	dir     *directory.Directory
	offers  OfferSender
	logger  *logger.Logger
	now     func() time.Time
	metrics *Metrics

	mu      sync.Mutex
	pending map[types.JobID]*pendingJob

	matchInterval time.Duration
	sweepInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

type pendingJob struct {
	attempts    int
	nextAttempt time.Time
}

// Option customizes dispatcher construction.
type Option func(*Dispatcher)

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIntervals overrides the loop cadences.
func WithIntervals(match, sweep time.Duration) Option {
	return func(d *Dispatcher) {
		d.matchInterval = match
		d.sweepInterval = sweep
	}
}

// WithOfferSender wires the transport used to notify matched workers.
func WithOfferSender(s OfferSender) Option {
	return func(d *Dispatcher) { d.offers = s }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher over the ledger and directory.
func New(params types.Params, led *ledger.Ledger, dir *directory.Directory, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		params:        params,
		ledger:        led,
		dir:           dir,
		logger:        log,
		now:           time.Now,
		pending:       make(map[types.JobID]*pendingJob),
		matchInterval: time.Second,
		sweepInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the match loop and timeout sweep.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(2)
	go d.runMatchLoop(ctx)
	go d.runTimeoutSweep(ctx)
	d.logger.Info("dispatcher started",
		"match_interval", d.matchInterval, "sweep_interval", d.sweepInterval)
}

// Stop cancels both loops and waits for them to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Enqueue queues a funded job for matching on the next loop pass.
func (d *Dispatcher) Enqueue(jobID types.JobID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[jobID]; !ok {
		d.pending[jobID] = &pendingJob{nextAttempt: d.now()}
	}
}

// PendingCount reports the queue depth.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) runMatchLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.matchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processPending(ctx)
		}
	}
}

func (d *Dispatcher) processPending(ctx context.Context) {
	now := d.now()
	d.mu.Lock()
	due := make([]types.JobID, 0, len(d.pending))
	for id, p := range d.pending {
		if !p.nextAttempt.After(now) {
			due = append(due, id)
		}
	}
	d.mu.Unlock()

	for _, id := range due {
		d.Dispatch(ctx, id)
	}
}

// Dispatch attempts one matching pass for the job: query the directory, walk
// candidates in rank order, and assign under optimistic concurrency. A
// StaleEpoch loss to a concurrent dispatcher is absorbed by re-reading the
// job and, if it is still unassigned, retrying against the next candidate.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID types.JobID) {
	job, err := d.ledger.Job(jobID)
	if err != nil {
		d.drop(jobID)
		return
	}
	if !d.matchable(job) {
		d.drop(jobID)
		return
	}
	now := d.now()
	if now.After(job.ExpiresAt) {
		d.expire(ctx, jobID)
		return
	}

	candidates := d.dir.Query(job.Requirements)
	if len(candidates) == 0 {
		d.requeue(jobID, types.ErrNoEligibleWorker.Wrap("no candidates matched requirements"))
		return
	}

	epoch := job.Epoch + 1
	for _, c := range candidates {
		deadline := now.Add(d.params.AssignmentTimeout)
		if deadline.After(job.ExpiresAt) {
			deadline = job.ExpiresAt
		}
		a, err := d.ledger.Assign(jobID, c.Worker.ID, epoch, deadline)
		switch {
		case err == nil:
			d.committed(ctx, job, a)
			return
		case errors.Is(err, types.ErrStaleEpoch):
			if d.metrics != nil {
				d.metrics.StaleEpochRetries.Inc()
			}
			fresh, ferr := d.ledger.Job(jobID)
			if ferr != nil || !d.matchable(fresh) {
				// A concurrent dispatcher won the race; their assignment stands.
				d.drop(jobID)
				return
			}
			epoch = fresh.Epoch + 1
		case errors.Is(err, types.ErrInsufficientStake):
			// Tier dropped between query and assign (slash race); next candidate.
			continue
		default:
			d.logger.Error("assign failed", "job", jobID, "worker", c.Worker.ID, "error", err)
			d.drop(jobID)
			return
		}
	}

	d.requeue(jobID, types.ErrNoEligibleWorker.Wrap("all candidates exhausted"))
}

// matchable reports whether the job can accept a new assignment right now:
// funded and never assigned, or assigned/executing with its active
// assignment already closed by the timeout sweep.
func (d *Dispatcher) matchable(job *types.Job) bool {
	switch job.Status {
	case types.JobStatusFunded:
		return true
	case types.JobStatusAssigned, types.JobStatusExecuting:
		_, err := d.ledger.ActiveAssignment(job.ID)
		return err != nil
	default:
		return false
	}
}

func (d *Dispatcher) committed(ctx context.Context, job *types.Job, a *types.Assignment) {
	d.drop(job.ID)
	d.dir.RecordAssignment(a.WorkerID, a.AssignedAt)
	if d.metrics != nil {
		d.metrics.AssignmentsTotal.Inc()
	}
	if d.offers != nil {
		offer := types.AssignmentOffer{
			AssignmentID: a.ID,
			JobID:        a.JobID,
			WorkerID:     a.WorkerID,
			Epoch:        a.Epoch,
			PayloadRef:   job.PayloadRef,
			Deadline:     a.Deadline,
		}
		if err := d.offers.SendOffer(ctx, offer); err != nil {
			// Delivery is best-effort; the timeout sweep recovers a lost offer.
			d.logger.Warn("offer delivery failed",
				"assignment", a.ID, "worker", a.WorkerID, "error", err)
		}
	}
}

// requeue applies exponential backoff, bounded by the job's own expiry.
// Jobs are never dropped for lack of workers before their deadline.
func (d *Dispatcher) requeue(jobID types.JobID, why error) {
	now := d.now()
	d.mu.Lock()
	p, ok := d.pending[jobID]
	if !ok {
		p = &pendingJob{}
		d.pending[jobID] = p
	}
	backoff := d.params.MatchBackoffBase << uint(p.attempts)
	if backoff > d.params.MatchBackoffMax || backoff <= 0 {
		backoff = d.params.MatchBackoffMax
	}
	p.attempts++
	p.nextAttempt = now.Add(backoff)
	attempts := p.attempts
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.MatchRetries.Inc()
	}
	d.logger.Debug("job requeued",
		"job", jobID, "reason", why, "attempts", attempts, "backoff", backoff)
}

func (d *Dispatcher) drop(jobID types.JobID) {
	d.mu.Lock()
	delete(d.pending, jobID)
	d.mu.Unlock()
}

func (d *Dispatcher) expire(ctx context.Context, jobID types.JobID) {
	d.drop(jobID)
	if err := d.ledger.Expire(ctx, jobID); err != nil {
		d.logger.Error("expire failed", "job", jobID, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.ExpiredTotal.Inc()
	}
}
