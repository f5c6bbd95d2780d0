// Package ledger implements the authoritative job lifecycle state machine.
// Every job mutation flows through a defined transition under a per-job lock;
// nothing here blocks on worker I/O.
package ledger

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/math"

	"github.com/gridmesh/gridmesh/core/escrow"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// TierSource resolves a worker's live tier for assignment-time eligibility.
type TierSource interface {
	Tier(worker types.WorkerID) int
}

// EmitFunc receives ledger events after the transition commits.
type EmitFunc func(types.Event)

// Ledger owns all job records and their assignment history. Operations on
// different jobs proceed in parallel; each job serializes on its own lock.
type Ledger struct {
	params     types.Params
	escrow     escrow.Ledger
	tiers      TierSource
	emit       EmitFunc
	logger     *logger.Logger
	now        func() time.Time
	feeAccount string

	mu           sync.RWMutex
	jobs         map[types.JobID]*jobEntry
	byAssignment map[types.AssignmentID]types.JobID

	activeMu sync.RWMutex
	active   map[types.WorkerID]map[types.AssignmentID]struct{}
}

// jobEntry bundles a job with its assignment history under one lock.
type jobEntry struct {
	mu          sync.Mutex
	job         *types.Job
	assignments []*types.Assignment
	record      *types.SettlementRecord
	settling    bool
}

// Option customizes ledger construction.
type Option func(*Ledger)

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithEmitter attaches an event sink.
func WithEmitter(emit EmitFunc) Option {
	return func(l *Ledger) { l.emit = emit }
}

// WithFeeAccount sets the account protocol and grace fees are released to.
func WithFeeAccount(account string) Option {
	return func(l *Ledger) { l.feeAccount = account }
}

// New creates a job ledger over the escrow collaborator.
func New(params types.Params, esc escrow.Ledger, tiers TierSource, log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		params:       params,
		escrow:       esc,
		tiers:        tiers,
		logger:       log,
		now:          time.Now,
		feeAccount:   "fee_collector",
		jobs:         make(map[types.JobID]*jobEntry),
		byAssignment: make(map[types.AssignmentID]types.JobID),
		active:       make(map[types.WorkerID]map[types.AssignmentID]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create registers a new job in Created. Escrow must be positive and the
// capability spec non-empty.
func (l *Ledger) Create(requester string, req types.Requirements, payloadRef string, escrowAmt math.Int, expiresAt time.Time) (*types.Job, error) {
	if requester == "" {
		return nil, types.ErrInvalidRequest.Wrap("requester must not be empty")
	}
	if escrowAmt.IsNil() || !escrowAmt.IsPositive() {
		return nil, types.ErrInvalidRequest.Wrap("escrow amount must be positive")
	}
	if err := req.Validate(); err != nil {
		return nil, types.ErrInvalidRequest.Wrap(err.Error())
	}
	now := l.now()
	if !expiresAt.After(now) {
		return nil, types.ErrInvalidRequest.Wrap("expiry must be in the future")
	}

	job := &types.Job{
		ID:           types.NewJobID(),
		Requester:    requester,
		Requirements: req,
		PayloadRef:   payloadRef,
		Escrow:       escrowAmt,
		Status:       types.JobStatusCreated,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		UpdatedAt:    now,
	}

	l.mu.Lock()
	l.jobs[job.ID] = &jobEntry{job: job}
	l.mu.Unlock()

	l.logger.Info("job created",
		"job", job.ID, "requester", requester, "escrow", escrowAmt.String(),
		"requirements", req.Tags.String(), "min_tier", req.MinTier)
	l.emitEvent(types.EventJobCreated{At: now, Job: *job.Clone()})
	return job.Clone(), nil
}

// Fund locks escrow for the job and moves it Created -> Funded. The amount
// must match the job's required escrow exactly, and the collaborator's lock
// result is authoritative: a failed lock fails the fund, never retried with
// a different amount.
func (l *Ledger) Fund(ctx context.Context, jobID types.JobID, amount math.Int) error {
	e, err := l.entry(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.checkTransition(e.job, types.JobStatusFunded); err != nil {
		return err
	}
	if amount.IsNil() || !amount.Equal(e.job.Escrow) {
		return types.ErrInsufficientFunds.Wrapf(
			"job %s requires %s, got %v", jobID, e.job.Escrow, amount)
	}

	receipt, err := l.escrow.Lock(ctx, e.job.Requester, amount)
	if err != nil {
		return types.ErrEscrowLock.Wrapf("job %s: %v", jobID, err)
	}

	now := l.now()
	e.job.Status = types.JobStatusFunded
	e.job.EscrowReceipt = receipt.ID
	e.job.UpdatedAt = now

	l.logger.Info("job funded", "job", jobID, "amount", amount.String(), "receipt", receipt.ID)
	l.emitEvent(types.EventJobFunded{At: now, JobID: jobID, Amount: amount, Receipt: receipt.ID})
	return nil
}

// Cancel terminates a job before assignment with a full refund. Only legal
// from Created or Funded.
func (l *Ledger) Cancel(ctx context.Context, jobID types.JobID) error {
	e, err := l.entry(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.checkTransition(e.job, types.JobStatusCancelled); err != nil {
		return err
	}

	now := l.now()
	funded := e.job.Status == types.JobStatusFunded
	if funded {
		refunded, err := l.escrow.Refund(ctx, e.job.EscrowReceipt)
		if err != nil {
			return types.ErrEscrowRefund.Wrapf("job %s: %v", jobID, err)
		}
		e.record = &types.SettlementRecord{
			JobID:       jobID,
			Disposition: types.DispositionRefunded,
			Payout:      math.ZeroInt(),
			Refund:      refunded,
			Fee:         math.ZeroInt(),
			Slashed:     math.ZeroInt(),
			SettledAt:   now,
		}
	}
	e.job.Status = types.JobStatusCancelled
	e.job.UpdatedAt = now
	e.job.SettledAt = &now

	l.logger.Info("job cancelled", "job", jobID, "refunded", funded)
	l.emitEvent(types.EventJobCancelled{At: now, JobID: jobID})
	if e.record != nil {
		l.emitEvent(types.EventSettled{At: now, Record: *e.record})
	}
	return nil
}

// Expire terminates a job whose deadline passed with no completed work,
// refunding escrow minus the configured grace fee.
func (l *Ledger) Expire(ctx context.Context, jobID types.JobID) error {
	e, err := l.entry(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settling {
		return types.ErrIllegalTransition.Wrapf("job %s is settling", jobID)
	}
	if err := l.checkTransition(e.job, types.JobStatusExpired); err != nil {
		return err
	}

	now := l.now()
	l.closeActiveAssignment(e, types.AssignmentTimedOut)

	fee := math.ZeroInt()
	if l.params.GraceFee.IsPositive() && e.job.Escrow.GT(l.params.GraceFee) {
		if err := l.escrow.Release(ctx, e.job.EscrowReceipt, l.feeAccount, l.params.GraceFee); err != nil {
			return types.ErrEscrowRelease.Wrapf("grace fee for job %s: %v", jobID, err)
		}
		fee = l.params.GraceFee
	}
	refunded, err := l.escrow.Refund(ctx, e.job.EscrowReceipt)
	if err != nil {
		return types.ErrEscrowRefund.Wrapf("job %s: %v", jobID, err)
	}

	e.job.Status = types.JobStatusExpired
	e.job.UpdatedAt = now
	e.job.SettledAt = &now
	e.record = &types.SettlementRecord{
		JobID:       jobID,
		Disposition: types.DispositionRefunded,
		Payout:      math.ZeroInt(),
		Refund:      refunded,
		Fee:         fee,
		Slashed:     math.ZeroInt(),
		SettledAt:   now,
	}

	l.logger.Warn("job expired", "job", jobID, "refunded", refunded.String(), "grace_fee", fee.String())
	l.emitEvent(types.EventJobExpired{At: now, JobID: jobID, Refund: refunded})
	l.emitEvent(types.EventSettled{At: now, Record: *e.record})
	return nil
}

// checkTransition enforces the lifecycle table. Invalid transitions surface
// as ErrIllegalTransition and are logged for audit, never coerced.
func (l *Ledger) checkTransition(job *types.Job, to types.JobStatus) error {
	if types.CanTransition(job.Status, to) {
		return nil
	}
	l.logger.Error("illegal transition rejected",
		"job", job.ID, "from", job.Status, "to", to)
	return types.ErrIllegalTransition.Wrapf("job %s: %s -> %s", job.ID, job.Status, to)
}

func (l *Ledger) entry(jobID types.JobID) (*jobEntry, error) {
	l.mu.RLock()
	e, ok := l.jobs[jobID]
	l.mu.RUnlock()
	if !ok {
		return nil, types.ErrJobNotFound.Wrapf("job %s", jobID)
	}
	return e, nil
}

func (l *Ledger) emitEvent(ev types.Event) {
	if l.emit != nil {
		l.emit(ev)
	}
}

// trackActive indexes an active assignment by worker. Caller holds the entry lock.
func (l *Ledger) trackActive(a *types.Assignment) {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	set, ok := l.active[a.WorkerID]
	if !ok {
		set = make(map[types.AssignmentID]struct{})
		l.active[a.WorkerID] = set
	}
	set[a.ID] = struct{}{}
}

func (l *Ledger) untrackActive(a *types.Assignment) {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	if set, ok := l.active[a.WorkerID]; ok {
		delete(set, a.ID)
		if len(set) == 0 {
			delete(l.active, a.WorkerID)
		}
	}
}

// HasActiveAssignment reports whether the worker holds any active
// assignment. The stake registry consults this before finalizing an unstake.
func (l *Ledger) HasActiveAssignment(worker types.WorkerID) bool {
	l.activeMu.RLock()
	defer l.activeMu.RUnlock()
	return len(l.active[worker]) > 0
}
