// Package settle consumes attestations, releases or refunds escrow, and
// applies slashing. Attestations flow through a single-threaded reducer per
// job, keeping each job's transitions serial while jobs settle in parallel.
package settle

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/math"

	"github.com/gridmesh/gridmesh/core/escrow"
	"github.com/gridmesh/gridmesh/core/ledger"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// Slasher is the stake registry surface the engine needs.
type Slasher interface {
	Slash(worker types.WorkerID, amount math.Int, jobID types.JobID, reason types.SlashReason) (math.Int, error)
	Account(worker types.WorkerID) (types.StakeAccount, error)
}

// ReputationSink receives reputation deltas from settlement outcomes. Only
// the engine writes reputation.
type ReputationSink interface {
	AdjustReputation(worker types.WorkerID, delta int)
}

// Engine drives settlement. One reducer goroutine per job consumes that
// job's attestation inbox; duplicate attestations are absorbed idempotently.
type Engine struct {
	params     types.Params
	ledger     *ledger.Ledger
	escrow     escrow.Ledger
	stakes     Slasher
	reputation ReputationSink
	verifier   Verifier
	logger     *logger.Logger
	now        func() time.Time
	feeAccount string
	metrics    *Metrics

	mu        sync.Mutex
	processed map[types.AssignmentID]types.VerificationResult
	inboxes   map[types.JobID]*inbox
	disputes  map[types.AssignmentID]openDispute

	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

type openDispute struct {
	att       types.Attestation
	resolveAt time.Time
}

// inbox is one job's attestation queue plus the retirement signal for its
// reducer. quit closes when the job leaves the ledger.
type inbox struct {
	ch   chan types.Attestation
	quit chan struct{}
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFeeAccount sets the protocol fee recipient.
func WithFeeAccount(account string) Option {
	return func(e *Engine) { e.feeAccount = account }
}

// WithSweepInterval overrides the dispute sweep cadence.
func WithSweepInterval(iv time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = iv }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a settlement engine.
func New(params types.Params, led *ledger.Ledger, esc escrow.Ledger, stakes Slasher, rep ReputationSink, verifier Verifier, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		params:        params,
		ledger:        led,
		escrow:        esc,
		stakes:        stakes,
		reputation:    rep,
		verifier:      verifier,
		logger:        log,
		now:           time.Now,
		feeAccount:    "fee_collector",
		processed:     make(map[types.AssignmentID]types.VerificationResult),
		inboxes:       make(map[types.JobID]*inbox),
		disputes:      make(map[types.AssignmentID]openDispute),
		sweepInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the dispute-window sweep and enables the per-job reducers.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.ctx = ctx
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.SweepDisputes(ctx)
			}
		}
	}()
	e.logger.Info("settlement engine started", "dispute_sweep", e.sweepInterval)
}

// Stop cancels the sweep and drains the reducers.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Submit routes an attestation to its job's reducer. Requires Start; tests
// that want synchronous behavior call Process directly.
func (e *Engine) Submit(att types.Attestation) error {
	if !att.Result.Valid() {
		return types.ErrInvalidRequest.Wrapf("unknown verification result %q", att.Result)
	}
	e.mu.Lock()
	if e.ctx == nil {
		e.mu.Unlock()
		return types.ErrInvalidRequest.Wrap("settlement engine not started")
	}
	ctx := e.ctx
	ib, ok := e.inboxes[att.JobID]
	if !ok {
		ib = &inbox{ch: make(chan types.Attestation, 16), quit: make(chan struct{})}
		e.inboxes[att.JobID] = ib
		e.wg.Add(1)
		go e.runReducer(ctx, ib)
	}
	e.mu.Unlock()

	select {
	case ib.ch <- att:
		return nil
	case <-ib.quit:
		// Job already pruned from the ledger; nothing left to settle.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runReducer(ctx context.Context, ib *inbox) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ib.quit:
			return
		case att := <-ib.ch:
			if err := e.Process(ctx, att); err != nil {
				e.logger.Error("settlement failed",
					"assignment", att.AssignmentID, "job", att.JobID, "error", err)
			}
		}
	}
}

// Process settles one attestation synchronously. Replaying an attestation
// for an already-processed assignment is a no-op.
func (e *Engine) Process(ctx context.Context, att types.Attestation) error {
	e.mu.Lock()
	if prior, ok := e.processed[att.AssignmentID]; ok {
		e.mu.Unlock()
		e.logger.Debug("duplicate attestation ignored",
			"assignment", att.AssignmentID, "prior_result", prior)
		return nil
	}
	e.mu.Unlock()

	a, job, err := e.ledger.ClaimForSettlement(att.AssignmentID)
	if err != nil {
		// Already settled, superseded, or mid-settlement elsewhere; an audit
		// line, not a failure.
		e.logger.Debug("attestation not claimable",
			"assignment", att.AssignmentID, "error", err)
		return nil
	}
	if att.WorkerID != a.WorkerID {
		e.ledger.ReleaseClaim(att.AssignmentID)
		return types.ErrInvalidRequest.Wrapf(
			"attestation for assignment %s signed by %s, assigned to %s",
			att.AssignmentID, att.WorkerID, a.WorkerID)
	}
	if job.Status == types.JobStatusAssigned {
		// First signal from the worker; record that execution happened.
		if err := e.ledger.BeginExecution(job.ID); err != nil {
			e.logger.Debug("begin execution skipped", "job", job.ID, "error", err)
		}
	}

	verdict, verr := e.verifier.Verify(ctx, att)
	if verr != nil {
		e.logger.Warn("verifier unavailable, treating as inconclusive",
			"assignment", att.AssignmentID, "error", verr)
		verdict = types.VerificationInconclusive
	}
	if e.metrics != nil {
		e.metrics.VerdictsTotal.WithLabelValues(string(verdict)).Inc()
	}

	switch verdict {
	case types.VerificationAccepted:
		err = e.settleAccepted(ctx, a, job)
	case types.VerificationRejected:
		err = e.settleRejected(ctx, a, job)
	default:
		err = e.openDisputeWindow(a, att)
	}
	if err != nil {
		e.ledger.ReleaseClaim(att.AssignmentID)
		return err
	}

	e.mu.Lock()
	e.processed[att.AssignmentID] = verdict
	e.mu.Unlock()
	return nil
}

// settleAccepted releases escrow to the worker minus the protocol fee.
func (e *Engine) settleAccepted(ctx context.Context, a *types.Assignment, job *types.Job) error {
	fee := e.params.FeeFor(job.Escrow)
	payout := job.Escrow.Sub(fee)

	if err := e.escrow.Release(ctx, job.EscrowReceipt, string(a.WorkerID), payout); err != nil {
		return types.ErrEscrowRelease.Wrapf("payout for job %s: %v", job.ID, err)
	}
	if fee.IsPositive() {
		if err := e.escrow.Release(ctx, job.EscrowReceipt, e.feeAccount, fee); err != nil {
			return types.ErrEscrowRelease.Wrapf("fee for job %s: %v", job.ID, err)
		}
	}

	rec := types.SettlementRecord{
		JobID:        job.ID,
		AssignmentID: a.ID,
		WorkerID:     a.WorkerID,
		Disposition:  types.DispositionPaid,
		Payout:       payout,
		Refund:       math.ZeroInt(),
		Fee:          fee,
		Slashed:      math.ZeroInt(),
	}
	if err := e.ledger.Complete(a.ID, rec); err != nil {
		return err
	}
	if e.reputation != nil {
		e.reputation.AdjustReputation(a.WorkerID, e.params.ReputationStep)
	}
	return nil
}

// settleRejected disputes the job, slashes the worker, and refunds the
// consumer from escrow. Refund and slash are separate pools: the consumer is
// made whole from escrow regardless of how much stake was left to slash.
func (e *Engine) settleRejected(ctx context.Context, a *types.Assignment, job *types.Job) error {
	if err := e.ledger.Dispute(a.ID); err != nil {
		return err
	}

	slashed := math.ZeroInt()
	if acc, err := e.stakes.Account(a.WorkerID); err == nil {
		cut, serr := e.stakes.Slash(a.WorkerID, e.params.SlashAmount(acc.Locked), job.ID, types.SlashReasonRejectedResult)
		if serr != nil {
			e.logger.Error("slash failed", "worker", a.WorkerID, "job", job.ID, "error", serr)
		} else {
			slashed = cut
		}
	}

	refunded, err := e.escrow.Refund(ctx, job.EscrowReceipt)
	if err != nil {
		return types.ErrEscrowRefund.Wrapf("job %s: %v", job.ID, err)
	}

	rec := types.SettlementRecord{
		JobID:        job.ID,
		AssignmentID: a.ID,
		WorkerID:     a.WorkerID,
		Disposition:  types.DispositionSlashed,
		Payout:       math.ZeroInt(),
		Refund:       refunded,
		Fee:          math.ZeroInt(),
		Slashed:      slashed,
	}
	if err := e.ledger.SettleDisputed(a.ID, rec); err != nil {
		return err
	}
	if e.reputation != nil {
		e.reputation.AdjustReputation(a.WorkerID, -e.params.ReputationStep)
	}
	if e.metrics != nil {
		e.metrics.SlashesTotal.Inc()
	}
	return nil
}

// openDisputeWindow parks an inconclusive verification. The job sits in
// Disputed until the window lapses, then the fallback policy resolves it;
// nothing blocks indefinitely.
func (e *Engine) openDisputeWindow(a *types.Assignment, att types.Attestation) error {
	if err := e.ledger.Dispute(a.ID); err != nil {
		return err
	}
	resolveAt := e.now().Add(e.params.DisputeWindow)
	e.mu.Lock()
	e.disputes[a.ID] = openDispute{att: att, resolveAt: resolveAt}
	e.mu.Unlock()
	e.logger.Warn("verification inconclusive, dispute window open",
		"assignment", a.ID, "job", a.JobID, "resolve_at", resolveAt)
	return nil
}
