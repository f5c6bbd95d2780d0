package settle

import (
	"context"

	"cosmossdk.io/math"

	"github.com/gridmesh/gridmesh/core/types"
)

// SweepDisputes re-checks open dispute windows. A verdict that has become
// conclusive settles on its merits; a window past its deadline resolves
// deterministically per the configured fallback policy.
func (e *Engine) SweepDisputes(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	due := make(map[types.AssignmentID]openDispute, len(e.disputes))
	for id, d := range e.disputes {
		due[id] = d
	}
	e.mu.Unlock()

	for id, d := range due {
		verdict, err := e.verifier.Verify(ctx, d.att)
		if err != nil {
			verdict = types.VerificationInconclusive
		}

		switch {
		case verdict == types.VerificationAccepted:
			e.resolveDispute(ctx, id, verdict, false)
		case verdict == types.VerificationRejected:
			// Conclusively invalid after all; the slash applies.
			e.resolveDispute(ctx, id, verdict, true)
		case now.After(d.resolveAt):
			fallback := types.VerificationRejected
			if e.params.DisputeFallback == types.FallbackPayWorker {
				fallback = types.VerificationAccepted
			}
			e.logger.Warn("dispute window lapsed, applying fallback",
				"assignment", id, "fallback", e.params.DisputeFallback)
			e.resolveDispute(ctx, id, fallback, false)
		}
	}
}

// PruneProcessed drops idempotency markers for assignments the ledger has
// already archived and retires the reducers of pruned jobs. Called alongside
// ledger retention pruning so neither the marker set nor the reducer pool
// grows without bound.
func (e *Engine) PruneProcessed() {
	e.mu.Lock()
	ids := make([]types.AssignmentID, 0, len(e.processed))
	for id := range e.processed {
		ids = append(ids, id)
	}
	jobs := make([]types.JobID, 0, len(e.inboxes))
	for id := range e.inboxes {
		jobs = append(jobs, id)
	}
	e.mu.Unlock()

	var stale []types.AssignmentID
	for _, id := range ids {
		if _, err := e.ledger.Assignment(id); err != nil {
			stale = append(stale, id)
		}
	}
	var gone []types.JobID
	for _, id := range jobs {
		if _, err := e.ledger.Job(id); err != nil {
			gone = append(gone, id)
		}
	}
	if len(stale) == 0 && len(gone) == 0 {
		return
	}
	e.mu.Lock()
	for _, id := range stale {
		delete(e.processed, id)
	}
	for _, id := range gone {
		if ib, ok := e.inboxes[id]; ok {
			delete(e.inboxes, id)
			close(ib.quit)
		}
	}
	e.mu.Unlock()
}

// OpenDisputes reports how many dispute windows are pending.
func (e *Engine) OpenDisputes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disputes)
}

// resolveDispute settles a disputed job. The fallback consumer-refund path
// refunds without slashing: an inconclusive verification is not proven
// malice, so the worker loses the payout but keeps its stake. Only a
// conclusive rejected verdict slashes.
func (e *Engine) resolveDispute(ctx context.Context, id types.AssignmentID, verdict types.VerificationResult, slash bool) {
	a, err := e.ledger.Assignment(id)
	if err != nil {
		e.forgetDispute(id)
		return
	}
	job, err := e.ledger.Job(a.JobID)
	if err != nil {
		e.forgetDispute(id)
		return
	}

	var rec types.SettlementRecord
	switch verdict {
	case types.VerificationAccepted:
		fee := e.params.FeeFor(job.Escrow)
		payout := job.Escrow.Sub(fee)
		if err := e.escrow.Release(ctx, job.EscrowReceipt, string(a.WorkerID), payout); err != nil {
			e.logger.Error("dispute payout failed", "job", job.ID, "error", err)
			return
		}
		if fee.IsPositive() {
			if err := e.escrow.Release(ctx, job.EscrowReceipt, e.feeAccount, fee); err != nil {
				e.logger.Error("dispute fee release failed", "job", job.ID, "error", err)
				return
			}
		}
		rec = types.SettlementRecord{
			JobID:        job.ID,
			AssignmentID: a.ID,
			WorkerID:     a.WorkerID,
			Disposition:  types.DispositionDisputed,
			Payout:       payout,
			Refund:       math.ZeroInt(),
			Fee:          fee,
			Slashed:      math.ZeroInt(),
		}
		if e.reputation != nil {
			e.reputation.AdjustReputation(a.WorkerID, e.params.ReputationStep)
		}
	default:
		slashed := math.ZeroInt()
		if slash {
			if acc, aerr := e.stakes.Account(a.WorkerID); aerr == nil {
				cut, serr := e.stakes.Slash(a.WorkerID, e.params.SlashAmount(acc.Locked), job.ID, types.SlashReasonDisputeDefault)
				if serr != nil {
					e.logger.Error("slash failed", "worker", a.WorkerID, "job", job.ID, "error", serr)
				} else {
					slashed = cut
				}
			}
			if e.reputation != nil {
				e.reputation.AdjustReputation(a.WorkerID, -e.params.ReputationStep)
			}
		}
		refunded, err := e.escrow.Refund(ctx, job.EscrowReceipt)
		if err != nil {
			e.logger.Error("dispute refund failed", "job", job.ID, "error", err)
			return
		}
		rec = types.SettlementRecord{
			JobID:        job.ID,
			AssignmentID: a.ID,
			WorkerID:     a.WorkerID,
			Disposition:  types.DispositionDisputed,
			Payout:       math.ZeroInt(),
			Refund:       refunded,
			Fee:          math.ZeroInt(),
			Slashed:      slashed,
		}
	}

	if err := e.ledger.SettleDisputed(id, rec); err != nil {
		e.logger.Error("dispute settlement commit failed", "job", job.ID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.DisputesResolved.Inc()
	}
	e.forgetDispute(id)
}

func (e *Engine) forgetDispute(id types.AssignmentID) {
	e.mu.Lock()
	delete(e.disputes, id)
	e.mu.Unlock()
}
