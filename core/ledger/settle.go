package ledger

import (
	"cosmossdk.io/math"

	"github.com/gridmesh/gridmesh/core/types"
)

// ClaimForSettlement reserves an assignment for the settlement engine. While
// a claim is held the timeout sweep and dispatcher cannot supersede the
// assignment, so escrow movement and the ledger commit cannot race. The
// claim succeeds for an active assignment, or for a timed-out one whose
// attestation arrived before any reassignment.
func (l *Ledger) ClaimForSettlement(id types.AssignmentID) (*types.Assignment, *types.Job, error) {
	e, err := l.assignmentEntry(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a := findAssignment(e, id)
	if a == nil {
		return nil, nil, types.ErrAssignmentNotFound.Wrapf("assignment %s", id)
	}
	if e.settling {
		return nil, nil, types.ErrIllegalTransition.Wrapf("job %s already settling", a.JobID)
	}
	if e.job.Status.IsTerminal() && e.job.Status != types.JobStatusDisputed {
		return nil, nil, types.ErrIllegalTransition.Wrapf(
			"job %s already %s", a.JobID, e.job.Status)
	}
	switch a.Status {
	case types.AssignmentActive:
	case types.AssignmentTimedOut:
		// Late attestation before reassignment still settles; only a newer
		// epoch supersedes the claim.
		if a.Epoch != e.job.Epoch {
			return nil, nil, types.ErrStaleEpoch.Wrapf(
				"assignment %s epoch %d, job %s at %d", id, a.Epoch, a.JobID, e.job.Epoch)
		}
	default:
		return nil, nil, types.ErrIllegalTransition.Wrapf(
			"assignment %s is %s", id, a.Status)
	}

	e.settling = true
	return cloneAssignment(a), e.job.Clone(), nil
}

// ReleaseClaim abandons a settlement claim without a terminal transition,
// e.g. when verification came back inconclusive and the dispute window is
// still open.
func (l *Ledger) ReleaseClaim(id types.AssignmentID) {
	e, err := l.assignmentEntry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.settling = false
	e.mu.Unlock()
}

// Complete commits an accepted settlement: the job closes Completed and the
// record is written. Escrow has already been released by the caller under
// the settlement claim.
func (l *Ledger) Complete(id types.AssignmentID, rec types.SettlementRecord) error {
	return l.commitSettlement(id, types.JobStatusCompleted, types.AssignmentCompleted, rec)
}

// Dispute moves the job into Disputed while keeping the assignment claim
// released; resolution happens later via SettleDisputed.
func (l *Ledger) Dispute(id types.AssignmentID) error {
	e, err := l.assignmentEntry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a := findAssignment(e, id)
	if a == nil {
		return types.ErrAssignmentNotFound.Wrapf("assignment %s", id)
	}
	if err := l.checkTransition(e.job, types.JobStatusDisputed); err != nil {
		return err
	}

	now := l.now()
	a.Status = types.AssignmentRejected
	l.untrackActive(a)
	e.job.Status = types.JobStatusDisputed
	e.job.UpdatedAt = now
	e.settling = false

	l.logger.Warn("job disputed", "job", a.JobID, "assignment", id, "worker", a.WorkerID)
	return nil
}

// SettleDisputed writes the terminal record for a disputed job.
func (l *Ledger) SettleDisputed(id types.AssignmentID, rec types.SettlementRecord) error {
	e, err := l.assignmentEntry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != types.JobStatusDisputed {
		return types.ErrIllegalTransition.Wrapf(
			"job %s is %s, not disputed", e.job.ID, e.job.Status)
	}
	if e.record != nil {
		return types.ErrIllegalTransition.Wrapf("job %s already settled", e.job.ID)
	}
	if err := l.checkConservation(e.job, rec); err != nil {
		return err
	}

	now := l.now()
	rec.SettledAt = now
	e.record = &rec
	e.job.UpdatedAt = now
	e.job.SettledAt = &now
	e.settling = false

	l.logger.Info("dispute settled",
		"job", e.job.ID, "disposition", rec.Disposition, "refund", rec.Refund.String(),
		"slashed", rec.Slashed.String())
	l.emitEvent(types.EventSettled{At: now, Record: rec})
	return nil
}

func (l *Ledger) commitSettlement(id types.AssignmentID, jobStatus types.JobStatus, asgStatus types.AssignmentStatus, rec types.SettlementRecord) error {
	e, err := l.assignmentEntry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a := findAssignment(e, id)
	if a == nil {
		return types.ErrAssignmentNotFound.Wrapf("assignment %s", id)
	}
	if err := l.checkTransition(e.job, jobStatus); err != nil {
		return err
	}
	if e.record != nil {
		return types.ErrIllegalTransition.Wrapf("job %s already settled", e.job.ID)
	}
	if err := l.checkConservation(e.job, rec); err != nil {
		return err
	}

	now := l.now()
	a.Status = asgStatus
	l.untrackActive(a)
	rec.SettledAt = now
	e.record = &rec
	e.job.Status = jobStatus
	e.job.UpdatedAt = now
	e.job.SettledAt = &now
	e.settling = false

	l.logger.Info("job settled",
		"job", e.job.ID, "disposition", rec.Disposition,
		"payout", rec.Payout.String(), "fee", rec.Fee.String())
	l.emitEvent(types.EventSettled{At: now, Record: rec})
	return nil
}

// checkConservation enforces escrow conservation per record: payout + refund
// + fee must equal the escrow locked at funding. Slash amounts come from the
// stake pool and sit outside the equation.
func (l *Ledger) checkConservation(job *types.Job, rec types.SettlementRecord) error {
	total := math.ZeroInt()
	for _, v := range []math.Int{rec.Payout, rec.Refund, rec.Fee} {
		if v.IsNil() || v.IsNegative() {
			return types.ErrInvalidRequest.Wrap("settlement amounts must be non-negative")
		}
		total = total.Add(v)
	}
	if !total.Equal(job.Escrow) {
		return types.ErrInvalidRequest.Wrapf(
			"settlement for job %s does not conserve escrow: %s != %s",
			job.ID, total, job.Escrow)
	}
	return nil
}
