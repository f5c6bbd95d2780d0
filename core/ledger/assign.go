package ledger

import (
	"time"

	"github.com/gridmesh/gridmesh/core/types"
)

// Assign binds the job to a worker under optimistic concurrency. The caller
// passes the epoch it read plus one; any epoch at or below the job's current
// epoch fails with ErrStaleEpoch so a stale dispatcher can never clobber a
// newer assignment. Legal from Funded, or from Assigned/Executing on a
// timeout-driven reassignment.
func (l *Ledger) Assign(jobID types.JobID, worker types.WorkerID, epoch uint64, deadline time.Time) (*types.Assignment, error) {
	e, err := l.entry(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settling {
		return nil, types.ErrIllegalTransition.Wrapf("job %s is settling", jobID)
	}
	if epoch <= e.job.Epoch {
		return nil, types.ErrStaleEpoch.Wrapf(
			"job %s at epoch %d, assign with %d", jobID, e.job.Epoch, epoch)
	}
	if err := l.checkTransition(e.job, types.JobStatusAssigned); err != nil {
		return nil, err
	}
	if tier := l.tiers.Tier(worker); tier < e.job.Requirements.MinTier {
		return nil, types.ErrInsufficientStake.Wrapf(
			"worker %s tier %d below job minimum %d", worker, tier, e.job.Requirements.MinTier)
	}

	now := l.now()
	l.closeActiveAssignment(e, types.AssignmentSuperseded)

	a := &types.Assignment{
		ID:         types.NewAssignmentID(),
		JobID:      jobID,
		WorkerID:   worker,
		Epoch:      epoch,
		Status:     types.AssignmentActive,
		AssignedAt: now,
		Deadline:   deadline,
	}
	e.assignments = append(e.assignments, a)
	e.job.Epoch = epoch
	e.job.Status = types.JobStatusAssigned
	e.job.Reassignments = len(e.assignments) - 1
	e.job.UpdatedAt = now

	l.mu.Lock()
	l.byAssignment[a.ID] = jobID
	l.mu.Unlock()
	l.trackActive(a)

	l.logger.Info("job assigned",
		"job", jobID, "worker", worker, "epoch", epoch, "assignment", a.ID, "deadline", deadline)
	l.emitEvent(types.EventAssigned{At: now, Assignment: *a})
	return cloneAssignment(a), nil
}

// BeginExecution moves the job Assigned -> Executing once the worker has
// acknowledged the offer and started work.
func (l *Ledger) BeginExecution(jobID types.JobID) error {
	e, err := l.entry(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.checkTransition(e.job, types.JobStatusExecuting); err != nil {
		return err
	}
	e.job.Status = types.JobStatusExecuting
	e.job.UpdatedAt = l.now()
	return nil
}

// MarkAssignmentTimedOut closes an active assignment whose deadline passed
// with no attestation. The job stays assignable; the dispatcher decides
// between reassignment and expiry.
func (l *Ledger) MarkAssignmentTimedOut(id types.AssignmentID) (*types.Assignment, error) {
	e, err := l.assignmentEntry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a := findAssignment(e, id)
	if a == nil {
		return nil, types.ErrAssignmentNotFound.Wrapf("assignment %s", id)
	}
	if e.settling {
		return nil, types.ErrIllegalTransition.Wrapf("job %s is settling", a.JobID)
	}
	if a.Status != types.AssignmentActive {
		return nil, types.ErrIllegalTransition.Wrapf(
			"assignment %s is %s, not active", id, a.Status)
	}
	now := l.now()
	a.Status = types.AssignmentTimedOut
	l.untrackActive(a)
	e.job.UpdatedAt = now

	l.logger.Warn("assignment timed out",
		"job", a.JobID, "worker", a.WorkerID, "assignment", id, "epoch", a.Epoch)
	l.emitEvent(types.EventAssignmentTimedOut{At: now, Assignment: *a})
	return cloneAssignment(a), nil
}

// closeActiveAssignment marks the current active assignment with the given
// terminal status, if one exists. Caller holds the entry lock.
func (l *Ledger) closeActiveAssignment(e *jobEntry, status types.AssignmentStatus) {
	for _, a := range e.assignments {
		if a.Status == types.AssignmentActive {
			a.Status = status
			l.untrackActive(a)
		}
	}
}

// assignmentEntry resolves the job entry owning an assignment. The caller
// must take the entry lock before touching the assignment itself.
func (l *Ledger) assignmentEntry(id types.AssignmentID) (*jobEntry, error) {
	l.mu.RLock()
	jobID, ok := l.byAssignment[id]
	l.mu.RUnlock()
	if !ok {
		return nil, types.ErrAssignmentNotFound.Wrapf("assignment %s", id)
	}
	return l.entry(jobID)
}

// findAssignment locates an assignment in the entry's history. Caller holds
// the entry lock.
func findAssignment(e *jobEntry, id types.AssignmentID) *types.Assignment {
	for _, a := range e.assignments {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func cloneAssignment(a *types.Assignment) *types.Assignment {
	cp := *a
	return &cp
}
