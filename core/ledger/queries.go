package ledger

import (
	"sort"
	"time"

	"github.com/gridmesh/gridmesh/core/types"
)

// Job returns a copy of the job record.
func (l *Ledger) Job(jobID types.JobID) (*types.Job, error) {
	e, err := l.entry(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// Jobs returns copies of all live (unarchived) jobs, ordered by creation time.
func (l *Ledger) Jobs() []*types.Job {
	l.mu.RLock()
	entries := make([]*jobEntry, 0, len(l.jobs))
	for _, e := range l.jobs {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]*types.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.job.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveAssignment returns the job's single active assignment, if any.
func (l *Ledger) ActiveAssignment(jobID types.JobID) (*types.Assignment, error) {
	e, err := l.entry(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.assignments {
		if a.Status == types.AssignmentActive {
			return cloneAssignment(a), nil
		}
	}
	return nil, types.ErrAssignmentNotFound.Wrapf("job %s has no active assignment", jobID)
}

// Assignments returns the job's full assignment history, oldest first.
func (l *Ledger) Assignments(jobID types.JobID) ([]*types.Assignment, error) {
	e, err := l.entry(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Assignment, 0, len(e.assignments))
	for _, a := range e.assignments {
		out = append(out, cloneAssignment(a))
	}
	return out, nil
}

// Assignment resolves one assignment by ID.
func (l *Ledger) Assignment(id types.AssignmentID) (*types.Assignment, error) {
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
	return cloneAssignment(a), nil
}

// SettlementRecord returns the job's terminal record once written.
func (l *Ledger) SettlementRecord(jobID types.JobID) (*types.SettlementRecord, error) {
	e, err := l.entry(jobID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		if e.job.Status == types.JobStatusDisputed {
			return nil, types.ErrVerificationInconclusive.Wrapf(
				"job %s dispute window still open", jobID)
		}
		return nil, types.ErrJobNotFound.Wrapf("job %s has no settlement record", jobID)
	}
	rec := *e.record
	return &rec, nil
}

// ActiveAssignments returns every active assignment across all jobs. The
// dispatcher's timeout sweep iterates this.
func (l *Ledger) ActiveAssignments() []*types.Assignment {
	l.mu.RLock()
	entries := make([]*jobEntry, 0, len(l.jobs))
	for _, e := range l.jobs {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var out []*types.Assignment
	for _, e := range entries {
		e.mu.Lock()
		for _, a := range e.assignments {
			if a.Status == types.AssignmentActive {
				out = append(out, cloneAssignment(a))
			}
		}
		e.mu.Unlock()
	}
	return out
}

// PruneSettled drops terminal jobs past the retention window from the live
// table and returns their IDs. The archive store has already persisted them
// via settlement events.
func (l *Ledger) PruneSettled(now time.Time) []types.JobID {
	// Entry locks are taken before the table lock everywhere else; keep that
	// order here by deciding prunability first, then deleting.
	l.mu.RLock()
	entries := make(map[types.JobID]*jobEntry, len(l.jobs))
	for id, e := range l.jobs {
		entries[id] = e
	}
	l.mu.RUnlock()

	var pruned []types.JobID
	var assignments []types.AssignmentID
	for id, e := range entries {
		e.mu.Lock()
		prune := e.job.Status.IsTerminal() &&
			e.job.SettledAt != nil &&
			now.Sub(*e.job.SettledAt) > l.params.RetentionWindow
		if prune {
			for _, a := range e.assignments {
				assignments = append(assignments, a.ID)
			}
			pruned = append(pruned, id)
		}
		e.mu.Unlock()
	}
	if len(pruned) == 0 {
		return nil
	}

	l.mu.Lock()
	for _, id := range pruned {
		delete(l.jobs, id)
	}
	for _, id := range assignments {
		delete(l.byAssignment, id)
	}
	l.mu.Unlock()

	l.logger.Info("pruned settled jobs", "count", len(pruned))
	return pruned
}
