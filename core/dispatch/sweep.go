package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/gridmesh/gridmesh/core/types"
)

func (d *Dispatcher) runTimeoutSweep(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepTimeouts(ctx)
		}
	}
}

// SweepTimeouts closes assignments past their deadline with no attestation
// and either requeues the job for reassignment or expires it once the retry
// budget is spent.
func (d *Dispatcher) SweepTimeouts(ctx context.Context) {
	now := d.now()
	for _, a := range d.ledger.ActiveAssignments() {
		if !a.Expired(now) {
			continue
		}
		if _, err := d.ledger.MarkAssignmentTimedOut(a.ID); err != nil {
			// An attestation claimed the assignment between the scan and this
			// call; settlement wins.
			if !errors.Is(err, types.ErrIllegalTransition) {
				d.logger.Error("timeout mark failed", "assignment", a.ID, "error", err)
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.TimeoutsTotal.Inc()
		}

		job, err := d.ledger.Job(a.JobID)
		if err != nil {
			continue
		}
		if job.Reassignments >= d.params.MaxReassignments || now.After(job.ExpiresAt) {
			d.expire(ctx, a.JobID)
			continue
		}
		d.logger.Info("reassigning timed-out job",
			"job", a.JobID, "previous_worker", a.WorkerID, "attempt", job.Reassignments+1)
		d.Dispatch(ctx, a.JobID)
	}
}
