package ledger

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/core/types"
)

func TestAssignEpochMonotonic(t *testing.T) {
	f := newFixture(t)
	w1 := types.NewWorkerID()
	w2 := types.NewWorkerID()
	f.tiers[w1] = 2
	f.tiers[w2] = 2
	job := f.fundedJob(t, "alice", 500)

	a1, err := f.ledger.Assign(job.ID, w1, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, uint64(1), a1.Epoch)

	// Same epoch again: a stale writer must lose.
	_, err = f.ledger.Assign(job.ID, w2, 1, f.now.Add(10*time.Minute))
	require.ErrorIs(t, err, types.ErrStaleEpoch)

	// Lower epoch too.
	_, err = f.ledger.Assign(job.ID, w2, 0, f.now.Add(10*time.Minute))
	require.ErrorIs(t, err, types.ErrStaleEpoch)

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Epoch)

	active, err := f.ledger.ActiveAssignment(job.ID)
	require.NoError(t, err)
	require.Equal(t, w1, active.WorkerID)
}

func TestAssignSupersedesPrior(t *testing.T) {
	f := newFixture(t)
	w1 := types.NewWorkerID()
	w2 := types.NewWorkerID()
	f.tiers[w1] = 2
	f.tiers[w2] = 2
	job := f.fundedJob(t, "alice", 500)

	a1, err := f.ledger.Assign(job.ID, w1, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)
	a2, err := f.ledger.Assign(job.ID, w2, 2, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	got1, err := f.ledger.Assignment(a1.ID)
	require.NoError(t, err)
	require.Equal(t, types.AssignmentSuperseded, got1.Status)
	require.False(t, f.ledger.HasActiveAssignment(w1))
	require.True(t, f.ledger.HasActiveAssignment(w2))

	job2, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, job2.Reassignments)
	require.Equal(t, a2.Epoch, job2.Epoch)

	// Exactly one active assignment across history.
	all, err := f.ledger.Assignments(job.ID)
	require.NoError(t, err)
	active := 0
	for _, a := range all {
		if a.Status == types.AssignmentActive {
			active++
		}
	}
	require.Equal(t, 1, active)
}

func TestAssignTierGate(t *testing.T) {
	f := newFixture(t)
	w := types.NewWorkerID()
	f.tiers[w] = 0 // below the job's MinTier of 1
	job := f.fundedJob(t, "alice", 500)

	_, err := f.ledger.Assign(job.ID, w, 1, f.now.Add(10*time.Minute))
	require.ErrorIs(t, err, types.ErrInsufficientStake)
}

func TestAssignRequiresFunding(t *testing.T) {
	f := newFixture(t)
	w := types.NewWorkerID()
	f.tiers[w] = 2

	job, err := f.ledger.Create("alice",
		types.Requirements{MinTier: 1, Tags: types.NewCapabilitySet("gpu")},
		"p", math.NewInt(100), f.now.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.ledger.Assign(job.ID, w, 1, f.now.Add(10*time.Minute))
	require.ErrorIs(t, err, types.ErrIllegalTransition)
}

func TestBeginExecution(t *testing.T) {
	f := newFixture(t)
	w := types.NewWorkerID()
	f.tiers[w] = 2
	job := f.fundedJob(t, "alice", 500)

	require.ErrorIs(t, f.ledger.BeginExecution(job.ID), types.ErrIllegalTransition)

	_, err := f.ledger.Assign(job.ID, w, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.ledger.BeginExecution(job.ID))

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusExecuting, got.Status)
}

func TestMarkAssignmentTimedOut(t *testing.T) {
	f := newFixture(t)
	w := types.NewWorkerID()
	f.tiers[w] = 2
	job := f.fundedJob(t, "alice", 500)

	a, err := f.ledger.Assign(job.ID, w, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	timedOut, err := f.ledger.MarkAssignmentTimedOut(a.ID)
	require.NoError(t, err)
	require.Equal(t, types.AssignmentTimedOut, timedOut.Status)
	require.False(t, f.ledger.HasActiveAssignment(w))

	// Job remains assignable at the next epoch.
	w2 := types.NewWorkerID()
	f.tiers[w2] = 2
	_, err = f.ledger.Assign(job.ID, w2, timedOut.Epoch+1, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	// Marking twice is illegal.
	_, err = f.ledger.MarkAssignmentTimedOut(a.ID)
	require.ErrorIs(t, err, types.ErrIllegalTransition)
}

func TestTimedOutAssignmentStillClaimableAtSameEpoch(t *testing.T) {
	f := newFixture(t)
	w := types.NewWorkerID()
	f.tiers[w] = 2
	job := f.fundedJob(t, "alice", 500)

	a, err := f.ledger.Assign(job.ID, w, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)
	_, err = f.ledger.MarkAssignmentTimedOut(a.ID)
	require.NoError(t, err)

	// The late attestation arrives before any reassignment: claim succeeds.
	claimed, _, err := f.ledger.ClaimForSettlement(a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, claimed.ID)
	f.ledger.ReleaseClaim(a.ID)

	// After a reassignment bumps the epoch, the old claim is stale.
	w2 := types.NewWorkerID()
	f.tiers[w2] = 2
	_, err = f.ledger.Assign(job.ID, w2, 2, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	_, _, err = f.ledger.ClaimForSettlement(a.ID)
	require.ErrorIs(t, err, types.ErrStaleEpoch)
}

func TestSettlingBlocksAssignAndExpire(t *testing.T) {
	f := newFixture(t)
	w := types.NewWorkerID()
	f.tiers[w] = 2
	job := f.fundedJob(t, "alice", 500)

	a, err := f.ledger.Assign(job.ID, w, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	_, _, err = f.ledger.ClaimForSettlement(a.ID)
	require.NoError(t, err)

	w2 := types.NewWorkerID()
	f.tiers[w2] = 2
	_, err = f.ledger.Assign(job.ID, w2, 2, f.now.Add(10*time.Minute))
	require.ErrorIs(t, err, types.ErrIllegalTransition)

	require.ErrorIs(t, f.ledger.Expire(context.Background(), job.ID), types.ErrIllegalTransition)

	_, err = f.ledger.MarkAssignmentTimedOut(a.ID)
	require.ErrorIs(t, err, types.ErrIllegalTransition)

	// Releasing the claim unblocks the dispatcher.
	f.ledger.ReleaseClaim(a.ID)
	_, err = f.ledger.Assign(job.ID, w2, 2, f.now.Add(10*time.Minute))
	require.NoError(t, err)
}
