package dispatch

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/core/directory"
	"github.com/gridmesh/gridmesh/core/escrow"
	"github.com/gridmesh/gridmesh/core/ledger"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// hookedTiers is a TierSource whose first lookup can run a side effect,
// simulating a concurrent dispatcher racing between query and assign.
type hookedTiers struct {
	tiers map[types.WorkerID]int
	hook  func()
	fired bool
}

func (h *hookedTiers) Tier(w types.WorkerID) int {
	if h.hook != nil && !h.fired {
		h.fired = true
		h.hook()
	}
	return h.tiers[w]
}

type offerRecorder struct {
	offers []types.AssignmentOffer
}

func (r *offerRecorder) SendOffer(_ context.Context, o types.AssignmentOffer) error {
	r.offers = append(r.offers, o)
	return nil
}

type dispatchFixture struct {
	params types.Params
	tiers  *hookedTiers
	escrow *escrow.MemLedger
	ledger *ledger.Ledger
	dir    *directory.Directory
	disp   *Dispatcher
	offers *offerRecorder
	now    time.Time
}

func newDispatchFixture(t *testing.T, params types.Params) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		params: params,
		tiers:  &hookedTiers{tiers: make(map[types.WorkerID]int)},
		escrow: escrow.NewMemLedger(),
		offers: &offerRecorder{},
		now:    time.Now(),
	}
	clock := func() time.Time { return f.now }
	f.ledger = ledger.New(params, f.escrow, f.tiers, logger.Nop(), ledger.WithClock(clock))
	f.dir = directory.New(params, f.tiers, logger.Nop(), directory.WithClock(clock))
	f.disp = New(params, f.ledger, f.dir, logger.Nop(),
		WithClock(clock), WithOfferSender(f.offers))
	return f
}

func (f *dispatchFixture) addWorker(t *testing.T, id types.WorkerID, tier int) {
	t.Helper()
	f.tiers.tiers[id] = tier
	require.NoError(t, f.dir.Advertise(id, nil, types.NewCapabilitySet("gpu")))
}

func (f *dispatchFixture) fundedJob(t *testing.T, minTier int, escrowAmt int64, ttl time.Duration) *types.Job {
	t.Helper()
	f.escrow.Credit("alice", math.NewInt(escrowAmt))
	job, err := f.ledger.Create("alice",
		types.Requirements{MinTier: minTier, Tags: types.NewCapabilitySet("gpu")},
		"bafy-payload", math.NewInt(escrowAmt), f.now.Add(ttl))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Fund(context.Background(), job.ID, math.NewInt(escrowAmt)))
	return job
}

func TestDispatchAssignsTopRankedWorker(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	low := types.WorkerID("w-low")
	high := types.WorkerID("w-high")
	f.addWorker(t, low, 1)
	f.addWorker(t, high, 3)

	job := f.fundedJob(t, 1, 1_000, time.Hour)
	f.disp.Enqueue(job.ID)
	require.Equal(t, 1, f.disp.PendingCount())

	f.disp.Dispatch(context.Background(), job.ID)

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusAssigned, got.Status)
	require.Equal(t, uint64(1), got.Epoch)

	active, err := f.ledger.ActiveAssignment(job.ID)
	require.NoError(t, err)
	require.Equal(t, high, active.WorkerID)

	require.Equal(t, 0, f.disp.PendingCount())
	require.Len(t, f.offers.offers, 1)
	require.Equal(t, active.ID, f.offers.offers[0].AssignmentID)
	require.Equal(t, "bafy-payload", f.offers.offers[0].PayloadRef)
}

func TestDispatchNoCandidatesRequeues(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	job := f.fundedJob(t, 1, 1_000, time.Hour)

	f.disp.Dispatch(context.Background(), job.ID)

	require.Equal(t, 1, f.disp.PendingCount())
	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFunded, got.Status)
}

func TestDispatchExpiresPastDeadlineJob(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	f.addWorker(t, types.NewWorkerID(), 2)
	job := f.fundedJob(t, 1, 1_000, time.Minute)

	f.now = f.now.Add(2 * time.Minute)
	f.disp.Dispatch(context.Background(), job.ID)

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusExpired, got.Status)
	require.True(t, f.escrow.Balance("alice").Equal(math.NewInt(1_000)))
}

func TestDispatchStaleEpochRacerWon(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	w := types.WorkerID("w-candidate")
	rival := types.WorkerID("w-rival")
	f.addWorker(t, w, 2)
	f.tiers.tiers[rival] = 2

	job := f.fundedJob(t, 1, 1_000, time.Hour)
	f.disp.Enqueue(job.ID)

	// Between the directory query and our assign, a rival dispatcher lands
	// its own assignment. Ours must observe the stale epoch and stand down.
	f.tiers.hook = func() {
		_, err := f.ledger.Assign(job.ID, rival, 1, f.now.Add(f.params.AssignmentTimeout))
		require.NoError(t, err)
	}
	f.disp.Dispatch(context.Background(), job.ID)

	active, err := f.ledger.ActiveAssignment(job.ID)
	require.NoError(t, err)
	require.Equal(t, rival, active.WorkerID)
	require.Equal(t, 0, f.disp.PendingCount())
}

func TestDispatchStaleEpochRetriesWhenJobStillOpen(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	first := types.WorkerID("w-a")
	second := types.WorkerID("w-b")
	rival := types.WorkerID("w-rival")
	f.addWorker(t, first, 2)
	f.addWorker(t, second, 2)
	f.tiers.tiers[rival] = 2

	job := f.fundedJob(t, 1, 1_000, time.Hour)

	// The rival assigns and its assignment immediately times out, so the job
	// is stale for our first candidate but still open for the second.
	f.tiers.hook = func() {
		a, err := f.ledger.Assign(job.ID, rival, 1, f.now.Add(f.params.AssignmentTimeout))
		require.NoError(t, err)
		_, err = f.ledger.MarkAssignmentTimedOut(a.ID)
		require.NoError(t, err)
	}
	f.disp.Dispatch(context.Background(), job.ID)

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Epoch)

	active, err := f.ledger.ActiveAssignment(job.ID)
	require.NoError(t, err)
	require.NotEqual(t, rival, active.WorkerID)
}

func TestSweepTimeoutsReassigns(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	w1 := types.WorkerID("w-1")
	w2 := types.WorkerID("w-2")
	f.addWorker(t, w1, 2)
	f.addWorker(t, w2, 2)

	job := f.fundedJob(t, 1, 1_000, time.Hour)
	f.disp.Dispatch(context.Background(), job.ID)

	first, err := f.ledger.ActiveAssignment(job.ID)
	require.NoError(t, err)

	// Past the assignment deadline but within the job TTL; keep heartbeats
	// fresh so candidates survive the clock jump.
	f.now = f.now.Add(f.params.AssignmentTimeout + time.Second)
	require.NoError(t, f.dir.Heartbeat(w1))
	require.NoError(t, f.dir.Heartbeat(w2))

	f.disp.SweepTimeouts(context.Background())

	old, err := f.ledger.Assignment(first.ID)
	require.NoError(t, err)
	require.Equal(t, types.AssignmentTimedOut, old.Status)

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusAssigned, got.Status)
	require.Equal(t, uint64(2), got.Epoch)
	require.Equal(t, 1, got.Reassignments)

	active, err := f.ledger.ActiveAssignment(job.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, active.ID)
}

func TestSweepTimeoutsExpiresWhenBudgetSpent(t *testing.T) {
	params := types.DefaultParams()
	params.MaxReassignments = 0
	f := newDispatchFixture(t, params)
	f.addWorker(t, types.WorkerID("w-only"), 2)

	job := f.fundedJob(t, 1, 1_000, time.Hour)
	f.disp.Dispatch(context.Background(), job.ID)

	f.now = f.now.Add(params.AssignmentTimeout + time.Second)
	f.disp.SweepTimeouts(context.Background())

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusExpired, got.Status)
	require.True(t, f.escrow.Balance("alice").Equal(math.NewInt(1_000)))
}

func TestRequeueBackoffGrows(t *testing.T) {
	f := newDispatchFixture(t, types.DefaultParams())
	job := f.fundedJob(t, 1, 1_000, time.Hour)

	// No candidates: every pass requeues with a growing backoff, so an
	// immediate second pass finds nothing due.
	f.disp.Dispatch(context.Background(), job.ID)
	require.Equal(t, 1, f.disp.PendingCount())

	f.disp.processPending(context.Background())
	require.Equal(t, 1, f.disp.PendingCount())

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFunded, got.Status)
}
