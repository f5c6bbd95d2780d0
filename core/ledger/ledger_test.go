package ledger

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/core/escrow"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

type tierMap map[types.WorkerID]int

func (m tierMap) Tier(w types.WorkerID) int { return m[w] }

type fixture struct {
	ledger *Ledger
	escrow *escrow.MemLedger
	tiers  tierMap
	now    time.Time
	events []types.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		escrow: escrow.NewMemLedger(),
		tiers:  tierMap{},
		now:    time.Now(),
	}
	f.ledger = New(types.DefaultParams(), f.escrow, f.tiers, logger.Nop(),
		WithClock(func() time.Time { return f.now }),
		WithEmitter(func(ev types.Event) { f.events = append(f.events, ev) }))
	return f
}

func (f *fixture) fundedJob(t *testing.T, requester string, amount int64) *types.Job {
	t.Helper()
	f.escrow.Credit(requester, math.NewInt(amount))
	job, err := f.ledger.Create(requester,
		types.Requirements{MinTier: 1, Tags: types.NewCapabilitySet("gpu")},
		"bafy-payload", math.NewInt(amount), f.now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.ledger.Fund(context.Background(), job.ID, math.NewInt(amount)))
	return job
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	req := types.Requirements{MinTier: 1, Tags: types.NewCapabilitySet("gpu")}

	_, err := f.ledger.Create("", req, "p", math.NewInt(100), f.now.Add(time.Hour))
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = f.ledger.Create("alice", req, "p", math.ZeroInt(), f.now.Add(time.Hour))
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = f.ledger.Create("alice", types.Requirements{}, "p", math.NewInt(100), f.now.Add(time.Hour))
	require.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = f.ledger.Create("alice", req, "p", math.NewInt(100), f.now.Add(-time.Second))
	require.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestFundExactAmountAndBalance(t *testing.T) {
	f := newFixture(t)
	f.escrow.Credit("alice", math.NewInt(1_000))

	job, err := f.ledger.Create("alice",
		types.Requirements{MinTier: 0, Tags: types.NewCapabilitySet("gpu")},
		"p", math.NewInt(600), f.now.Add(time.Hour))
	require.NoError(t, err)

	// Wrong amount is rejected before touching escrow.
	err = f.ledger.Fund(context.Background(), job.ID, math.NewInt(500))
	require.ErrorIs(t, err, types.ErrInsufficientFunds)
	require.True(t, f.escrow.Balance("alice").Equal(math.NewInt(1_000)))

	require.NoError(t, f.ledger.Fund(context.Background(), job.ID, math.NewInt(600)))
	require.True(t, f.escrow.Balance("alice").Equal(math.NewInt(400)))

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFunded, got.Status)
	require.NotEmpty(t, got.EscrowReceipt)

	// Double fund is an illegal transition.
	err = f.ledger.Fund(context.Background(), job.ID, math.NewInt(600))
	require.ErrorIs(t, err, types.ErrIllegalTransition)
}

func TestFundInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.escrow.Credit("poor", math.NewInt(10))

	job, err := f.ledger.Create("poor",
		types.Requirements{MinTier: 0, Tags: types.NewCapabilitySet("gpu")},
		"p", math.NewInt(100), f.now.Add(time.Hour))
	require.NoError(t, err)

	err = f.ledger.Fund(context.Background(), job.ID, math.NewInt(100))
	require.ErrorIs(t, err, types.ErrEscrowLock)

	got, err := f.ledger.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCreated, got.Status)
}

func TestCancelRefundsEscrow(t *testing.T) {
	f := newFixture(t)
	job := f.fundedJob(t, "alice", 500)
	require.True(t, f.escrow.Balance("alice").IsZero())

	require.NoError(t, f.ledger.Cancel(context.Background(), job.ID))
	require.True(t, f.escrow.Balance("alice").Equal(math.NewInt(500)))

	rec, err := f.ledger.SettlementRecord(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.DispositionRefunded, rec.Disposition)
	require.True(t, rec.Refund.Equal(math.NewInt(500)))

	// Cancel is not legal twice.
	require.ErrorIs(t, f.ledger.Cancel(context.Background(), job.ID), types.ErrIllegalTransition)
}

func TestCancelUnfundedLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	job, err := f.ledger.Create("alice",
		types.Requirements{MinTier: 0, Tags: types.NewCapabilitySet("gpu")},
		"p", math.NewInt(100), f.now.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Cancel(context.Background(), job.ID))
	_, err = f.ledger.SettlementRecord(job.ID)
	require.Error(t, err)
}

func TestCancelAfterAssignRejected(t *testing.T) {
	f := newFixture(t)
	worker := types.NewWorkerID()
	f.tiers[worker] = 2
	job := f.fundedJob(t, "alice", 500)

	_, err := f.ledger.Assign(job.ID, worker, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	require.ErrorIs(t, f.ledger.Cancel(context.Background(), job.ID), types.ErrIllegalTransition)
}

func TestExpireRefundsAndClosesAssignment(t *testing.T) {
	f := newFixture(t)
	worker := types.NewWorkerID()
	f.tiers[worker] = 2
	job := f.fundedJob(t, "alice", 500)

	a, err := f.ledger.Assign(job.ID, worker, 1, f.now.Add(10*time.Minute))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Expire(context.Background(), job.ID))
	require.True(t, f.escrow.Balance("alice").Equal(math.NewInt(500)))

	got, err := f.ledger.Assignment(a.ID)
	require.NoError(t, err)
	require.Equal(t, types.AssignmentTimedOut, got.Status)
	require.False(t, f.ledger.HasActiveAssignment(worker))

	rec, err := f.ledger.SettlementRecord(job.ID)
	require.NoError(t, err)
	require.True(t, rec.Payout.Add(rec.Refund).Add(rec.Fee).Equal(math.NewInt(500)))
}

func TestExpireWithGraceFee(t *testing.T) {
	params := types.DefaultParams()
	params.GraceFee = math.NewInt(25)

	esc := escrow.NewMemLedger()
	now := time.Now()
	led := New(params, esc, tierMap{}, logger.Nop(),
		WithClock(func() time.Time { return now }),
		WithFeeAccount("fees"))

	esc.Credit("alice", math.NewInt(500))
	job, err := led.Create("alice",
		types.Requirements{MinTier: 0, Tags: types.NewCapabilitySet("gpu")},
		"p", math.NewInt(500), now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, led.Fund(context.Background(), job.ID, math.NewInt(500)))

	require.NoError(t, led.Expire(context.Background(), job.ID))
	require.True(t, esc.Balance("fees").Equal(math.NewInt(25)))
	require.True(t, esc.Balance("alice").Equal(math.NewInt(475)))

	rec, err := led.SettlementRecord(job.ID)
	require.NoError(t, err)
	require.True(t, rec.Fee.Equal(math.NewInt(25)))
	require.True(t, rec.Refund.Equal(math.NewInt(475)))
	require.True(t, rec.Payout.Add(rec.Refund).Add(rec.Fee).Equal(math.NewInt(500)))
}

func TestJobsSortedByCreation(t *testing.T) {
	f := newFixture(t)
	var want []types.JobID
	for i := 0; i < 3; i++ {
		job, err := f.ledger.Create("alice",
			types.Requirements{MinTier: 0, Tags: types.NewCapabilitySet("gpu")},
			"p", math.NewInt(10), f.now.Add(time.Hour))
		require.NoError(t, err)
		want = append(want, job.ID)
		f.now = f.now.Add(time.Second)
	}

	jobs := f.ledger.Jobs()
	require.Len(t, jobs, 3)
	for i, id := range want {
		require.Equal(t, id, jobs[i].ID)
	}
}

func TestPruneSettled(t *testing.T) {
	f := newFixture(t)
	job := f.fundedJob(t, "alice", 100)
	require.NoError(t, f.ledger.Cancel(context.Background(), job.ID))

	// Inside the retention window: kept.
	require.Empty(t, f.ledger.PruneSettled(f.now.Add(time.Hour)))

	pruned := f.ledger.PruneSettled(f.now.Add(types.DefaultParams().RetentionWindow + time.Hour))
	require.Equal(t, []types.JobID{job.ID}, pruned)

	_, err := f.ledger.Job(job.ID)
	require.ErrorIs(t, err, types.ErrJobNotFound)
}
