package stake

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return NewRegistry(types.DefaultParams(), logger.Nop(), opts...)
}

func TestStakeAndTier(t *testing.T) {
	r := newTestRegistry(t)
	w := types.NewWorkerID()

	require.Equal(t, 0, r.Tier(w))

	acc, err := r.Stake(w, math.NewInt(500))
	require.NoError(t, err)
	require.True(t, acc.Locked.Equal(math.NewInt(500)))
	require.Equal(t, 0, r.Tier(w))

	_, err = r.Stake(w, math.NewInt(9_500))
	require.NoError(t, err)
	require.Equal(t, 2, r.Tier(w))

	_, err = r.Stake(w, math.NewInt(0))
	require.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestUnstakeCooldown(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	r := newTestRegistry(t, WithClock(clock))
	w := types.NewWorkerID()

	_, err := r.Stake(w, math.NewInt(10_000))
	require.NoError(t, err)

	_, err = r.RequestUnstake(w, math.NewInt(4_000))
	require.NoError(t, err)

	// Requesting more than locked-minus-pending fails.
	_, err = r.RequestUnstake(w, math.NewInt(7_000))
	require.ErrorIs(t, err, types.ErrInsufficientStake)

	// Cooldown not elapsed yet.
	_, err = r.FinalizeUnstake(w)
	require.ErrorIs(t, err, types.ErrUnbondingNotElapsed)

	now = now.Add(types.DefaultParams().UnbondingPeriod + time.Second)
	released, err := r.FinalizeUnstake(w)
	require.NoError(t, err)
	require.True(t, released.Equal(math.NewInt(4_000)))

	acc, err := r.Account(w)
	require.NoError(t, err)
	require.True(t, acc.Locked.Equal(math.NewInt(6_000)))
	require.True(t, acc.PendingUnlock.IsZero())

	_, err = r.FinalizeUnstake(w)
	require.ErrorIs(t, err, types.ErrNoPendingUnstake)
}

func TestFinalizeHeldByActiveAssignment(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))
	w := types.NewWorkerID()

	busy := true
	r.SetActivityChecker(ActivityCheckerFunc(func(types.WorkerID) bool { return busy }))

	_, err := r.Stake(w, math.NewInt(5_000))
	require.NoError(t, err)
	_, err = r.RequestUnstake(w, math.NewInt(5_000))
	require.NoError(t, err)

	now = now.Add(types.DefaultParams().UnbondingPeriod + time.Second)

	// Held, not dropped, while an assignment is active.
	_, err = r.FinalizeUnstake(w)
	require.ErrorIs(t, err, types.ErrUnstakeHeld)

	busy = false
	released, err := r.FinalizeUnstake(w)
	require.NoError(t, err)
	require.True(t, released.Equal(math.NewInt(5_000)))
}

func TestSlashCappedAtLocked(t *testing.T) {
	r := newTestRegistry(t)
	w := types.NewWorkerID()

	_, err := r.Stake(w, math.NewInt(1_000))
	require.NoError(t, err)

	cut, err := r.Slash(w, math.NewInt(5_000), types.NewJobID(), types.SlashReasonRejectedResult)
	require.NoError(t, err)
	require.True(t, cut.Equal(math.NewInt(1_000)))

	acc, err := r.Account(w)
	require.NoError(t, err)
	require.True(t, acc.Locked.IsZero())
	require.False(t, acc.Locked.IsNegative())
	require.Equal(t, 1, acc.SlashCount)
	require.True(t, acc.TotalSlashed.Equal(math.NewInt(1_000)))
}

func TestSlashShrinksPendingUnlock(t *testing.T) {
	r := newTestRegistry(t)
	w := types.NewWorkerID()

	_, err := r.Stake(w, math.NewInt(10_000))
	require.NoError(t, err)
	_, err = r.RequestUnstake(w, math.NewInt(5_000))
	require.NoError(t, err)
	_, err = r.RequestUnstake(w, math.NewInt(4_000))
	require.NoError(t, err)

	// Slashing 4000 leaves 6000 locked; pending must shrink to fit, eating
	// the newest entry first.
	_, err = r.Slash(w, math.NewInt(4_000), "", types.SlashReasonOperator)
	require.NoError(t, err)

	acc, err := r.Account(w)
	require.NoError(t, err)
	require.True(t, acc.Locked.Equal(math.NewInt(6_000)))
	require.True(t, acc.PendingUnlock.Equal(math.NewInt(6_000)))
	require.Len(t, acc.Unbonding, 2)
	require.True(t, acc.Unbonding[0].Amount.Equal(math.NewInt(5_000)))
	require.True(t, acc.Unbonding[1].Amount.Equal(math.NewInt(1_000)))
}

func TestLaterUnstakeKeepsEarlierClock(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))
	w := types.NewWorkerID()
	period := types.DefaultParams().UnbondingPeriod

	_, err := r.Stake(w, math.NewInt(10_000))
	require.NoError(t, err)
	_, err = r.RequestUnstake(w, math.NewInt(4_000))
	require.NoError(t, err)

	// A second request an hour later runs on its own clock.
	now = now.Add(time.Hour)
	acc, err := r.RequestUnstake(w, math.NewInt(3_000))
	require.NoError(t, err)
	require.Len(t, acc.Unbonding, 2)

	// The first entry matures on schedule, unaffected by the second request.
	now = now.Add(period - time.Hour + time.Second)
	released, err := r.FinalizeUnstake(w)
	require.NoError(t, err)
	require.True(t, released.Equal(math.NewInt(4_000)))

	// The second is still cooling down.
	_, err = r.FinalizeUnstake(w)
	require.ErrorIs(t, err, types.ErrUnbondingNotElapsed)

	now = now.Add(time.Hour)
	released, err = r.FinalizeUnstake(w)
	require.NoError(t, err)
	require.True(t, released.Equal(math.NewInt(3_000)))

	acc, err = r.Account(w)
	require.NoError(t, err)
	require.True(t, acc.Locked.Equal(math.NewInt(3_000)))
	require.True(t, acc.PendingUnlock.IsZero())
	require.Empty(t, acc.Unbonding)
}

func TestSlashHistoryAndEvents(t *testing.T) {
	var events []types.Event
	r := newTestRegistry(t, WithEmitter(func(ev types.Event) { events = append(events, ev) }))
	w := types.NewWorkerID()

	_, err := r.Stake(w, math.NewInt(2_000))
	require.NoError(t, err)

	job := types.NewJobID()
	_, err = r.Slash(w, math.NewInt(200), job, types.SlashReasonRejectedResult)
	require.NoError(t, err)
	_, err = r.Slash(w, math.NewInt(100), "", types.SlashReasonOperator)
	require.NoError(t, err)

	recs := r.SlashHistory(w)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(1), recs[0].ID)
	require.Equal(t, job, recs[0].JobID)
	require.Equal(t, types.SlashReasonOperator, recs[1].Reason)

	require.Len(t, events, 2)
	_, ok := events[0].(types.EventSlashed)
	require.True(t, ok)
}

func TestSlashUnknownWorker(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Slash(types.NewWorkerID(), math.NewInt(1), "", types.SlashReasonOperator)
	require.ErrorIs(t, err, types.ErrStakeNotFound)
}
