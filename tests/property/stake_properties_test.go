package property

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"pgregory.net/rapid"

	"github.com/gridmesh/gridmesh/core/stake"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// TestStakeAccountingProperties drives a registry through random stake,
// unstake, and slash sequences and checks the accounting invariants hold
// after every step.
func TestStakeAccountingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := types.DefaultParams()
		now := time.Now()
		reg := stake.NewRegistry(params, logger.Nop(),
			stake.WithClock(func() time.Time { return now }))
		worker := types.NewWorkerID()

		var staked, released, slashed int64

		t.Repeat(map[string]func(*rapid.T){
			"stake": func(t *rapid.T) {
				amt := rapid.Int64Range(1, 1_000_000).Draw(t, "amount")
				if _, err := reg.Stake(worker, math.NewInt(amt)); err != nil {
					t.Fatalf("stake failed: %v", err)
				}
				staked += amt
			},
			"requestUnstake": func(t *rapid.T) {
				amt := rapid.Int64Range(1, 1_000_000).Draw(t, "amount")
				_, err := reg.RequestUnstake(worker, math.NewInt(amt))
				acc, aerr := reg.Account(worker)
				if err == nil && aerr == nil && acc.PendingUnlock.GT(acc.Locked) {
					t.Fatalf("pending unlock %s exceeds locked %s", acc.PendingUnlock, acc.Locked)
				}
			},
			"finalizeAfterUnbonding": func(t *rapid.T) {
				now = now.Add(params.UnbondingPeriod + time.Second)
				freed, err := reg.FinalizeUnstake(worker)
				if err != nil {
					return
				}
				if freed.IsNegative() {
					t.Fatalf("finalize returned negative amount %s", freed)
				}
				released += freed.Int64()
			},
			"slash": func(t *rapid.T) {
				amt := rapid.Int64Range(1, 2_000_000).Draw(t, "amount")
				before, berr := reg.Account(worker)
				cut, err := reg.Slash(worker, math.NewInt(amt), types.NewJobID(), types.SlashReasonRejectedResult)
				if err != nil {
					return
				}
				// Property: a slash never exceeds the locked balance.
				if berr == nil && cut.GT(before.Locked) {
					t.Fatalf("slashed %s from locked %s", cut, before.Locked)
				}
				slashed += cut.Int64()
			},
		})

		acc, err := reg.Account(worker)
		if err != nil {
			if staked != released+slashed {
				t.Fatalf("account gone but %d staked != %d released + %d slashed",
					staked, released, slashed)
			}
			return
		}

		// Property: locked balance is never negative.
		if acc.Locked.IsNegative() {
			t.Fatalf("negative locked balance %s", acc.Locked)
		}
		// Property: pending unlock never exceeds the locked balance.
		if acc.PendingUnlock.GT(acc.Locked) {
			t.Fatalf("pending unlock %s exceeds locked %s", acc.PendingUnlock, acc.Locked)
		}
		// Property: pending unlock equals the sum of unbonding entries.
		sum := math.ZeroInt()
		for _, e := range acc.Unbonding {
			sum = sum.Add(e.Amount)
		}
		if !sum.Equal(acc.PendingUnlock) {
			t.Fatalf("unbonding entries sum to %s, pending unlock %s", sum, acc.PendingUnlock)
		}
		// Property: stake is conserved across stake, release, and slash.
		if want := staked - released - slashed; acc.Locked.Int64() != want {
			t.Fatalf("locked %s, want %d (staked %d - released %d - slashed %d)",
				acc.Locked, want, staked, released, slashed)
		}
		// Property: the tier always matches the locked balance.
		if got, want := reg.Tier(worker), params.TierFor(acc.Locked); got != want {
			t.Fatalf("tier %d for locked %s, want %d", got, acc.Locked, want)
		}
	})
}
