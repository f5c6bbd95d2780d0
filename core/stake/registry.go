// Package stake implements the stake registry: the single source of truth
// for each worker's locked collateral, tier, and slash history.
package stake

import (
	"sync"
	"time"

	"cosmossdk.io/math"

	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// ActivityChecker reports whether a worker currently holds an active
// assignment. Unstake finalization is held, not dropped, while it does.
type ActivityChecker interface {
	HasActiveAssignment(worker types.WorkerID) bool
}

// ActivityCheckerFunc adapts a function to the ActivityChecker interface.
type ActivityCheckerFunc func(types.WorkerID) bool

func (f ActivityCheckerFunc) HasActiveAssignment(w types.WorkerID) bool { return f(w) }

// EmitFunc receives registry events after the mutation commits.
type EmitFunc func(types.Event)

// Registry tracks stake accounts. Mutations on the same worker serialize on
// a per-account lock; different workers proceed in parallel.
type Registry struct {
	params   types.Params
	activity ActivityChecker
	emit     EmitFunc
	logger   *logger.Logger
	now      func() time.Time

	mu       sync.RWMutex
	accounts map[types.WorkerID]*account

	slashMu     sync.Mutex
	nextSlashID uint64
	slashes     []types.SlashRecord
}

type account struct {
	mu  sync.Mutex
	acc types.StakeAccount
}

// Option customizes registry construction.
type Option func(*Registry)

// WithClock overrides the registry's time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEmitter attaches an event sink.
func WithEmitter(emit EmitFunc) Option {
	return func(r *Registry) { r.emit = emit }
}

// NewRegistry creates a stake registry. activity may be nil until wired;
// finalize treats a nil checker as "no active assignment".
func NewRegistry(params types.Params, log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		params:      params,
		logger:      log,
		now:         time.Now,
		accounts:    make(map[types.WorkerID]*account),
		nextSlashID: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetActivityChecker wires the assignment-activity source. Called once during
// startup, before traffic.
func (r *Registry) SetActivityChecker(c ActivityChecker) {
	r.activity = c
}

// Stake locks amount for the worker immediately. No cooldown on deposit.
func (r *Registry) Stake(worker types.WorkerID, amount math.Int) (types.StakeAccount, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.StakeAccount{}, types.ErrInvalidRequest.Wrap("stake amount must be positive")
	}
	a := r.getOrCreate(worker)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acc.Locked = a.acc.Locked.Add(amount)
	r.logger.Info("stake deposited",
		"worker", worker, "amount", amount.String(),
		"locked", a.acc.Locked.String(), "tier", r.params.TierFor(a.acc.Locked))
	return a.acc.Clone(), nil
}

// RequestUnstake moves amount into pending-unlock behind the unbonding
// cooldown. Each request gets its own unbonding entry, so a later request
// never restarts the clock on earlier funds. Fails if amount exceeds locked
// minus already-pending.
func (r *Registry) RequestUnstake(worker types.WorkerID, amount math.Int) (types.StakeAccount, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.StakeAccount{}, types.ErrInvalidRequest.Wrap("unstake amount must be positive")
	}
	a, err := r.get(worker)
	if err != nil {
		return types.StakeAccount{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	available := a.acc.Locked.Sub(a.acc.PendingUnlock)
	if available.LT(amount) {
		return types.StakeAccount{}, types.ErrInsufficientStake.Wrapf(
			"requested %s, available %s (locked %s, pending %s)",
			amount, available, a.acc.Locked, a.acc.PendingUnlock)
	}
	entry := types.UnbondingEntry{
		Amount:         amount,
		UnlockEligible: r.now().Add(r.params.UnbondingPeriod),
	}
	a.acc.PendingUnlock = a.acc.PendingUnlock.Add(amount)
	a.acc.Unbonding = append(a.acc.Unbonding, entry)
	r.logger.Info("unstake requested",
		"worker", worker, "amount", amount.String(), "eligible_at", entry.UnlockEligible)
	return a.acc.Clone(), nil
}

// FinalizeUnstake releases every matured unbonding entry once its cooldown
// has elapsed, provided the worker has no active assignment. A held request
// stays pending; entries still cooling down are untouched.
func (r *Registry) FinalizeUnstake(worker types.WorkerID) (math.Int, error) {
	a, err := r.get(worker)
	if err != nil {
		return math.ZeroInt(), err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.acc.PendingUnlock.IsPositive() {
		return math.ZeroInt(), types.ErrNoPendingUnstake.Wrapf("worker %s", worker)
	}

	now := r.now()
	released := math.ZeroInt()
	var remaining []types.UnbondingEntry
	for _, entry := range a.acc.Unbonding {
		if now.Before(entry.UnlockEligible) {
			remaining = append(remaining, entry)
			continue
		}
		released = released.Add(entry.Amount)
	}
	if !released.IsPositive() {
		return math.ZeroInt(), types.ErrUnbondingNotElapsed.Wrapf(
			"eligible at %s", a.acc.Unbonding[0].UnlockEligible.Format(time.RFC3339))
	}
	if r.activity != nil && r.activity.HasActiveAssignment(worker) {
		return math.ZeroInt(), types.ErrUnstakeHeld.Wrapf("worker %s", worker)
	}

	a.acc.Unbonding = remaining
	a.acc.Locked = a.acc.Locked.Sub(released)
	a.acc.PendingUnlock = a.acc.PendingUnlock.Sub(released)
	r.logger.Info("unstake finalized",
		"worker", worker, "released", released.String(), "locked", a.acc.Locked.String())
	return released, nil
}

// Slash forfeits up to amount of the worker's locked stake. The cut is capped
// at the current locked balance; locked never goes negative. Called only by
// the settlement engine (or an operator action with an audit reason).
func (r *Registry) Slash(worker types.WorkerID, amount math.Int, jobID types.JobID, reason types.SlashReason) (math.Int, error) {
	if amount.IsNil() || amount.IsNegative() {
		return math.ZeroInt(), types.ErrInvalidRequest.Wrap("slash amount must be non-negative")
	}
	a, err := r.get(worker)
	if err != nil {
		return math.ZeroInt(), err
	}
	a.mu.Lock()

	cut := amount
	if cut.GT(a.acc.Locked) {
		cut = a.acc.Locked
	}
	a.acc.Locked = a.acc.Locked.Sub(cut)
	if a.acc.PendingUnlock.GT(a.acc.Locked) {
		// The cut ate into pending funds. Shrink unbonding entries newest
		// first so the earliest requests keep their place in line.
		excess := a.acc.PendingUnlock.Sub(a.acc.Locked)
		for i := len(a.acc.Unbonding) - 1; i >= 0 && excess.IsPositive(); i-- {
			take := math.MinInt(a.acc.Unbonding[i].Amount, excess)
			a.acc.Unbonding[i].Amount = a.acc.Unbonding[i].Amount.Sub(take)
			excess = excess.Sub(take)
		}
		var kept []types.UnbondingEntry
		for _, entry := range a.acc.Unbonding {
			if entry.Amount.IsPositive() {
				kept = append(kept, entry)
			}
		}
		a.acc.Unbonding = kept
		a.acc.PendingUnlock = a.acc.Locked
	}
	a.acc.TotalSlashed = a.acc.TotalSlashed.Add(cut)
	a.acc.SlashCount++
	a.mu.Unlock()

	record := r.recordSlash(worker, jobID, cut, reason)
	r.logger.Warn("stake slashed",
		"worker", worker, "amount", cut.String(), "reason", reason, "job", jobID)
	if r.emit != nil {
		r.emit(types.EventSlashed{At: record.SlashedAt, Record: record})
	}
	return cut, nil
}

// Tier derives the worker's tier from its live locked amount. Unknown
// workers are tier 0.
func (r *Registry) Tier(worker types.WorkerID) int {
	a, err := r.get(worker)
	if err != nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return r.params.TierFor(a.acc.Locked)
}

// Account returns a copy of the worker's stake account.
func (r *Registry) Account(worker types.WorkerID) (types.StakeAccount, error) {
	a, err := r.get(worker)
	if err != nil {
		return types.StakeAccount{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acc.Clone(), nil
}

// SlashHistory returns slash records, newest last, optionally filtered by worker.
func (r *Registry) SlashHistory(worker types.WorkerID) []types.SlashRecord {
	r.slashMu.Lock()
	defer r.slashMu.Unlock()
	out := make([]types.SlashRecord, 0, len(r.slashes))
	for _, rec := range r.slashes {
		if worker == "" || rec.WorkerID == worker {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Registry) recordSlash(worker types.WorkerID, jobID types.JobID, amount math.Int, reason types.SlashReason) types.SlashRecord {
	r.slashMu.Lock()
	defer r.slashMu.Unlock()
	rec := types.SlashRecord{
		ID:        r.nextSlashID,
		WorkerID:  worker,
		JobID:     jobID,
		Amount:    amount,
		Reason:    reason,
		SlashedAt: r.now(),
	}
	r.nextSlashID++
	r.slashes = append(r.slashes, rec)
	return rec
}

func (r *Registry) get(worker types.WorkerID) (*account, error) {
	r.mu.RLock()
	a, ok := r.accounts[worker]
	r.mu.RUnlock()
	if !ok {
		return nil, types.ErrStakeNotFound.Wrapf("worker %s", worker)
	}
	return a, nil
}

func (r *Registry) getOrCreate(worker types.WorkerID) *account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[worker]
	if !ok {
		a = &account{acc: types.StakeAccount{
			WorkerID:      worker,
			Locked:        math.ZeroInt(),
			PendingUnlock: math.ZeroInt(),
			TotalSlashed:  math.ZeroInt(),
		}}
		r.accounts[worker] = a
	}
	return a
}
