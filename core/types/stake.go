package types

import (
	"time"

	"cosmossdk.io/math"
)

// SlashReason is the audit code attached to a slash event.
type SlashReason string

const (
	SlashReasonRejectedResult SlashReason = "rejected_result"
	SlashReasonDisputeDefault SlashReason = "dispute_default"
	SlashReasonOperator       SlashReason = "operator"
)

// UnbondingEntry is one unstake request waiting out the cooldown. Each
// request carries its own clock; a later request never delays funds from an
// earlier one.
type UnbondingEntry struct {
	Amount         math.Int  `json:"amount"`
	UnlockEligible time.Time `json:"unlock_eligible"`
}

// StakeAccount is the registry's record of one worker's collateral. Locked
// only ever decreases through slashing or a finalized unstake. PendingUnlock
// is the sum over Unbonding, kept in lockstep by the registry.
type StakeAccount struct {
	WorkerID      WorkerID         `json:"worker_id"`
	Locked        math.Int         `json:"locked"`
	PendingUnlock math.Int         `json:"pending_unlock"`
	Unbonding     []UnbondingEntry `json:"unbonding,omitempty"`
	TotalSlashed  math.Int         `json:"total_slashed"`
	SlashCount    int              `json:"slash_count"`
}

// Clone returns a copy safe to hand outside the registry.
func (s StakeAccount) Clone() StakeAccount {
	cp := s
	if s.Unbonding != nil {
		cp.Unbonding = append([]UnbondingEntry(nil), s.Unbonding...)
	}
	return cp
}

// SlashRecord is an immutable audit entry for one slash.
type SlashRecord struct {
	ID        uint64      `json:"id"`
	WorkerID  WorkerID    `json:"worker_id"`
	JobID     JobID       `json:"job_id,omitempty"`
	Amount    math.Int    `json:"amount"`
	Reason    SlashReason `json:"reason"`
	SlashedAt time.Time   `json:"slashed_at"`
}

// TierThreshold maps a minimum locked amount to a tier. Thresholds are
// evaluated highest-first; tier 0 means unstaked or below every threshold.
type TierThreshold struct {
	Tier      int      `json:"tier" yaml:"tier"`
	MinLocked math.Int `json:"min_locked" yaml:"min_locked"`
}
