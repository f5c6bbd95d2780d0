package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
)

// DisputeFallback selects who wins when an inconclusive verification is still
// unresolved at the end of the dispute window.
type DisputeFallback string

const (
	FallbackRefundConsumer DisputeFallback = "refund-consumer"
	FallbackPayWorker      DisputeFallback = "pay-worker"
)

// Params holds every policy knob the coordinator consults. The slash schedule
// and dispute fallback are deliberately explicit configuration, not constants.
type Params struct {
	// Settlement policy.
	SlashBps        uint32          `json:"slash_bps" yaml:"slash_bps"`               // fraction of locked stake slashed on a rejected result, in basis points
	ProtocolFeeBps  uint32          `json:"protocol_fee_bps" yaml:"protocol_fee_bps"` // fee carved out of escrow on payout
	GraceFee        math.Int        `json:"grace_fee" yaml:"grace_fee"`               // flat fee withheld from the refund when a job expires
	DisputeWindow   time.Duration   `json:"dispute_window" yaml:"dispute_window"`     // how long an inconclusive verification may stay open
	DisputeFallback DisputeFallback `json:"dispute_fallback" yaml:"dispute_fallback"` // resolution applied when the window lapses
	ReputationStep  int             `json:"reputation_step" yaml:"reputation_step"`   // score delta applied per settlement outcome

	// Stake policy.
	UnbondingPeriod time.Duration   `json:"unbonding_period" yaml:"unbonding_period"`
	TierThresholds  []TierThreshold `json:"tier_thresholds" yaml:"tier_thresholds"`

	// Directory policy.
	HeartbeatFreshness time.Duration `json:"heartbeat_freshness" yaml:"heartbeat_freshness"` // stale past this, excluded from matching
	AbsenceWindow      time.Duration `json:"absence_window" yaml:"absence_window"`           // aged out of the directory past this

	// Dispatch policy.
	AssignmentTimeout time.Duration `json:"assignment_timeout" yaml:"assignment_timeout"`
	MaxReassignments  int           `json:"max_reassignments" yaml:"max_reassignments"`
	MatchBackoffBase  time.Duration `json:"match_backoff_base" yaml:"match_backoff_base"`
	MatchBackoffMax   time.Duration `json:"match_backoff_max" yaml:"match_backoff_max"`

	// Archival.
	RetentionWindow time.Duration `json:"retention_window" yaml:"retention_window"`
}

// DefaultParams returns the default policy set.
func DefaultParams() Params {
	return Params{
		SlashBps:        1000, // 10%
		ProtocolFeeBps:  250,  // 2.5%
		GraceFee:        math.ZeroInt(),
		DisputeWindow:   30 * time.Minute,
		DisputeFallback: FallbackRefundConsumer,
		ReputationStep:  5,

		UnbondingPeriod: 72 * time.Hour,
		TierThresholds: []TierThreshold{
			{Tier: 3, MinLocked: math.NewInt(100_000)},
			{Tier: 2, MinLocked: math.NewInt(10_000)},
			{Tier: 1, MinLocked: math.NewInt(1_000)},
		},

		HeartbeatFreshness: 90 * time.Second,
		AbsenceWindow:      15 * time.Minute,

		AssignmentTimeout: 10 * time.Minute,
		MaxReassignments:  3,
		MatchBackoffBase:  time.Second,
		MatchBackoffMax:   5 * time.Minute,

		RetentionWindow: 24 * time.Hour,
	}
}

// Validate checks internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.SlashBps > 10_000 {
		return fmt.Errorf("slash_bps %d exceeds 10000", p.SlashBps)
	}
	if p.ProtocolFeeBps > 10_000 {
		return fmt.Errorf("protocol_fee_bps %d exceeds 10000", p.ProtocolFeeBps)
	}
	if p.GraceFee.IsNil() || p.GraceFee.IsNegative() {
		return fmt.Errorf("grace_fee must be a non-negative amount")
	}
	if p.DisputeWindow <= 0 {
		return fmt.Errorf("dispute_window must be positive")
	}
	switch p.DisputeFallback {
	case FallbackRefundConsumer, FallbackPayWorker:
	default:
		return fmt.Errorf("unknown dispute_fallback %q", p.DisputeFallback)
	}
	if p.UnbondingPeriod <= 0 {
		return fmt.Errorf("unbonding_period must be positive")
	}
	if len(p.TierThresholds) == 0 {
		return fmt.Errorf("tier_thresholds must not be empty")
	}
	for i, t := range p.TierThresholds {
		if t.Tier <= 0 {
			return fmt.Errorf("tier_thresholds[%d]: tier must be positive", i)
		}
		if t.MinLocked.IsNil() || !t.MinLocked.IsPositive() {
			return fmt.Errorf("tier_thresholds[%d]: min_locked must be positive", i)
		}
		if i > 0 && t.MinLocked.GTE(p.TierThresholds[i-1].MinLocked) {
			return fmt.Errorf("tier_thresholds must be sorted by min_locked descending")
		}
	}
	if p.HeartbeatFreshness <= 0 || p.AbsenceWindow <= p.HeartbeatFreshness {
		return fmt.Errorf("absence_window must exceed heartbeat_freshness")
	}
	if p.AssignmentTimeout <= 0 {
		return fmt.Errorf("assignment_timeout must be positive")
	}
	if p.MaxReassignments < 0 {
		return fmt.Errorf("max_reassignments must be non-negative")
	}
	if p.MatchBackoffBase <= 0 || p.MatchBackoffMax < p.MatchBackoffBase {
		return fmt.Errorf("match backoff bounds are inconsistent")
	}
	if p.RetentionWindow <= 0 {
		return fmt.Errorf("retention_window must be positive")
	}
	return nil
}

// TierFor derives the tier for a locked amount against the threshold table.
// Pure function; recomputed on every stake mutation, never cached.
func (p Params) TierFor(locked math.Int) int {
	if locked.IsNil() {
		return 0
	}
	for _, t := range p.TierThresholds {
		if locked.GTE(t.MinLocked) {
			return t.Tier
		}
	}
	return 0
}

// SlashAmount computes the slash for a locked balance, capped at the balance.
func (p Params) SlashAmount(locked math.Int) math.Int {
	if locked.IsNil() || !locked.IsPositive() {
		return math.ZeroInt()
	}
	cut := locked.MulRaw(int64(p.SlashBps)).QuoRaw(10_000)
	if cut.GT(locked) {
		return locked
	}
	return cut
}

// FeeFor computes the protocol fee carved out of an escrow payout.
func (p Params) FeeFor(escrow math.Int) math.Int {
	if escrow.IsNil() || !escrow.IsPositive() {
		return math.ZeroInt()
	}
	return escrow.MulRaw(int64(p.ProtocolFeeBps)).QuoRaw(10_000)
}
