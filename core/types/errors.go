package types

import (
	sdkerrors "cosmossdk.io/errors"
)

// Codespace scopes the coordinator sentinel errors.
const Codespace = "gridmesh"

// Coordinator sentinel errors. Codes are stable; do not renumber.
var (
	// Protocol/programmer errors. Never retried, always surfaced for audit.
	ErrIllegalTransition = sdkerrors.Register(Codespace, 2, "illegal job transition")

	// Caller errors. Surfaced to the initiating party.
	ErrInsufficientFunds = sdkerrors.Register(Codespace, 3, "insufficient escrow funds")
	ErrInsufficientStake = sdkerrors.Register(Codespace, 4, "insufficient stake")
	ErrInvalidRequest    = sdkerrors.Register(Codespace, 5, "invalid request")

	// Expected concurrency contention. Retried by the dispatcher.
	ErrStaleEpoch = sdkerrors.Register(Codespace, 6, "stale assignment epoch")

	// Transient matching/verification friction. Requeued or policy-resolved.
	ErrNoEligibleWorker         = sdkerrors.Register(Codespace, 7, "no eligible worker")
	ErrVerificationInconclusive = sdkerrors.Register(Codespace, 8, "verification inconclusive")

	// Lookup failures.
	ErrJobNotFound        = sdkerrors.Register(Codespace, 10, "job not found")
	ErrWorkerNotFound     = sdkerrors.Register(Codespace, 11, "worker not found")
	ErrAssignmentNotFound = sdkerrors.Register(Codespace, 12, "assignment not found")
	ErrStakeNotFound      = sdkerrors.Register(Codespace, 13, "stake account not found")

	// Escrow collaborator failures. Authoritative, never silently retried.
	ErrEscrowLock    = sdkerrors.Register(Codespace, 20, "escrow lock failed")
	ErrEscrowRelease = sdkerrors.Register(Codespace, 21, "escrow release failed")
	ErrEscrowRefund  = sdkerrors.Register(Codespace, 22, "escrow refund failed")

	// Unstake lifecycle.
	ErrUnbondingNotElapsed = sdkerrors.Register(Codespace, 30, "unbonding cooldown not elapsed")
	ErrUnstakeHeld         = sdkerrors.Register(Codespace, 31, "unstake held by active assignment")
	ErrNoPendingUnstake    = sdkerrors.Register(Codespace, 32, "no pending unstake request")
)
