package types

import (
	"time"

	"cosmossdk.io/math"
)

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobStatusCreated   JobStatus = "created"
	JobStatusFunded    JobStatus = "funded"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusExecuting JobStatus = "executing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDisputed  JobStatus = "disputed"
	JobStatusExpired   JobStatus = "expired"
	JobStatusCancelled JobStatus = "cancelled"
)

// legalTransitions is the authoritative transition table. Reassignment after
// timeout is the only self-edge (Assigned->Assigned, Executing->Assigned) and
// is additionally guarded by the epoch counter.
var legalTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusCreated: {
		JobStatusFunded:    true,
		JobStatusCancelled: true,
	},
	JobStatusFunded: {
		JobStatusAssigned:  true,
		JobStatusCancelled: true,
		JobStatusExpired:   true,
	},
	JobStatusAssigned: {
		JobStatusExecuting: true,
		JobStatusAssigned:  true, // reassignment on timeout
		JobStatusCompleted: true,
		JobStatusDisputed:  true,
		JobStatusExpired:   true,
	},
	JobStatusExecuting: {
		JobStatusCompleted: true,
		JobStatusDisputed:  true,
		JobStatusAssigned:  true, // reassignment on timeout
		JobStatusExpired:   true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to JobStatus) bool {
	return legalTransitions[from][to]
}

// IsTerminal reports whether the status admits no further transitions.
// Disputed jobs are terminal once their settlement record is written; the
// ledger treats Disputed as closed to assignment either way.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDisputed, JobStatusExpired, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the coordinator's record of one compute job. Owned exclusively by
// the job ledger; all mutation goes through ledger transitions.
type Job struct {
	ID           JobID        `json:"id"`
	Requester    string       `json:"requester"`
	Requirements Requirements `json:"requirements"`
	// PayloadRef is an opaque content hash pointing at the job input; the
	// coordinator never holds the payload itself.
	PayloadRef string    `json:"payload_ref"`
	Escrow     math.Int  `json:"escrow"`
	Status     JobStatus `json:"status"`
	// Epoch increases on every successful assignment; stale writers lose.
	Epoch         uint64     `json:"epoch"`
	EscrowReceipt string     `json:"escrow_receipt,omitempty"`
	Reassignments int        `json:"reassignments"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

// IsTerminal reports whether the job's current status admits no further
// transitions.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep-enough copy safe to hand outside the ledger.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Requirements.Tags = j.Requirements.Tags.Clone()
	if j.SettledAt != nil {
		t := *j.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}
