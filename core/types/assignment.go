package types

import "time"

// AssignmentStatus tracks one assignment's fate. A job has at most one
// active assignment; superseded ones remain as history.
type AssignmentStatus string

const (
	AssignmentActive     AssignmentStatus = "active"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentRejected   AssignmentStatus = "rejected"
	AssignmentTimedOut   AssignmentStatus = "timed_out"
	AssignmentSuperseded AssignmentStatus = "superseded"
)

// Assignment binds a job to a worker for one attempt. It holds identifiers,
// never owning references, so job/worker/assignment lifetimes stay untangled.
type Assignment struct {
	ID         AssignmentID     `json:"id"`
	JobID      JobID            `json:"job_id"`
	WorkerID   WorkerID         `json:"worker_id"`
	Epoch      uint64           `json:"epoch"`
	Status     AssignmentStatus `json:"status"`
	AssignedAt time.Time        `json:"assigned_at"`
	Deadline   time.Time        `json:"deadline"`
}

// Expired reports whether the deadline has passed at the given instant.
func (a *Assignment) Expired(now time.Time) bool {
	return now.After(a.Deadline)
}
