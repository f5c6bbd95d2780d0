package types

import (
	"time"

	"cosmossdk.io/math"
)

// Event is a typed fact emitted by the core after a state change commits.
// Events fan out to the API websocket feed and the archive store; they are
// advisory and never feed back into the state machine.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// EventJobCreated fires when a job enters the ledger.
type EventJobCreated struct {
	At  time.Time `json:"at"`
	Job Job       `json:"job"`
}

func (EventJobCreated) EventType() string       { return "job_created" }
func (e EventJobCreated) OccurredAt() time.Time { return e.At }

// EventJobFunded fires once escrow is confirmed locked.
type EventJobFunded struct {
	At      time.Time `json:"at"`
	JobID   JobID     `json:"job_id"`
	Amount  math.Int  `json:"amount"`
	Receipt string    `json:"receipt"`
}

func (EventJobFunded) EventType() string       { return "job_funded" }
func (e EventJobFunded) OccurredAt() time.Time { return e.At }

// EventAssigned fires on every successful (re)assignment.
type EventAssigned struct {
	At         time.Time  `json:"at"`
	Assignment Assignment `json:"assignment"`
}

func (EventAssigned) EventType() string       { return "assigned" }
func (e EventAssigned) OccurredAt() time.Time { return e.At }

// EventAssignmentTimedOut fires when the timeout sweep supersedes an assignment.
type EventAssignmentTimedOut struct {
	At         time.Time  `json:"at"`
	Assignment Assignment `json:"assignment"`
}

func (EventAssignmentTimedOut) EventType() string       { return "assignment_timed_out" }
func (e EventAssignmentTimedOut) OccurredAt() time.Time { return e.At }

// EventSettled fires when a settlement record is written.
type EventSettled struct {
	At     time.Time        `json:"at"`
	Record SettlementRecord `json:"record"`
}

func (EventSettled) EventType() string       { return "settled" }
func (e EventSettled) OccurredAt() time.Time { return e.At }

// EventSlashed fires when the registry slashes a worker.
type EventSlashed struct {
	At     time.Time   `json:"at"`
	Record SlashRecord `json:"record"`
}

func (EventSlashed) EventType() string       { return "slashed" }
func (e EventSlashed) OccurredAt() time.Time { return e.At }

// EventJobExpired fires when a job runs out of reassignment budget or time.
type EventJobExpired struct {
	At     time.Time `json:"at"`
	JobID  JobID     `json:"job_id"`
	Refund math.Int  `json:"refund"`
}

func (EventJobExpired) EventType() string       { return "job_expired" }
func (e EventJobExpired) OccurredAt() time.Time { return e.At }

// EventJobCancelled fires on a pre-assignment cancellation.
type EventJobCancelled struct {
	At    time.Time `json:"at"`
	JobID JobID     `json:"job_id"`
}

func (EventJobCancelled) EventType() string       { return "job_cancelled" }
func (e EventJobCancelled) OccurredAt() time.Time { return e.At }

// EventWorkerAged fires when the directory drops a worker for prolonged absence.
type EventWorkerAged struct {
	At       time.Time `json:"at"`
	WorkerID WorkerID  `json:"worker_id"`
}

func (EventWorkerAged) EventType() string       { return "worker_aged_out" }
func (e EventWorkerAged) OccurredAt() time.Time { return e.At }
