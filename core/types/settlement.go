package types

import (
	"time"

	"cosmossdk.io/math"
)

// Disposition is the final outcome of a settled job.
type Disposition string

const (
	DispositionPaid     Disposition = "paid"
	DispositionRefunded Disposition = "refunded"
	DispositionDisputed Disposition = "disputed"
	DispositionSlashed  Disposition = "slashed"
)

// SettlementRecord is the immutable terminal record for a job. Escrow
// conservation holds per record: Payout + Refund + Fee equals the job's
// escrow at creation.
type SettlementRecord struct {
	JobID        JobID        `json:"job_id"`
	AssignmentID AssignmentID `json:"assignment_id,omitempty"`
	WorkerID     WorkerID     `json:"worker_id,omitempty"`
	Disposition  Disposition  `json:"disposition"`
	Payout       math.Int     `json:"payout"`
	Refund       math.Int     `json:"refund"`
	Fee          math.Int     `json:"fee"`
	Slashed      math.Int     `json:"slashed"`
	SettledAt    time.Time    `json:"settled_at"`
}
