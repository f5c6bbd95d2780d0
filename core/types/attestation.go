package types

import "time"

// VerificationResult is the verdict the external proof verifier returns for
// an attestation. The coordinator consumes it as pass/fail/unknown.
type VerificationResult string

const (
	VerificationAccepted     VerificationResult = "accepted"
	VerificationRejected     VerificationResult = "rejected"
	VerificationInconclusive VerificationResult = "inconclusive"
)

// Valid reports whether the result is one of the three known verdicts.
func (r VerificationResult) Valid() bool {
	switch r {
	case VerificationAccepted, VerificationRejected, VerificationInconclusive:
		return true
	}
	return false
}

// Attestation is a worker's signed claim that it executed an assignment,
// backed by an external proof artifact. Consumed once by the settlement
// engine, then archived with the job.
type Attestation struct {
	AssignmentID AssignmentID       `json:"assignment_id"`
	JobID        JobID              `json:"job_id"`
	WorkerID     WorkerID           `json:"worker_id"`
	Result       VerificationResult `json:"result"`
	ProofRef     string             `json:"proof_ref"`
	Signature    []byte             `json:"signature"`
	SubmittedAt  time.Time          `json:"submitted_at"`
}
