package types

import (
	"time"

	"cosmossdk.io/math"
)

// Wire messages exchanged with workers over the P2P transport. Delivery is
// neither ordered nor exactly-once; every message carries an ID the transport
// layer de-duplicates on.

// JobAnnouncement advertises a funded job to the network.
type JobAnnouncement struct {
	JobID        JobID        `json:"job_id"`
	Requirements Requirements `json:"requirements"`
	Escrow       math.Int     `json:"escrow"`
	Deadline     time.Time    `json:"deadline"`
}

// WorkerAdvertisement declares a worker's capabilities and claimed tier.
// The claimed tier is informational; matching always consults the registry.
type WorkerAdvertisement struct {
	WorkerID     WorkerID      `json:"worker_id"`
	PublicKey    []byte        `json:"public_key"`
	Capabilities CapabilitySet `json:"capabilities"`
	Tier         int           `json:"tier"`
	Signature    []byte        `json:"signature"`
}

// HeartbeatMessage refreshes a worker's liveness window.
type HeartbeatMessage struct {
	WorkerID WorkerID  `json:"worker_id"`
	SentAt   time.Time `json:"sent_at"`
}

// AssignmentOffer notifies a worker it has been matched to a job.
type AssignmentOffer struct {
	AssignmentID AssignmentID `json:"assignment_id"`
	JobID        JobID        `json:"job_id"`
	WorkerID     WorkerID     `json:"worker_id"`
	Epoch        uint64       `json:"epoch"`
	PayloadRef   string       `json:"payload_ref"`
	Deadline     time.Time    `json:"deadline"`
}

// AttestationMessage carries a worker's signed execution claim back to the
// settlement engine.
type AttestationMessage struct {
	AssignmentID AssignmentID       `json:"assignment_id"`
	JobID        JobID              `json:"job_id"`
	WorkerID     WorkerID           `json:"worker_id"`
	Result       VerificationResult `json:"result"`
	ProofRef     string             `json:"proof_ref"`
	Signature    []byte             `json:"signature"`
}
