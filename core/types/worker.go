package types

import "time"

// Reputation score bounds. Scores move only on settlement outcomes.
const (
	ReputationMin     = 0
	ReputationMax     = 100
	ReputationInitial = 50
)

// ClampReputation bounds a score into [ReputationMin, ReputationMax].
func ClampReputation(score int) int {
	if score < ReputationMin {
		return ReputationMin
	}
	if score > ReputationMax {
		return ReputationMax
	}
	return score
}

// Worker is the directory's view of one worker node. The directory is a
// cache: tier comes from the stake registry at query time, never from here.
type Worker struct {
	ID            WorkerID      `json:"id"`
	PublicKey     []byte        `json:"public_key"`
	Capabilities  CapabilitySet `json:"capabilities"`
	Reputation    int           `json:"reputation"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	LastAssigned  time.Time     `json:"last_assigned"`
	RegisteredAt  time.Time     `json:"registered_at"`
}

// Clone returns an independent copy safe to hand outside the directory.
func (w *Worker) Clone() *Worker {
	cp := *w
	cp.Capabilities = w.Capabilities.Clone()
	cp.PublicKey = append([]byte(nil), w.PublicKey...)
	return &cp
}
