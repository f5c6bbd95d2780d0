package types

import (
	"fmt"

	"github.com/google/uuid"
)

// JobID uniquely identifies a job across the network.
type JobID string

// NewJobID generates a random job identifier.
func NewJobID() JobID {
	return JobID(uuid.NewString())
}

// ParseJobID validates and converts a string into a JobID.
func ParseJobID(s string) (JobID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return JobID(id.String()), nil
}

func (id JobID) String() string { return string(id) }

// WorkerID uniquely identifies a worker node.
type WorkerID string

// NewWorkerID generates a random worker identifier.
func NewWorkerID() WorkerID {
	return WorkerID(uuid.NewString())
}

// ParseWorkerID validates and converts a string into a WorkerID.
func ParseWorkerID(s string) (WorkerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid worker id %q: %w", s, err)
	}
	return WorkerID(id.String()), nil
}

func (id WorkerID) String() string { return string(id) }

// AssignmentID uniquely identifies one job-to-worker assignment.
type AssignmentID string

// NewAssignmentID generates a random assignment identifier.
func NewAssignmentID() AssignmentID {
	return AssignmentID(uuid.NewString())
}

func (id AssignmentID) String() string { return string(id) }
