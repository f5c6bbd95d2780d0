package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to JobStatus }{
		{JobStatusCreated, JobStatusFunded},
		{JobStatusCreated, JobStatusCancelled},
		{JobStatusFunded, JobStatusAssigned},
		{JobStatusFunded, JobStatusCancelled},
		{JobStatusFunded, JobStatusExpired},
		{JobStatusAssigned, JobStatusExecuting},
		{JobStatusAssigned, JobStatusAssigned},
		{JobStatusAssigned, JobStatusCompleted},
		{JobStatusAssigned, JobStatusDisputed},
		{JobStatusAssigned, JobStatusExpired},
		{JobStatusExecuting, JobStatusCompleted},
		{JobStatusExecuting, JobStatusDisputed},
		{JobStatusExecuting, JobStatusAssigned},
		{JobStatusExecuting, JobStatusExpired},
	}
	for _, e := range legal {
		require.True(t, CanTransition(e.from, e.to), "%s -> %s should be legal", e.from, e.to)
	}

	illegal := []struct{ from, to JobStatus }{
		{JobStatusCreated, JobStatusAssigned},
		{JobStatusCreated, JobStatusCompleted},
		{JobStatusFunded, JobStatusCompleted},
		{JobStatusFunded, JobStatusExecuting},
		{JobStatusAssigned, JobStatusCancelled},
		{JobStatusExecuting, JobStatusCancelled},
		{JobStatusCompleted, JobStatusAssigned},
		{JobStatusDisputed, JobStatusAssigned},
		{JobStatusExpired, JobStatusFunded},
		{JobStatusCancelled, JobStatusFunded},
	}
	for _, e := range illegal {
		require.False(t, CanTransition(e.from, e.to), "%s -> %s should be illegal", e.from, e.to)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusDisputed, JobStatusExpired, JobStatusCancelled} {
		require.True(t, s.IsTerminal())
	}
	for _, s := range []JobStatus{JobStatusCreated, JobStatusFunded, JobStatusAssigned, JobStatusExecuting} {
		require.False(t, s.IsTerminal())
	}
	require.True(t, (&Job{Status: JobStatusCompleted}).IsTerminal())
	require.False(t, (&Job{Status: JobStatusExecuting}).IsTerminal())
}

func TestJobCloneIsolation(t *testing.T) {
	job := &Job{
		ID:     NewJobID(),
		Status: JobStatusFunded,
		Requirements: Requirements{
			MinTier: 1,
			Tags:    NewCapabilitySet("gpu"),
		},
	}
	cp := job.Clone()
	cp.Requirements.Tags["tee"] = struct{}{}
	require.False(t, job.Requirements.Tags.Contains("tee"))
}

func TestClampReputation(t *testing.T) {
	require.Equal(t, ReputationMax, ClampReputation(1000))
	require.Equal(t, ReputationMin, ClampReputation(-5))
	require.Equal(t, 42, ClampReputation(42))
}
