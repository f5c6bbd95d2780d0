package settle

import (
	"context"

	"github.com/gridmesh/gridmesh/core/types"
)

// Verifier is the external proof-verification collaborator. It may be
// arbitrarily slow or failing; the engine never holds a job lock across a
// Verify call and maps errors to an inconclusive verdict.
type Verifier interface {
	Verify(ctx context.Context, att types.Attestation) (types.VerificationResult, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, att types.Attestation) (types.VerificationResult, error)

func (f VerifierFunc) Verify(ctx context.Context, att types.Attestation) (types.VerificationResult, error) {
	return f(ctx, att)
}

// AttestedResultVerifier trusts the result claimed in the attestation. It is
// the wiring default when no external verifier is configured; real
// deployments point Verify at the proof system.
type AttestedResultVerifier struct{}

func (AttestedResultVerifier) Verify(_ context.Context, att types.Attestation) (types.VerificationResult, error) {
	if !att.Result.Valid() {
		return types.VerificationInconclusive, nil
	}
	return att.Result, nil
}
