package coordinator

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/transport"
)

// registerHandlers binds inbound worker messages to core operations.
func (c *Coordinator) registerHandlers() {
	c.router.Handle(transport.MsgAdvertise, c.handleAdvertise)
	c.router.Handle(transport.MsgHeartbeat, c.handleHeartbeat)
	c.router.Handle(transport.MsgAttestation, c.handleAttestation)
}

func (c *Coordinator) handleAdvertise(_ context.Context, env transport.Envelope) error {
	var adv types.WorkerAdvertisement
	if err := env.Decode(&adv); err != nil {
		return fmt.Errorf("malformed advertisement: %w", err)
	}
	if len(adv.PublicKey) != ed25519.PublicKeySize {
		return types.ErrInvalidRequest.Wrap("advertisement public key has wrong size")
	}
	if !env.VerifySignature(ed25519.PublicKey(adv.PublicKey)) {
		return types.ErrInvalidRequest.Wrapf("advertisement signature check failed for %s", adv.WorkerID)
	}
	// The claimed tier in the advertisement is ignored; matching consults
	// the stake registry directly.
	return c.dir.Advertise(adv.WorkerID, adv.PublicKey, adv.Capabilities)
}

func (c *Coordinator) handleHeartbeat(_ context.Context, env transport.Envelope) error {
	var hb types.HeartbeatMessage
	if err := env.Decode(&hb); err != nil {
		return fmt.Errorf("malformed heartbeat: %w", err)
	}
	pub, err := c.dir.PublicKey(hb.WorkerID)
	if err != nil {
		return err
	}
	if !env.VerifySignature(ed25519.PublicKey(pub)) {
		return types.ErrInvalidRequest.Wrapf("heartbeat signature check failed for %s", hb.WorkerID)
	}
	return c.dir.Heartbeat(hb.WorkerID)
}

func (c *Coordinator) handleAttestation(_ context.Context, env transport.Envelope) error {
	var msg types.AttestationMessage
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("malformed attestation: %w", err)
	}
	pub, err := c.dir.PublicKey(msg.WorkerID)
	if err != nil {
		return err
	}
	if !env.VerifySignature(ed25519.PublicKey(pub)) {
		return types.ErrInvalidRequest.Wrapf("attestation signature check failed for %s", msg.WorkerID)
	}
	return c.engine.Submit(types.Attestation{
		AssignmentID: msg.AssignmentID,
		JobID:        msg.JobID,
		WorkerID:     msg.WorkerID,
		Result:       msg.Result,
		ProofRef:     msg.ProofRef,
		Signature:    msg.Signature,
		SubmittedAt:  env.SentAt,
	})
}

// SendOffer notifies a matched worker. Best-effort: a lost offer is repaired
// by the assignment timeout sweep.
func (c *Coordinator) SendOffer(ctx context.Context, offer types.AssignmentOffer) error {
	if c.sender == nil {
		return nil
	}
	env, err := transport.NewEnvelope(transport.MsgAssignmentOffer, c.address, offer)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, offer.WorkerID.String(), env)
}

// announce broadcasts a funded job so idle workers can prepare bids.
func (c *Coordinator) announce(ctx context.Context, job *types.Job) {
	if c.sender == nil {
		return
	}
	ann := types.JobAnnouncement{
		JobID:        job.ID,
		Requirements: job.Requirements,
		Escrow:       job.Escrow,
		Deadline:     job.ExpiresAt,
	}
	env, err := transport.NewEnvelope(transport.MsgJobAnnouncement, c.address, ann)
	if err != nil {
		c.logger.Error("failed to build job announcement", "job_id", job.ID, "error", err)
		return
	}
	if err := c.sender.Broadcast(ctx, env); err != nil {
		c.logger.Warn("job announcement broadcast failed", "job_id", job.ID, "error", err)
	}
}
