// Package transport carries coordinator wire messages to and from workers.
// Delivery is assumed neither ordered nor exactly-once: every envelope has a
// message ID the router de-duplicates on, and payload signatures bind
// messages to the worker keys the directory knows.
package transport

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType tags an envelope's payload.
type MessageType string

const (
	MsgAdvertise   MessageType = "worker/advertise"
	MsgHeartbeat   MessageType = "worker/heartbeat"
	MsgAttestation MessageType = "worker/attestation"

	MsgJobAnnouncement MessageType = "coord/job-announcement"
	MsgAssignmentOffer MessageType = "coord/assignment-offer"
)

// Envelope wraps one wire message.
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	SentAt    time.Time       `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature,omitempty"`
}

// NewEnvelope wraps a payload value into a signed-ready envelope.
func NewEnvelope(msgType MessageType, from string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      uuid.NewString(),
		Type:    msgType,
		From:    from,
		SentAt:  time.Now().UTC(),
		Payload: raw,
	}, nil
}

// Sign attaches an ed25519 signature over the payload bytes.
func (e *Envelope) Sign(key ed25519.PrivateKey) {
	e.Signature = ed25519.Sign(key, e.Payload)
}

// VerifySignature checks the payload signature against a worker public key.
// Envelopes without a signature fail closed.
func (e *Envelope) VerifySignature(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(e.Signature) == 0 {
		return false
	}
	return ed25519.Verify(pub, e.Payload, e.Signature)
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
