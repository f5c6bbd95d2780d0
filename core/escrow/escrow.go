// Package escrow defines the coordinator's view of the on-chain ledger it
// locks job funds against. The chain itself is an external collaborator; a
// failed lock is authoritative and is never retried with a different amount.
package escrow

import (
	"context"

	"cosmossdk.io/math"
)

// Receipt proves funds are locked under an escrow identifier. The remaining
// balance is tracked ledger-side; the coordinator only holds the ID.
type Receipt struct {
	ID     string
	Amount math.Int
}

// Ledger is the escrow collaborator surface. Release may be called more than
// once per receipt for partial payouts (worker payout plus protocol fee);
// Refund returns whatever remains locked to the original funder.
type Ledger interface {
	// Lock escrows amount on behalf of funder and returns a receipt.
	Lock(ctx context.Context, funder string, amount math.Int) (Receipt, error)
	// Release pays amount from the receipt's remaining balance to recipient.
	Release(ctx context.Context, receiptID, recipient string, amount math.Int) error
	// Refund returns the receipt's remaining balance to the funder.
	Refund(ctx context.Context, receiptID string) (math.Int, error)
}
