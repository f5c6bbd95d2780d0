package escrow

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// MemLedger is an in-process escrow ledger. It backs tests and single-node
// deployments that run without a chain connection; the accounting is exact so
// conservation properties can be asserted against it.
type MemLedger struct {
	mu       sync.Mutex
	balances map[string]math.Int // account -> spendable balance
	locks    map[string]*memLock
}

type memLock struct {
	funder    string
	remaining math.Int
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances: make(map[string]math.Int),
		locks:    make(map[string]*memLock),
	}
}

// Credit funds an account. Test and faucet path only.
func (m *MemLedger) Credit(account string, amount math.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = m.balanceLocked(account).Add(amount)
}

// Balance returns an account's spendable balance.
func (m *MemLedger) Balance(account string) math.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(account)
}

// Locked returns the remaining locked balance under a receipt, zero if spent.
func (m *MemLedger) Locked(receiptID string) math.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[receiptID]; ok {
		return l.remaining
	}
	return math.ZeroInt()
}

// Lock escrows amount from funder's spendable balance.
func (m *MemLedger) Lock(_ context.Context, funder string, amount math.Int) (Receipt, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return Receipt{}, fmt.Errorf("lock amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balanceLocked(funder)
	if bal.LT(amount) {
		return Receipt{}, fmt.Errorf("account %s holds %s, cannot lock %s", funder, bal, amount)
	}
	m.balances[funder] = bal.Sub(amount)

	id := uuid.NewString()
	m.locks[id] = &memLock{funder: funder, remaining: amount}
	return Receipt{ID: id, Amount: amount}, nil
}

// Release pays amount from the lock's remaining balance to recipient.
func (m *MemLedger) Release(_ context.Context, receiptID, recipient string, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("release amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[receiptID]
	if !ok {
		return fmt.Errorf("unknown escrow receipt %s", receiptID)
	}
	if l.remaining.LT(amount) {
		return fmt.Errorf("receipt %s holds %s, cannot release %s", receiptID, l.remaining, amount)
	}
	l.remaining = l.remaining.Sub(amount)
	m.balances[recipient] = m.balanceLocked(recipient).Add(amount)
	if l.remaining.IsZero() {
		delete(m.locks, receiptID)
	}
	return nil
}

// Refund returns the lock's remaining balance to the funder.
func (m *MemLedger) Refund(_ context.Context, receiptID string) (math.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[receiptID]
	if !ok {
		return math.ZeroInt(), fmt.Errorf("unknown escrow receipt %s", receiptID)
	}
	refunded := l.remaining
	m.balances[l.funder] = m.balanceLocked(l.funder).Add(refunded)
	delete(m.locks, receiptID)
	return refunded, nil
}

func (m *MemLedger) balanceLocked(account string) math.Int {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return math.ZeroInt()
}
