// custody.go - Custody capability: the token transfer layer the pool
// controller drives but does not implement.

package pool

import (
	"errors"
	"math/big"
	"sync"
)

// Receipt identifies funds locked into pool custody by one deposit. The
// controller only uses it to roll back a deposit whose leaf insertion
// failed; withdrawals draw from the pooled vault with no receipt linkage,
// which is the point of the shielded design.
type Receipt struct {
	ID     uint64
	Amount uint64
}

// Custody moves value in and out of the pool vault. Token mechanics are
// out of scope; implementations may wrap any ledger or chain client.
type Custody interface {
	// Lock takes amount into pool custody and returns a rollback receipt.
	Lock(amount uint64) (Receipt, error)
	// Unlock returns locked funds to the depositor; deposit rollback only.
	Unlock(r Receipt) error
	// Release pays amount from the vault to the given address.
	Release(to *big.Int, amount uint64) error
}

// MemoryCustody is an in-process vault used by tests and single-node
// deployments.
type MemoryCustody struct {
	mu       sync.Mutex
	nextID   uint64
	locked   map[uint64]uint64
	vault    uint64
	balances map[string]uint64
}

// NewMemoryCustody creates an empty in-process vault.
func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{
		locked:   make(map[uint64]uint64),
		balances: make(map[string]uint64),
	}
}

func (c *MemoryCustody) Lock(amount uint64) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.locked[c.nextID] = amount
	c.vault += amount
	return Receipt{ID: c.nextID, Amount: amount}, nil
}

func (c *MemoryCustody) Unlock(r Receipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	amount, ok := c.locked[r.ID]
	if !ok {
		return errors.New("custody: unknown receipt")
	}
	delete(c.locked, r.ID)
	c.vault -= amount
	return nil
}

func (c *MemoryCustody) Release(to *big.Int, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amount > c.vault {
		return errors.New("custody: vault balance insufficient")
	}
	c.vault -= amount
	c.balances[to.Text(16)] += amount
	return nil
}

// BalanceOf returns the released balance of an address.
func (c *MemoryCustody) BalanceOf(addr *big.Int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[addr.Text(16)]
}

// VaultBalance returns the funds currently held in pool custody.
func (c *MemoryCustody) VaultBalance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vault
}
