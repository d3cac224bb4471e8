// Package wallet maintains a derived balance cache fed by balance-changed
// events. The cache is a reconcilable projection of the ledger for cheap
// reads; it is never authoritative, and the ledger's reconciliation
// report is the correctness check against it.
package wallet

import (
	"context"
	"sync"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/events"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
)

// Cache holds per-account total balances. It implements events.Publisher
// so it can be fanned out alongside other consumers, and the
// BalanceFetcher side consumed by reconciliation.
type Cache struct {
	mu       sync.RWMutex
	balances map[accountKey]int64
}

type accountKey struct {
	id    string
	atype models.AccountType
}

func NewCache() *Cache {
	return &Cache{balances: make(map[accountKey]int64)}
}

// PublishBalanceChanged applies the event's net delta to the cached total.
func (c *Cache) PublishBalanceChanged(evt events.BalanceChanged) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[accountKey{id: evt.AccountID, atype: evt.AccountType}] += evt.TotalDelta()
}

// Balance returns the cached total balance for an account. Unknown
// accounts report zero, matching an empty ledger.
func (c *Cache) Balance(ctx context.Context, accountID string, accountType models.AccountType) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances[accountKey{id: accountID, atype: accountType}], nil
}

// Invalidate drops the cached balance for an account so the next
// projection rebuild starts from zero.
func (c *Cache) Invalidate(accountID string, accountType models.AccountType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, accountKey{id: accountID, atype: accountType})
}

// Set overwrites the cached balance, used when seeding the projection
// from a snapshot.
func (c *Cache) Set(accountID string, accountType models.AccountType, balance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[accountKey{id: accountID, atype: accountType}] = balance
}
