// Package account holds the Account value and its balance cache. The
// account's executor and websocket connections are owned and looked up by
// the reactor via the account's id, not embedded here, keeping the
// account/market/strategy graph acyclic (see spec Design Notes on
// replacing cyclic references with integer-handle arenas).
package account

import (
	"sync"

	"github.com/shopspring/decimal"

	"mirrormaker/pkg/types"
)

// Flags are the capability/behavior switches attached to an account.
type Flags struct {
	DryRun bool // ticks stop before scheduling; no actions are built or dispatched
}

// Account is one exchange credential set, as driven by one adapter
// instance.
type Account struct {
	mu sync.RWMutex

	ID         types.AccountId
	DriverName string
	Flags      Flags

	balances map[string]types.Balance
}

// New returns an account with an empty balance cache.
func New(id types.AccountId, driverName string, flags Flags) *Account {
	return &Account{
		ID:         id,
		DriverName: driverName,
		Flags:      flags,
		balances:   make(map[string]types.Balance),
	}
}

// Balance returns the cached balance for a currency, or the zero value if
// unknown.
func (a *Account) Balance(currency string) types.Balance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[currency]
}

// SetBalances replaces the entire cache, as done after a periodic refresh.
func (a *Account) SetBalances(balances []types.Balance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fresh := make(map[string]types.Balance, len(balances))
	for _, b := range balances {
		fresh[b.Currency] = b
	}
	a.balances = fresh
}

// Snapshot returns a copy of every cached balance, keyed by currency.
func (a *Account) Snapshot() map[string]types.Balance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]types.Balance, len(a.balances))
	for k, v := range a.balances {
		out[k] = v
	}
	return out
}

// Free returns the free amount of a currency, defaulting to zero.
func (a *Account) Free(currency string) decimal.Decimal {
	b := a.Balance(currency)
	if b.Currency == "" {
		return decimal.Zero
	}
	return b.Free
}
