// Package fx provides the FX conversion capability a strategy may attach
// when its source and target markets are priced in different quote
// currencies. A Provider is asked for a rate on demand; if none is ready
// yet, Rate reports not-ok and the caller (order-back) reschedules.
package fx

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Provider yields a conversion rate from source quote currency to target
// quote currency.
type Provider interface {
	Rate() (decimal.Decimal, bool)
}

// Static is a Provider with a fixed, externally set rate — used for
// pegged currency pairs or tests. It is not ready until SetRate is called
// at least once, so the first hedge after startup correctly observes
// FxUnavailable if no rate was configured.
type Static struct {
	mu    sync.RWMutex
	rate  decimal.Decimal
	ready bool
}

// NewStatic returns a provider with no rate set.
func NewStatic() *Static {
	return &Static{}
}

// SetRate installs a new conversion rate.
func (s *Static) SetRate(rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	s.ready = true
}

// Rate implements Provider.
func (s *Static) Rate() (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate, s.ready
}

// Apply converts an amount expressed in source quote currency into target
// quote currency.
func Apply(rate decimal.Decimal, sourceQuoteAmount decimal.Decimal) decimal.Decimal {
	return sourceQuoteAmount.Div(rate)
}
