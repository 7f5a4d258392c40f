package currency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource supplies exchange rates relative to USD, so rates["USD"] is
// always 1 and rates["BDT"] is how many BDT one USD buys.
type RateSource interface {
	Rates(ctx context.Context) (map[string]float64, error)
}

// Cache wraps a RateSource with a TTL. The clock is injectable so expiry
// can be tested without sleeping.
type Cache struct {
	source RateSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	rates     map[string]float64
	fetchedAt time.Time
}

// NewCache creates a rate cache over source with the given TTL.
func NewCache(source RateSource, ttl time.Duration) *Cache {
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewCacheWithClock is NewCache with an injected clock.
func NewCacheWithClock(source RateSource, ttl time.Duration, now func() time.Time) *Cache {
	c := NewCache(source, ttl)
	c.now = now
	return c
}

func (c *Cache) fresh() (map[string]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rates == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.rates, true
}

func (c *Cache) refresh(ctx context.Context) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have refreshed while we waited for the lock
	if c.rates != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.rates, nil
	}
	rates, err := c.source.Rates(ctx)
	if err != nil {
		// Serve stale rates over failing hard
		if c.rates != nil {
			return c.rates, nil
		}
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}
	c.rates = rates
	c.fetchedAt = c.now()
	return c.rates, nil
}

// Rate returns the USD-relative rate for a currency code.
func (c *Cache) Rate(ctx context.Context, code string) (float64, error) {
	if code == "USD" {
		return 1, nil
	}
	rates, ok := c.fresh()
	if !ok {
		var err error
		rates, err = c.refresh(ctx)
		if err != nil {
			return 0, err
		}
	}
	rate, ok := rates[code]
	if !ok {
		return 0, fmt.Errorf("no exchange rate for currency %q", code)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("exchange rate for %q is not positive", code)
	}
	return rate, nil
}

// Convert converts an amount between two currencies through USD, rounded
// to 2 decimal places.
func (c *Cache) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	if from == to {
		return amount, nil
	}
	fromRate, err := c.Rate(ctx, from)
	if err != nil {
		return 0, err
	}
	toRate, err := c.Rate(ctx, to)
	if err != nil {
		return 0, err
	}
	result := decimal.NewFromFloat(amount).
		Div(decimal.NewFromFloat(fromRate)).
		Mul(decimal.NewFromFloat(toRate)).
		Round(2)
	f, _ := result.Float64()
	return f, nil
}

// Invalidate drops the cached rates so the next lookup refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = nil
}
