package currency

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	rates map[string]float64
	err   error
	calls int
}

func (f *fakeSource) Rates(ctx context.Context) (map[string]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rates, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time        { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCacheServesWithinTTL(t *testing.T) {
	source := &fakeSource{rates: map[string]float64{"USD": 1, "BDT": 110}}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCacheWithClock(source, 5*time.Minute, clock.Now)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rate, err := cache.Rate(ctx, "BDT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rate != 110 {
			t.Errorf("expected 110, got %v", rate)
		}
		clock.Advance(time.Minute)
	}
	if source.calls != 1 {
		t.Errorf("expected 1 source call within TTL, got %d", source.calls)
	}
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	source := &fakeSource{rates: map[string]float64{"BDT": 110}}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCacheWithClock(source, 5*time.Minute, clock.Now)

	ctx := context.Background()
	if _, err := cache.Rate(ctx, "BDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source.rates = map[string]float64{"BDT": 120}
	clock.Advance(6 * time.Minute)

	rate, err := cache.Rate(ctx, "BDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 120 {
		t.Errorf("expected refreshed rate 120, got %v", rate)
	}
	if source.calls != 2 {
		t.Errorf("expected 2 source calls, got %d", source.calls)
	}
}

func TestCacheServesStaleOnSourceFailure(t *testing.T) {
	source := &fakeSource{rates: map[string]float64{"BDT": 110}}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCacheWithClock(source, 5*time.Minute, clock.Now)

	ctx := context.Background()
	if _, err := cache.Rate(ctx, "BDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source.err = errors.New("db down")
	clock.Advance(10 * time.Minute)

	rate, err := cache.Rate(ctx, "BDT")
	if err != nil {
		t.Fatalf("expected stale rate, got error: %v", err)
	}
	if rate != 110 {
		t.Errorf("expected stale 110, got %v", rate)
	}
}

func TestCacheFailsWhenNeverLoaded(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}
	cache := NewCache(source, 5*time.Minute)
	if _, err := cache.Rate(context.Background(), "BDT"); err == nil {
		t.Error("expected error when rates were never loaded")
	}
}

func TestCacheUSDAlwaysOne(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}
	cache := NewCache(source, 5*time.Minute)
	rate, err := cache.Rate(context.Background(), "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 1 {
		t.Errorf("expected 1, got %v", rate)
	}
	if source.calls != 0 {
		t.Error("USD lookup should not hit the source")
	}
}

func TestCacheUnknownCurrency(t *testing.T) {
	source := &fakeSource{rates: map[string]float64{"BDT": 110}}
	cache := NewCache(source, 5*time.Minute)
	if _, err := cache.Rate(context.Background(), "XYZ"); err == nil {
		t.Error("expected error for unknown currency")
	}
}

func TestConvert(t *testing.T) {
	source := &fakeSource{rates: map[string]float64{"USD": 1, "BDT": 110, "EUR": 0.9}}
	cache := NewCache(source, 5*time.Minute)
	ctx := context.Background()

	// 220 BDT -> 2 USD
	got, err := cache.Convert(ctx, 220, "BDT", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("expected 2, got %v", got)
	}

	// 10 USD -> 9 EUR
	got, err = cache.Convert(ctx, 10, "USD", "EUR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 9 {
		t.Errorf("expected 9, got %v", got)
	}

	// Same currency short-circuits
	got, err = cache.Convert(ctx, 42.42, "USD", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42.42 {
		t.Errorf("expected 42.42, got %v", got)
	}
}
