package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleDefinition() Definition {
	return Definition{
		Structure: "bull_call_spread",
		Legs: []Leg{
			{Instrument: "SPY 250620C00500000", Kind: "option", Side: SideBuy, Quantity: decimal.NewFromInt(1)},
			{Instrument: "SPY 250620C00510000", Kind: "option", Side: SideSell, Quantity: decimal.NewFromInt(1)},
		},
		NetDebit:  decimal.NewFromInt(400),
		MaxLoss:   decimal.NewFromInt(400),
		MaxProfit: decimal.NewFromInt(600),
	}
}

func newTestCache(clock *fakeClock, opts ...CacheOption) *Cache {
	return NewCache(append([]CacheOption{WithClock(clock.Now)}, opts...)...)
}

func TestCache_PutGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
	c := newTestCache(clock)

	id, err := c.Put("SPY", sampleDefinition())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	art, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "SPY", art.Symbol)
	assert.Equal(t, clock.Now().Add(DefaultTTL), art.ExpiresAt)
	assert.False(t, art.Consumed)
}

func TestCache_ExpiredIsIndistinguishableFromMissing(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(clock, WithTTL(time.Minute))
	id, err := c.Put("SPY", sampleDefinition())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, expiredErr := c.Get(id)
	_, missingErr := c.Get("no-such-id")
	assert.ErrorIs(t, expiredErr, ErrNotFound)
	assert.ErrorIs(t, missingErr, ErrNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConsumeExactlyOnce(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(clock)
	id, err := c.Put("SPY", sampleDefinition())
	require.NoError(t, err)

	var ok, already atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := c.Consume(id); {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, ErrAlreadyConsumed):
				already.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(31), already.Load())

	art, err := c.Get(id)
	require.NoError(t, err)
	assert.True(t, art.Consumed)
}

func TestCache_ConsumeAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(clock, WithTTL(time.Second))
	id, err := c.Put("SPY", sampleDefinition())
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, c.Consume(id), ErrExpired)
	assert.ErrorIs(t, c.Consume(id), ErrNotFound)
}

func TestCache_IDsAreWriteOnce(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(clock, WithIDSource(func() string { return "fixed" }))
	_, err := c.Put("SPY", sampleDefinition())
	require.NoError(t, err)
	_, err = c.Put("SPY", sampleDefinition())
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.True(t, c.Discard("fixed"))
	_, err = c.Put("SPY", sampleDefinition())
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestCache_SweepRemovesConsumedAndLive(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var evicted atomic.Int32
	c := newTestCache(clock, WithTTL(time.Minute), WithEvictHook(func(reason string, n int) {
		if reason == "expired" {
			evicted.Add(int32(n))
		}
	}))
	a, err := c.Put("SPY", sampleDefinition())
	require.NoError(t, err)
	_, err = c.Put("QQQ", sampleDefinition())
	require.NoError(t, err)
	require.NoError(t, c.Consume(a))

	assert.Equal(t, 0, c.Sweep(clock.Now()))
	clock.Advance(time.Minute)
	assert.Equal(t, 2, c.Sweep(clock.Now()))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(2), evicted.Load())
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	c := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDeclaredPricer_Validates(t *testing.T) {
	p := DeclaredPricer{}
	def := sampleDefinition()
	def.Structure = " Bull_Call_Spread "
	def.Legs[0].Side = "BUY"
	out, err := p.Price(context.Background(), "SPY", def)
	require.NoError(t, err)
	assert.Equal(t, "bull_call_spread", out.Structure)
	assert.Equal(t, SideBuy, out.Legs[0].Side)

	bad := sampleDefinition()
	bad.MaxLoss = decimal.Zero
	_, err = p.Price(context.Background(), "SPY", bad)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	bad = sampleDefinition()
	bad.Legs = nil
	_, err = p.Price(context.Background(), "SPY", bad)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}
