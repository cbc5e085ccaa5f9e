package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyCap_ReserveAndRelease(t *testing.T) {
	c := NewDailyCap()
	ctx := context.Background()
	seeds := 0
	seed := func(context.Context) (int, error) { seeds++; return 1, nil }

	r1, ok, err := c.Reserve(ctx, "u1", "2026-03-10", 2, seed)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Reserve(ctx, "u1", "2026-03-10", 2, seed)
	require.NoError(t, err)
	assert.False(t, ok, "seeded 1 + reserved 1 reaches max 2")

	r1(false)
	r1(false) // second release is a no-op
	used, _ := c.Used("u1", "2026-03-10")
	assert.Equal(t, 1, used)
	assert.Equal(t, 1, seeds)
}

func TestDailyCap_SeedError(t *testing.T) {
	c := NewDailyCap()
	_, ok, err := c.Reserve(context.Background(), "u1", "2026-03-10", 3, func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDailyCap_DaysCountedSeparately(t *testing.T) {
	c := NewDailyCap()
	ctx := context.Background()
	ledger := map[string]int{"2026-03-10": 2, "2026-03-11": 0}
	seedFor := func(day string) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return ledger[day], nil }
	}

	_, ok, err := c.Reserve(ctx, "u1", "2026-03-10", 3, seedFor("2026-03-10"))
	require.NoError(t, err)
	require.True(t, ok)

	// the next local day starts from its own ledger count
	_, ok, err = c.Reserve(ctx, "u1", "2026-03-11", 3, seedFor("2026-03-11"))
	require.NoError(t, err)
	require.True(t, ok)
	used, known := c.Used("u1", "2026-03-11")
	require.True(t, known)
	assert.Equal(t, 1, used)

	// a late send for the earlier day re-reads the ledger instead of being
	// refused against the newer day's count
	_, stale := c.Used("u1", "2026-03-10")
	assert.False(t, stale, "earlier days are pruned")
	ledger["2026-03-10"] = 3
	_, ok, err = c.Reserve(ctx, "u1", "2026-03-10", 3, seedFor("2026-03-10"))
	require.NoError(t, err)
	assert.False(t, ok, "ledger already holds 3 alerts for the day")

	ledger["2026-03-10"] = 1
	c2 := NewDailyCap()
	_, ok, err = c2.Reserve(ctx, "u1", "2026-03-11", 3, seedFor("2026-03-11"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = c2.Reserve(ctx, "u1", "2026-03-10", 3, seedFor("2026-03-10"))
	require.NoError(t, err)
	assert.True(t, ok)
	used, _ = c2.Used("u1", "2026-03-11")
	assert.Equal(t, 1, used, "an earlier day does not prune a later one")
}

func TestDailyCap_ConcurrentReservesRespectMax(t *testing.T) {
	c := NewDailyCap()
	ctx := context.Background()
	seed := func(context.Context) (int, error) { return 0, nil }

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.Reserve(ctx, "u1", "2026-03-10", 3, seed)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, granted)
}
