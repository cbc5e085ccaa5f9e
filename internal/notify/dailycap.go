package notify

import (
	"context"
	"sync"
)

// DailyCap counts alerts per (user, local day). A slot is reserved before a
// send and released if the send did not happen. Counts are seeded from the
// ledger the first time a (user, day) is seen by this process, so the cap
// holds across restarts but not across concurrent processes.
type DailyCap struct {
	mu sync.Mutex
	// user -> local day -> slots used
	used map[string]map[string]int
}

func NewDailyCap() *DailyCap {
	return &DailyCap{used: make(map[string]map[string]int)}
}

// Reserve claims one slot. seed is called without the lock held.
func (c *DailyCap) Reserve(ctx context.Context, userID, day string, max int, seed func(ctx context.Context) (int, error)) (release func(sent bool), ok bool, err error) {
	mustSeed := false
	for {
		seeded, hasSeed := 0, false
		if _, known := c.Used(userID, day); !known || mustSeed {
			if seeded, err = seed(ctx); err != nil {
				return nil, false, err
			}
			hasSeed = true
		}
		ok, retry := c.take(userID, day, max, seeded, hasSeed)
		if retry {
			// the day was pruned after the check above
			mustSeed = true
			continue
		}
		if !ok {
			return nil, false, nil
		}
		return c.releaser(userID, day), true, nil
	}
}

// take counts one slot. An unknown day starts from seeded, and prunes the
// user's earlier days; without a seed it asks the caller to retry.
func (c *DailyCap) take(userID, day string, max, seeded int, hasSeed bool) (ok, retry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	days := c.used[userID]
	if days == nil {
		days = make(map[string]int)
		c.used[userID] = days
	}
	n, known := days[day]
	if !known {
		if !hasSeed {
			return false, true
		}
		n = seeded
		for d := range days {
			if d < day {
				delete(days, d)
			}
		}
	}
	if n >= max {
		days[day] = n
		return false, false
	}
	days[day] = n + 1
	return true, false
}

func (c *DailyCap) releaser(userID, day string) func(sent bool) {
	var once sync.Once
	return func(sent bool) {
		once.Do(func() {
			if sent {
				return
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			if cur, ok := c.used[userID][day]; ok && cur > 0 {
				c.used[userID][day] = cur - 1
			}
		})
	}
}

// Used returns the slots taken for the day, or false if not seeded yet.
func (c *DailyCap) Used(userID, day string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.used[userID][day]
	return n, ok
}
