package ai

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// quota holds one token bucket per user.
type quota struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	counter  atomic.Int64
}

// newQuota returns nil (unlimited) when perMinute <= 0.
func newQuota(perMinute, burst int) *quota {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &quota{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}
}

func (q *quota) allow(userID string) bool {
	if q == nil {
		return true
	}
	return q.limiter(userID).Allow()
}

func (q *quota) limiter(userID string) *rate.Limiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.limiters[userID]
	if !ok {
		l = rate.NewLimiter(q.limit, q.burst)
		q.limiters[userID] = l
	}

	if q.counter.Add(1)%1000 == 0 {
		q.evictIdle()
	}
	return l
}

// evictIdle drops users whose bucket refilled completely.
func (q *quota) evictIdle() {
	for id, l := range q.limiters {
		if l.Tokens() >= float64(q.burst) {
			delete(q.limiters, id)
		}
	}
}
