package httpadapter

import (
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterShards = 16

// ipRateLimiter keeps one token bucket per client address. Buckets idle for longer
// than ttl are swept lazily, one shard at a time, when that shard is next touched.
type ipRateLimiter struct {
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	now    func() time.Time
	shards [limiterShards]limiterShard
}

type limiterShard struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(limit rate.Limit, burst int, ttl time.Duration) *ipRateLimiter {
	if limit <= 0 {
		return nil
	}
	burst = max(burst, 1)
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := &ipRateLimiter{limit: limit, burst: burst, ttl: ttl, now: time.Now}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*limiterEntry)
	}
	return l
}

// allow consumes a token for ip. When none is left it reports how long until one is.
func (l *ipRateLimiter) allow(ip string) (bool, time.Duration) {
	now := l.now()
	shard := &l.shards[shardIndex(ip)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if now.Sub(shard.lastSweep) >= l.ttl {
		for key, e := range shard.entries {
			if now.Sub(e.lastSeen) >= l.ttl {
				delete(shard.entries, key)
			}
		}
		shard.lastSweep = now
	}

	entry, ok := shard.entries[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		shard.entries[ip] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	reservation := entry.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, delay
}

func (l *ipRateLimiter) size() int {
	n := 0
	for i := range l.shards {
		l.shards[i].mu.Lock()
		n += len(l.shards[i].entries)
		l.shards[i].mu.Unlock()
	}
	return n
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % limiterShards)
}
