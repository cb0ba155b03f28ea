package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from accidentally
// releasing another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only while the caller still holds it.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. The engine acquires one lock per exchange
// account before trading so a second instance cannot double-drive it. Held
// locks are refreshed by a heartbeat, so a crashed holder frees the lock
// after at most one TTL instead of blocking restarts forever.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns an unlock function that must be called
// to release the lock. The unlock function is safe to call multiple times.
// A positive TTL starts a heartbeat that re-extends the lock at a third of
// the TTL until unlock; a zero TTL creates a persistent lock with no
// heartbeat and should be reserved for short-lived claims.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	if ttl > 0 {
		go heartbeat(ttl/3, stop, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.refreshSc.Run(refreshCtx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Err()
		})
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true
		close(stop)

		// Use a background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

// heartbeat invokes refresh at the given interval until stop is closed.
func heartbeat(interval time.Duration, stop <-chan struct{}, refresh func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case <-t.C:
			refresh()
		}
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
