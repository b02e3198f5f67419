package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// unlockLua deletes the key only while it still holds the caller's token, so
// a holder whose lease expired cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry out while the key still holds the caller's
// token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

const keyPrefix = "borrowbot:lock:"

// LockManager implements domain.LockManager with SET NX PX, a lease renewed
// while the holder runs, and a token-checked release.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
	extend *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.rdb,
		unlock: redis.NewScript(unlockLua),
		extend: redis.NewScript(extendLua),
	}
}

// RunKey is the lock key for one account on one network.
func RunKey(network, account string) string {
	return "run:" + strings.ToLower(network) + ":" + strings.ToLower(account)
}

// Acquire takes key for ttl and renews the lease every third of ttl until
// released, so a holder that outlives ttl keeps the key. The returned release
// func may be called any number of times. It returns domain.ErrLockHeld when
// another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := keyPrefix + key

	ok, err := lm.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	done := make(chan struct{})
	go lm.renew(full, token, ttl, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			// the caller's context may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(releaseCtx, lm.rdb, []string{full}, token).Err()
		})
	}, nil
}

// renew extends the lease until done is closed or the key stops holding
// token.
func (lm *LockManager) renew(key, token string, ttl time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(renewEvery(ttl))
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), renewEvery(ttl))
		n, err := lm.extend.Run(ctx, lm.rdb, []string{key}, token, ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

func renewEvery(ttl time.Duration) time.Duration {
	if every := ttl / 3; every > 0 {
		return every
	}
	return time.Millisecond
}

// AcquireRun locks (network, account) for a whole run. A held lock is
// reported as domain.ErrRunInProgress.
func (lm *LockManager) AcquireRun(ctx context.Context, network, account string, ttl time.Duration) (func(), error) {
	release, err := lm.Acquire(ctx, RunKey(network, account), ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrRunInProgress, account, network)
	}
	return release, err
}
