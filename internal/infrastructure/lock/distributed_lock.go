package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock is a Redis SET NX lock used to keep background jobs single-instance
// across replicas. It does not guard ledger data: that is the database's row locks.
//
// Acquire: SET key token NX PX ttl. Release: compare-and-delete in Lua, so an expired
// holder cannot delete a lock that has since passed to someone else.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock creates a lock on key with a random owner token.
func NewDistributedLock(client *redis.Client, key string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      uuid.NewString(),
		expiration: expiration,
	}
}

// NewJobLock is the lock a scheduled job takes for one run.
func NewJobLock(client *redis.Client, job string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, "gymledger:job:lock:"+job, expiration)
}

// TryLock attempts to take the lock once.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock releases the lock if this instance still holds it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}
