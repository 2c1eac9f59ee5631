package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockStore keeps reservation locks in Redis. The lock key holds
// "<owner>:<lockID>" with the hold TTL; a reverse index maps lockID back to
// the resource key so locks can be released by id alone.
type LockStore struct {
	client *redis.Client
}

func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// Release compares the stored owner token before deleting, so a lock that
// expired and was re-acquired by another saga cannot be stolen.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
    return 0
end
if v ~= ARGV[1] then
    return -1
end
redis.call("DEL", KEYS[1], KEYS[2])
return 1
`)

const (
	ReleaseMissing  = 0
	ReleaseMismatch = -1
	Released        = 1
)

func lockKey(resourceKey string) string {
	return "lock:" + resourceKey
}

func indexKey(lockID string) string {
	return "lockid:" + lockID
}

// TryAcquire returns false when an active lock already exists for resourceKey.
func (s *LockStore) TryAcquire(ctx context.Context, resourceKey, ownerToken, lockID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(resourceKey), ownerToken, ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	if err := s.client.Set(ctx, indexKey(lockID), resourceKey, ttl).Err(); err != nil {
		s.client.Del(ctx, lockKey(resourceKey))
		return false, err
	}
	return true, nil
}

// ResourceFor resolves a lockID back to its resource key. Empty means the
// lock no longer exists.
func (s *LockStore) ResourceFor(ctx context.Context, lockID string) (string, error) {
	key, err := s.client.Get(ctx, indexKey(lockID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return key, err
}

func (s *LockStore) Release(ctx context.Context, resourceKey, ownerToken, lockID string) (int, error) {
	res, err := releaseScript.Run(ctx, s.client, []string{lockKey(resourceKey), indexKey(lockID)}, ownerToken).Int()
	if err != nil {
		return 0, err
	}
	return res, nil
}
