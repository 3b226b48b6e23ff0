package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AcquireLock takes a best-effort distributed mutex. ok is false when
// the lock is already held. The returned release function only deletes
// the key if it still holds this acquisition's token, so an expired
// lock re-acquired by someone else is never released from here.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()

	ok, err = c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release = func() {
		val, err := c.rdb.Get(context.Background(), key).Result()
		if err == nil && val == token {
			c.rdb.Del(context.Background(), key)
		}
	}
	return release, true, nil
}
