// app/seenmw.go
package app

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/nawapolsungjun/borrow-it/logger"
)

type SeenToucher interface {
	TouchUserSeen(ctx context.Context, id uint) error
}

// TouchLastSeen updates users.last_seen_at at most once per throttle per
// user. Runs after AuthRequired.
func TouchLastSeen(users SeenToucher, rdb *redis.Client, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := "user:lastseen:" + strconv.FormatUint(uint64(id.UserID), 10)
		if ok, err := rdb.SetNX(ctx, key, "1", throttle).Result(); err == nil && ok {
			// 忽略错误，不阻塞请求
			if err := users.TouchUserSeen(ctx, id.UserID); err != nil {
				logger.Log.Debugw("touch last seen failed", "user_id", id.UserID, "err", err)
			}
		}
		c.Next()
	}
}
