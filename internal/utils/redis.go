// 包 utils：Redis 与 PostgreSQL 连接工具，参数由配置层传入
package utils

import (
	"context"
	"time"

	"geotag/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedis：使用地址、密码与 DB 编号打开 Redis 客户端
// 约束：未配置地址时返回 nil，调用方据此跳过二级缓存
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	if db < 0 {
		db = 0
	}
	logger.L().Debug("redis_open", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// PingRedis：启动时探活，超时 2s；失败时关闭客户端并返回 nil
func PingRedis(ctx context.Context, rc *redis.Client) *redis.Client {
	if rc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.L().Warn("redis_ping_failed", "err", err)
		_ = rc.Close()
		return nil
	}
	return rc
}
