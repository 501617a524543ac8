package revgeo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"geotag/internal/logger"
	"geotag/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// DefaultTierTTL：二级缓存条目默认保留 30 天
const DefaultTierTTL = 30 * 24 * time.Hour

// 文档注释：Redis 二级缓存
// 背景：进程重启后内存缓存清空，Redis 中的网格条目可直接复用，避免重复扫描或远程请求。
// 约束：键为 "geocode:<bucket>"，值为 Entry 的 JSON；Redis 不可用时仅记录日志并按未命中处理。
type RedisTier struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisTier(rdb redis.Cmdable, ttl time.Duration) *RedisTier {
	if ttl <= 0 {
		ttl = DefaultTierTTL
	}
	return &RedisTier{rdb: rdb, ttl: ttl, prefix: "geocode:"}
}

func (t *RedisTier) key(bucket string) string { return t.prefix + bucket }

func (t *RedisTier) Get(ctx context.Context, bucket string) (Entry, bool) {
	b, err := t.rdb.Get(ctx, t.key(bucket)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Warn("redis_get_error", "bucket", bucket, "err", err)
		}
		metrics.RedisMissesTotal.Inc()
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		logger.L().Warn("redis_decode_error", "bucket", bucket, "err", err)
		metrics.RedisMissesTotal.Inc()
		return Entry{}, false
	}
	metrics.RedisHitsTotal.Inc()
	return e, true
}

func (t *RedisTier) Set(ctx context.Context, bucket string, e Entry) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := t.rdb.Set(ctx, t.key(bucket), b, t.ttl).Err(); err != nil {
		logger.L().Warn("redis_set_error", "bucket", bucket, "err", err)
	}
}
