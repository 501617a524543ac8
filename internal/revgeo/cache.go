package revgeo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"geotag/internal/gazetteer"
	"geotag/internal/logger"
	"geotag/internal/metrics"
)

// Tier：进程外的二级缓存（如 Redis），Get 未命中或出错都返回 false
type Tier interface {
	Get(ctx context.Context, bucket string) (Entry, bool)
	Set(ctx context.Context, bucket string, e Entry)
}

// Remote：远程反地理服务（可选）
type Remote interface {
	Reverse(ctx context.Context, lat, lon float64) (Entry, error)
}

// Callback：异步解析完成通知
type Callback func(bucket string, e Entry)

// 文档注释：缓存选项
// 约束：Remote 为空时异步解析退化为同步扫描；Timeout<=0 时远程调用使用 10s；OnResolve 在新条目写入后调用（归档用），不在持锁期间执行。
type Options struct {
	Tier      Tier
	Remote    Remote
	Timeout   time.Duration
	OnResolve func(bucket string, e Entry)
	Logger    *slog.Logger
}

// 文档注释：反地理缓存（GeocodeCache）
// 背景：照片位置常集中在少数地点，以两位小数网格为键记忆最近地名；未命中时对地名表做一次全表扫描。
// 约束：
//   - 每个网格至多一次全表扫描或一次远程请求，之后 O(1) 命中
//   - 远程请求进行中该网格处于 pending，后续异步请求按 FIFO 排队而不重复发起
//   - 远程失败清除 pending 与队列，不自动重试，排队者收不到结果
//   - 同步查询遇到 pending 网格时等待该次远程请求结束，不另行扫描
//
// 并发：内部加锁；远程请求在独立 goroutine 完成后回写。
type Cache struct {
	mu      sync.Mutex
	gaz     *gazetteer.Index
	entries map[string]Entry
	pending map[string][]Callback
	settled map[string]chan struct{}
	scans   int
	opts    Options
	log     *slog.Logger
}

// New：以地名索引构造缓存，gaz 为空视为空地名表
func New(gaz *gazetteer.Index, opts Options) *Cache {
	if gaz == nil {
		gaz = gazetteer.Empty()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	l := opts.Logger
	if l == nil {
		l = logger.L()
	}
	return &Cache{gaz: gaz, entries: make(map[string]Entry), pending: make(map[string][]Callback), settled: make(map[string]chan struct{}), opts: opts, log: l}
}

// Gazetteer：底层地名索引
func (c *Cache) Gazetteer() *gazetteer.Index { return c.gaz }

// Scans：累计全表扫描次数
func (c *Cache) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Peek：只读查看网格条目，不触发解析
func (c *Cache) Peek(bucket string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[bucket]
	return e, ok
}

// Pending：网格是否有远程请求在途
func (c *Cache) Pending(bucket string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[bucket]
	return ok
}

// Warm：启动时从归档预热，已存在的网格不覆盖
func (c *Cache) Warm(entries map[string]Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range entries {
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = e
			n++
		}
	}
	return n
}

// 文档注释：同步查询
// 流程：内存命中 → 远程在途则等待其结束后重新查询 → 二级缓存命中 → 全表扫描；扫描结果写入内存并回写二级缓存。
// 返回：地名表为空时返回空条目（未知地点），同样被缓存；等待期间 ctx 结束返回空条目且不缓存。
func (c *Cache) Lookup(ctx context.Context, lat, lon float64) Entry {
	bucket := Bucket(lat, lon)
	c.mu.Lock()
	if e, ok := c.entries[bucket]; ok {
		c.mu.Unlock()
		metrics.GeocodeCacheHitsTotal.Inc()
		return e
	}
	if done, ok := c.settled[bucket]; ok {
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Entry{}
		}
		// 成功时已缓存；失败时 pending 已清除，改为本地扫描
		return c.Lookup(ctx, lat, lon)
	}
	metrics.GeocodeCacheMissesTotal.Inc()
	e, fresh := c.resolveLocked(ctx, bucket, lat, lon)
	c.mu.Unlock()
	if fresh {
		c.notifyResolved(bucket, e)
	}
	return e
}

// resolveLocked：二级缓存或扫描，调用方持锁；fresh 表示由扫描新得到
func (c *Cache) resolveLocked(ctx context.Context, bucket string, lat, lon float64) (Entry, bool) {
	if c.opts.Tier != nil {
		if e, ok := c.opts.Tier.Get(ctx, bucket); ok {
			c.entries[bucket] = e
			return e, false
		}
	}
	e := c.scanLocked(lat, lon)
	c.entries[bucket] = e
	if c.opts.Tier != nil {
		c.opts.Tier.Set(ctx, bucket, e)
	}
	return e, true
}

func (c *Cache) scanLocked(lat, lon float64) Entry {
	c.scans++
	metrics.GazetteerScansTotal.Inc()
	e, ok := nearest(c.gaz, lat, lon)
	if !ok {
		c.log.Debug("geocode_lookup_miss", "lat", lat, "lon", lon)
		return Entry{}
	}
	c.log.Debug("geocode_scan", "lat", lat, "lon", lon, "city", e.City, "distance_km", e.DistanceKm)
	return e
}

func (c *Cache) notifyResolved(bucket string, e Entry) {
	if c.opts.OnResolve != nil {
		c.opts.OnResolve(bucket, e)
	}
}

// 文档注释：最近地名（全表线性扫描）
// 约束：距离相等时保留先出现的城市；空表返回 ok=false。
func nearest(gaz *gazetteer.Index, lat, lon float64) (Entry, bool) {
	best := -1
	bestD := 0.0
	for i := range gaz.Cities {
		ci := &gaz.Cities[i]
		d := Distance(lat, lon, ci.Lat, ci.Lon)
		if best < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	if best < 0 {
		return Entry{}, false
	}
	ci := gaz.Cities[best]
	return Entry{
		City:        ci.Name,
		RegionCode:  ci.Admin,
		Region:      gaz.Region(ci.Country, ci.Admin),
		CountryCode: ci.Country,
		Country:     gaz.Country(ci.Country),
		Timezone:    ci.TZ,
		Lat:         ci.Lat,
		Lon:         ci.Lon,
		DistanceKm:  bestD,
		Source:      SourceGazetteer,
	}, true
}

// 文档注释：异步查询（远程服务路径）
// 背景：远程请求较慢，调用方以回调接收结果；同一网格在途时只排队，不重复请求。
// 约束：
//   - 已缓存或二级缓存命中时在当前 goroutine 立即回调
//   - 未配置远程服务时执行同步扫描并立即回调
//   - 回调顺序：同一网格内按排队顺序（FIFO），跨网格无顺序保证
//
// 返回：true 表示已立即回调，false 表示已进入 pending 队列。
func (c *Cache) Resolve(ctx context.Context, lat, lon float64, cb Callback) bool {
	bucket := Bucket(lat, lon)
	c.mu.Lock()
	if e, ok := c.entries[bucket]; ok {
		c.mu.Unlock()
		metrics.GeocodeCacheHitsTotal.Inc()
		call(cb, bucket, e)
		return true
	}
	if q, ok := c.pending[bucket]; ok {
		c.pending[bucket] = append(q, cb)
		c.mu.Unlock()
		return false
	}
	metrics.GeocodeCacheMissesTotal.Inc()
	if c.opts.Remote == nil {
		e, fresh := c.resolveLocked(ctx, bucket, lat, lon)
		c.mu.Unlock()
		if fresh {
			c.notifyResolved(bucket, e)
		}
		call(cb, bucket, e)
		return true
	}
	if c.opts.Tier != nil {
		if e, ok := c.opts.Tier.Get(ctx, bucket); ok {
			c.entries[bucket] = e
			c.mu.Unlock()
			call(cb, bucket, e)
			return true
		}
	}
	c.pending[bucket] = []Callback{cb}
	c.settled[bucket] = make(chan struct{})
	c.mu.Unlock()
	go c.fetch(context.WithoutCancel(ctx), bucket, lat, lon)
	return false
}

func call(cb Callback, bucket string, e Entry) {
	if cb != nil {
		cb(bucket, e)
	}
}

// fetch：远程请求一次，成功则写入并按 FIFO 通知全部排队者；失败丢弃 pending 与队列
func (c *Cache) fetch(ctx context.Context, bucket string, lat, lon float64) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	t0 := time.Now()
	metrics.RemoteRequestsTotal.Inc()
	e, err := c.opts.Remote.Reverse(ctx, lat, lon)
	metrics.RemoteDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		metrics.RemoteFailTotal.Inc()
		c.mu.Lock()
		dropped := len(c.pending[bucket])
		delete(c.pending, bucket)
		done := c.settle(bucket)
		c.mu.Unlock()
		close(done)
		c.log.Warn("geocode_remote_error", "bucket", bucket, "queued", dropped, "err", err)
		return
	}
	metrics.RemoteSuccessTotal.Inc()
	if e.Source == "" {
		e.Source = SourceRemote
	}
	c.mu.Lock()
	if e.Timezone == "" {
		// 远程结果通常不含时区，取最近地名的时区补全（计入扫描次数）
		c.scans++
		metrics.GazetteerScansTotal.Inc()
		if n, ok := nearest(c.gaz, lat, lon); ok {
			e.Timezone = n.Timezone
		}
	}
	fresh := true
	if prev, ok := c.entries[bucket]; ok {
		// 等待期间已被同步路径解析，保持条目不可变
		e, fresh = prev, false
	} else {
		c.entries[bucket] = e
		if c.opts.Tier != nil {
			c.opts.Tier.Set(ctx, bucket, e)
		}
	}
	queue := c.pending[bucket]
	delete(c.pending, bucket)
	done := c.settle(bucket)
	c.mu.Unlock()
	close(done)
	c.log.Debug("geocode_remote_ok", "bucket", bucket, "city", e.City, "queued", len(queue))
	if fresh {
		c.notifyResolved(bucket, e)
	}
	for _, cb := range queue {
		call(cb, bucket, e)
	}
}

// settle：取出并移除网格的等待信号，调用方持锁并在解锁后关闭
func (c *Cache) settle(bucket string) chan struct{} {
	done := c.settled[bucket]
	delete(c.settled, bucket)
	if done == nil {
		done = make(chan struct{})
	}
	return done
}
