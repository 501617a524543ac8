// 包 events：会话事件（轨迹加载/移除、位置确定、地名/时区解析）的扇出总线
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"geotag/internal/geo"
	"geotag/internal/logger"
	"geotag/internal/metrics"
	"geotag/internal/revgeo"
)

// Kind：事件类型
type Kind string

const (
	TrackLoaded        Kind = "track.loaded"
	TrackRemoved       Kind = "track.removed"
	PositionDetermined Kind = "position.determined"
	PlaceResolved      Kind = "place.resolved"
	TimezoneChanged    Kind = "timezone.changed"
)

// 文档注释：事件载荷
// 约束：字段按类型选择性填充；Position/Place 为空表示不适用。
type Event struct {
	Kind     Kind          `json:"kind"`
	At       time.Time     `json:"at"`
	FileID   string        `json:"file_id,omitempty"`
	Path     string        `json:"path,omitempty"`
	Photo    string        `json:"photo,omitempty"`
	Stamp    int64         `json:"stamp,omitempty"`
	Position *geo.Position `json:"position,omitempty"`
	Bucket   string        `json:"bucket,omitempty"`
	Place    *revgeo.Entry `json:"place,omitempty"`
	Timezone string        `json:"timezone,omitempty"`
	Policy   string        `json:"policy,omitempty"`
}

// Publisher：事件接收方（NATS、WebSocket 广播等）
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc：函数适配
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// 文档注释：事件总线
// 背景：核心只负责发出事件，由外层（UI、EXIF 写入、消息队列）各自消费。
// 约束：按注册顺序同步投递；单个接收方失败只记录日志，不影响其他接收方与调用方。
type Bus struct {
	mu   sync.RWMutex
	subs []Publisher
	now  func() time.Time
	log  *slog.Logger
}

func NewBus(subs ...Publisher) *Bus {
	return &Bus{subs: subs, now: time.Now, log: logger.L()}
}

// Add：运行期追加接收方
func (b *Bus) Add(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, p)
}

// Publish：At 为零时填充当前时间；nil 总线静默忽略
func (b *Bus) Publish(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now().UTC()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.Publish(ctx, e); err != nil {
			b.log.Warn("event_publish_error", "kind", string(e.Kind), "err", err)
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Kind)).Inc()
}
