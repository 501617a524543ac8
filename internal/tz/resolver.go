// 包 tz：选择解释照片墙钟时间所用的时区，并在时区变化时触发全部照片重算
package tz

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"geotag/internal/logger"
	"geotag/internal/metrics"
)

// Policy：时区来源策略（互斥）
type Policy string

const (
	PolicySystem Policy = "system"
	PolicyTrack  Policy = "track"
	PolicyCustom Policy = "custom"
)

// ParsePolicy：大小写不敏感，空串视为 system
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySystem:
		return PolicySystem, nil
	case PolicyTrack:
		return PolicyTrack, nil
	case PolicyCustom:
		return PolicyCustom, nil
	}
	return "", fmt.Errorf("unknown timezone policy %q", s)
}

// Target：时区变化的接收方（会话：重算校正时间并重新插值）
type Target interface {
	Retime(loc *time.Location)
}

// ErrUnknownZone：自定义区域/城市无法解析为 IANA 时区
var ErrUnknownZone = errors.New("unknown timezone")

// 文档注释：时区解析器（TimezoneResolver）
// 背景：相机时间不带时区，"原始时间"的含义取决于假定的相机时区；策略为系统时区、轨迹所在地时区或用户指定的区域/城市。
// 约束：
//   - 任何一次策略设置都会设定活动时区并通知 Target（即使时区未变）
//   - 轨迹数据第一次解析出时区时，若策略为 track 也会通知
//   - track 策略下尚未得到轨迹时区时回退到系统时区
type Resolver struct {
	policy    Policy
	region    string
	city      string
	trackZone string
	system    *time.Location
	active    *time.Location
	target    Target
	log       *slog.Logger
}

// New：system 为空时使用 time.Local
func New(system *time.Location, target Target) *Resolver {
	if system == nil {
		system = time.Local
	}
	return &Resolver{policy: PolicySystem, system: system, active: system, target: target, log: logger.L()}
}

func (r *Resolver) Policy() Policy           { return r.policy }
func (r *Resolver) Active() *time.Location   { return r.active }
func (r *Resolver) TrackZone() string        { return r.trackZone }
func (r *Resolver) Custom() (string, string) { return r.region, r.city }
func (r *Resolver) SetTarget(target Target)  { r.target = target }

// 文档注释：设置策略
// 参数：region/city 仅在 custom 策略下使用，拼接为 IANA 名（city 为空时 region 本身即时区名，如 UTC）。
// 返回：custom 时区无法加载时返回 ErrUnknownZone，状态不变。
func (r *Resolver) SetPolicy(p Policy, region, city string) error {
	var loc *time.Location
	switch p {
	case PolicySystem:
		loc = r.system
	case PolicyTrack:
		loc = r.system
		if r.trackZone != "" {
			if l, err := time.LoadLocation(r.trackZone); err == nil {
				loc = l
			}
		}
	case PolicyCustom:
		name := region
		if city != "" {
			name = region + "/" + city
		}
		l, err := time.LoadLocation(name)
		if err != nil || name == "" {
			return fmt.Errorf("%w: %q", ErrUnknownZone, name)
		}
		loc = l
		r.region, r.city = region, city
	default:
		return fmt.Errorf("unknown timezone policy %q", p)
	}
	r.policy = p
	r.apply(loc)
	return nil
}

// 文档注释：记录轨迹所在地的时区
// 背景：由会话在轨迹数据首次反地理成功时调用；只采用第一次得到的时区，直到 ResetTrackZone。
// 返回：是否因此改变了活动时区并通知了 Target。
func (r *Resolver) NoteTrackZone(name string) bool {
	if name == "" || r.trackZone != "" {
		return false
	}
	l, err := time.LoadLocation(name)
	if err != nil {
		r.log.Warn("tz_unknown_track_zone", "zone", name, "err", err)
		return false
	}
	r.trackZone = name
	if r.policy != PolicyTrack {
		return false
	}
	r.apply(l)
	return true
}

// ResetTrackZone：轨迹全部移除后清空，下次加载重新判定
func (r *Resolver) ResetTrackZone() { r.trackZone = "" }

func (r *Resolver) apply(loc *time.Location) {
	r.active = loc
	metrics.TimezoneChangesTotal.WithLabelValues(string(r.policy)).Inc()
	r.log.Info("tz_changed", "policy", string(r.policy), "zone", loc.String())
	if r.target != nil {
		r.target.Retime(loc)
	}
}
