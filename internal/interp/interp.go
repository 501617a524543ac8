// 包 interp：按照片的校正时间在全局时间线上估算拍摄位置
package interp

import (
	"geotag/internal/geo"
	"geotag/internal/metrics"
	"geotag/internal/store"
)

// Outcome：一次插值的结果类别
type Outcome string

const (
	Skipped Outcome = "skipped"
	Exact   Outcome = "exact"
	Blend   Outcome = "blend"
)

// Result：插值结果；Stamp 为夹取后的实际查询时间
type Result struct {
	Position geo.Position `json:"position"`
	Stamp    int64        `json:"stamp"`
	Outcome  Outcome      `json:"outcome"`
	Clamped  bool         `json:"clamped"`
}

// 文档注释：时间插值
// 背景：adjusted = raw + delta；超出轨迹时间范围时夹取到 alpha/omega（首尾位置延伸到范围外的照片）。
// 流程：
//  1. 时间线少于两个点直接跳过
//  2. 夹取后若恰好命中键，原样返回该点
//  3. 否则取严格小于/大于的相邻点，按时间比例在经纬度平面上线性混合纬度、经度与高程
//
// 约束：平面插值而非大圆插值，适用于秒级采样的轨迹。
func Interpolate(s *store.Store, raw, delta int64) (Result, bool) {
	if s == nil || s.Len() < 2 {
		metrics.InterpolationsTotal.WithLabelValues(string(Skipped)).Inc()
		return Result{Outcome: Skipped}, false
	}
	adjusted := raw + delta
	stamp := adjusted
	if stamp < s.Alpha() {
		stamp = s.Alpha()
	}
	if stamp > s.Omega() {
		stamp = s.Omega()
	}
	res := Result{Stamp: stamp, Clamped: stamp != adjusted}

	if p, ok := s.Point(stamp); ok {
		res.Position, res.Outcome = p.Position(), Exact
		metrics.InterpolationsTotal.WithLabelValues(string(Exact)).Inc()
		return res, true
	}

	lo, hi, ok := s.Bracket(stamp)
	if !ok {
		// 夹取后 alpha < stamp < omega，必然存在相邻点
		metrics.InterpolationsTotal.WithLabelValues(string(Skipped)).Inc()
		return Result{Outcome: Skipped}, false
	}
	span := float64(hi.Time - lo.Time)
	hiRatio := float64(stamp-lo.Time) / span
	loRatio := float64(hi.Time-stamp) / span
	res.Position = geo.Lerp(lo.Position(), hi.Position(), loRatio, hiRatio)
	res.Outcome = Blend
	metrics.InterpolationsTotal.WithLabelValues(string(Blend)).Inc()
	return res, true
}
