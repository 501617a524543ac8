// 包 geo：坐标基础类型与换算（十进制/度分秒），供轨迹、插值、反地理共用
package geo

import (
	"fmt"
	"math"
)

// 文档注释：位置三元组（WGS84）
// 背景：照片与轨迹点共享同一坐标表达；以普通值类型传递，配合自由函数完成校验与换算。
// 约束：Ele 以米为单位；缺省高程按 0 处理。
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Ele float64 `json:"ele"`
}

// RangeError：坐标越界（点被拒绝，不影响同文件其余点）
type RangeError struct {
	Lat float64
	Lon float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("coordinate out of range: lat=%f lon=%f", e.Lat, e.Lon)
}

// Validate：纬度 [-90,90]、经度 [-180,180]，NaN 视为越界
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return &RangeError{Lat: lat, Lon: lon}
	}
	return nil
}

// 文档注释：度分秒表达
// 约束：Deg/Min 恒为非负，方向由 Negative 表示（南纬/西经）。
type DMS struct {
	Deg      int
	Min      int
	Sec      float64
	Negative bool
}

// ToDMS：十进制度转度分秒，秒保留完整精度以保证往返误差可忽略
func ToDMS(dec float64) DMS {
	d := DMS{Negative: dec < 0}
	v := math.Abs(dec)
	d.Deg = int(v)
	rem := (v - float64(d.Deg)) * 60
	d.Min = int(rem)
	d.Sec = (rem - float64(d.Min)) * 60
	return d
}

// FromDMS：度分秒转十进制度
func FromDMS(d DMS) float64 {
	v := float64(d.Deg) + float64(d.Min)/60 + d.Sec/3600
	if d.Negative {
		return -v
	}
	return v
}

// FormatLat / FormatLon：带半球标识的可读格式，如 N 53° 31' 12.34"
func FormatLat(lat float64) string { return formatDMS(lat, "N", "S") }

func FormatLon(lon float64) string { return formatDMS(lon, "E", "W") }

func formatDMS(v float64, pos, neg string) string {
	d := ToDMS(v)
	h := pos
	if d.Negative {
		h = neg
	}
	return fmt.Sprintf("%s %d° %d' %.2f\"", h, d.Deg, d.Min, d.Sec)
}

// Lerp：平面线性混合（度空间，非测地线）
func Lerp(lo, hi Position, loRatio, hiRatio float64) Position {
	return Position{
		Lat: lo.Lat*loRatio + hi.Lat*hiRatio,
		Lon: lo.Lon*loRatio + hi.Lon*hiRatio,
		Ele: lo.Ele*loRatio + hi.Ele*hiRatio,
	}
}
