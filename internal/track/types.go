// 包 track：轨迹文件（GPX/KML/CSV）流式解析，输出按时间有序的轨迹点序列
package track

import (
	"math"

	"geotag/internal/geo"

	"github.com/google/uuid"
)

// 文档注释：轨迹点（一次 GPS 定位）
// 约束：Time 为 UTC 秒级时间戳；创建后不再修改，以值类型传递。
type Point struct {
	Time int64   `json:"time"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Ele  float64 `json:"ele"`
}

func (p Point) Position() geo.Position { return geo.Position{Lat: p.Lat, Lon: p.Lon, Ele: p.Ele} }

// Segment：一次连续记录区间（<trkseg> / <gx:Track>），分段只影响展示，不影响关联
type Segment struct {
	Points []Point `json:"points"`
}

// 文档注释：单个轨迹文件的解析结果
// 背景：ID 为加载时分配的 UUID，用于之后从全局时间线移除；Alpha/Omega 为本文件最早/最晚时间。
// 约束：空文件 Alpha=+∞、Omega=-∞（哨兵值），Rejected 统计被丢弃的点/行。
type File struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Format   string    `json:"format"`
	Segments []Segment `json:"-"`
	Alpha    int64     `json:"alpha"`
	Omega    int64     `json:"omega"`
	Rejected int       `json:"rejected"`
}

func newFile(path, format string) *File {
	return &File{ID: uuid.NewString(), Path: path, Format: format, Alpha: math.MaxInt64, Omega: math.MinInt64}
}

func (f *File) openSegment() {
	if n := len(f.Segments); n > 0 && len(f.Segments[n-1].Points) == 0 {
		return
	}
	f.Segments = append(f.Segments, Segment{})
}

func (f *File) add(p Point) {
	if len(f.Segments) == 0 {
		f.Segments = append(f.Segments, Segment{})
	}
	s := &f.Segments[len(f.Segments)-1]
	s.Points = append(s.Points, p)
	if p.Time < f.Alpha {
		f.Alpha = p.Time
	}
	if p.Time > f.Omega {
		f.Omega = p.Time
	}
}

// finish：去掉末尾空段
func (f *File) finish() {
	out := f.Segments[:0]
	for _, s := range f.Segments {
		if len(s.Points) > 0 {
			out = append(out, s)
		}
	}
	f.Segments = out
}

// Len：全部分段的点数
func (f *File) Len() int {
	n := 0
	for _, s := range f.Segments {
		n += len(s.Points)
	}
	return n
}

// Points：按文档顺序展开全部分段
func (f *File) Points() []Point {
	out := make([]Point, 0, f.Len())
	for _, s := range f.Segments {
		out = append(out, s.Points...)
	}
	return out
}

// Empty：没有任何有效点
func (f *File) Empty() bool { return f.Alpha > f.Omega }
