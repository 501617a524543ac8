// 包 store：全局轨迹时间线，合并多个轨迹文件的点并维护整体时间范围
package store

import (
	"math"
	"sort"

	"geotag/internal/metrics"
	"geotag/internal/track"
)

// 空时间线的哨兵值（不是合法时间戳）
const (
	EmptyAlpha int64 = math.MaxInt64
	EmptyOmega int64 = math.MinInt64
)

// 文档注释：轨迹时间线（TrackStore）
// 背景：多个轨迹文件按时间戳合并到同一张表；同一时间戳后加载者覆盖先加载者。
// 约束：alpha/omega 永远与当前表内容一致；移除文件时全量重算；键的有序索引按需重建，用于二分定位相邻点。
// 并发：非线程安全，由上层会话串行访问。
type Store struct {
	points map[int64]track.Point
	owner  map[int64]string
	byFile map[string]map[int64]track.Point
	files  []*track.File
	alpha  int64
	omega  int64
	keys   []int64
	dirty  bool
}

func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset：清空时间线，回到哨兵状态
func (s *Store) Reset() {
	s.points = make(map[int64]track.Point)
	s.owner = make(map[int64]string)
	s.byFile = make(map[string]map[int64]track.Point)
	s.files = nil
	s.alpha, s.omega = EmptyAlpha, EmptyOmega
	s.keys = nil
	s.dirty = false
	metrics.StorePoints.Set(0)
}

// 文档注释：加入一个已解析的轨迹文件
// 约束：时间戳冲突时覆盖旧值（后加载者优先）；alpha/omega 增量取最小/最大。重复加入同一 ID 视为先移除再加入。
func (s *Store) Add(f *track.File) {
	if f == nil {
		return
	}
	if _, ok := s.byFile[f.ID]; ok {
		s.Remove(f.ID)
	}
	own := make(map[int64]track.Point, f.Len())
	for _, seg := range f.Segments {
		for _, p := range seg.Points {
			own[p.Time] = p
			s.points[p.Time] = p
			s.owner[p.Time] = f.ID
			if p.Time < s.alpha {
				s.alpha = p.Time
			}
			if p.Time > s.omega {
				s.omega = p.Time
			}
		}
	}
	s.byFile[f.ID] = own
	s.files = append(s.files, f)
	s.dirty = true
	metrics.StorePoints.Set(float64(len(s.points)))
}

// 文档注释：按文件 ID 移除
// 背景：被移除文件可能持有原来的极值，因此 alpha/omega 从剩余内容全量重算；全部移除后回到哨兵。
// 约束：仅删除当前归属该文件的时间戳；若更早加载的文件在同一时间戳也有点，则恢复为其中最后加载者的点。
func (s *Store) Remove(id string) (*track.File, bool) {
	own, ok := s.byFile[id]
	if !ok {
		return nil, false
	}
	var removed *track.File
	kept := s.files[:0]
	for _, f := range s.files {
		if f.ID == id {
			removed = f
			continue
		}
		kept = append(kept, f)
	}
	s.files = kept
	delete(s.byFile, id)
	for ts := range own {
		if s.owner[ts] != id {
			continue
		}
		delete(s.points, ts)
		delete(s.owner, ts)
		for i := len(s.files) - 1; i >= 0; i-- {
			if p, ok := s.byFile[s.files[i].ID][ts]; ok {
				s.points[ts] = p
				s.owner[ts] = s.files[i].ID
				break
			}
		}
	}
	s.recompute()
	s.dirty = true
	metrics.StorePoints.Set(float64(len(s.points)))
	return removed, true
}

func (s *Store) recompute() {
	s.alpha, s.omega = EmptyAlpha, EmptyOmega
	for ts := range s.points {
		if ts < s.alpha {
			s.alpha = ts
		}
		if ts > s.omega {
			s.omega = ts
		}
	}
}

func (s *Store) Alpha() int64 { return s.alpha }
func (s *Store) Omega() int64 { return s.omega }
func (s *Store) Len() int     { return len(s.points) }
func (s *Store) Empty() bool  { return len(s.points) == 0 }

// Point：精确命中
func (s *Store) Point(ts int64) (track.Point, bool) {
	p, ok := s.points[ts]
	return p, ok
}

func (s *Store) sorted() []int64 {
	if s.dirty || s.keys == nil {
		s.keys = s.keys[:0]
		for ts := range s.points {
			s.keys = append(s.keys, ts)
		}
		sort.Slice(s.keys, func(i, j int) bool { return s.keys[i] < s.keys[j] })
		s.dirty = false
	}
	return s.keys
}

// 文档注释：查找严格包夹 ts 的相邻点
// 返回：lo 为小于 ts 的最大键，hi 为大于 ts 的最小键；任一侧不存在时 ok=false。
func (s *Store) Bracket(ts int64) (lo, hi track.Point, ok bool) {
	keys := s.sorted()
	i := sort.Search(len(keys), func(i int) bool { return keys[i] >= ts })
	j := i
	if j < len(keys) && keys[j] == ts {
		j++
	}
	if i == 0 || j >= len(keys) {
		return track.Point{}, track.Point{}, false
	}
	return s.points[keys[i-1]], s.points[keys[j]], true
}

// Points：按时间排序的全部点（导出/归档用）
func (s *Store) Points() []track.Point {
	keys := s.sorted()
	out := make([]track.Point, len(keys))
	for i, ts := range keys {
		out[i] = s.points[ts]
	}
	return out
}

// Files：按加载顺序返回当前文件
func (s *Store) Files() []*track.File {
	out := make([]*track.File, len(s.files))
	copy(out, s.files)
	return out
}

func (s *Store) File(id string) (*track.File, bool) {
	for _, f := range s.files {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}
