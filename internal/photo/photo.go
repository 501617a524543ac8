// 包 photo：照片拍摄时间记录（原始时间、时钟偏差、手动定位标记）与 EXIF 读取
package photo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"geotag/internal/geo"

	"github.com/rwcarlsen/goexif/exif"
)

// 拍摄时间来源
const (
	SourceEXIF  = "exif"
	SourceMtime = "mtime"
	SourceGiven = "given"
)

// 文档注释：照片时间记录（PhotoTemporalRecord）
// 背景：相机记录的是不带时区的墙钟时间，其含义取决于当前选定的时区；Delta 为用户给出的相机时钟偏差（秒）。
// 约束：Raw 仅使用年月日时分秒字段（Location 固定为 UTC 存放）；Stamp 由 Retime 按时区换算后加上 Delta；Manual 为真时不参与插值。
type Record struct {
	Name     string       `json:"name"`
	Path     string       `json:"path,omitempty"`
	Raw      time.Time    `json:"raw"`
	Source   string       `json:"source"`
	Delta    int64        `json:"delta"`
	Manual   bool         `json:"manual"`
	Stamp    int64        `json:"stamp"`
	Located  bool         `json:"located"`
	Position geo.Position `json:"position"`
}

// Wall：把任意时间的墙钟字段存为 UTC 表示的无时区时间
func Wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// RawEpoch：在 loc 下解释原始墙钟时间得到的 UTC 秒
func (r *Record) RawEpoch(loc *time.Location) int64 {
	if loc == nil {
		loc = time.UTC
	}
	w := r.Raw
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, loc).Unix()
}

// Retime：时区变化后重新计算校正时间，返回新的 Stamp
func (r *Record) Retime(loc *time.Location) int64 {
	r.Stamp = r.RawEpoch(loc) + r.Delta
	return r.Stamp
}

// 文档注释：读取拍摄时间
// 流程：EXIF DateTimeOriginal → DateTime → 文件修改时间（按本地墙钟）。
// 返回：墙钟时间与来源；文件不存在等 I/O 错误原样返回。
func ReadCaptureTime(path string) (time.Time, string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("open photo: %w", err)
	}
	defer fh.Close()
	if x, err := exif.Decode(fh); err == nil {
		if t, err := x.DateTime(); err == nil {
			return Wall(t), SourceEXIF, nil
		}
	}
	st, err := fh.Stat()
	if err != nil {
		return time.Time{}, "", err
	}
	return Wall(st.ModTime().Local()), SourceMtime, nil
}

// rawLayouts：EXIF 原生格式、ISO 8601（忽略时区后缀）
var rawLayouts = []string{"2006:01:02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.RFC3339}

// ParseRaw：解析调用方给出的拍摄时间，只保留墙钟字段
func ParseRaw(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range rawLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Wall(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised capture time %q", s)
}

// Open：从文件构造记录
func Open(path string) (*Record, error) {
	raw, src, err := ReadCaptureTime(path)
	if err != nil {
		return nil, err
	}
	return &Record{Name: filepath.Base(path), Path: path, Raw: raw, Source: src}, nil
}

// IsImage：按扩展名筛选可读取 EXIF 的照片
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".tif", ".tiff", ".dng", ".nef", ".cr2", ".arw":
		return true
	}
	return false
}

// ErrUnknownPhoto：按名称找不到照片
var ErrUnknownPhoto = errors.New("unknown photo")

// 文档注释：照片集合
// 约束：以文件名为键（同名后加入者替换）；All 按名称排序；非线程安全，由会话串行访问。
type Library struct {
	records map[string]*Record
}

func NewLibrary() *Library { return &Library{records: make(map[string]*Record)} }

func (l *Library) Put(r *Record) { l.records[r.Name] = r }

func (l *Library) Get(name string) (*Record, error) {
	r, ok := l.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhoto, name)
	}
	return r, nil
}

func (l *Library) Remove(name string) bool {
	_, ok := l.records[name]
	delete(l.records, name)
	return ok
}

func (l *Library) Len() int { return len(l.records) }

func (l *Library) All() []*Record {
	out := make([]*Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Retime：全部照片按新时区重新计算
func (l *Library) Retime(loc *time.Location) {
	for _, r := range l.records {
		r.Retime(loc)
	}
}
