package track

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geotag/internal/geo"
	"geotag/internal/logger"
	"geotag/internal/metrics"
)

// 支持的格式（按扩展名识别）
const (
	FormatGPX = "gpx"
	FormatKML = "kml"
	FormatCSV = "csv"
)

// DefaultProgressInterval：进度回调的默认最小间隔
const DefaultProgressInterval = 200 * time.Millisecond

// Progress：进度回调载荷
type Progress struct {
	Path     string
	Points   int
	Rejected int
}

// 文档注释：解析选项
// 背景：大文件解析需要周期性让出控制权给调用方（刷新进度、保持界面响应）；回调只是检查点，不参与解析结果。
// 约束：Interval<=0 时使用 DefaultProgressInterval；Now 为空时使用 time.Now；Logger 为空时使用全局日志器。
type Options struct {
	Progress func(Progress)
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// checkpoint：按墙钟间隔触发进度回调，同时检查上下文取消
type checkpoint struct {
	ctx      context.Context
	fn       func(Progress)
	interval time.Duration
	now      func() time.Time
	last     time.Time
	log      *slog.Logger
}

func newCheckpoint(ctx context.Context, opts Options) *checkpoint {
	c := &checkpoint{ctx: ctx, fn: opts.Progress, interval: opts.Interval, now: opts.Now, log: opts.Logger}
	if c.interval <= 0 {
		c.interval = DefaultProgressInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logger.L()
	}
	c.last = c.now()
	return c
}

func (c *checkpoint) tick(f *File) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if c.fn == nil {
		return nil
	}
	if t := c.now(); t.Sub(c.last) >= c.interval {
		c.last = t
		c.fn(Progress{Path: f.Path, Points: f.Len(), Rejected: f.Rejected})
	}
	return nil
}

// reject：记录被丢弃的点（FieldError / RangeError），不中断解析
func (c *checkpoint) reject(f *File, err error) {
	f.Rejected++
	reason := "field"
	if _, ok := err.(*geo.RangeError); ok {
		reason = "range"
	}
	metrics.TrackPointsRejectedTotal.WithLabelValues(reason).Inc()
	c.log.Debug("track_point_rejected", "path", f.Path, "format", f.Format, "reason", reason, "err", err)
}

// accept：校验坐标范围后写入当前分段
func (c *checkpoint) accept(f *File, p Point) {
	if err := geo.Validate(p.Lat, p.Lon); err != nil {
		c.reject(f, err)
		return
	}
	f.add(p)
	metrics.TrackPointsParsedTotal.Inc()
}

// DetectFormat：按扩展名识别格式，未知扩展名返回空串
func DetectFormat(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case FormatGPX:
		return FormatGPX
	case FormatKML:
		return FormatKML
	case FormatCSV:
		return FormatCSV
	}
	return ""
}

// 文档注释：解析轨迹文件
// 背景：按扩展名分派到 GPX/KML/CSV 流式解析器；每个文件分配新的 ID。
// 返回：FormatError 表示整个文件不可用；逐点错误只计入 Rejected。
func Parse(ctx context.Context, path string, opts Options) (*File, error) {
	format := DetectFormat(path)
	if format == "" {
		return nil, &FormatError{Path: path, Format: strings.TrimPrefix(filepath.Ext(path), "."), Reason: "unsupported extension"}
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track file: %w", err)
	}
	defer fh.Close()
	return Decode(ctx, fh, format, path, opts)
}

// Decode：从 io.Reader 解析指定格式，name 仅用于日志与错误信息
func Decode(ctx context.Context, r io.Reader, format, name string, opts Options) (*File, error) {
	t0 := time.Now()
	cp := newCheckpoint(ctx, opts)
	f := newFile(name, format)
	var err error
	switch format {
	case FormatGPX:
		err = decodeGPX(r, f, cp)
	case FormatKML:
		err = decodeKML(r, f, cp)
	case FormatCSV:
		err = decodeCSV(r, f, cp)
	default:
		err = &FormatError{Path: name, Format: format, Reason: "unsupported format"}
	}
	if err != nil {
		metrics.TrackFilesFailedTotal.WithLabelValues(format).Inc()
		return nil, err
	}
	f.finish()
	metrics.TrackFilesLoadedTotal.WithLabelValues(format).Inc()
	metrics.TrackParseDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	cp.log.Debug("track_parse_done", "path", name, "format", format, "points", f.Len(), "segments", len(f.Segments), "rejected", f.Rejected)
	return f, nil
}
