// 包 geotag：关联会话，持有轨迹时间线、反地理缓存、时区解析器与照片集合，并对外发出事件
package geotag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"geotag/internal/events"
	"geotag/internal/gazetteer"
	"geotag/internal/geo"
	"geotag/internal/interp"
	"geotag/internal/logger"
	"geotag/internal/photo"
	"geotag/internal/revgeo"
	"geotag/internal/store"
	"geotag/internal/track"
	"geotag/internal/tz"
)

// ErrUnknownTrack：按 ID 找不到轨迹文件
var ErrUnknownTrack = errors.New("unknown track file")

// Archive：轨迹持久化（可选）
type Archive interface {
	SaveTrack(ctx context.Context, f *track.File) error
	DeleteTrack(ctx context.Context, id string) error
}

// 文档注释：会话选项
// 约束：Cache 为空时以 Gazetteer 构造同步缓存；System 为空时使用 time.Local；ProgressInterval<=0 时使用解析器默认间隔。
type Options struct {
	Gazetteer        *gazetteer.Index
	Cache            *revgeo.Cache
	Bus              *events.Bus
	Archive          Archive
	System           *time.Location
	ProgressInterval time.Duration
	OnProgress       func(track.Progress)
	Logger           *slog.Logger
}

// geoReq：待发起的反地理请求（在释放会话锁之后执行）
type geoReq struct {
	photo  string
	fileID string
	lat    float64
	lon    float64
}

// 文档注释：关联会话
// 背景：时间线与缓存都是显式持有的结构，由会话统一构造并传给各组件；HTTP 与 CLI 共用。
// 约束：
//   - 会话锁串行化全部状态修改，等价于单一控制线程
//   - 反地理请求一律在释放锁之后发起（同步路径的回调会重新加锁）
//   - 异步回调到达时对应的照片或轨迹可能已被移除或已改变位置，此时结果被丢弃
type Session struct {
	mu       sync.Mutex
	store    *store.Store
	cache    *revgeo.Cache
	resolver *tz.Resolver
	photos   *photo.Library
	places   map[string]revgeo.Entry
	bus      *events.Bus
	archive  Archive
	deferred []geoReq
	opts     Options
	log      *slog.Logger
}

// New：构造会话
func New(opts Options) *Session {
	l := opts.Logger
	if l == nil {
		l = logger.L()
	}
	c := opts.Cache
	if c == nil {
		c = revgeo.New(opts.Gazetteer, revgeo.Options{Logger: l})
	}
	s := &Session{
		store:   store.New(),
		cache:   c,
		photos:  photo.NewLibrary(),
		places:  make(map[string]revgeo.Entry),
		bus:     opts.Bus,
		archive: opts.Archive,
		opts:    opts,
		log:     l,
	}
	s.resolver = tz.New(opts.System, retimer{s})
	return s
}

// retimer：时区变化回调；调用时会话锁已被持有
type retimer struct{ s *Session }

func (r retimer) Retime(loc *time.Location) {
	s := r.s
	s.photos.Retime(loc)
	s.bus.Publish(context.Background(), events.Event{Kind: events.TimezoneChanged, Timezone: loc.String(), Policy: string(s.resolver.Policy())})
	for _, rec := range s.photos.All() {
		s.locateLocked(rec)
	}
}

// 文档注释：为单张照片插值（持锁）
// 约束：手动定位或时间线少于两个点时不做任何修改；得到位置后登记待发起的反地理请求。
func (s *Session) locateLocked(rec *photo.Record) {
	if rec.Manual {
		return
	}
	res, ok := interp.Interpolate(s.store, rec.RawEpoch(s.resolver.Active()), rec.Delta)
	if !ok {
		return
	}
	rec.Located, rec.Position = true, res.Position
	pos := res.Position
	s.bus.Publish(context.Background(), events.Event{Kind: events.PositionDetermined, Photo: rec.Name, Stamp: rec.Stamp, Position: &pos})
	s.deferred = append(s.deferred, geoReq{photo: rec.Name, lat: pos.Lat, lon: pos.Lon})
}

// flush：释放锁后发起累积的反地理请求
func (s *Session) flush(ctx context.Context) {
	s.mu.Lock()
	reqs := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, r := range reqs {
		r := r
		s.cache.Resolve(ctx, r.lat, r.lon, func(bucket string, e revgeo.Entry) { s.placeResolved(r, bucket, e) })
	}
}

// placeResolved：反地理结果回调（可能来自其他 goroutine）
func (s *Session) placeResolved(r geoReq, bucket string, e revgeo.Entry) {
	s.mu.Lock()
	if r.photo != "" {
		rec, err := s.photos.Get(r.photo)
		if err != nil || !rec.Located || revgeo.Bucket(rec.Position.Lat, rec.Position.Lon) != bucket {
			s.mu.Unlock()
			s.log.Debug("geocode_result_stale", "photo", r.photo, "bucket", bucket)
			return
		}
		s.places[r.photo] = e
		s.bus.Publish(context.Background(), events.Event{Kind: events.PlaceResolved, Photo: r.photo, Bucket: bucket, Place: &e, Timezone: e.Timezone})
		s.mu.Unlock()
		return
	}
	if _, ok := s.store.File(r.fileID); !ok {
		s.mu.Unlock()
		s.log.Debug("geocode_result_stale", "file_id", r.fileID, "bucket", bucket)
		return
	}
	s.bus.Publish(context.Background(), events.Event{Kind: events.PlaceResolved, FileID: r.fileID, Bucket: bucket, Place: &e, Timezone: e.Timezone})
	s.resolver.NoteTrackZone(e.Timezone)
	s.mu.Unlock()
	s.flush(context.Background())
}

// 文档注释：加载轨迹文件
// 流程：解析（不持锁）→ 并入时间线 → 全部照片重新插值 → 对轨迹首点反地理以确定轨迹时区。
// 返回：FormatError 表示整个文件不可用，时间线不变。
func (s *Session) LoadTrack(ctx context.Context, path string) (*track.File, error) {
	f, err := track.Parse(ctx, path, s.parseOptions())
	if err != nil {
		s.log.Warn("track_load_error", "path", path, "err", err)
		return nil, err
	}
	return s.addTrack(ctx, f), nil
}

// LoadReader：从上传内容加载，name 用于日志与文件标识
func (s *Session) LoadReader(ctx context.Context, r io.Reader, format, name string) (*track.File, error) {
	f, err := track.Decode(ctx, r, format, name, s.parseOptions())
	if err != nil {
		s.log.Warn("track_load_error", "path", name, "err", err)
		return nil, err
	}
	return s.addTrack(ctx, f), nil
}

// Restore：并入已解析的轨迹（归档恢复），保留原 ID
func (s *Session) Restore(ctx context.Context, f *track.File) *track.File {
	return s.addTrack(ctx, f)
}

func (s *Session) parseOptions() track.Options {
	return track.Options{Progress: s.opts.OnProgress, Interval: s.opts.ProgressInterval, Logger: s.log}
}

func (s *Session) addTrack(ctx context.Context, f *track.File) *track.File {
	s.mu.Lock()
	s.store.Add(f)
	s.bus.Publish(ctx, events.Event{Kind: events.TrackLoaded, FileID: f.ID, Path: f.Path})
	for _, rec := range s.photos.All() {
		s.locateLocked(rec)
	}
	if !f.Empty() {
		first := f.Segments[0].Points[0]
		s.deferred = append(s.deferred, geoReq{fileID: f.ID, lat: first.Lat, lon: first.Lon})
	}
	points := s.store.Len()
	s.mu.Unlock()
	s.log.Info("track_load_ok", "path", f.Path, "id", f.ID, "points", f.Len(), "rejected", f.Rejected, "store_points", points)
	if s.archive != nil {
		if err := s.archive.SaveTrack(ctx, f); err != nil {
			s.log.Warn("archive_save_track_error", "id", f.ID, "err", err)
		}
	}
	s.flush(ctx)
	return f
}

// 文档注释：移除轨迹文件
// 约束：时间线范围全量重算；全部移除后清空轨迹时区，以便下一次加载重新判定；照片已有位置在时间线不足两个点时保持不变。
func (s *Session) RemoveTrack(ctx context.Context, id string) error {
	s.mu.Lock()
	f, ok := s.store.Remove(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	if s.store.Empty() {
		s.resolver.ResetTrackZone()
	}
	s.bus.Publish(ctx, events.Event{Kind: events.TrackRemoved, FileID: f.ID, Path: f.Path})
	for _, rec := range s.photos.All() {
		s.locateLocked(rec)
	}
	s.mu.Unlock()
	s.log.Info("track_removed", "id", id, "path", f.Path)
	if s.archive != nil {
		if err := s.archive.DeleteTrack(ctx, id); err != nil {
			s.log.Warn("archive_delete_track_error", "id", id, "err", err)
		}
	}
	s.flush(ctx)
	return nil
}

// Tracks：当前已加载的轨迹文件（按加载顺序）
func (s *Session) Tracks() []*track.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Files()
}

// Range：时间线 alpha/omega 与点数
func (s *Session) Range() (alpha, omega int64, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Alpha(), s.store.Omega(), s.store.Len()
}

// Timeline：按时间排序的全部轨迹点
func (s *Session) Timeline() []track.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Points()
}

// AddPhoto：登记照片，按当前时区计算校正时间并插值
func (s *Session) AddPhoto(ctx context.Context, rec *photo.Record) PhotoView {
	s.mu.Lock()
	s.photos.Put(rec)
	delete(s.places, rec.Name)
	rec.Retime(s.resolver.Active())
	s.locateLocked(rec)
	s.mu.Unlock()
	s.flush(ctx)
	return s.snapshot(rec)
}

// AddPhotoFile：读取文件拍摄时间后登记
func (s *Session) AddPhotoFile(ctx context.Context, path string) (PhotoView, error) {
	rec, err := photo.Open(path)
	if err != nil {
		return PhotoView{}, err
	}
	return s.AddPhoto(ctx, rec), nil
}

// SetOffset：修改相机时钟偏差（秒）并重新插值
func (s *Session) SetOffset(ctx context.Context, name string, delta int64) (PhotoView, error) {
	return s.updatePhoto(ctx, name, func(rec *photo.Record) {
		rec.Delta = delta
		rec.Retime(s.resolver.Active())
		s.locateLocked(rec)
	})
}

// SetManual：手动指定位置，之后不再参与插值
func (s *Session) SetManual(ctx context.Context, name string, pos geo.Position) (PhotoView, error) {
	if err := geo.Validate(pos.Lat, pos.Lon); err != nil {
		return PhotoView{}, err
	}
	return s.updatePhoto(ctx, name, func(rec *photo.Record) {
		rec.Manual, rec.Located, rec.Position = true, true, pos
		s.bus.Publish(ctx, events.Event{Kind: events.PositionDetermined, Photo: rec.Name, Stamp: rec.Stamp, Position: &pos})
		s.deferred = append(s.deferred, geoReq{photo: rec.Name, lat: pos.Lat, lon: pos.Lon})
	})
}

// ClearManual：取消手动定位并按时间线重新插值
func (s *Session) ClearManual(ctx context.Context, name string) (PhotoView, error) {
	return s.updatePhoto(ctx, name, func(rec *photo.Record) {
		rec.Manual = false
		s.locateLocked(rec)
	})
}

func (s *Session) updatePhoto(ctx context.Context, name string, fn func(rec *photo.Record)) (PhotoView, error) {
	s.mu.Lock()
	rec, err := s.photos.Get(name)
	if err != nil {
		s.mu.Unlock()
		return PhotoView{}, err
	}
	fn(rec)
	s.mu.Unlock()
	s.flush(ctx)
	return s.snapshot(rec), nil
}

// snapshot：同步反地理已在 flush 中完成时，快照包含地名
func (s *Session) snapshot(rec *photo.Record) PhotoView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(rec)
}

// RemovePhoto：从会话移除照片
func (s *Session) RemovePhoto(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.places, name)
	return s.photos.Remove(name)
}

// Interpolate：对任意 (原始时间, 偏差) 做一次插值，不修改会话状态
func (s *Session) Interpolate(raw, delta int64) (interp.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return interp.Interpolate(s.store, raw, delta)
}

// Geocode：同步反地理
func (s *Session) Geocode(ctx context.Context, lat, lon float64) (revgeo.Entry, error) {
	if err := geo.Validate(lat, lon); err != nil {
		return revgeo.Entry{}, err
	}
	return s.cache.Lookup(ctx, lat, lon), nil
}

// SetPolicy：设置时区策略，触发全部照片重算
func (s *Session) SetPolicy(ctx context.Context, p tz.Policy, region, city string) error {
	s.mu.Lock()
	err := s.resolver.SetPolicy(p, region, city)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.flush(ctx)
	return nil
}

// TimezoneState：当前时区策略与活动时区
type TimezoneState struct {
	Policy    tz.Policy `json:"policy"`
	Active    string    `json:"active"`
	TrackZone string    `json:"track_zone,omitempty"`
	Region    string    `json:"region,omitempty"`
	City      string    `json:"city,omitempty"`
}

func (s *Session) Timezone() TimezoneState {
	s.mu.Lock()
	defer s.mu.Unlock()
	region, city := s.resolver.Custom()
	return TimezoneState{
		Policy:    s.resolver.Policy(),
		Active:    s.resolver.Active().String(),
		TrackZone: s.resolver.TrackZone(),
		Region:    region,
		City:      city,
	}
}

// PhotoView：照片记录的只读快照与已解析地名
type PhotoView struct {
	photo.Record
	Place *revgeo.Entry `json:"place,omitempty"`
}

func (s *Session) viewLocked(rec *photo.Record) PhotoView {
	v := PhotoView{Record: *rec}
	if e, ok := s.places[rec.Name]; ok {
		v.Place = &e
	}
	return v
}

// Photos：全部照片快照（按名称排序）
func (s *Session) Photos() []PhotoView {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.photos.All()
	out := make([]PhotoView, 0, len(all))
	for _, rec := range all {
		out = append(out, s.viewLocked(rec))
	}
	return out
}

// Photo：单张照片快照
func (s *Session) Photo(name string) (PhotoView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.photos.Get(name)
	if err != nil {
		return PhotoView{}, err
	}
	return s.viewLocked(rec), nil
}
