// 包 archive：PostgreSQL 归档，保存已加载轨迹与已解析的地名网格，供重启后恢复与缓存预热
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"geotag/internal/logger"
	"geotag/internal/revgeo"
	"geotag/internal/track"
)

// Archive：数据库访问入口，持有连接池
type Archive struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Archive { return &Archive{db: db} }

func (a *Archive) Close() error { return a.db.Close() }

// 文档注释：保存轨迹文件及其全部点（单事务）
// 约束：同一 ID 已存在时不重复写入点（恢复启动时会再次经过此路径）。
func (a *Archive) SaveTrack(ctx context.Context, f *track.File) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO _track_files(id, path, format, alpha, omega, points, rejected) VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		f.ID, f.Path, f.Format, f.Alpha, f.Omega, f.Len(), f.Rejected)
	if err != nil {
		return fmt.Errorf("insert track file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.L().Debug("archive_track_exists", "id", f.ID)
		return tx.Commit()
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _track_points(file_id, seg, ts, lat, lon, ele) VALUES($1,$2,$3,$4,$5,$6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for si, seg := range f.Segments {
		for _, p := range seg.Points {
			if _, err := stmt.ExecContext(ctx, f.ID, si, p.Time, p.Lat, p.Lon, p.Ele); err != nil {
				return fmt.Errorf("insert track point: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Debug("archive_track_saved", "id", f.ID, "points", f.Len())
	return nil
}

// DeleteTrack：删除轨迹文件（点随外键级联删除）
func (a *Archive) DeleteTrack(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM _track_files WHERE id=$1`, id)
	return err
}

// 文档注释：读取全部归档轨迹（按加载时间顺序）
// 背景：服务重启后按原加载顺序恢复，保证时间戳冲突时仍是后加载者优先。
func (a *Archive) LoadTracks(ctx context.Context) ([]*track.File, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, path, format, rejected FROM _track_files ORDER BY loaded_at, id`)
	if err != nil {
		return nil, err
	}
	var files []*track.File
	for rows.Next() {
		f := &track.File{Alpha: math.MaxInt64, Omega: math.MinInt64}
		if err := rows.Scan(&f.ID, &f.Path, &f.Format, &f.Rejected); err != nil {
			rows.Close()
			return nil, err
		}
		files = append(files, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := a.loadPoints(ctx, f); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func (a *Archive) loadPoints(ctx context.Context, f *track.File) error {
	rows, err := a.db.QueryContext(ctx, `SELECT seg, ts, lat, lon, ele FROM _track_points WHERE file_id=$1 ORDER BY seg, ts`, f.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	cur := -1
	for rows.Next() {
		var seg int
		var p track.Point
		if err := rows.Scan(&seg, &p.Time, &p.Lat, &p.Lon, &p.Ele); err != nil {
			return err
		}
		if seg != cur {
			f.Segments = append(f.Segments, track.Segment{})
			cur = seg
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
	return rows.Err()
}

// SaveGeocode：保存网格条目；条目不可变，已存在时忽略
func (a *Archive) SaveGeocode(ctx context.Context, bucket string, e revgeo.Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO _geocode_buckets(bucket, entry) VALUES($1,$2) ON CONFLICT (bucket) DO NOTHING`, bucket, b)
	return err
}

// LoadGeocodes：读取全部网格条目用于缓存预热；单行解码失败时跳过
func (a *Archive) LoadGeocodes(ctx context.Context) (map[string]revgeo.Entry, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT bucket, entry FROM _geocode_buckets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]revgeo.Entry)
	for rows.Next() {
		var bucket string
		var raw []byte
		if err := rows.Scan(&bucket, &raw); err != nil {
			return nil, err
		}
		var e revgeo.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.L().Warn("archive_geocode_decode_error", "bucket", bucket, "err", err)
			continue
		}
		out[bucket] = e
	}
	return out, rows.Err()
}
