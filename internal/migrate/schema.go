// 包 migrate：归档库表结构
package migrate

import (
	"context"
	"database/sql"

	"geotag/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续归档与预热
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；删除轨迹文件时其点随外键级联删除
var stmts = []string{
	`CREATE TABLE IF NOT EXISTS _track_files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		format TEXT NOT NULL,
		alpha BIGINT NOT NULL,
		omega BIGINT NOT NULL,
		points INT NOT NULL,
		rejected INT NOT NULL DEFAULT 0,
		loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS _track_points (
		file_id TEXT NOT NULL REFERENCES _track_files(id) ON DELETE CASCADE,
		seg INT NOT NULL,
		ts BIGINT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		ele DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_track_points_file ON _track_points(file_id, seg, ts)`,
	`CREATE TABLE IF NOT EXISTS _geocode_buckets (
		bucket TEXT PRIMARY KEY,
		entry JSONB NOT NULL,
		resolved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
