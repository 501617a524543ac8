// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geotag/internal/api"
	"geotag/internal/archive"
	"geotag/internal/config"
	"geotag/internal/events"
	"geotag/internal/gazetteer"
	"geotag/internal/geotag"
	"geotag/internal/logger"
	"geotag/internal/migrate"
	"geotag/internal/nominatim"
	"geotag/internal/revgeo"
	"geotag/internal/track"
	"geotag/internal/tz"
	"geotag/internal/utils"
)

func main() {
	cfg, err := config.Load()
	// 日志初始化（.env 已由配置层读入环境变量）
	l := logger.Setup()
	if err != nil {
		l.Error("config_load_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gaz, err := gazetteer.Load(cfg.GazetteerDir)
	if err != nil {
		l.Error("gazetteer_load_error", "dir", cfg.GazetteerDir, "err", err)
		os.Exit(1)
	}
	l.Info("gazetteer_load_ok", "cities", gaz.Len(), "skipped", gaz.Skipped)

	// 归档（可选）：未配置 PG_DSN 或数据库不可达时仅在内存中工作
	var arc *archive.Archive
	if cfg.PGDSN == "" {
		l.Info("archive_disabled")
	} else if db, err := utils.OpenPostgres(cfg.PGDSN); err != nil {
		l.Error("db_open_error", "err", err)
	} else if err := db.PingContext(ctx); err != nil {
		l.Error("db_ping_error", "err", err)
		_ = db.Close()
	} else if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	} else {
		l.Info("db_ping_ok")
		arc = archive.AttachDB(db)
		defer arc.Close()
	}

	copts := revgeo.Options{Timeout: cfg.RemoteTimeout(), Logger: l}
	if rc := utils.PingRedis(ctx, utils.OpenRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)); rc != nil {
		l.Info("redis_ping_ok", "addr", cfg.RedisAddr)
		defer rc.Close()
		copts.Tier = revgeo.NewRedisTier(rc, cfg.CacheTTL())
	} else {
		l.Info("redis_disabled")
	}
	if cfg.RemoteGeocoderURL != "" {
		copts.Remote = nominatim.New(cfg.RemoteGeocoderURL, cfg.RemoteTimeout())
		l.Info("remote_geocoder_enabled", "url", cfg.RemoteGeocoderURL)
	}
	if arc != nil {
		copts.OnResolve = func(bucket string, e revgeo.Entry) {
			if err := arc.SaveGeocode(context.Background(), bucket, e); err != nil {
				l.Warn("archive_save_geocode_error", "bucket", bucket, "err", err)
			}
		}
	}
	cache := revgeo.New(gaz, copts)
	if arc != nil {
		if entries, err := arc.LoadGeocodes(ctx); err != nil {
			l.Warn("archive_load_geocodes_error", "err", err)
		} else {
			l.Info("geocode_cache_warm", "entries", cache.Warm(entries))
		}
	}

	hub := api.NewHub()
	bus := events.NewBus(hub)
	if cfg.NATSURL != "" {
		if nc, err := events.ConnectNATS(cfg.NATSURL); err != nil {
			l.Error("nats_connect_error", "err", err)
		} else {
			l.Info("nats_connect_ok", "url", nc.ConnectedUrl(), "subject", cfg.NATSSubject)
			bus.Add(events.NewNATSPublisher(nc, cfg.NATSSubject))
			defer nc.Drain()
		}
	}

	sopts := geotag.Options{
		Gazetteer:        gaz,
		Cache:            cache,
		Bus:              bus,
		System:           time.Local,
		ProgressInterval: cfg.ProgressInterval(),
		OnProgress: func(p track.Progress) {
			l.Debug("track_load_progress", "path", p.Path, "points", p.Points, "rejected", p.Rejected)
		},
		Logger: l,
	}
	if arc != nil {
		sopts.Archive = arc
	}
	sess := geotag.New(sopts)

	policy, err := tz.ParsePolicy(cfg.TZPolicy)
	if err != nil {
		l.Warn("tz_policy_invalid", "policy", cfg.TZPolicy, "err", err)
		policy = tz.PolicySystem
	}
	if err := sess.SetPolicy(ctx, policy, cfg.TZRegion, cfg.TZCity); err != nil {
		l.Warn("tz_policy_error", "policy", policy, "err", err)
		_ = sess.SetPolicy(ctx, tz.PolicySystem, "", "")
	}

	if arc != nil {
		files, err := arc.LoadTracks(ctx)
		if err != nil {
			l.Warn("archive_load_tracks_error", "err", err)
		}
		for _, f := range files {
			sess.Restore(ctx, f)
		}
		l.Info("archive_restore_ok", "tracks", len(files))
	}

	handler := api.NewRouter(api.Options{
		Session:   sess,
		Gazetteer: gaz,
		Hub:       hub,
		Base:      cfg.APIBase,
		Origins:   cfg.Origins(),
		RateLimit: cfg.RateLimitEnabled,
		QPS:       cfg.RateLimitQPS,
		PhotoRoot: cfg.PhotoRoot,
		Logger:    l,
	})
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		l.Info("listening", "addr", cfg.Addr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("listen_error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.Close()
	if err := s.Shutdown(shutdownCtx); err != nil {
		l.Warn("shutdown_error", "err", err)
	}
	l.Info("shutdown_ok")
}
