// 包 api：集中注册 HTTP API 路由以解耦主入口；会话、地名表与事件流由主入口注入
package api

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"geotag/internal/gazetteer"
	"geotag/internal/geotag"
	"geotag/internal/logger"
	"geotag/internal/metrics"
	"geotag/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxUpload：单次上传（轨迹或照片）的最大字节数
const maxUpload = 64 << 20

// 文档注释：路由选项
// 约束：Base 为空时挂载到根路径；UploadDir 为空时使用系统临时目录下的 geotag-uploads；
// PhotoRoot 为空时 JSON 登记照片不接受服务端路径。
type Options struct {
	Session   *geotag.Session
	Gazetteer *gazetteer.Index
	Hub       *Hub
	Base      string
	Origins   []string
	RateLimit bool
	QPS       int
	UploadDir string
	PhotoRoot string
	Logger    *slog.Logger
}

type server struct {
	sess      *geotag.Session
	gaz       *gazetteer.Index
	hub       *Hub
	uploadDir string
	photoRoot string
	log       *slog.Logger
}

// 文档注释：构建并返回 API 路由
// 流程：恢复 → 访问日志 → CORS → 限流 → 路由耗时统计 → 业务处理。
func NewRouter(o Options) http.Handler {
	l := o.Logger
	if l == nil {
		l = logger.L()
	}
	gaz := o.Gazetteer
	if gaz == nil {
		gaz = gazetteer.Empty()
	}
	hub := o.Hub
	if hub == nil {
		hub = NewHub()
	}
	dir := o.UploadDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "geotag-uploads")
	}
	s := &server{sess: o.Session, gaz: gaz, hub: hub, uploadDir: dir, photoRoot: o.PhotoRoot, log: l}
	origins := o.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(logger.AccessMiddleware(l))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimit(o.RateLimit, o.QPS))
	r.Use(observe)

	routes := func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("OK")) })
		r.Route("/tracks", func(r chi.Router) {
			r.Get("/", s.listTracks)
			r.Post("/", s.loadTracks)
			r.Get("/export.gpx", s.exportGPX)
			r.Get("/export.geojson", s.exportGeoJSON)
			r.Delete("/{id}", s.removeTrack)
		})
		r.Get("/interpolate", s.interpolate)
		r.Get("/geocode", s.geocode)
		r.Route("/photos", func(r chi.Router) {
			r.Get("/", s.listPhotos)
			r.Post("/", s.addPhoto)
			r.Get("/{name}", s.getPhoto)
			r.Delete("/{name}", s.removePhoto)
			r.Put("/{name}/offset", s.setOffset)
			r.Put("/{name}/manual", s.setManual)
			r.Delete("/{name}/manual", s.clearManual)
		})
		r.Get("/timezone", s.getTimezone)
		r.Put("/timezone", s.setTimezone)
		r.Get("/timezones", s.listZones)
		r.Get("/events", hub.ServeHTTP)
		r.Handle("/metrics", metrics.Handler())
	}
	if o.Base == "" || o.Base == "/" {
		routes(r)
	} else {
		r.Route(o.Base, routes)
	}
	return r
}

// observe：按路由模板统计处理耗时（避免按原始路径产生高基数标签）
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		next.ServeHTTP(w, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.HTTPRequestDurationMs.WithLabelValues(route, r.Method).Observe(float64(time.Since(t0).Milliseconds()))
	})
}
