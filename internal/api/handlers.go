package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"geotag/internal/export"
	"geotag/internal/geo"
	"geotag/internal/geotag"
	"geotag/internal/photo"
	"geotag/internal/revgeo"
	"geotag/internal/track"
	"geotag/internal/tz"

	"github.com/go-chi/chi/v5"
)

// errBadRequest：参数缺失或格式错误
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// 文档注释：错误到状态码的映射
// 约束：文件级格式错误 422；未知轨迹/照片 404；坐标越界、未知时区与参数错误 400；其余 500。
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var fe *track.FormatError
	var re *geo.RangeError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &fe):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, geotag.ErrUnknownTrack), errors.Is(err, photo.ErrUnknownPhoto):
		code = http.StatusNotFound
	case errors.As(err, &re), errors.Is(err, tz.ErrUnknownZone), errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.As(err, &mbe):
		code = http.StatusRequestEntityTooLarge
	}
	if code == http.StatusInternalServerError {
		s.log.Error("http_handler_error", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, errorResult{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return badRequest("invalid json body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, required bool) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		if required {
			return 0, badRequest("missing %s", key)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s %q", key, v)
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, badRequest("missing %s", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, badRequest("invalid %s %q", key, v)
	}
	return f, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("content-type"), "multipart/")
}

func (s *server) listTracks(w http.ResponseWriter, r *http.Request) {
	alpha, omega, n := s.sess.Range()
	res := rangeResult{Points: n, Tracks: []trackResult{}}
	if n > 0 {
		res.Alpha, res.Omega = &alpha, &omega
	}
	for _, f := range s.sess.Tracks() {
		res.Tracks = append(res.Tracks, trackResult{File: f, Points: f.Len()})
	}
	writeJSON(w, http.StatusOK, res)
}

// 文档注释：上传轨迹
// 背景：multipart 表单可一次上传多个 "file"；也可直接以请求体上传单个文件，名称与格式由 name/format 参数给出。
// 约束：多文件上传中某个文件失败时立即返回错误，之前的文件已加载。
func (s *server) loadTracks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	var out []trackResult
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			s.writeError(w, r, badRequest("invalid multipart form: %v", err))
			return
		}
		parts := r.MultipartForm.File["file"]
		if len(parts) == 0 {
			s.writeError(w, r, badRequest("missing file"))
			return
		}
		for _, fh := range parts {
			f, err := s.loadPart(r, fh)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			out = append(out, trackResult{File: f, Points: f.Len()})
		}
		writeJSON(w, http.StatusCreated, out)
		return
	}
	name := r.URL.Query().Get("name")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = track.DetectFormat(name)
	}
	// 无法识别的格式由解析器返回 FormatError
	f, err := s.sess.LoadReader(ctx, r.Body, strings.ToLower(format), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, []trackResult{{File: f, Points: f.Len()}})
}

func (s *server) loadPart(r *http.Request, fh *multipart.FileHeader) (*track.File, error) {
	format := track.DetectFormat(fh.Filename)
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return s.sess.LoadReader(r.Context(), src, format, fh.Filename)
}

func (s *server) removeTrack(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.RemoveTrack(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// waypoints：已定位照片作为导出航点
func (s *server) waypoints() []export.Waypoint {
	var out []export.Waypoint
	for _, p := range s.sess.Photos() {
		if p.Located {
			out = append(out, export.Waypoint{Name: p.Name, Time: p.Stamp, Position: p.Position})
		}
	}
	return out
}

func (s *server) exportGPX(w http.ResponseWriter, r *http.Request) {
	b, err := export.GPX(s.sess.Tracks(), s.waypoints())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("content-type", "application/gpx+xml")
	w.Header().Set("content-disposition", `attachment; filename="timeline.gpx"`)
	_, _ = w.Write(b)
}

func (s *server) exportGeoJSON(w http.ResponseWriter, r *http.Request) {
	b, err := export.GeoJSON(s.sess.Tracks(), s.waypoints())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("content-type", "application/geo+json")
	_, _ = w.Write(b)
}

// interpolate：ts 为原始时间（UTC 秒），offset 为偏差；时间线不足两点时 outcome=skipped
func (s *server) interpolate(w http.ResponseWriter, r *http.Request) {
	ts, err := queryInt(r, "ts", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, _ := s.sess.Interpolate(ts, offset)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) geocode(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.sess.Geocode(r.Context(), lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, geocodeResult{Bucket: revgeo.Bucket(lat, lon), Entry: e})
}

func (s *server) listPhotos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Photos())
}

func (s *server) getPhoto(w http.ResponseWriter, r *http.Request) {
	v, err := s.sess.Photo(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// 文档注释：登记照片
// 背景：multipart 上传照片文件时保存到上传目录后读取 EXIF；JSON 请求可直接给出拍摄时间或服务端路径。
// 约束：服务端路径必须位于 PhotoRoot 之内，未配置 PhotoRoot 时拒绝。
func (s *server) addPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		rec, err := s.savePhoto(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.sess.AddPhoto(ctx, rec))
		return
	}
	var req photoRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var rec *photo.Record
	switch {
	case req.Raw != "":
		raw, err := photo.ParseRaw(req.Raw)
		if err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		rec = &photo.Record{Name: req.Name, Path: req.Path, Raw: raw, Source: photo.SourceGiven}
	case req.Path != "":
		path, err := s.photoPath(req.Path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if rec, err = photo.Open(path); err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		if req.Name != "" {
			rec.Name = req.Name
		}
	default:
		s.writeError(w, r, badRequest("either raw or path is required"))
		return
	}
	if rec.Name == "" {
		s.writeError(w, r, badRequest("missing name"))
		return
	}
	rec.Delta = req.Delta
	writeJSON(w, http.StatusCreated, s.sess.AddPhoto(ctx, rec))
}

// photoPath：相对路径按 PhotoRoot 解析；解析符号链接后仍须位于 PhotoRoot 之内
func (s *server) photoPath(p string) (string, error) {
	if s.photoRoot == "" {
		return "", badRequest("server-side photo paths are disabled")
	}
	root, err := filepath.Abs(s.photoRoot)
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	if r, err := filepath.EvalSymlinks(full); err == nil {
		full = r
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", badRequest("path %q is outside the photo root", p)
	}
	return full, nil
}

func (s *server) savePhoto(r *http.Request) (*photo.Record, error) {
	src, fh, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("missing file: %v", err)
	}
	defer src.Close()
	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) || !photo.IsImage(name) {
		return nil, badRequest("unsupported photo %q", fh.Filename)
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, err
	}
	dst := filepath.Join(s.uploadDir, name)
	out, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	rec, err := photo.Open(dst)
	if err != nil {
		return nil, err
	}
	if v := r.FormValue("delta"); v != "" {
		d, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, badRequest("invalid delta %q", v)
		}
		rec.Delta = d
	}
	return rec, nil
}

func (s *server) removePhoto(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.sess.RemovePhoto(name) {
		s.writeError(w, r, fmt.Errorf("%w: %s", photo.ErrUnknownPhoto, name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) setOffset(w http.ResponseWriter, r *http.Request) {
	var req offsetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.sess.SetOffset(r.Context(), chi.URLParam(r, "name"), req.Delta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) setManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.sess.SetManual(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) clearManual(w http.ResponseWriter, r *http.Request) {
	v, err := s.sess.ClearManual(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) getTimezone(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Timezone())
}

func (s *server) setTimezone(w http.ResponseWriter, r *http.Request) {
	var req timezoneRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := tz.ParsePolicy(req.Policy)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	if err := s.sess.SetPolicy(r.Context(), p, req.Region, req.City); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Timezone())
}

// listZones：不带 region 时返回全部区域；带 region 时附带该区域下的城市
func (s *server) listZones(w http.ResponseWriter, r *http.Request) {
	res := zonesResult{Regions: s.gaz.ZoneRegions()}
	if region := r.URL.Query().Get("region"); region != "" {
		res.Cities = s.gaz.ZoneCities(region)
		if res.Cities == nil {
			s.writeError(w, r, fmt.Errorf("%w: region %s", tz.ErrUnknownZone, region))
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}
