package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"geotag/internal/events"
	"geotag/internal/gazetteer"
	"geotag/internal/geotag"
	"geotag/internal/interp"

	"github.com/gorilla/websocket"
)

const walkGPX = `<?xml version="1.0"?>
<gpx version="1.1"><trk><trkseg>
<trkpt lat="53.50" lon="-113.50"><ele>600</ele><time>2010-10-16T20:11:40Z</time></trkpt>
<trkpt lat="53.52" lon="-113.52"><ele>620</ele><time>2010-10-16T20:15:00Z</time></trkpt>
<trkpt lat="53.56" lon="-113.56"><ele>640</ele><time>2010-10-16T20:25:56Z</time></trkpt>
</trkseg></trk></gpx>`

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	return newRootedServer(t, "")
}

func newRootedServer(t *testing.T, photoRoot string) (*httptest.Server, *Hub) {
	t.Helper()
	gaz, err := gazetteer.Default()
	if err != nil {
		t.Fatalf("gazetteer: %v", err)
	}
	hub := NewHub()
	sess := geotag.New(geotag.Options{Gazetteer: gaz, Bus: events.NewBus(hub), System: time.UTC})
	h := NewRouter(Options{Session: sess, Gazetteer: gaz, Hub: hub, Base: "/api", UploadDir: t.TempDir(), PhotoRoot: photoRoot})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub
}

func do(t *testing.T, method, url, ctype string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if ctype != "" {
		req.Header.Set("content-type", ctype)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestTrackAndPhotoFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api"

	resp := do(t, http.MethodPost, base+"/tracks/?name=walk.gpx", "application/gpx+xml", strings.NewReader(walkGPX))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("load track status = %d", resp.StatusCode)
	}
	var loaded []struct {
		ID     string `json:"id"`
		Points int    `json:"points"`
	}
	decode(t, resp, &loaded)
	if len(loaded) != 1 || loaded[0].Points != 3 || loaded[0].ID == "" {
		t.Fatalf("loaded = %+v", loaded)
	}

	resp = do(t, http.MethodGet, base+"/tracks/", "", nil)
	var rng struct {
		Alpha  *int64 `json:"alpha"`
		Omega  *int64 `json:"omega"`
		Points int    `json:"points"`
	}
	decode(t, resp, &rng)
	if rng.Alpha == nil || *rng.Alpha != 1287259900 || *rng.Omega != 1287260756 || rng.Points != 3 {
		t.Fatalf("range = %+v", rng)
	}

	resp = do(t, http.MethodGet, base+"/interpolate?ts=1287260000", "", nil)
	var res interp.Result
	decode(t, resp, &res)
	if res.Outcome != interp.Blend || res.Position.Lat < 53.5099 || res.Position.Lat > 53.5101 {
		t.Fatalf("interpolate = %+v", res)
	}

	body := `{"name":"IMG_1.JPG","raw":"2010:10:16 20:13:20"}`
	resp = do(t, http.MethodPost, base+"/photos/", "application/json", strings.NewReader(body))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add photo status = %d", resp.StatusCode)
	}
	var pv geotag.PhotoView
	decode(t, resp, &pv)
	if !pv.Located || pv.Stamp != 1287260000 || pv.Place == nil || pv.Place.City != "Edmonton" {
		t.Fatalf("photo view = %+v", pv)
	}

	resp = do(t, http.MethodPut, base+"/photos/IMG_1.JPG/offset", "application/json", strings.NewReader(`{"delta":-100}`))
	decode(t, resp, &pv)
	if pv.Stamp != 1287259900 || pv.Position.Lat != 53.50 {
		t.Fatalf("after offset = %+v", pv)
	}

	resp = do(t, http.MethodGet, base+"/tracks/export.gpx", "", nil)
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte("IMG_1.JPG")) || !bytes.Contains(b, []byte("<trkpt")) {
		t.Fatalf("gpx export missing content: %s", b)
	}

	resp = do(t, http.MethodDelete, base+"/tracks/"+loaded[0].ID, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodDelete, base+"/tracks/"+loaded[0].ID, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp.StatusCode)
	}
}

func TestMultipartTrackUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "walk.gpx")
	_, _ = fw.Write([]byte(walkGPX))
	fw, _ = mw.CreateFormFile("file", "points.csv")
	_, _ = fw.Write([]byte("time,lat,lon\n1287260800,53.57,-113.57\n1287260900,53.58,-113.58\n"))
	mw.Close()

	resp := do(t, http.MethodPost, srv.URL+"/api/tracks/", mw.FormDataContentType(), &buf)
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d body=%s", resp.StatusCode, b)
	}
	var loaded []map[string]any
	decode(t, resp, &loaded)
	if len(loaded) != 2 {
		t.Fatalf("loaded = %v", loaded)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api"
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/tracks/?name=bad.gpx", "<kml></kml>", http.StatusUnprocessableEntity},
		{http.MethodPost, "/tracks/?name=notes.txt", "x", http.StatusUnprocessableEntity},
		{http.MethodGet, "/interpolate", "", http.StatusBadRequest},
		{http.MethodGet, "/interpolate?ts=abc", "", http.StatusBadRequest},
		{http.MethodGet, "/geocode?lat=91&lon=0", "", http.StatusBadRequest},
		{http.MethodGet, "/geocode?lat=1", "", http.StatusBadRequest},
		{http.MethodPut, "/photos/none.jpg/offset", `{"delta":1}`, http.StatusNotFound},
		{http.MethodDelete, "/photos/none.jpg", "", http.StatusNotFound},
		{http.MethodPost, "/photos/", `{"name":"a.jpg"}`, http.StatusBadRequest},
		{http.MethodPut, "/timezone", `{"policy":"custom","region":"Mars","city":"Olympus"}`, http.StatusBadRequest},
		{http.MethodPut, "/timezone", `{"policy":"lunar"}`, http.StatusBadRequest},
		{http.MethodGet, "/timezones?region=Atlantis", "", http.StatusBadRequest},
	}
	for _, c := range cases {
		var body io.Reader
		if c.body != "" {
			body = strings.NewReader(c.body)
		}
		resp := do(t, c.method, base+c.path, "application/json", body)
		if resp.StatusCode != c.want {
			t.Errorf("%s %s = %d, want %d", c.method, c.path, resp.StatusCode, c.want)
		}
	}
}

func TestPhotoPathConfinedToRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "photos")
	if err := os.MkdirAll(filepath.Join(root, "day1"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(root, "day1", "in.jpg"), filepath.Join(base, "secret.jpg")} {
		if err := os.WriteFile(p, []byte("not exif"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(filepath.Join(base, "secret.jpg"), filepath.Join(root, "link.jpg")); err != nil {
		t.Fatal(err)
	}

	srv, _ := newRootedServer(t, root)
	url := srv.URL + "/api/photos/"
	cases := []struct {
		path string
		want int
	}{
		{"day1/in.jpg", http.StatusCreated},
		{filepath.Join(root, "day1", "in.jpg"), http.StatusCreated},
		{"../secret.jpg", http.StatusBadRequest},
		{"day1/../../secret.jpg", http.StatusBadRequest},
		{filepath.Join(base, "secret.jpg"), http.StatusBadRequest},
		{"link.jpg", http.StatusBadRequest},
		{"/etc/passwd", http.StatusBadRequest},
	}
	for _, c := range cases {
		body, _ := json.Marshal(photoRequest{Path: c.path})
		resp := do(t, http.MethodPost, url, "application/json", bytes.NewReader(body))
		if resp.StatusCode != c.want {
			t.Errorf("path %q = %d, want %d", c.path, resp.StatusCode, c.want)
		}
	}

	open, _ := newTestServer(t)
	resp := do(t, http.MethodPost, open.URL+"/api/photos/", "application/json", strings.NewReader(`{"path":"/etc/hostname"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("server paths without a photo root = %d, want 400", resp.StatusCode)
	}
}

func TestSkippedInterpolationAndTimezone(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api"

	resp := do(t, http.MethodGet, base+"/interpolate?ts=1287260000&offset=5", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res interp.Result
	decode(t, resp, &res)
	if res.Outcome != interp.Skipped {
		t.Fatalf("empty timeline should skip: %+v", res)
	}

	resp = do(t, http.MethodPut, base+"/timezone", "application/json", strings.NewReader(`{"policy":"custom","region":"America","city":"Edmonton"}`))
	var st geotag.TimezoneState
	decode(t, resp, &st)
	if st.Active != "America/Edmonton" || st.Region != "America" {
		t.Fatalf("timezone state = %+v", st)
	}

	resp = do(t, http.MethodGet, base+"/timezones?region=America", "", nil)
	var zones zonesResult
	decode(t, resp, &zones)
	found := false
	for _, c := range zones.Cities {
		if c == "Edmonton" {
			found = true
		}
	}
	if !found || len(zones.Regions) == 0 {
		t.Fatalf("zones = %+v", zones)
	}

	resp = do(t, http.MethodGet, base+"/geocode?lat=53.5501&lon=-113.4687", "", nil)
	var g geocodeResult
	decode(t, resp, &g)
	if g.Bucket != "53.55,-113.47" || g.City != "Edmonton" {
		t.Fatalf("geocode = %+v", g)
	}
}

func TestEventStream(t *testing.T) {
	srv, hub := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := do(t, http.MethodPost, srv.URL+"/api/tracks/?name=walk.gpx", "", strings.NewReader(walkGPX))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("load status = %d", resp.StatusCode)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Kind != events.TrackLoaded || e.Path != "walk.gpx" {
		t.Fatalf("first event = %+v", e)
	}
}
