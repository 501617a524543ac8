// 包 export：把已加载的轨迹与照片位置导出为 GPX 或 GeoJSON
package export

import (
	"time"

	"geotag/internal/geo"
	"geotag/internal/track"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tkrajina/gpxgo/gpx"
)

// Waypoint：已定位照片（导出为航点/点要素）
type Waypoint struct {
	Name     string
	Time     int64
	Position geo.Position
}

// 文档注释：导出 GPX 1.1
// 约束：每个轨迹文件对应一条 <trk>，保留原分段；照片导出为 <wpt>，名称为文件名；时间一律 UTC。
func GPX(files []*track.File, wpts []Waypoint) ([]byte, error) {
	g := &gpx.GPX{Version: "1.1", Creator: "geotag"}
	for _, f := range files {
		t := gpx.GPXTrack{Name: f.Path}
		for _, seg := range f.Segments {
			s := gpx.GPXTrackSegment{}
			for _, p := range seg.Points {
				s.Points = append(s.Points, gpxPoint(p.Position(), p.Time, ""))
			}
			t.Segments = append(t.Segments, s)
		}
		g.Tracks = append(g.Tracks, t)
	}
	for _, w := range wpts {
		g.Waypoints = append(g.Waypoints, gpxPoint(w.Position, w.Time, w.Name))
	}
	return g.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

func gpxPoint(p geo.Position, ts int64, name string) gpx.GPXPoint {
	return gpx.GPXPoint{
		Point: gpx.Point{
			Latitude:  p.Lat,
			Longitude: p.Lon,
			Elevation: *gpx.NewNullableFloat64(p.Ele),
		},
		Timestamp: time.Unix(ts, 0).UTC(),
		Name:      name,
	}
}

// 文档注释：导出 GeoJSON FeatureCollection
// 约束：每个轨迹文件一个 MultiLineString 要素（单点分段无法成线，跳过）；照片为 Point 要素；坐标顺序为 [经度, 纬度]。
func GeoJSON(files []*track.File, wpts []Waypoint) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range files {
		var mls orb.MultiLineString
		for _, seg := range f.Segments {
			if len(seg.Points) < 2 {
				continue
			}
			ls := make(orb.LineString, 0, len(seg.Points))
			for _, p := range seg.Points {
				ls = append(ls, orb.Point{p.Lon, p.Lat})
			}
			mls = append(mls, ls)
		}
		if len(mls) == 0 {
			continue
		}
		ft := geojson.NewFeature(mls)
		ft.Properties["id"] = f.ID
		ft.Properties["path"] = f.Path
		ft.Properties["format"] = f.Format
		ft.Properties["alpha"] = f.Alpha
		ft.Properties["omega"] = f.Omega
		ft.Properties["points"] = f.Len()
		fc.Append(ft)
	}
	for _, w := range wpts {
		ft := geojson.NewFeature(orb.Point{w.Position.Lon, w.Position.Lat})
		ft.Properties["name"] = w.Name
		ft.Properties["time"] = time.Unix(w.Time, 0).UTC().Format(time.RFC3339)
		ft.Properties["ele"] = w.Position.Ele
		fc.Append(ft)
	}
	return fc.MarshalJSON()
}
