package export

import (
	"context"
	"strings"
	"testing"

	"geotag/internal/geo"
	"geotag/internal/track"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func sampleFile() *track.File {
	return &track.File{
		ID: "f1", Path: "walk.gpx", Format: track.FormatGPX, Alpha: 1287259751, Omega: 1287259800,
		Segments: []track.Segment{
			{Points: []track.Point{{Time: 1287259751, Lat: 53.5, Lon: -113.5, Ele: 600}, {Time: 1287259760, Lat: 53.51, Lon: -113.51, Ele: 601}}},
			{Points: []track.Point{{Time: 1287259800, Lat: 53.52, Lon: -113.52}}},
		},
	}
}

func TestGPXReadsBack(t *testing.T) {
	b, err := GPX([]*track.File{sampleFile()}, []Waypoint{{Name: "IMG_1.JPG", Time: 1287259755, Position: geo.Position{Lat: 53.505, Lon: -113.505}}})
	if err != nil {
		t.Fatalf("GPX: %v", err)
	}
	if !strings.Contains(string(b), "<wpt") || !strings.Contains(string(b), "IMG_1.JPG") {
		t.Fatalf("waypoint missing:\n%s", b)
	}
	f, err := track.Decode(context.Background(), strings.NewReader(string(b)), track.FormatGPX, "export.gpx", track.Options{})
	if err != nil {
		t.Fatalf("exported GPX not readable: %v", err)
	}
	if len(f.Segments) != 2 || f.Len() != 3 || f.Alpha != 1287259751 || f.Omega != 1287259800 {
		t.Fatalf("read back %d segments / %d points, range %d-%d", len(f.Segments), f.Len(), f.Alpha, f.Omega)
	}
	if p := f.Segments[0].Points[0]; p.Lat != 53.5 || p.Lon != -113.5 || p.Ele != 600 {
		t.Fatalf("first point = %+v", p)
	}
}

func TestGeoJSON(t *testing.T) {
	b, err := GeoJSON([]*track.File{sampleFile()}, []Waypoint{{Name: "a.jpg", Time: 0, Position: geo.Position{Lat: 1, Lon: 2}}})
	if err != nil {
		t.Fatalf("GeoJSON: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d", len(fc.Features))
	}
	mls, ok := fc.Features[0].Geometry.(orb.MultiLineString)
	if !ok || len(mls) != 1 || mls[0][0] != (orb.Point{-113.5, 53.5}) {
		t.Fatalf("track geometry = %#v", fc.Features[0].Geometry)
	}
	if fc.Features[0].Properties.MustString("id") != "f1" {
		t.Fatalf("properties = %v", fc.Features[0].Properties)
	}
	pt, ok := fc.Features[1].Geometry.(orb.Point)
	if !ok || pt.Lon() != 2 || pt.Lat() != 1 {
		t.Fatalf("photo geometry = %#v", fc.Features[1].Geometry)
	}
}
