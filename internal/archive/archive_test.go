package archive

import (
	"context"
	"testing"

	"geotag/internal/revgeo"
	"geotag/internal/track"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*Archive, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return AttachDB(db), mock
}

func sampleFile() *track.File {
	return &track.File{
		ID: "f1", Path: "walk.gpx", Format: "gpx", Alpha: 10, Omega: 30, Rejected: 2,
		Segments: []track.Segment{
			{Points: []track.Point{{Time: 10, Lat: 1, Lon: 1}, {Time: 20, Lat: 2, Lon: 2}}},
			{Points: []track.Point{{Time: 30, Lat: 3, Lon: 3, Ele: 5}}},
		},
	}
}

func TestSaveTrack(t *testing.T) {
	a, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO _track_files").
		WithArgs("f1", "walk.gpx", "gpx", int64(10), int64(30), int64(3), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO _track_points")
	prep.ExpectExec().WithArgs("f1", int64(0), int64(10), 1.0, 1.0, 0.0).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("f1", int64(0), int64(20), 2.0, 2.0, 0.0).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("f1", int64(1), int64(30), 3.0, 3.0, 5.0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := a.SaveTrack(context.Background(), sampleFile()); err != nil {
		t.Fatalf("SaveTrack: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveTrackExisting(t *testing.T) {
	a, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO _track_files").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := a.SaveTrack(context.Background(), sampleFile()); err != nil {
		t.Fatalf("SaveTrack: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteTrack(t *testing.T) {
	a, mock := newMock(t)
	mock.ExpectExec("DELETE FROM _track_files").WithArgs("f1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := a.DeleteTrack(context.Background(), "f1"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadTracks(t *testing.T) {
	a, mock := newMock(t)
	mock.ExpectQuery("SELECT id, path, format, rejected FROM _track_files").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "format", "rejected"}).AddRow("f1", "walk.gpx", "gpx", 2))
	mock.ExpectQuery("SELECT seg, ts, lat, lon, ele FROM _track_points").WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"seg", "ts", "lat", "lon", "ele"}).
			AddRow(0, 10, 1.0, 1.0, 0.0).
			AddRow(0, 20, 2.0, 2.0, 0.0).
			AddRow(1, 30, 3.0, 3.0, 5.0))

	files, err := a.LoadTracks(context.Background())
	if err != nil {
		t.Fatalf("LoadTracks: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d", len(files))
	}
	f := files[0]
	if f.ID != "f1" || f.Rejected != 2 || len(f.Segments) != 2 || f.Len() != 3 || f.Alpha != 10 || f.Omega != 30 {
		t.Fatalf("restored file = %+v", f)
	}
	if p := f.Segments[1].Points[0]; p.Ele != 5 {
		t.Fatalf("point = %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeocodes(t *testing.T) {
	a, mock := newMock(t)
	mock.ExpectExec("INSERT INTO _geocode_buckets").
		WithArgs("53.55,-113.47", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := a.SaveGeocode(context.Background(), "53.55,-113.47", revgeo.Entry{City: "Edmonton"}); err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("SELECT bucket, entry FROM _geocode_buckets").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "entry"}).
			AddRow("53.55,-113.47", []byte(`{"city":"Edmonton","timezone":"America/Edmonton"}`)).
			AddRow("0.00,0.00", []byte(`{broken`)))
	got, err := a.LoadGeocodes(context.Background())
	if err != nil {
		t.Fatalf("LoadGeocodes: %v", err)
	}
	if len(got) != 1 || got["53.55,-113.47"].Timezone != "America/Edmonton" {
		t.Fatalf("entries = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
