// correlate：批量关联命令，加载轨迹文件与照片目录，逐张照片输出一行 CSV
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"geotag/internal/events"
	"geotag/internal/export"
	"geotag/internal/gazetteer"
	"geotag/internal/geo"
	"geotag/internal/geotag"
	"geotag/internal/logger"
	"geotag/internal/photo"
	"geotag/internal/revgeo"
	"geotag/internal/tz"
)

func main() {
	var (
		photoDir  = flag.String("photos", "", "Directory of photos to correlate")
		offset    = flag.Int64("offset", 0, "Camera clock offset in seconds applied to every photo")
		policy    = flag.String("tz", "system", "Camera timezone policy: system, track or custom")
		region    = flag.String("region", "", "Timezone region for -tz custom (e.g. America)")
		city      = flag.String("city", "", "Timezone city for -tz custom (e.g. Edmonton)")
		gazDir    = flag.String("gazetteer", "", "Gazetteer data directory (default: embedded)")
		exportGPX = flag.String("gpx", "", "Also write the merged timeline and photo waypoints as GPX")
		dms       = flag.Bool("dms", false, "Print coordinates as degrees, minutes, seconds")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "correlate - match photo capture times to GPS tracks\n\n")
		fmt.Fprintf(os.Stderr, "usage: correlate -photos DIR [options] TRACK...\n\n")
		fmt.Fprintf(os.Stderr, "examples:\n")
		fmt.Fprintf(os.Stderr, "  correlate -photos ./img walk.gpx\n")
		fmt.Fprintf(os.Stderr, "  correlate -photos ./img -tz custom -region America -city Edmonton -offset -20 day1.kml day2.csv\n\n")
		fmt.Fprintf(os.Stderr, "options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *photoDir == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	l := logger.Setup()
	p, err := tz.ParsePolicy(*policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	gaz, err := gazetteer.Load(*gazDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading gazetteer: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	sess := geotag.New(geotag.Options{Gazetteer: gaz, Bus: events.NewBus(), System: time.Local, Logger: l})
	for _, path := range flag.Args() {
		if _, err := sess.LoadTrack(ctx, path); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
		}
	}
	if err := sess.SetPolicy(ctx, p, *region, *city); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	names, err := photoFiles(*photoDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading %s: %v\n", *photoDir, err)
		os.Exit(1)
	}
	for _, path := range names {
		if _, err := sess.AddPhotoFile(ctx, path); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			continue
		}
		if *offset != 0 {
			_, _ = sess.SetOffset(ctx, filepath.Base(path), *offset)
		}
	}

	if err := writeCSV(os.Stdout, sess, *dms); err != nil {
		fmt.Fprintf(os.Stderr, "error writing output: %v\n", err)
		os.Exit(1)
	}
	if *exportGPX != "" {
		if err := writeGPX(*exportGPX, sess); err != nil {
			fmt.Fprintf(os.Stderr, "error writing %s: %v\n", *exportGPX, err)
			os.Exit(1)
		}
	}
}

// photoFiles：目录下可读取拍摄时间的照片（不递归），按名称排序
func photoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && photo.IsImage(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// writeCSV：filename, adjusted ts, lat, lon, ele, place, timezone；未定位的照片坐标列留空
func writeCSV(w io.Writer, sess *geotag.Session, dms bool) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"filename", "timestamp", "lat", "lon", "ele", "place", "timezone"})
	zone := sess.Timezone().Active
	for _, v := range sess.Photos() {
		row := []string{v.Name, strconv.FormatInt(v.Stamp, 10), "", "", "", "", zone}
		if v.Located {
			if dms {
				row[2], row[3] = geo.FormatLat(v.Position.Lat), geo.FormatLon(v.Position.Lon)
			} else {
				row[2] = strconv.FormatFloat(v.Position.Lat, 'f', 6, 64)
				row[3] = strconv.FormatFloat(v.Position.Lon, 'f', 6, 64)
			}
			row[4] = strconv.FormatFloat(v.Position.Ele, 'f', 1, 64)
		}
		if v.Place != nil {
			row[5] = placeName(*v.Place)
		}
		_ = cw.Write(row)
	}
	cw.Flush()
	return cw.Error()
}

func placeName(e revgeo.Entry) string {
	switch {
	case !e.Known():
		return ""
	case e.Region != "" && e.Country != "":
		return e.City + ", " + e.Region + ", " + e.Country
	case e.Country != "":
		return e.City + ", " + e.Country
	}
	return e.City
}

// writeGPX：合并时间线与已定位照片航点
func writeGPX(path string, sess *geotag.Session) error {
	var wpts []export.Waypoint
	for _, v := range sess.Photos() {
		if v.Located {
			wpts = append(wpts, export.Waypoint{Name: v.Name, Time: v.Stamp, Position: v.Position})
		}
	}
	b, err := export.GPX(sess.Tracks(), wpts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
