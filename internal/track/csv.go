package track

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

// csvColumns：表头映射出的列下标，-1 表示缺失
type csvColumns struct {
	lat, lon, ele int
	stamp         int
	date, clock   int
}

var (
	latNames   = []string{"lat", "latitude"}
	lonNames   = []string{"lon", "lng", "long", "longitude"}
	eleNames   = []string{"ele", "elevation", "alt", "altitude"}
	stampNames = []string{"timestamp", "datetime", "date_time", "utc", "time_utc"}
)

func mapColumns(header []string) csvColumns {
	c := csvColumns{lat: -1, lon: -1, ele: -1, stamp: -1, date: -1, clock: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.Trim(h, "\ufeff\"")))
		if j := strings.IndexAny(name, "( ["); j > 0 {
			name = strings.TrimSpace(name[:j])
		}
		switch {
		case c.lat < 0 && contains(latNames, name):
			c.lat = i
		case c.lon < 0 && contains(lonNames, name):
			c.lon = i
		case c.ele < 0 && contains(eleNames, name):
			c.ele = i
		case c.stamp < 0 && contains(stampNames, name):
			c.stamp = i
		case c.date < 0 && name == "date":
			c.date = i
		case c.clock < 0 && name == "time":
			c.clock = i
		}
	}
	// 只有 time 一列时视为完整时间戳
	if c.stamp < 0 && c.date < 0 && c.clock >= 0 {
		c.stamp, c.clock = c.clock, -1
	}
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sniffDelimiter：按表头中出现最多的候选分隔符判定
func sniffDelimiter(header string) rune {
	best, bestN := ',', 0
	for _, r := range []rune{',', ';', '\t'} {
		if n := strings.Count(header, string(r)); n > bestN {
			best, bestN = r, n
		}
	}
	return best
}

// 文档注释：CSV 轨迹解析（每行一个点）
// 背景：各类记录器导出的 CSV 列名不统一，依表头识别纬度/经度/时间/高程列；分隔符由表头推断。
// 约束：缺少纬度、经度或时间列视为格式错误；高程缺失或无法解析降级为 0，不丢弃该行。
func decodeCSV(r io.Reader, f *File, cp *checkpoint) error {
	br := bufio.NewReader(r)
	headerLine, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && headerLine != "") {
		return &FormatError{Path: f.Path, Format: FormatCSV, Reason: "missing header row", Err: err}
	}
	rd := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	rd.Comma = sniffDelimiter(headerLine)
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true
	rd.TrimLeadingSpace = true
	header, err := rd.Read()
	if err != nil {
		return &FormatError{Path: f.Path, Format: FormatCSV, Reason: "unreadable header row", Err: err}
	}
	cols := mapColumns(header)
	if cols.lat < 0 || cols.lon < 0 || (cols.stamp < 0 && cols.date < 0) {
		return &FormatError{Path: f.Path, Format: FormatCSV, Reason: "header needs latitude, longitude and time columns"}
	}
	f.openSegment()
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		var pe *csv.ParseError
		switch {
		case err == nil:
			if p, perr := cols.point(rec); perr != nil {
				cp.reject(f, perr)
			} else {
				cp.accept(f, p)
			}
		case errors.As(err, &pe):
			cp.reject(f, &FieldError{Field: "row", Value: strconv.Itoa(pe.Line), Err: err})
		default:
			return &FormatError{Path: f.Path, Format: FormatCSV, Reason: "read error", Err: err}
		}
		// 每行（含损坏行）都经过检查点
		if err := cp.tick(f); err != nil {
			return err
		}
	}
	return nil
}

func cell(rec []string, i int) (string, bool) {
	if i < 0 || i >= len(rec) {
		return "", false
	}
	v := strings.TrimSpace(rec[i])
	return v, v != ""
}

func (c csvColumns) point(rec []string) (Point, error) {
	latS, ok := cell(rec, c.lat)
	if !ok {
		return Point{}, &FieldError{Field: "latitude"}
	}
	lonS, ok := cell(rec, c.lon)
	if !ok {
		return Point{}, &FieldError{Field: "longitude"}
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return Point{}, &FieldError{Field: "latitude", Value: latS, Err: err}
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return Point{}, &FieldError{Field: "longitude", Value: lonS, Err: err}
	}
	var stampS string
	if c.stamp >= 0 {
		stampS, _ = cell(rec, c.stamp)
	} else {
		d, _ := cell(rec, c.date)
		t, _ := cell(rec, c.clock)
		stampS = strings.TrimSpace(d + "T" + t)
	}
	ts, err := parseEpochOrStamp(stampS)
	if err != nil {
		return Point{}, &FieldError{Field: "time", Value: stampS, Err: err}
	}
	ele := 0.0
	if s, ok := cell(rec, c.ele); ok {
		ele = parseElevation(s)
	}
	return Point{Time: ts, Lat: lat, Lon: lon, Ele: ele}, nil
}
