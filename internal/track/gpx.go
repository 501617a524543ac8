package track

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// gpxPoint：<trkpt> 打开期间累积的原始字段
type gpxPoint struct {
	lat, lon  string
	hasLat    bool
	hasLon    bool
	time, ele string
	hasTime   bool
	depth     int
}

// 文档注释：GPX 事件流解析
// 背景：逐 token 处理而非整树反序列化，以便在损坏点上继续、并在检查点让出控制权。
// 约束：根元素必须是 <gpx>；<trkseg> 开启新分段；<trkpt> 需要 lat/lon 属性与 <time> 子元素，<ele> 可选。
// <time>/<ele> 只认 <trkpt> 的直接子元素，<extensions> 等嵌套元素中的同名字段忽略。
func decodeGPX(r io.Reader, f *File, cp *checkpoint) error {
	dec := newXMLDecoder(r)
	rootSeen := false
	depth := 0
	var cur *gpxPoint
	field := ""
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &FormatError{Path: f.Path, Format: FormatGPX, Reason: "malformed xml", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if !rootSeen {
				rootSeen = true
				if t.Name.Local != "gpx" {
					return &FormatError{Path: f.Path, Format: FormatGPX, Reason: "root element is <" + t.Name.Local + ">, want <gpx>"}
				}
				continue
			}
			switch t.Name.Local {
			case "trkseg":
				f.openSegment()
			case "trkpt":
				cur = &gpxPoint{depth: depth}
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "lat":
						cur.lat, cur.hasLat = a.Value, true
					case "lon":
						cur.lon, cur.hasLon = a.Value, true
					}
				}
			case "time", "ele":
				if cur != nil && depth == cur.depth+1 {
					field = t.Name.Local
					text.Reset()
				}
			}
		case xml.CharData:
			if cur != nil && field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "time":
				if cur != nil && field == "time" && depth == cur.depth+1 {
					cur.time, cur.hasTime = text.String(), true
					field = ""
				}
			case "ele":
				if cur != nil && field == "ele" && depth == cur.depth+1 {
					cur.ele = text.String()
					field = ""
				}
			case "trkpt":
				if cur != nil {
					p, err := cur.point()
					if err != nil {
						cp.reject(f, err)
					} else {
						cp.accept(f, p)
					}
					cur = nil
					field = ""
				}
			}
			depth--
		}
		if err := cp.tick(f); err != nil {
			return err
		}
	}
	if !rootSeen {
		return &FormatError{Path: f.Path, Format: FormatGPX, Reason: "empty document"}
	}
	return nil
}

func (g *gpxPoint) point() (Point, error) {
	if !g.hasLat {
		return Point{}, &FieldError{Field: "lat"}
	}
	if !g.hasLon {
		return Point{}, &FieldError{Field: "lon"}
	}
	if !g.hasTime {
		return Point{}, &FieldError{Field: "time"}
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(g.lat), 64)
	if err != nil {
		return Point{}, &FieldError{Field: "lat", Value: g.lat, Err: err}
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(g.lon), 64)
	if err != nil {
		return Point{}, &FieldError{Field: "lon", Value: g.lon, Err: err}
	}
	ts, err := ParseStamp(g.time)
	if err != nil {
		return Point{}, &FieldError{Field: "time", Value: g.time, Err: err}
	}
	return Point{Time: ts, Lat: lat, Lon: lon, Ele: parseElevation(g.ele)}, nil
}

// newXMLDecoder：允许 latin-1 / ascii 声明的旧记录器文件
func newXMLDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "utf-8", "utf8", "us-ascii", "ascii":
			return input, nil
		case "iso-8859-1", "latin1", "latin-1", "windows-1252", "cp1252":
			return &latin1Reader{r: input}, nil
		}
		return nil, errors.New("unsupported charset " + label)
	}
	return dec
}

// latin1Reader：逐字节转为 UTF-8（windows-1252 的 0x80-0x9F 区按 latin-1 近似）
type latin1Reader struct {
	r   io.Reader
	buf []byte
}

func (l *latin1Reader) Read(p []byte) (int, error) {
	if len(l.buf) == 0 {
		raw := make([]byte, len(p)/2+1)
		n, err := l.r.Read(raw)
		for _, b := range raw[:n] {
			l.buf = utf8.AppendRune(l.buf, rune(b))
		}
		if n == 0 {
			return 0, err
		}
	}
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	return n, nil
}
