package track

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

type whenSlot struct {
	ts  int64
	raw string
	err error
}

type coordSlot struct {
	lat, lon, ele float64
	raw           string
	err           error
}

// kmlQueue：<when> 与 <gx:coord> 的两条 FIFO
// 背景：Google 导出的 gx:Track 可能先列出全部 when 再列出全部 coord，也可能交错；按到达顺序位置配对。
// 约束：解析失败的元素仍占位，保证后续配对不错位；配对时该对整体丢弃。
type kmlQueue struct {
	whens  []whenSlot
	coords []coordSlot
}

// pair：从两条队列头部取 min(len) 对，生成点并移除已消费前缀
func (q *kmlQueue) pair(f *File, cp *checkpoint) {
	n := len(q.whens)
	if len(q.coords) < n {
		n = len(q.coords)
	}
	for i := 0; i < n; i++ {
		w, c := q.whens[i], q.coords[i]
		switch {
		case w.err != nil:
			cp.reject(f, &FieldError{Field: "when", Value: w.raw, Err: w.err})
		case c.err != nil:
			cp.reject(f, &FieldError{Field: "coord", Value: c.raw, Err: c.err})
		default:
			cp.accept(f, Point{Time: w.ts, Lat: c.lat, Lon: c.lon, Ele: c.ele})
		}
	}
	q.whens = q.whens[n:]
	q.coords = q.coords[n:]
}

// drain：轨迹结束时未配对的剩余元素计为丢弃
func (q *kmlQueue) drain(f *File, cp *checkpoint) {
	for _, w := range q.whens {
		cp.reject(f, &FieldError{Field: "coord", Value: w.raw, Err: errUnpaired})
	}
	for _, c := range q.coords {
		cp.reject(f, &FieldError{Field: "when", Value: c.raw, Err: errUnpaired})
	}
	q.whens, q.coords = nil, nil
}

var errUnpaired = errors.New("no matching element in track")

// 文档注释：KML 事件流解析
// 约束：根元素必须是 <kml>；只在 <gx:Track> 内收集 when/coord（Placemark 的 TimeStamp 不参与）。
func decodeKML(r io.Reader, f *File, cp *checkpoint) error {
	dec := newXMLDecoder(r)
	rootSeen := false
	depth := 0
	field := ""
	var text strings.Builder
	var q kmlQueue
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &FormatError{Path: f.Path, Format: FormatKML, Reason: "malformed xml", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !rootSeen {
				rootSeen = true
				if t.Name.Local != "kml" {
					return &FormatError{Path: f.Path, Format: FormatKML, Reason: "root element is <" + t.Name.Local + ">, want <kml>"}
				}
				continue
			}
			switch t.Name.Local {
			case "Track":
				depth++
				f.openSegment()
			case "when", "coord":
				if depth > 0 {
					field = t.Name.Local
					text.Reset()
				}
			}
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "when":
				if field == "when" {
					raw := strings.TrimSpace(text.String())
					ts, err := ParseStamp(raw)
					q.whens = append(q.whens, whenSlot{ts: ts, raw: raw, err: err})
					field = ""
				}
			case "coord":
				if field == "coord" {
					q.coords = append(q.coords, parseCoord(text.String()))
					field = ""
				}
			case "Track":
				if depth > 0 {
					q.pair(f, cp)
					q.drain(f, cp)
					depth--
				}
			}
			if depth > 0 {
				q.pair(f, cp)
			}
		}
		if err := cp.tick(f); err != nil {
			return err
		}
	}
	if !rootSeen {
		return &FormatError{Path: f.Path, Format: FormatKML, Reason: "empty document"}
	}
	return nil
}

// parseCoord：gx:coord 为 "经度 纬度 高程"（经度在前）
func parseCoord(s string) coordSlot {
	raw := strings.TrimSpace(s)
	c := coordSlot{raw: raw}
	parts := strings.Fields(raw)
	if len(parts) < 2 {
		c.err = errors.New("want \"lon lat [ele]\"")
		return c
	}
	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		c.err = err
		return c
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		c.err = err
		return c
	}
	c.lat, c.lon = lat, lon
	if len(parts) > 2 {
		c.ele = parseElevation(parts[2])
	}
	return c
}
