package api

import (
	"geotag/internal/geo"
	"geotag/internal/revgeo"
	"geotag/internal/track"
)

// 文档注释：对外序列化模型
// 背景：会话内部结构不直接暴露，HTTP 层只返回必要字段。
// 约束：字段稳定；新增字段需评估与前端的兼容性。
type trackResult struct {
	*track.File
	Points int `json:"points"`
}

type rangeResult struct {
	Alpha  *int64        `json:"alpha"`
	Omega  *int64        `json:"omega"`
	Points int           `json:"points"`
	Tracks []trackResult `json:"tracks"`
}

type geocodeResult struct {
	Bucket string `json:"bucket"`
	revgeo.Entry
}

type photoRequest struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Raw   string `json:"raw"`
	Delta int64  `json:"delta"`
}

type offsetRequest struct {
	Delta int64 `json:"delta"`
}

type manualRequest = geo.Position

type timezoneRequest struct {
	Policy string `json:"policy"`
	Region string `json:"region"`
	City   string `json:"city"`
}

type zonesResult struct {
	Regions []string `json:"regions"`
	Cities  []string `json:"cities,omitempty"`
}

type errorResult struct {
	Error string `json:"error"`
}
