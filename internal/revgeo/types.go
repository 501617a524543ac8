// 包 revgeo：坐标 → 最近地名的反地理缓存（按约 1.1km 网格分桶记忆）
package revgeo

import (
	"fmt"
	"math"
)

// 文档注释：一次反地理解析结果
// 背景：字段全部可选，空串表示未知；地名表为空或远离任何城市时返回全空的条目（未知地点），而不是错误。
// 约束：条目一旦写入缓存即不可变；Lat/Lon 为命中地名的坐标而非查询坐标。
type Entry struct {
	City        string  `json:"city,omitempty"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Country     string  `json:"country,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	DistanceKm  float64 `json:"distance_km,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// Known：是否解析出了任何地名信息
func (e Entry) Known() bool {
	return e.City != "" || e.Region != "" || e.Country != "" || e.CountryCode != "" || e.Timezone != ""
}

// 来源标记
const (
	SourceGazetteer = "gazetteer"
	SourceRemote    = "remote"
)

// EarthRadiusKm：平均地球半径
const EarthRadiusKm = 6371.0

// Bucket：纬度/经度各四舍五入到两位小数，形如 "53.55,-113.47"
// 约束：-0.00 归一为 0.00，保证同一网格只有一个键
func Bucket(lat, lon float64) string {
	return round2(lat) + "," + round2(lon)
}

func round2(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

// 文档注释：球面余弦定理大圆距离（千米）
// 约束：浮点误差可能让 acos 的输入越出 [-1,1]，越界时按距离 0 处理。
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := lat1*math.Pi/180, lat2*math.Pi/180
	dl := (lon2 - lon1) * math.Pi / 180
	x := math.Sin(p1)*math.Sin(p2) + math.Cos(p1)*math.Cos(p2)*math.Cos(dl)
	if x > 1 || x < -1 || math.IsNaN(x) {
		return 0
	}
	return math.Acos(x) * EarthRadiusKm
}
