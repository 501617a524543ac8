// 包 gazetteer：城市地名表与国家/行政区/时区名称映射，只读查询结构
package gazetteer

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"geotag/internal/logger"
)

//go:embed data/*.txt
var embedded embed.FS

// 数据目录中约定的文件名
const (
	CitiesFile    = "cities.txt"
	CountriesFile = "countries.txt"
	AdminFile     = "admin1.txt"
	ZonesFile     = "zones.txt"
)

// 文档注释：地名表一行
// 约束：Country 为两位国家码，Admin 为一级行政区码（与 Country 组合成 "CC.ADM" 查名称），TZ 为 IANA 时区名。
type City struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	Admin   string  `json:"admin"`
	TZ      string  `json:"tz"`
}

// 文档注释：地名索引
// 背景：加载后只读，反地理缓存对 Cities 做全表最近邻扫描；名称表用于把代码翻译为展示名称。
// 约束：zones 以时区区域（"America"）为键，值为该区域下的城市部分（"Edmonton"、"Argentina/Buenos_Aires"），已排序。
type Index struct {
	Cities    []City
	countries map[string]string
	regions   map[string]string
	zones     map[string][]string
	Skipped   int
}

// Country：国家码 → 国家名，未知返回空串
func (ix *Index) Country(cc string) string { return ix.countries[strings.ToUpper(cc)] }

// Region：国家码 + 行政区码 → 行政区名，未知返回空串
func (ix *Index) Region(cc, admin string) string {
	return ix.regions[strings.ToUpper(cc)+"."+admin]
}

func (ix *Index) Len() int { return len(ix.Cities) }

// ZoneRegions：全部时区区域，已排序
func (ix *Index) ZoneRegions() []string {
	out := make([]string, 0, len(ix.zones))
	for r := range ix.zones {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ZoneCities：某区域下可选的城市
func (ix *Index) ZoneCities(region string) []string { return ix.zones[region] }

// HasZone：区域/城市组合是否在可选表中（无城市部分的区域如 UTC 以空城市表示）
func (ix *Index) HasZone(region, city string) bool {
	for _, c := range ix.zones[region] {
		if c == city {
			return true
		}
	}
	return false
}

// ZoneName：拼接为 IANA 名称
func ZoneName(region, city string) string {
	if city == "" {
		return region
	}
	return region + "/" + city
}

var (
	defaultOnce  sync.Once
	defaultIndex *Index
	defaultErr   error
)

// Default：内置数据集（进程内只解析一次）
func Default() (*Index, error) {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embedded, "data")
		if err != nil {
			defaultErr = err
			return
		}
		defaultIndex, defaultErr = LoadFS(sub)
	})
	return defaultIndex, defaultErr
}

// 文档注释：从目录加载地名表
// 约束：dir 为空时使用内置数据；目录中缺失的辅助表（国家/行政区/时区）按空表处理，cities.txt 必须存在。
func Load(dir string) (*Index, error) {
	if dir == "" {
		return Default()
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS：从任意文件系统加载（测试可传 fstest.MapFS）
func LoadFS(fsys fs.FS) (*Index, error) {
	cf, err := fsys.Open(CitiesFile)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer: %w", err)
	}
	defer cf.Close()
	open := func(name string) io.Reader {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return strings.NewReader("")
		}
		return bytes.NewReader(b)
	}
	ix, err := Parse(cf, open(CountriesFile), open(AdminFile), open(ZonesFile))
	if err != nil {
		return nil, err
	}
	logger.L().Info("gazetteer_loaded", "cities", ix.Len(), "countries", len(ix.countries), "regions", len(ix.regions), "zones", len(ix.zones), "skipped", ix.Skipped)
	return ix, nil
}

// 文档注释：解析四张制表符分隔的表
// 背景：cities 每行 "名称 纬度 经度 国家码 行政区码 时区"；countries "码 名称"；admin "CC.ADM 名称"；zones 每行一个 IANA 名。
// 约束：# 开头与空行忽略；列数或坐标不合法的城市行计入 Skipped 并跳过。
func Parse(cities, countries, admin, zones io.Reader) (*Index, error) {
	ix := &Index{countries: map[string]string{}, regions: map[string]string{}, zones: map[string][]string{}}
	err := eachLine(cities, func(cols []string) {
		if len(cols) < 6 {
			ix.Skipped++
			return
		}
		lat, e1 := strconv.ParseFloat(strings.TrimSpace(cols[1]), 64)
		lon, e2 := strconv.ParseFloat(strings.TrimSpace(cols[2]), 64)
		if e1 != nil || e2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			ix.Skipped++
			return
		}
		ix.Cities = append(ix.Cities, City{
			Name:    strings.TrimSpace(cols[0]),
			Lat:     lat,
			Lon:     lon,
			Country: strings.ToUpper(strings.TrimSpace(cols[3])),
			Admin:   strings.TrimSpace(cols[4]),
			TZ:      strings.TrimSpace(cols[5]),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read cities: %w", err)
	}
	if err := eachLine(countries, func(cols []string) {
		if len(cols) >= 2 {
			ix.countries[strings.ToUpper(strings.TrimSpace(cols[0]))] = strings.TrimSpace(cols[1])
		}
	}); err != nil {
		return nil, fmt.Errorf("read countries: %w", err)
	}
	if err := eachLine(admin, func(cols []string) {
		if len(cols) >= 2 {
			ix.regions[strings.TrimSpace(cols[0])] = strings.TrimSpace(cols[1])
		}
	}); err != nil {
		return nil, fmt.Errorf("read admin regions: %w", err)
	}
	if err := eachLine(zones, func(cols []string) {
		name := strings.TrimSpace(cols[0])
		region, city, _ := strings.Cut(name, "/")
		ix.zones[region] = append(ix.zones[region], city)
	}); err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	for _, c := range ix.zones {
		sort.Strings(c)
	}
	return ix, nil
}

func eachLine(r io.Reader, fn func(cols []string)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(strings.Split(line, "\t"))
	}
	return sc.Err()
}

// DataDir：便于 CLI 输出实际使用的数据来源
func DataDir(dir string) string {
	if dir == "" {
		return "embedded"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

// Empty：不含任何城市的索引（查询总是得到未知地点）
func Empty() *Index {
	return &Index{countries: map[string]string{}, regions: map[string]string{}, zones: map[string][]string{}}
}
