// 包 nominatim：Nominatim 兼容的远程反地理客户端（/reverse 接口）
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"geotag/internal/logger"
	"geotag/internal/revgeo"
)

// 文档注释：/reverse 响应结构
// 背景：只解析城市/行政区/国家字段；城市按 city → town → village → hamlet 顺序回退。
// 约束：服务在无结果时仍返回 200 并携带 error 字段，需要单独判定。
type reverseResponse struct {
	Error       string `json:"error"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Address     struct {
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		Hamlet      string `json:"hamlet"`
		State       string `json:"state"`
		StateCode   string `json:"ISO3166-2-lvl4"`
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// ErrNoResult：服务返回了 error 字段（海上、无覆盖区域等）
var ErrNoResult = errors.New("nominatim: no result")

// Client：远程反地理客户端，实现 revgeo.Remote
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// New：baseURL 形如 https://nominatim.openstreetmap.org；timeout<=0 时使用 5s
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: "geotag/1.0",
		HTTP:      &http.Client{Timeout: timeout},
	}
}

// 文档注释：查询单个坐标
// 参数：
// - ctx：控制超时与取消，由缓存的异步路径传入；
// - lat/lon：WGS84 十进制度。
// 返回：解析后的条目；HTTP 非 200、解码失败或无结果均返回错误，由缓存按失败处理（不重试）。
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (revgeo.Entry, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "10")
	q.Set("addressdetails", "1")
	u := c.BaseURL + "/reverse?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return revgeo.Entry{}, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	t0 := time.Now()
	logger.L().Debug("nominatim_req", "lat", lat, "lon", lon)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		logger.L().Error("nominatim_http_error", "err", err)
		return revgeo.Entry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return revgeo.Entry{}, fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}
	var r reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		logger.L().Error("nominatim_decode_error", "err", err)
		return revgeo.Entry{}, err
	}
	logger.L().Debug("nominatim_resp", "display_name", r.DisplayName, "duration_ms", time.Since(t0).Milliseconds())
	if r.Error != "" {
		return revgeo.Entry{}, fmt.Errorf("%w: %s", ErrNoResult, r.Error)
	}
	return r.entry(), nil
}

func (r *reverseResponse) entry() revgeo.Entry {
	a := r.Address
	city := a.City
	for _, v := range []string{a.Town, a.Village, a.Hamlet} {
		if city == "" {
			city = v
		}
	}
	e := revgeo.Entry{
		City:        city,
		Region:      a.State,
		Country:     a.Country,
		CountryCode: strings.ToUpper(a.CountryCode),
		Source:      revgeo.SourceRemote,
	}
	// ISO3166-2-lvl4 形如 "CA-AB"
	if _, code, ok := strings.Cut(a.StateCode, "-"); ok {
		e.RegionCode = code
	}
	e.Lat, _ = strconv.ParseFloat(r.Lat, 64)
	e.Lon, _ = strconv.ParseFloat(r.Lon, 64)
	return e
}
