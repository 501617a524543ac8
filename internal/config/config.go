// 包 config：进程配置，先读取 .env 再由环境变量覆盖
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Addr                    string `mapstructure:"ADDR"`
	APIBase                 string `mapstructure:"API_BASE"`
	GazetteerDir            string `mapstructure:"GAZETTEER_DIR"`
	ProgressIntervalMs      int    `mapstructure:"PROGRESS_INTERVAL_MS"`
	TZPolicy                string `mapstructure:"TZ_POLICY"`
	TZRegion                string `mapstructure:"TZ_REGION"`
	TZCity                  string `mapstructure:"TZ_CITY"`
	RedisAddr               string `mapstructure:"REDIS_ADDR"`
	RedisPass               string `mapstructure:"REDIS_PASS"`
	RedisDB                 int    `mapstructure:"REDIS_DB"`
	GeocodeCacheTTLS        int    `mapstructure:"GEOCODE_CACHE_TTL_S"`
	PGDSN                   string `mapstructure:"PG_DSN"`
	NATSURL                 string `mapstructure:"NATS_URL"`
	NATSSubject             string `mapstructure:"NATS_SUBJECT"`
	RemoteGeocoderURL       string `mapstructure:"REMOTE_GEOCODER_URL"`
	RemoteGeocoderTimeoutMs int    `mapstructure:"REMOTE_GEOCODER_TIMEOUT_MS"`
	RateLimitEnabled        bool   `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitQPS            int    `mapstructure:"RATE_LIMIT_QPS"`
	CORSOrigins             string `mapstructure:"CORS_ORIGINS"`
	PhotoRoot               string `mapstructure:"PHOTO_ROOT"`
}

var defaults = map[string]any{
	"ADDR":                       ":8080",
	"API_BASE":                   "/api",
	"GAZETTEER_DIR":              "",
	"PROGRESS_INTERVAL_MS":       200,
	"TZ_POLICY":                  "system",
	"TZ_REGION":                  "",
	"TZ_CITY":                    "",
	"REDIS_ADDR":                 "",
	"REDIS_PASS":                 "",
	"REDIS_DB":                   0,
	"GEOCODE_CACHE_TTL_S":        30 * 24 * 3600,
	"PG_DSN":                     "",
	"NATS_URL":                   "",
	"NATS_SUBJECT":               "geotag",
	"REMOTE_GEOCODER_URL":        "",
	"REMOTE_GEOCODER_TIMEOUT_MS": 10000,
	"RATE_LIMIT_ENABLED":         false,
	"RATE_LIMIT_QPS":             200,
	"CORS_ORIGINS":               "*",
	"PHOTO_ROOT":                 "",
}

// 文档注释：加载配置
// 流程：godotenv 读取工作目录下的 .env（不存在时忽略，且不覆盖已有环境变量）→ viper 绑定环境变量并填充默认值。
// 约束：每次调用使用独立的 viper 实例，测试中可反复加载。
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.APIBase = "/" + strings.Trim(cfg.APIBase, "/")
	if cfg.APIBase == "/" {
		cfg.APIBase = ""
	}
	return cfg, nil
}

// Origins：CORS 允许来源列表（逗号分隔）
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteGeocoderTimeoutMs) * time.Millisecond
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.GeocodeCacheTTLS) * time.Second
}
