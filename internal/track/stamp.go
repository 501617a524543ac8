package track

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errStampShape = errors.New("expected year, month, day, hour, minute, second")
	errStampRange = errors.New("epoch seconds out of range")
)

// maxEpoch：数值时间列的合法范围（±2^53 秒，float64 可精确表示的整数）
const maxEpoch = 1 << 53

// 文档注释：按固定字段顺序解析 ISO-8601 时间戳
// 背景：轨迹记录器输出格式五花八门（带/不带毫秒、T 或空格分隔），统一按数字字段切分：年、月、日、时、分、秒。
// 约束：结果一律视为 UTC；第六个字段之后的内容（毫秒、时区偏移）被忽略。
func ParseStamp(s string) (int64, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool { return r < '0' || r > '9' })
	if len(fields) < 6 {
		return 0, errStampShape
	}
	var v [6]int
	for i := 0; i < 6; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return 0, err
		}
		v[i] = n
	}
	if v[1] < 1 || v[1] > 12 || v[2] < 1 || v[2] > 31 || v[3] > 23 || v[4] > 59 || v[5] > 60 {
		return 0, errStampShape
	}
	return time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, time.UTC).Unix(), nil
}

// parseEpochOrStamp：CSV 时间列既可能是整数秒，也可能是日期文本
// 约束：NaN、Inf 与超出 ±2^53 的数值视为无效时间。
func parseEpochOrStamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errStampShape
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < -maxEpoch || f > maxEpoch {
			return 0, errStampRange
		}
		return int64(f), nil
	}
	return ParseStamp(s)
}

// parseElevation：高程缺失或损坏一律降级为 0
func parseElevation(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
