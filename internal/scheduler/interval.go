package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// 长后缀在前，"15min" 不会被当成 "15mi"+"n"。
var intervalUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"min", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
	{"week", 7 * 24 * time.Hour},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
	{"w", 7 * 24 * time.Hour},
}

// ParseIntervalDuration 解析 K 线周期，大小写不敏感；
// 同时接受交易所短写 (15m/1h/1d/1w) 与经纪商写法 (15Min/1Hour/1Day/1Week)。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(interval))
	for _, u := range intervalUnits {
		num, ok := strings.CutSuffix(s, u.suffix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * u.unit, true
	}
	return 0, false
}
