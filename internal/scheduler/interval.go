package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseInterval 解析 "15m"、"1h"、"4h"、"1d"、"1w" 形式的周期。
func ParseInterval(interval string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(interval))
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw[:len(raw)-1]))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := time.Duration(0)
	switch raw[len(raw)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}

// MustParseInterval 用于已通过配置校验的周期。
func MustParseInterval(interval string) time.Duration {
	d, err := ParseInterval(interval)
	if err != nil {
		panic(err)
	}
	return d
}
