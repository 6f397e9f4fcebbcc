// Package maputil 从配置解码出的 map[string]any 中读取带默认值的参数。
package maputil

import (
	"fmt"
	"strconv"
	"strings"

	"confluence/internal/logger"
)

// Int 读取整数参数；缺失时返回 def，无法解析时记录警告并返回 def。
func Int(params map[string]any, key string, def int) int {
	raw, ok := lookup(params, key)
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		val, err := strconv.Atoi(strings.TrimSpace(fmt.Sprintf("%v", v)))
		if err != nil {
			logger.Warnf("param %s invalid int: %v", key, err)
			return def
		}
		return val
	}
}

// Float 读取浮点参数，规则同 Int。
func Float(params map[string]any, key string, def float64) float64 {
	raw, ok := lookup(params, key)
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		val, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprintf("%v", v)), 64)
		if err != nil {
			logger.Warnf("param %s invalid float: %v", key, err)
			return def
		}
		return val
	}
}

// PositiveInts 读取正整数列表，接受 YAML 数组或逗号分隔字符串；空列表返回 def。
func PositiveInts(params map[string]any, key string, def []int) ([]int, error) {
	raw, ok := lookup(params, key)
	if !ok {
		return def, nil
	}
	var items []string
	switch val := raw.(type) {
	case []int:
		return val, nil
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprintf("%v", item))
		}
	default:
		items = strings.Split(fmt.Sprintf("%v", val), ",")
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		s := strings.TrimSpace(item)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f <= 0 || f != float64(int(f)) {
			return nil, fmt.Errorf("param %s: invalid value %q", key, s)
		}
		out = append(out, int(f))
	}
	if len(out) == 0 {
		return def, nil
	}
	return out, nil
}

func lookup(params map[string]any, key string) (any, bool) {
	if params == nil {
		return nil, false
	}
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, false
	}
	return raw, true
}
