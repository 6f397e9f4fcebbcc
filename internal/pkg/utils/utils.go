// Package utils 放置终端与日志输出共用的格式化函数。
package utils

import (
	"fmt"
	"strings"
)

func FormatFloat(val float64) string {
	if val == 0 {
		return "0"
	}
	return fmt.Sprintf("%.4f", val)
}

// FormatPercent 把比例格式化为带符号的百分数，例如 -0.03 → "-3.00%"。
func FormatPercent(val float64) string {
	return fmt.Sprintf("%+.2f%%", val*100)
}

func FormatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func OrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
