package feature

import "math"

const epsilon = 1e-10

// back 返回距离末尾 k 根的值（k=0 为最新）。
func back(series []float64, k int) float64 {
	return series[len(series)-1-k]
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func maxInt(vals ...int) int {
	out := 0
	for _, v := range vals {
		if v > out {
			out = v
		}
	}
	return out
}

// tail 返回末尾 n 个元素（不复制）。
func tail(series []float64, n int) []float64 {
	if n >= len(series) {
		return series
	}
	return series[len(series)-n:]
}

// windowMax 返回以 end 结尾、长度 n 的区间最大值。
func windowMax(series []float64, end, n int) float64 {
	out := math.Inf(-1)
	for i := end - n + 1; i <= end; i++ {
		if series[i] > out {
			out = series[i]
		}
	}
	return out
}

func windowMin(series []float64, end, n int) float64 {
	out := math.Inf(1)
	for i := end - n + 1; i <= end; i++ {
		if series[i] < out {
			out = series[i]
		}
	}
	return out
}

// ratio 在分母接近 0 时返回 NaN，交给 Builder 丢弃。
func ratio(num, den float64) float64 {
	if math.Abs(den) < epsilon {
		return math.NaN()
	}
	return num / den
}
