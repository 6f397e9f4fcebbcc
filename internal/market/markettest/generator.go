// Package markettest 提供确定性的合成蜡烛，供各包测试使用。
package markettest

import (
	"math"
	"math/rand"
	"time"

	"confluence/internal/market"
)

// Start 为合成序列的起始时间。
var Start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Walk 生成带漂移与噪声的随机游走，drift 为每根的期望对数收益。
func Walk(n int, price, drift, noise float64, seed int64) []market.Candle {
	rng := rand.New(rand.NewSource(seed))
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		ret := drift + noise*rng.NormFloat64()
		open := price
		closeP := price * math.Exp(ret)
		wick := price * noise * (0.5 + rng.Float64())
		high := math.Max(open, closeP) + wick
		low := math.Min(open, closeP) - wick
		if low <= 0 {
			low = math.Min(open, closeP) * 0.99
		}
		vol := 1000 * (1 + 0.5*rng.Float64())
		out = append(out, market.Candle{
			Timestamp: Start.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    vol,
		})
		price = closeP
	}
	return out
}

// Trend 生成稳定上行（drift>0）或下行（drift<0）的序列。
func Trend(n int, drift float64, seed int64) []market.Candle {
	return Walk(n, 100, drift, 0.004, seed)
}

// Flat 生成价格与成交量恒定的序列。
func Flat(n int, price float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, market.Candle{
			Timestamp: Start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		})
	}
	return out
}
