package market

import "time"

// DefaultCloseGrace 为收盘后等待数据落库的宽限期。
const DefaultCloseGrace = 10 * time.Second

// DropUnclosed 丢弃仍未收盘的最后一根蜡烛，避免用到进行中的数据。
func DropUnclosed(candles []Candle, interval time.Duration, now time.Time) []Candle {
	return dropUnclosedAt(candles, interval, now.UTC(), DefaultCloseGrace)
}

func dropUnclosedAt(candles []Candle, interval time.Duration, now time.Time, grace time.Duration) []Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.Timestamp.IsZero() {
		return candles
	}
	cutoff := last.Timestamp.Add(interval).Add(grace)
	if now.Before(cutoff) {
		return candles[:len(candles)-1]
	}
	return candles
}
