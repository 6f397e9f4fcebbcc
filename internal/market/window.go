package market

import (
	"fmt"
	"time"
)

// Window 维护单个标的最近 N 根蜡烛，只接受时间戳严格递增的追加。
type Window struct {
	max     int
	candles []Candle
}

// NewWindow 创建容量为 max 的窗口。
func NewWindow(max int) *Window {
	if max <= 0 {
		max = 300
	}
	return &Window{max: max, candles: make([]Candle, 0, max)}
}

// Push 追加一根蜡烛，超出容量时丢弃最旧的一根。
func (w *Window) Push(c Candle) error {
	if n := len(w.candles); n > 0 {
		last := w.candles[n-1].Timestamp
		if !c.Timestamp.After(last) {
			return fmt.Errorf("%w: %s not after %s", ErrOutOfOrder,
				c.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
		}
	}
	if len(w.candles) == w.max {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:w.max-1]
	}
	w.candles = append(w.candles, c)
	return nil
}

// Candles 返回窗口内容的副本，调用方可安全持有。
func (w *Window) Candles() []Candle {
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Last 返回最新一根蜡烛。
func (w *Window) Last() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Len 返回当前长度。
func (w *Window) Len() int { return len(w.candles) }

// Cap 返回窗口容量。
func (w *Window) Cap() int { return w.max }
