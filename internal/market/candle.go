package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrOutOfOrder 表示蜡烛时间戳未严格递增。
var ErrOutOfOrder = errors.New("candle out of order")

// Candle 是单根已收盘 K 线，Timestamp 为开盘时间（UTC）。
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate 检查价格与成交量是否为合法有限值。
func (c Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle timestamp is zero")
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("candle %s has non-finite value", c.Timestamp.Format(time.RFC3339))
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle %s has non-positive price", c.Timestamp.Format(time.RFC3339))
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %s high < low", c.Timestamp.Format(time.RFC3339))
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s has negative volume", c.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// Spread 返回 high-low。
func (c Candle) Spread() float64 {
	return c.High - c.Low
}

// Series 是按列展开的蜡烛序列，供指标库使用。
type Series struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// Columns 将蜡烛切片展开为列。
func Columns(candles []Candle) Series {
	s := Series{
		Open:   make([]float64, len(candles)),
		High:   make([]float64, len(candles)),
		Low:    make([]float64, len(candles)),
		Close:  make([]float64, len(candles)),
		Volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Open[i] = c.Open
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
	}
	return s
}

// Len 返回序列长度。
func (s Series) Len() int { return len(s.Close) }

// CheckOrdered 确认时间戳严格递增。
func CheckOrdered(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return fmt.Errorf("%w: %s after %s", ErrOutOfOrder,
				candles[i].Timestamp.Format(time.RFC3339), candles[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
