// Package regime 按 ADX 与布林带宽度把市场划分为趋势、震荡或高波动。
package regime

import (
	"math"

	"confluence/internal/config"
	"confluence/internal/feature"
)

// Regime 是封闭枚举；零值为 Volatile，使未初始化的判定默认拒绝交易。
type Regime int

const (
	Volatile Regime = iota
	Trend
	Sideway
)

func (r Regime) String() string {
	switch r {
	case Trend:
		return "TREND"
	case Sideway:
		return "SIDEWAY"
	default:
		return "VOLATILE"
	}
}

// MarshalText 让 Regime 以名字形式序列化。
func (r Regime) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Classifier 持有分类阈值。
type Classifier struct {
	TrendADX     float64
	TrendWidth   float64
	SidewayADX   float64
	SidewayWidth float64
	// ChaosATRPct>0 时，atr_pct 超过该值视为极端行情
	ChaosATRPct float64
}

// NewClassifier 从配置构造分类器。
func NewClassifier(cfg config.RegimeConfig) Classifier {
	return Classifier{
		TrendADX:     cfg.TrendADX,
		TrendWidth:   cfg.TrendWidth,
		SidewayADX:   cfg.SidewayADX,
		SidewayWidth: cfg.SidewayWidth,
		ChaosATRPct:  cfg.ChaosATRPct,
	}
}

// Classify 是全函数：任何输入（含 NaN）都落入且仅落入一个状态。
func (c Classifier) Classify(adx, width float64) Regime {
	if math.IsNaN(adx) || math.IsNaN(width) {
		return Volatile
	}
	if adx > c.TrendADX && width > c.TrendWidth {
		return Trend
	}
	if adx < c.SidewayADX && width < c.SidewayWidth {
		return Sideway
	}
	return Volatile
}

// FromVector 读取 adx 与 bb_width；任一缺失返回 ok=false。
func (c Classifier) FromVector(v feature.Vector) (Regime, bool) {
	adx, ok := v.Get(feature.ADX)
	if !ok {
		return Volatile, false
	}
	width, ok := v.Get(feature.BBWidth)
	if !ok {
		return Volatile, false
	}
	return c.Classify(adx, width), true
}

// Extreme 判断是否处于极端波动；atr_pct 缺失时返回 ok=false。
func (c Classifier) Extreme(v feature.Vector) (extreme bool, ok bool) {
	if c.ChaosATRPct <= 0 {
		return false, true
	}
	atrPct, ok := v.Get(feature.ATRPct)
	if !ok {
		return false, false
	}
	return atrPct > c.ChaosATRPct, true
}
