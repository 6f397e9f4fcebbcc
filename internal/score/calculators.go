// Package score 把特征向量折算为各维度子分数，并按权重聚合为总分。
package score

import (
	"confluence/internal/config"
	"confluence/internal/feature"
)

// 子分数名称，聚合器接线表使用。
const (
	NameTrend         = "trend"
	NameMomentum      = "momentum"
	NameMoneyPressure = "money_pressure"
	NameStructure     = "structure"
	NameVSA           = "vsa"
)

// Calculator 是一个具名的子分数计算器，输入缺失时 ok=false。
type Calculator interface {
	Name() string
	Compute(v feature.Vector) (float64, bool)
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

// TrendCalculator 融合价格相对 EMA 的距离、EMA 斜率与 DI 差。
type TrendCalculator struct {
	Periods   []int
	DistGain  float64
	SlopeGain float64
}

func (c TrendCalculator) Name() string { return NameTrend }

func (c TrendCalculator) Compute(v feature.Vector) (float64, bool) {
	di, ok := v.Get(feature.DIDiff)
	if !ok {
		return 0, false
	}
	sum := di
	n := 1.0
	for _, p := range c.Periods {
		dist, ok := v.Get(feature.DistToEMA(p))
		if !ok {
			return 0, false
		}
		slope, ok := v.Get(feature.EMASlope(p))
		if !ok {
			return 0, false
		}
		sum += clip(dist*c.DistGain, -1, 1) + clip(slope*c.SlopeGain, -1, 1)
		n += 2
	}
	return clip(sum/n, -1, 1), true
}

// MomentumCalculator 融合 RSI、MFI 与 StochRSI（动量的动量）。
type MomentumCalculator struct{}

func (MomentumCalculator) Name() string { return NameMomentum }

func (MomentumCalculator) Compute(v feature.Vector) (float64, bool) {
	if !v.Has(feature.RSINorm, feature.MFINorm, feature.StochRSINorm) {
		return 0, false
	}
	rsi, _ := v.Get(feature.RSINorm)
	mfi, _ := v.Get(feature.MFINorm)
	stoch, _ := v.Get(feature.StochRSINorm)
	return clip(0.4*rsi+0.3*mfi+0.3*stoch, -1, 1), true
}

// MoneyPressureCalculator 融合 OBV 斜率、CMF、成交量趋势与 VSA 分类。
type MoneyPressureCalculator struct {
	VSA VSAClassifier
}

func (MoneyPressureCalculator) Name() string { return NameMoneyPressure }

func (c MoneyPressureCalculator) Compute(v feature.Vector) (float64, bool) {
	if !v.Has(feature.OBVSlope, feature.CMF, feature.VolumeTrend) {
		return 0, false
	}
	class, ok := c.VSA.FromVector(v)
	if !ok {
		return 0, false
	}
	obv, _ := v.Get(feature.OBVSlope)
	cmf, _ := v.Get(feature.CMF)
	trend, _ := v.Get(feature.VolumeTrend)
	// 权重 1+1+1+0.5
	pressure := clip(obv, -0.1, 0.1)*10 + cmf + clip(trend, -0.5, 0.5)*2 + 0.5*class.Score()
	return clip(pressure/3.5, -1, 1), true
}

// StructureCalculator 直接取 structure_direction。
type StructureCalculator struct{}

func (StructureCalculator) Name() string { return NameStructure }

func (StructureCalculator) Compute(v feature.Vector) (float64, bool) {
	dir, ok := v.Get(feature.StructureDirection)
	if !ok {
		return 0, false
	}
	switch {
	case dir > 0:
		return 1, true
	case dir < 0:
		return -1, true
	default:
		return 0, true
	}
}

// SubScores 汇总各子分数；每个字段带 ok 标记以传播缺失。
type SubScores struct {
	Trend           float64  `json:"trend"`
	TrendOK         bool     `json:"trend_ok"`
	Momentum        float64  `json:"momentum"`
	MomentumOK      bool     `json:"momentum_ok"`
	MoneyPressure   float64  `json:"money_pressure"`
	MoneyPressureOK bool     `json:"money_pressure_ok"`
	Structure       int      `json:"structure"`
	StructureOK     bool     `json:"structure_ok"`
	VSA             VSAClass `json:"vsa"`
	VSAOK           bool     `json:"vsa_ok"`
}

// Get 按名称取子分数。
func (s SubScores) Get(name string) (float64, bool) {
	switch name {
	case NameTrend:
		return s.Trend, s.TrendOK
	case NameMomentum:
		return s.Momentum, s.MomentumOK
	case NameMoneyPressure:
		return s.MoneyPressure, s.MoneyPressureOK
	case NameStructure:
		return float64(s.Structure), s.StructureOK
	case NameVSA:
		return s.VSA.Score(), s.VSAOK
	default:
		return 0, false
	}
}

// Set 是一组配置好的子分数计算器。
type Set struct {
	trend     TrendCalculator
	momentum  MomentumCalculator
	pressure  MoneyPressureCalculator
	structure StructureCalculator
	vsa       VSAClassifier
}

// NewSet 从 scoring 配置构造计算器集合。
func NewSet(cfg config.ScoringConfig) *Set {
	vsa := NewVSAClassifier(cfg.VSA)
	return &Set{
		trend: TrendCalculator{
			Periods:   append([]int(nil), cfg.Trend.Periods...),
			DistGain:  cfg.Trend.DistGain,
			SlopeGain: cfg.Trend.SlopeGain,
		},
		pressure: MoneyPressureCalculator{VSA: vsa},
		vsa:      vsa,
	}
}

// Calculators 返回数值型计算器（按名称）。
func (s *Set) Calculators() []Calculator {
	return []Calculator{s.trend, s.momentum, s.pressure, s.structure}
}

// Compute 计算全部子分数。
func (s *Set) Compute(v feature.Vector) SubScores {
	var out SubScores
	out.Trend, out.TrendOK = s.trend.Compute(v)
	out.Momentum, out.MomentumOK = s.momentum.Compute(v)
	out.MoneyPressure, out.MoneyPressureOK = s.pressure.Compute(v)
	dir, ok := s.structure.Compute(v)
	out.Structure, out.StructureOK = int(dir), ok
	out.VSA, out.VSAOK = s.vsa.FromVector(v)
	return out
}
