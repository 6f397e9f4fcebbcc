// Package risk 计算单笔交易的止损、杠杆与仓位。
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"confluence/internal/config"
	"confluence/internal/config/loader"
	"confluence/internal/feature"
)

var (
	// ErrInsufficientHistory 表示 ATR 缺失或非正，拒绝定仓。
	ErrInsufficientHistory = errors.New("risk: insufficient history for sizing")
	// ErrRiskBudget 表示即使 1 倍杠杆，止损亏损也超过 max_account_risk。
	ErrRiskBudget = errors.New("risk: stoploss exceeds account risk budget")
)

// Parameters 在入场时确定，持仓期间不再变化。
type Parameters struct {
	StoplossPct float64 `json:"stoploss_pct"`
	StakeAmount float64 `json:"stake_amount"`
	Leverage    float64 `json:"leverage"`
	Tier        string  `json:"tier"`
}

// Sizer 持有风控配置。
type Sizer struct {
	cfg   config.RiskConfig
	fixed bool
}

// NewSizer 根据开关决定使用固定止损还是 ATR 止损。
func NewSizer(cfg config.RiskConfig, flags loader.FlagSet) *Sizer {
	return &Sizer{cfg: cfg, fixed: flags.Enabled(loader.FlagFixedStoploss)}
}

// FixedStoploss 报告是否使用固定止损。
func (s *Sizer) FixedStoploss() bool { return s.fixed }

// Stoploss 返回 clamp(-k*atr_pct, floor, cap)。
func (s *Sizer) Stoploss(atrPct float64) (float64, error) {
	if s.fixed {
		return s.cfg.FixedStoploss, nil
	}
	if math.IsNaN(atrPct) || atrPct <= 0 {
		return 0, fmt.Errorf("atr_pct=%v: %w", atrPct, ErrInsufficientHistory)
	}
	sl := -s.cfg.ATRMultiplier * atrPct
	if math.IsInf(sl, -1) || sl < s.cfg.StoplossFloor {
		sl = s.cfg.StoplossFloor
	}
	if sl > s.cfg.StoplossCap {
		sl = s.cfg.StoplossCap
	}
	return sl, nil
}

// Leverage 使 leverage*|stoploss| 不超过 max_account_risk；结果在 [1, cap] 内，向下取两位小数。
func (s *Sizer) Leverage(stoplossPct float64) (float64, error) {
	capLev := decFromFloat(s.cfg.LeverageCap).RoundFloor(2)
	abs := decFromFloat(math.Abs(stoplossPct))
	if abs.IsZero() {
		return decToFloat(capLev), nil
	}
	lev := decFromFloat(s.cfg.MaxAccountRisk).Div(abs)
	if lev.LessThan(decOne) {
		return 0, fmt.Errorf("stoploss %v with max_account_risk %v: %w", stoplossPct, s.cfg.MaxAccountRisk, ErrRiskBudget)
	}
	return decToFloat(decimal.Min(lev.RoundFloor(2), capLev)), nil
}

// Stake 按置信度分档计算下单金额；最后一档兜底。
func (s *Sizer) Stake(confidence float64) (float64, string) {
	tier := config.TierConfig{Name: "base", Multiplier: 1}
	if n := len(s.cfg.Tiers); n > 0 {
		tier = s.cfg.Tiers[n-1]
		for _, t := range s.cfg.Tiers {
			if confidence > t.MinConfidence {
				tier = t
				break
			}
		}
	}
	amount := decFromFloat(s.cfg.BaseStake).Mul(decFromFloat(tier.Multiplier))
	if s.cfg.MinStake > 0 {
		amount = decimal.Max(amount, decFromFloat(s.cfg.MinStake))
	}
	if s.cfg.MaxStake > 0 {
		amount = decimal.Min(amount, decFromFloat(s.cfg.MaxStake))
	}
	return decToFloat(amount.RoundFloor(s.cfg.StakePrecision)), tier.Name
}

// Size 从特征向量与置信度得出完整的风控参数。
func (s *Sizer) Size(v feature.Vector, confidence float64) (Parameters, error) {
	// 固定止损同样要求 ATR 有效，历史不足时不入场
	atrPct, ok := v.Get(feature.ATRPct)
	atr, atrOK := v.Get(feature.ATR)
	if !ok || !atrOK || atr <= 0 {
		return Parameters{}, fmt.Errorf("atr missing or non-positive: %w", ErrInsufficientHistory)
	}
	sl, err := s.Stoploss(atrPct)
	if err != nil {
		return Parameters{}, err
	}
	lev, err := s.Leverage(sl)
	if err != nil {
		return Parameters{}, err
	}
	stake, tier := s.Stake(confidence)
	return Parameters{
		StoplossPct: sl,
		StakeAmount: stake,
		Leverage:    lev,
		Tier:        tier,
	}, nil
}

// Confidence 优先使用预测自带的置信度，否则退回总分。
func Confidence(predicted *float64, overall float64, overallOK bool) float64 {
	if predicted != nil && !math.IsNaN(*predicted) {
		return clamp01(*predicted)
	}
	if overallOK {
		return clamp01(overall)
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
