package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// validate 对配置进行范围校验与跨字段校验。
func validate(c *Config) error {
	if err := structValidator.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Regime.validate(); err != nil {
		return err
	}
	if err := c.Scoring.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Publish.validate(); err != nil {
		return err
	}
	if c.Prediction.RequireManifest && strings.TrimSpace(c.Prediction.ManifestPath) == "" {
		return fmt.Errorf("prediction.require_manifest set but prediction.manifest_path is empty")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", e.Namespace(), e.Tag(), e.Param(), e.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (d *DataConfig) validate() error {
	if !IsValidInterval(d.Timeframe) {
		return fmt.Errorf("data.timeframe invalid: %s", d.Timeframe)
	}
	from, err := parseBound(d.From)
	if err != nil {
		return fmt.Errorf("data.from: %w", err)
	}
	to, err := parseBound(d.To)
	if err != nil {
		return fmt.Errorf("data.to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return fmt.Errorf("data.to must be after data.from")
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	if r.SidewayADX > r.TrendADX {
		return fmt.Errorf("regime.sideway_adx (%.2f) must be <= regime.trend_adx (%.2f)", r.SidewayADX, r.TrendADX)
	}
	if r.SidewayWidth > r.TrendWidth {
		return fmt.Errorf("regime.sideway_width (%.4f) must be <= regime.trend_width (%.4f)", r.SidewayWidth, r.TrendWidth)
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	if s.ShortThreshold >= s.LongThreshold {
		return fmt.Errorf("scoring.short_threshold (%.2f) must be < scoring.long_threshold (%.2f)", s.ShortThreshold, s.LongThreshold)
	}
	seen := make(map[string]bool, len(s.Weights))
	for _, w := range s.Weights {
		name := strings.TrimSpace(w.Name)
		if seen[name] {
			return fmt.Errorf("scoring.weights contains duplicate sub-score: %s", name)
		}
		seen[name] = true
	}
	if s.VSA.NarrowSpread >= s.VSA.WideSpread {
		return fmt.Errorf("scoring.vsa.narrow_spread must be < scoring.vsa.wide_spread")
	}
	if s.VSA.LowVolume >= s.VSA.HighVolume {
		return fmt.Errorf("scoring.vsa.low_volume must be < scoring.vsa.high_volume")
	}
	return nil
}

func (g *GateConfig) validate() error {
	if g.RSIOversold >= g.RSIOverbought {
		return fmt.Errorf("gate.rsi_oversold must be < gate.rsi_overbought")
	}
	if g.ExitRSIOversold >= g.ExitRSIOverbought {
		return fmt.Errorf("gate.exit_rsi_oversold must be < gate.exit_rsi_overbought")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.StoplossFloor >= r.StoplossCap {
		return fmt.Errorf("risk.stoploss_floor (%.4f) must be < risk.stoploss_cap (%.4f)", r.StoplossFloor, r.StoplossCap)
	}
	if r.MaxAccountRisk < -r.StoplossFloor {
		return fmt.Errorf("risk.max_account_risk (%.4f) must be >= |risk.stoploss_floor| (%.4f)", r.MaxAccountRisk, -r.StoplossFloor)
	}
	if r.MaxAccountRisk < -r.FixedStoploss {
		return fmt.Errorf("risk.max_account_risk (%.4f) must be >= |risk.fixed_stoploss| (%.4f)", r.MaxAccountRisk, -r.FixedStoploss)
	}
	if r.MaxStake > 0 && r.MinStake > r.MaxStake {
		return fmt.Errorf("risk.min_stake must be <= risk.max_stake")
	}
	if len(r.Tiers) == 0 {
		return fmt.Errorf("risk.tiers requires at least one tier")
	}
	for i := 1; i < len(r.Tiers); i++ {
		if r.Tiers[i].MinConfidence >= r.Tiers[i-1].MinConfidence {
			return fmt.Errorf("risk.tiers must be ordered by descending min_confidence (%s >= %s)", r.Tiers[i].Name, r.Tiers[i-1].Name)
		}
	}
	return nil
}

func (p *PublishConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if len(p.Brokers) == 0 {
		return fmt.Errorf("publish.brokers cannot be empty when publish is enabled")
	}
	switch p.Compression {
	case "gzip", "snappy", "lz4", "zstd", "none":
	default:
		return fmt.Errorf("publish.compression unsupported: %s", p.Compression)
	}
	return nil
}

// ReplayRange 返回解析后的回放区间；零值表示不限。
func (d DataConfig) ReplayRange() (time.Time, time.Time) {
	from, _ := parseBound(d.From)
	to, _ := parseBound(d.To)
	return from, to
}

func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expect RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return t.UTC(), nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
