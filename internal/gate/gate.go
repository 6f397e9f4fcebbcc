// Package gate 把预测、市场状态与总分组合成入场/出场判定，每个条件都是具名检查。
package gate

import (
	"errors"
	"strings"
	"time"

	"confluence/internal/config"
	"confluence/internal/config/loader"
	"confluence/internal/feature"
	"confluence/internal/logger"
	"confluence/internal/regime"
	"confluence/internal/score"
)

// ErrConflict 表示多空入场同时成立。
var ErrConflict = errors.New("long and short entries both triggered")

// 检查分组。
const (
	GroupEntryLong  = "entry_long"
	GroupEntryShort = "entry_short"
	GroupExitLong   = "exit_long"
	GroupExitShort  = "exit_short"
)

// Check 是单个具名条件的结果；Missing 为 true 时 Passed 必为 false。
type Check struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Missing bool   `json:"missing,omitempty"`
}

// Input 汇集某个 (instrument, T) 上的全部判定输入。
type Input struct {
	Instrument string

	Prediction   float64
	PredictionOK bool

	Regime    regime.Regime
	RegimeOK  bool
	Extreme   bool
	ExtremeOK bool

	Confluence   score.Confluence
	ConfluenceOK bool
	SubScores    score.SubScores

	Features feature.Vector

	// FearGreed 仅在 SentimentOK（存在且未过期）时有效
	FearGreed   int
	SentimentOK bool
}

// Result 为一次判定的输出。
type Result struct {
	EnterLong  bool    `json:"enter_long"`
	EnterShort bool    `json:"enter_short"`
	ExitLong   bool    `json:"exit_long"`
	ExitShort  bool    `json:"exit_short"`
	Conflict   bool    `json:"conflict"`
	Checks     []Check `json:"checks"`
}

// Err 在多空冲突时返回 ErrConflict。
func (r Result) Err() error {
	if r.Conflict {
		return ErrConflict
	}
	return nil
}

// Failed 返回某一组中未通过的检查名。
func (r Result) Failed(group string) []string {
	var out []string
	for _, c := range r.Checks {
		if c.Group == group && !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Toggles 是 gate 使用的功能开关。
type Toggles struct {
	RegimeFilter     bool
	ConfluenceFilter bool
	TrendFilter      bool
	StructureFilter  bool
	SupportGuard     bool
	SentimentExit    bool
	ExitOnPressure   bool
	ExitOnFade       bool
	ExitSMC          bool
}

// TogglesFromFlags 从解析后的开关集合读取。
func TogglesFromFlags(flags loader.FlagSet) Toggles {
	return Toggles{
		RegimeFilter:     flags.Enabled(loader.FlagRegimeFilter),
		ConfluenceFilter: flags.Enabled(loader.FlagConfluenceFilter),
		TrendFilter:      flags.Enabled(loader.FlagTrendFilter),
		StructureFilter:  flags.Enabled(loader.FlagStructureFilter),
		SupportGuard:     flags.Enabled(loader.FlagSupportGuard),
		SentimentExit:    flags.Enabled(loader.FlagSentimentExit),
		ExitOnPressure:   flags.Enabled(loader.FlagExitOnPressure),
		ExitOnFade:       flags.Enabled(loader.FlagExitOnFade),
		ExitSMC:          flags.Enabled(loader.FlagExitSMC),
	}
}

// Gate 持有阈值与开关，本身无状态。
type Gate struct {
	cfg     config.GateConfig
	long    float64
	short   float64
	toggles Toggles

	trendSlope string
	filterDist string
}

// New 构造 gate；long/short 为总分偏向阈值。
func New(cfg config.GateConfig, long, short float64, toggles Toggles) *Gate {
	return &Gate{
		cfg:        cfg,
		long:       long,
		short:      short,
		toggles:    toggles,
		trendSlope: feature.EMASlope(cfg.TrendEMAPeriod),
		filterDist: feature.DistToEMA(cfg.FilterEMAPeriod),
	}
}

// RequiredFeatures 返回 gate 会读取的特征名，供启动时与 schema 对照。
func (g *Gate) RequiredFeatures() []string {
	out := []string{g.trendSlope, feature.RSI, feature.RSINorm, feature.Volume}
	if g.toggles.TrendFilter {
		out = append(out, g.filterDist)
	}
	if g.toggles.SupportGuard {
		out = append(out, g.cfg.SupportLevels...)
	}
	if g.toggles.ExitSMC {
		out = append(out, feature.FVGBull, feature.FVGBear, feature.OrderBlockBull, feature.OrderBlockBear)
	}
	return out
}

type chain struct {
	group  string
	checks []Check
}

func (c *chain) add(name string, passed, ok bool) {
	c.checks = append(c.checks, Check{Group: c.group, Name: name, Passed: ok && passed, Missing: !ok})
}

func (c *chain) all() bool {
	if len(c.checks) == 0 {
		return false
	}
	for _, ch := range c.checks {
		if !ch.Passed {
			return false
		}
	}
	return true
}

func (c *chain) any() bool {
	for _, ch := range c.checks {
		if ch.Passed {
			return true
		}
	}
	return false
}

// Evaluate 计算四条链：入场为 AND，出场为 OR；缺失输入一律视为不通过。
func (g *Gate) Evaluate(in Input) Result {
	el := g.entryLong(in)
	es := g.entryShort(in)
	xl := g.exitLong(in)
	xs := g.exitShort(in)

	res := Result{
		EnterLong:  el.all(),
		EnterShort: es.all(),
		ExitLong:   xl.any(),
		ExitShort:  xs.any(),
	}
	res.Checks = make([]Check, 0, len(el.checks)+len(es.checks)+len(xl.checks)+len(xs.checks))
	res.Checks = append(res.Checks, el.checks...)
	res.Checks = append(res.Checks, es.checks...)
	res.Checks = append(res.Checks, xl.checks...)
	res.Checks = append(res.Checks, xs.checks...)

	if res.EnterLong && res.EnterShort {
		res.EnterLong, res.EnterShort = false, false
		res.Conflict = true
		logger.With(in.Instrument).Warnf("[gate] %v at %s, holding", ErrConflict, tsString(in))
	}
	return res
}

func (g *Gate) entryLong(in Input) *chain {
	c := &chain{group: GroupEntryLong}
	c.add("prediction", in.Prediction > g.cfg.EntryPrediction, in.PredictionOK)
	g.addRegime(c, in)
	if g.toggles.ConfluenceFilter {
		c.add("confluence", in.Confluence.Overall > g.long, in.ConfluenceOK)
	}
	slope, slopeOK := in.Features.Get(g.trendSlope)
	rsiNorm, rsiOK := in.Features.Get(feature.RSINorm)
	c.add("trend_confirmation", slope > 0 || rsiNorm < rsiNormLevel(g.cfg.RSIOversold), slopeOK && rsiOK)
	c.add("vsa", in.SubScores.VSA.Score() > g.cfg.VSAValidity, in.SubScores.VSAOK)
	if g.toggles.StructureFilter {
		c.add("structure", in.SubScores.Structure == 1, in.SubScores.StructureOK)
	}
	g.addVolume(c, in)
	return c
}

func (g *Gate) entryShort(in Input) *chain {
	c := &chain{group: GroupEntryShort}
	c.add("prediction", in.Prediction < -g.cfg.EntryPrediction, in.PredictionOK)
	g.addRegime(c, in)
	if g.toggles.ConfluenceFilter {
		c.add("confluence", in.Confluence.Overall < g.short, in.ConfluenceOK)
	}
	slope, slopeOK := in.Features.Get(g.trendSlope)
	rsiNorm, rsiOK := in.Features.Get(feature.RSINorm)
	c.add("trend_confirmation", slope < 0 || rsiNorm > rsiNormLevel(g.cfg.RSIOverbought), slopeOK && rsiOK)
	c.add("vsa", in.SubScores.VSA.Score() > g.cfg.VSAValidity, in.SubScores.VSAOK)
	if g.toggles.StructureFilter {
		c.add("structure", in.SubScores.Structure == -1, in.SubScores.StructureOK)
	}
	g.addVolume(c, in)
	if g.toggles.TrendFilter {
		dist, ok := in.Features.Get(g.filterDist)
		c.add("trend_filter", dist < 0, ok)
	}
	if g.toggles.SupportGuard {
		atSupport, ok := g.atSupport(in.Features)
		c.add("support_guard", !atSupport, ok)
	}
	return c
}

func (g *Gate) exitLong(in Input) *chain {
	c := &chain{group: GroupExitLong}
	c.add("prediction", in.Prediction < -g.cfg.ExitPrediction, in.PredictionOK)
	rsi, rsiOK := in.Features.Get(feature.RSI)
	c.add("rsi", rsi > g.cfg.ExitRSIOverbought, rsiOK)
	if g.toggles.SentimentExit {
		c.add("extreme_fear", in.FearGreed <= g.cfg.ExtremeFear, in.SentimentOK)
	}
	rsiNorm, normOK := in.Features.Get(feature.RSINorm)
	c.add("extreme", rsiNorm >= g.cfg.ExtremeRSINorm, normOK)
	if g.toggles.ExitOnPressure {
		c.add("money_pressure", in.SubScores.MoneyPressure < -g.cfg.ExitPressure, in.SubScores.MoneyPressureOK)
	}
	if g.toggles.ExitOnFade {
		c.add("trend_fade", in.SubScores.Trend < -g.cfg.TrendFade, in.SubScores.TrendOK)
		c.add("momentum_fade", in.SubScores.Momentum < -g.cfg.MomentumFade, in.SubScores.MomentumOK)
	}
	if g.toggles.ExitSMC {
		g.addSMC(c, in.Features, feature.FVGBear, feature.OrderBlockBear)
	}
	return c
}

func (g *Gate) exitShort(in Input) *chain {
	c := &chain{group: GroupExitShort}
	c.add("prediction", in.Prediction > g.cfg.ExitPrediction, in.PredictionOK)
	rsi, rsiOK := in.Features.Get(feature.RSI)
	c.add("rsi", rsi < g.cfg.ExitRSIOversold, rsiOK)
	if g.toggles.SentimentExit {
		c.add("extreme_fear", in.FearGreed <= g.cfg.ExtremeFear, in.SentimentOK)
	}
	rsiNorm, normOK := in.Features.Get(feature.RSINorm)
	c.add("extreme", rsiNorm <= -g.cfg.ExtremeRSINorm, normOK)
	if g.toggles.ExitOnPressure {
		c.add("money_pressure", in.SubScores.MoneyPressure > g.cfg.ExitPressure, in.SubScores.MoneyPressureOK)
	}
	if g.toggles.ExitOnFade {
		c.add("trend_fade", in.SubScores.Trend > g.cfg.TrendFade, in.SubScores.TrendOK)
		c.add("momentum_fade", in.SubScores.Momentum > g.cfg.MomentumFade, in.SubScores.MomentumOK)
	}
	if g.toggles.ExitSMC {
		g.addSMC(c, in.Features, feature.FVGBull, feature.OrderBlockBull)
	}
	return c
}

func (g *Gate) addRegime(c *chain, in Input) {
	if !g.toggles.RegimeFilter {
		return
	}
	c.add("regime", in.Regime != regime.Volatile && !in.Extreme, in.RegimeOK && in.ExtremeOK)
}

func (g *Gate) addVolume(c *chain, in Input) {
	vol, ok := in.Features.Get(feature.Volume)
	c.add("volume", vol > 0, ok)
}

// addSMC 反向缺口或反向订单块任一出现即出场。
func (g *Gate) addSMC(c *chain, v feature.Vector, fvg, block string) {
	gap, gapOK := v.Get(fvg)
	ob, obOK := v.Get(block)
	c.add("smc", gap >= 1 || ob >= 1, gapOK && obOK)
}

// atSupport 任一支撑位特征缺失时返回 ok=false。
func (g *Gate) atSupport(v feature.Vector) (bool, bool) {
	hit := false
	for _, name := range g.cfg.SupportLevels {
		val, ok := v.Get(strings.TrimSpace(name))
		if !ok {
			return false, false
		}
		if val >= 1 {
			hit = true
		}
	}
	return hit, true
}

// rsiNormLevel 把 0..100 的 RSI 阈值换算到 [-1,1]。
func rsiNormLevel(rsi float64) float64 { return (rsi - 50) / 50 }

func tsString(in Input) string {
	ts := in.Features.Timestamp()
	if ts.IsZero() {
		return "unknown time"
	}
	return ts.UTC().Format(time.RFC3339)
}
