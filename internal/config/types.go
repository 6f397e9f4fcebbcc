package config

import (
	"strconv"
	"strings"

	"confluence/internal/config/loader"
)

// Config 是 confluence 的主配置载体。
type Config struct {
	Strategy   StrategyConfig   `toml:"strategy"`
	App        AppConfig        `toml:"app"`
	Data       DataConfig       `toml:"data"`
	Engine     EngineConfig     `toml:"engine"`
	Features   FeaturesConfig   `toml:"features"`
	Regime     RegimeConfig     `toml:"regime"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Gate       GateConfig       `toml:"gate"`
	Risk       RiskConfig       `toml:"risk"`
	Prediction PredictionConfig `toml:"prediction"`
	Sentiment  SentimentConfig  `toml:"sentiment"`
	Store      StoreConfig      `toml:"store"`
	Publish    PublishConfig    `toml:"publish"`
	HTTP       HTTPConfig       `toml:"http"`
	Metrics    MetricsConfig    `toml:"metrics"`

	// 解析后的功能开关，不从文件直接解码
	Flags loader.FlagSet `toml:"-"`
}

// StrategyConfig 标识阈值集合的版本，写入每条决策。
type StrategyConfig struct {
	Name    string `toml:"name"`
	Version int    `toml:"version" validate:"gte=1"`
}

// Tag 返回 name@vN 形式的策略标识。
func (s StrategyConfig) Tag() string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = defaultStrategyName
	}
	return name + "@v" + strconv.Itoa(s.Version)
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	LogPath      string `toml:"log_path"`
	AuditLogPath string `toml:"audit_log_path"`
	AuditEnabled bool   `toml:"audit_enabled"`
}

// DataConfig 描述蜡烛存储与回放区间。
type DataConfig struct {
	Root        string   `toml:"root"`
	Timeframe   string   `toml:"timeframe"`
	Instruments []string `toml:"instruments"`
	From        string   `toml:"from"`
	To          string   `toml:"to"`
}

// EngineConfig 控制单标的窗口与并发度。
type EngineConfig struct {
	Window            int  `toml:"window" validate:"gte=30"`
	MaxParallel       int  `toml:"max_parallel" validate:"gte=1,lte=64"`
	SimulateStops     bool `toml:"simulate_stops"`
	PollOffsetSeconds int  `toml:"poll_offset_seconds" validate:"gte=0"`
	RunImmediately    bool `toml:"run_immediately"`
}

// FeaturesConfig 选择启用的特征生产者与功能开关。
type FeaturesConfig struct {
	Producers   []ProducerConfig `toml:"producers"`
	Preset      string           `toml:"preset"`
	PresetsPath string           `toml:"presets_path"`
	Flags       map[string]bool  `toml:"flags"`
}

// ProducerConfig 为单个特征生产者的配置节点。
type ProducerConfig struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

// ProducerNames 返回启用的生产者名（保持配置顺序）。
func (f FeaturesConfig) ProducerNames() []string {
	out := make([]string, 0, len(f.Producers))
	for _, p := range f.Producers {
		if name := strings.TrimSpace(p.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

type RegimeConfig struct {
	TrendADX     float64 `toml:"trend_adx" default:"25" validate:"gt=0,lte=100"`
	TrendWidth   float64 `toml:"trend_width" default:"0.04" validate:"gt=0"`
	SidewayADX   float64 `toml:"sideway_adx" default:"20" validate:"gt=0,lte=100"`
	SidewayWidth float64 `toml:"sideway_width" default:"0.02" validate:"gt=0"`
	// 0 表示关闭极端波动判定
	ChaosATRPct float64 `toml:"chaos_atr_pct" validate:"gte=0"`
}

type ScoringConfig struct {
	Weights        []WeightConfig   `toml:"weights" validate:"dive"`
	LongThreshold  float64          `toml:"long_threshold" default:"0.7" validate:"gt=0,lt=1"`
	ShortThreshold float64          `toml:"short_threshold" default:"0.3" validate:"gt=0,lt=1"`
	Trend          TrendScoreConfig `toml:"trend"`
	VSA            VSAConfig        `toml:"vsa"`
}

// WeightConfig 描述聚合器接线表中的一项。
type WeightConfig struct {
	Name   string  `toml:"name" validate:"required"`
	Weight float64 `toml:"weight" validate:"gt=0"`
}

type TrendScoreConfig struct {
	Periods   []int   `toml:"periods" default:"[20,50]" validate:"min=1,dive,gt=0"`
	DistGain  float64 `toml:"dist_gain" default:"20" validate:"gt=0"`
	SlopeGain float64 `toml:"slope_gain" default:"500" validate:"gt=0"`
}

type VSAConfig struct {
	HighVolume   float64 `toml:"high_volume" default:"1.5" validate:"gt=0"`
	LowVolume    float64 `toml:"low_volume" default:"0.8" validate:"gt=0"`
	WideSpread   float64 `toml:"wide_spread" default:"1.5" validate:"gt=0"`
	NarrowSpread float64 `toml:"narrow_spread" default:"0.8" validate:"gt=0"`
}

type GateConfig struct {
	EntryPrediction   float64  `toml:"entry_prediction" default:"0.02" validate:"gt=0"`
	ExitPrediction    float64  `toml:"exit_prediction" default:"0.02" validate:"gt=0"`
	VSAValidity       float64  `toml:"vsa_validity" validate:"gte=-1,lte=1"`
	TrendEMAPeriod    int      `toml:"trend_ema_period" default:"50" validate:"gt=0"`
	FilterEMAPeriod   int      `toml:"filter_ema_period" default:"200" validate:"gt=0"`
	RSIOversold       float64  `toml:"rsi_oversold" default:"30" validate:"gt=0,lt=100"`
	RSIOverbought     float64  `toml:"rsi_overbought" default:"70" validate:"gt=0,lt=100"`
	ExitRSIOversold   float64  `toml:"exit_rsi_oversold" default:"30" validate:"gt=0,lt=100"`
	ExitRSIOverbought float64  `toml:"exit_rsi_overbought" default:"70" validate:"gt=0,lt=100"`
	ExtremeRSINorm    float64  `toml:"extreme_rsi_norm" default:"0.8" validate:"gt=0,lte=1"`
	ExtremeFear       int      `toml:"extreme_fear" default:"20" validate:"gt=0,lt=100"`
	SupportLevels     []string `toml:"support_levels" default:"[\"fib_near_618\",\"fib_near_786\"]"`
	ExitPressure      float64  `toml:"exit_pressure" default:"0.3" validate:"gt=0,lte=1"`
	// 趋势/动量子分数（[-1,1]）反向越过该幅度即视为衰退
	TrendFade    float64 `toml:"trend_fade" default:"0.2" validate:"gt=0,lte=1"`
	MomentumFade float64 `toml:"momentum_fade" default:"0.4" validate:"gt=0,lte=1"`
}

type RiskConfig struct {
	ATRMultiplier  float64      `toml:"atr_multiplier" default:"2" validate:"gt=0"`
	StoplossFloor  float64      `toml:"stoploss_floor" default:"-0.15" validate:"lt=0,gte=-1"`
	StoplossCap    float64      `toml:"stoploss_cap" default:"-0.02" validate:"lt=0,gte=-1"`
	FixedStoploss  float64      `toml:"fixed_stoploss" default:"-0.05" validate:"lt=0,gte=-1"`
	MaxAccountRisk float64      `toml:"max_account_risk" default:"0.2" validate:"gt=0,lte=1"`
	LeverageCap    float64      `toml:"leverage_cap" default:"20" validate:"gte=1"`
	BaseStake      float64      `toml:"base_stake" default:"100" validate:"gt=0"`
	MinStake       float64      `toml:"min_stake" validate:"gte=0"`
	MaxStake       float64      `toml:"max_stake" validate:"gte=0"`
	StakePrecision int32        `toml:"stake_precision" default:"2" validate:"gte=0,lte=8"`
	Tiers          []TierConfig `toml:"tiers" validate:"dive"`
}

// TierConfig 为置信度分档。
type TierConfig struct {
	Name          string  `toml:"name" validate:"required"`
	MinConfidence float64 `toml:"min_confidence" validate:"gte=0,lte=1"`
	Multiplier    float64 `toml:"multiplier" validate:"gt=0"`
}

type PredictionConfig struct {
	Path            string `toml:"path"`
	ManifestPath    string `toml:"manifest_path"`
	WatchManifest   bool   `toml:"watch_manifest"`
	RequireManifest bool   `toml:"require_manifest"`
}

type SentimentConfig struct {
	Enabled                bool        `toml:"enabled"`
	Endpoint               string      `toml:"endpoint"`
	HistoryLimit           int         `toml:"history_limit"`
	TimeoutSeconds         int         `toml:"timeout_seconds"`
	RefreshIntervalMinutes int         `toml:"refresh_interval_minutes"`
	MaxStalenessHours      int         `toml:"max_staleness_hours"`
	BreakerThreshold       int         `toml:"breaker_threshold"`
	BreakerTimeoutSeconds  int         `toml:"breaker_timeout_seconds"`
	Redis                  RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
	TTLHours int    `toml:"ttl_hours"`
}

type StoreConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type PublishConfig struct {
	Enabled             bool     `toml:"enabled"`
	Brokers             []string `toml:"brokers"`
	Topic               string   `toml:"topic"`
	Compression         string   `toml:"compression"`
	BatchTimeoutMillis  int      `toml:"batch_timeout_ms"`
	WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
	IncludeHolds        bool     `toml:"include_holds"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
