package config

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"

	"confluence/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultStrategyName      = "confluence"
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogPath        = "data/logs/confluence.log"
	defaultAuditLogPath      = "data/logs/confluence-audit.log"
	defaultDataRoot          = "data/candles"
	defaultTimeframe         = "1h"
	defaultEngineWindow      = 300
	defaultEngineParallel    = 4
	defaultPollOffset        = 5
	defaultFeaturePreset     = "v2.0_confluence"
	defaultVSAValidity       = -0.25
	defaultMinStake          = 10
	defaultMaxStake          = 1000
	defaultFearGreedEndpoint = "https://api.alternative.me/fng/"
	defaultFearGreedHistory  = 30
	defaultSentimentTimeout  = 5
	defaultSentimentRefresh  = 60
	defaultSentimentStale    = 48
	defaultBreakerThreshold  = 3
	defaultBreakerTimeout    = 300
	defaultRedisAddr         = "localhost:6379"
	defaultRedisPrefix       = "confluence"
	defaultRedisTTLHours     = 72
	defaultStorePath         = "data/decisions.db"
	defaultPublishTopic      = "confluence.decisions"
	defaultPublishCompress   = "gzip"
	defaultPublishBatchMs    = 200
	defaultPublishTimeout    = 10
	defaultHTTPAddr          = ":9991"
	defaultMetricsNamespace  = "confluence"
)

// DefaultProducers 为未显式配置时启用的全部内置特征生产者。
var DefaultProducers = []string{
	"log_returns",
	"ma_trend",
	"oscillators",
	"volatility",
	"volume",
	"trend_strength",
	"structure",
	"vsa",
	"fibonacci",
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) error {
	c.Strategy.applyDefaults(keys)
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Features.applyDefaults(keys)
	// 阈值结构体通过 default 标签补齐零值字段
	for _, target := range []any{&c.Regime, &c.Scoring, &c.Gate, &c.Risk} {
		if err := defaults.Set(target); err != nil {
			return fmt.Errorf("apply strategy defaults failed: %w", err)
		}
	}
	c.Scoring.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Publish.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
	return nil
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategyName),
		fieldDefault{
			key:   "strategy.version",
			need:  func() bool { return s.Version <= 0 },
			apply: func() { s.Version = 1 },
		},
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.audit_log_path", &a.AuditLogPath, defaultAuditLogPath),
		boolFieldDefault("app.audit_enabled", &a.AuditEnabled, false),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultTimeframe),
	)
	d.Timeframe = strings.ToLower(strings.TrimSpace(d.Timeframe))
	d.Instruments = symbol.NormalizeList(d.Instruments)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.window",
			need:  func() bool { return e.Window <= 0 },
			apply: func() { e.Window = defaultEngineWindow },
		},
		fieldDefault{
			key:   "engine.max_parallel",
			need:  func() bool { return e.MaxParallel <= 0 },
			apply: func() { e.MaxParallel = defaultEngineParallel },
		},
		fieldDefault{
			key:   "engine.poll_offset_seconds",
			need:  func() bool { return e.PollOffsetSeconds == 0 },
			apply: func() { e.PollOffsetSeconds = defaultPollOffset },
		},
		boolFieldDefault("engine.simulate_stops", &e.SimulateStops, true),
		boolFieldDefault("engine.run_immediately", &e.RunImmediately, true),
	)
}

func (f *FeaturesConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("features.preset", &f.Preset, defaultFeaturePreset),
		fieldDefault{
			key:  "features.producers",
			need: func() bool { return len(f.Producers) == 0 },
			apply: func() {
				f.Producers = make([]ProducerConfig, 0, len(DefaultProducers))
				for _, name := range DefaultProducers {
					f.Producers = append(f.Producers, ProducerConfig{Name: name})
				}
			},
		},
	)
	if f.Flags == nil {
		f.Flags = map[string]bool{}
	}
}

func (s *ScoringConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:  "scoring.weights",
			need: func() bool { return len(s.Weights) == 0 },
			apply: func() {
				s.Weights = []WeightConfig{
					{Name: "trend", Weight: 0.4},
					{Name: "momentum", Weight: 0.35},
					{Name: "money_pressure", Weight: 0.25},
				}
			},
		},
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "gate.vsa_validity",
			need:  func() bool { return g.VSAValidity == 0 },
			apply: func() { g.VSAValidity = defaultVSAValidity },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.min_stake",
			need:  func() bool { return r.MinStake == 0 },
			apply: func() { r.MinStake = defaultMinStake },
		},
		fieldDefault{
			key:   "risk.max_stake",
			need:  func() bool { return r.MaxStake == 0 },
			apply: func() { r.MaxStake = defaultMaxStake },
		},
		fieldDefault{
			key:  "risk.tiers",
			need: func() bool { return len(r.Tiers) == 0 },
			apply: func() {
				r.Tiers = []TierConfig{
					{Name: "high", MinConfidence: 0.8, Multiplier: 1.2},
					{Name: "mid", MinConfidence: 0.6, Multiplier: 1.0},
					{Name: "low", MinConfidence: 0, Multiplier: 0.5},
				}
			},
		},
	)
}

func (s *SentimentConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("sentiment.enabled", &s.Enabled, true),
		stringFieldDefault("sentiment.endpoint", &s.Endpoint, defaultFearGreedEndpoint),
		intFieldDefault("sentiment.history_limit", &s.HistoryLimit, defaultFearGreedHistory),
		intFieldDefault("sentiment.timeout_seconds", &s.TimeoutSeconds, defaultSentimentTimeout),
		intFieldDefault("sentiment.refresh_interval_minutes", &s.RefreshIntervalMinutes, defaultSentimentRefresh),
		intFieldDefault("sentiment.max_staleness_hours", &s.MaxStalenessHours, defaultSentimentStale),
		intFieldDefault("sentiment.breaker_threshold", &s.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("sentiment.breaker_timeout_seconds", &s.BreakerTimeoutSeconds, defaultBreakerTimeout),
		stringFieldDefault("sentiment.redis.addr", &s.Redis.Addr, defaultRedisAddr),
		stringFieldDefault("sentiment.redis.prefix", &s.Redis.Prefix, defaultRedisPrefix),
		intFieldDefault("sentiment.redis.ttl_hours", &s.Redis.TTLHours, defaultRedisTTLHours),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("store.enabled", &s.Enabled, true),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (p *PublishConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("publish.topic", &p.Topic, defaultPublishTopic),
		stringFieldDefault("publish.compression", &p.Compression, defaultPublishCompress),
		intFieldDefault("publish.batch_timeout_ms", &p.BatchTimeoutMillis, defaultPublishBatchMs),
		intFieldDefault("publish.write_timeout_seconds", &p.WriteTimeoutSeconds, defaultPublishTimeout),
	)
	p.Brokers = normalizeList(p.Brokers)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("metrics.enabled", &m.Enabled, true),
		stringFieldDefault("metrics.namespace", &m.Namespace, defaultMetricsNamespace),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
