package app

import (
	"context"
	"fmt"
	"strings"

	"confluence/internal/config"
	"confluence/internal/engine"
	"confluence/internal/feature"
	"confluence/internal/gate"
	"confluence/internal/logger"
	"confluence/internal/market"
	"confluence/internal/metrics"
	"confluence/internal/prediction"
	"confluence/internal/publish"
	"confluence/internal/regime"
	"confluence/internal/risk"
	"confluence/internal/scheduler"
	"confluence/internal/score"
	"confluence/internal/sentiment"
	"confluence/internal/signal"
	"confluence/internal/store"
	livehttp "confluence/internal/transport/http/live"
)

// AppBuilder 按配置组装全部组件；各 Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	candleStoreFn func(config.DataConfig) (engine.LiveStore, error)
	predictionFn  func(config.PredictionConfig, feature.Schema) (prediction.Source, *prediction.Watcher, error)
	sentimentFn   func(context.Context, config.SentimentConfig) (*sentiment.Service, error)
	publisherFn   func(config.PublishConfig) (engine.Sink, error)
}

type AppBuilderOption func(*AppBuilder)

// WithCandleStore 替换蜡烛存储。
func WithCandleStore(s engine.LiveStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.candleStoreFn = func(config.DataConfig) (engine.LiveStore, error) { return s, nil }
	}
}

// WithPredictions 替换预测来源（不做 manifest 校验）。
func WithPredictions(src prediction.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.predictionFn = func(config.PredictionConfig, feature.Schema) (prediction.Source, *prediction.Watcher, error) {
			return src, nil, nil
		}
	}
}

// WithPublisher 替换决策发布端。
func WithPublisher(s engine.Sink) AppBuilderOption {
	return func(b *AppBuilder) {
		b.publisherFn = func(config.PublishConfig) (engine.Sink, error) { return s, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: openCandleStore,
		predictionFn:  buildPredictionSource,
		sentimentFn:   buildSentiment,
		publisherFn:   buildPublisher,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 组装应用（不启动任何后台任务）。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	deps, err := BuildDeps(cfg)
	if err != nil {
		return nil, err
	}
	schema := deps.Normalizer.Schema()
	logger.Infof("✓ strategy %s, features preset=%s flags=%v", deps.Strategy, cfg.Flags.Version(), cfg.Flags.List())
	logger.Infof("✓ feature schema: %d features, fingerprint=%s", schema.Len(), schema.Fingerprint())

	if deps.Predictions, a.watcher, err = b.predictionFn(cfg.Prediction, schema); err != nil {
		return nil, err
	}
	if cfg.Sentiment.Enabled {
		if a.sentiment, err = b.sentimentFn(ctx, cfg.Sentiment); err != nil {
			return nil, err
		}
		deps.Sentiment = a.sentiment
	}

	candles, err := b.candleStoreFn(cfg.Data)
	if err != nil {
		return nil, err
	}
	a.candles = candles

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}
	sinks := make([]engine.Sink, 0, 3)
	if cfg.Store.Enabled {
		if a.store, err = store.Open(cfg.Store.Path); err != nil {
			return nil, err
		}
		sinks = append(sinks, a.store)
	}
	if cfg.Publish.Enabled {
		pub, err := b.publisherFn(cfg.Publish)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
		sinks = append(sinks, pub)
	}
	if a.metrics != nil {
		sinks = append(sinks, a.metrics)
	}

	interval, err := scheduler.ParseInterval(cfg.Data.Timeframe)
	if err != nil {
		return nil, err
	}
	a.book = signal.NewBook()
	a.runner, err = engine.NewRunner(deps, candles, a.book, engine.Options{
		Window:      cfg.Engine.Window,
		MaxParallel: cfg.Engine.MaxParallel,
		Interval:    interval,
		Sinks:       sinks,
	})
	if err != nil {
		return nil, err
	}
	a.deps = deps
	a.interval = interval

	if cfg.HTTP.Enabled {
		if a.http, err = b.buildHTTP(a); err != nil {
			return nil, err
		}
	}
	a.registerGauges()
	a.Summary = newStartupSummary(cfg, deps, a)
	ok = true
	return a, nil
}

// BuildDeps 根据配置构造引擎的无状态组件；预测与情绪来源由调用方补齐。
func BuildDeps(cfg *config.Config) (engine.Deps, error) {
	specs := make([]feature.Spec, 0, len(cfg.Features.Producers))
	for _, p := range cfg.Features.Producers {
		specs = append(specs, feature.Spec{Name: p.Name, Params: p.Params})
	}
	producers, err := feature.DefaultRegistry().BuildSpecs(specs)
	if err != nil {
		return engine.Deps{}, fmt.Errorf("features: %w", err)
	}
	norm, err := feature.NewNormalizer(producers...)
	if err != nil {
		return engine.Deps{}, fmt.Errorf("features: %w", err)
	}
	agg, err := score.NewAggregatorFromConfig(cfg.Scoring)
	if err != nil {
		return engine.Deps{}, fmt.Errorf("scoring: %w", err)
	}
	g := gate.New(cfg.Gate, agg.LongThreshold(), agg.ShortThreshold(), gate.TogglesFromFlags(cfg.Flags))
	schema := norm.Schema()
	var missing []string
	for _, name := range g.RequiredFeatures() {
		if !schema.Contains(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		// 缺失的输入会让对应检查恒为 false，只提示不阻断
		logger.Warnf("[app] gate reads features no producer emits: %s", strings.Join(missing, ","))
	}
	return engine.Deps{
		Strategy:      cfg.Strategy.Tag(),
		Timeframe:     cfg.Data.Timeframe,
		Normalizer:    norm,
		Regime:        regime.NewClassifier(cfg.Regime),
		Scores:        score.NewSet(cfg.Scoring),
		Aggregator:    agg,
		Gate:          g,
		Sizer:         risk.NewSizer(cfg.Risk, cfg.Flags),
		SimulateStops: cfg.Engine.SimulateStops,
	}, nil
}

func openCandleStore(cfg config.DataConfig) (engine.LiveStore, error) {
	return market.NewStore(cfg.Root)
}

func buildPredictionSource(cfg config.PredictionConfig, schema feature.Schema) (prediction.Source, *prediction.Watcher, error) {
	var src prediction.Source = prediction.NewMemorySource()
	if path := strings.TrimSpace(cfg.Path); path != "" {
		jsonl, err := prediction.NewJSONLSource(path)
		if err != nil {
			return nil, nil, err
		}
		src = jsonl
	} else {
		logger.Warnf("[app] prediction.path not set, every step will HOLD")
	}
	if strings.TrimSpace(cfg.ManifestPath) == "" {
		return src, nil, nil
	}
	w, err := prediction.NewWatcher(cfg.ManifestPath, schema, cfg.WatchManifest)
	if err != nil {
		return nil, nil, err
	}
	return prediction.Guarded{Source: src, Acceptor: w}, w, nil
}

func buildSentiment(ctx context.Context, cfg config.SentimentConfig) (*sentiment.Service, error) {
	var cache sentiment.Cache
	if cfg.Redis.Enabled {
		rc, err := sentiment.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			// 缓存不可用时仍可直接拉取
			logger.Warnf("[app] sentiment redis cache disabled: %v", err)
		} else {
			cache = rc
		}
	}
	svc := sentiment.NewService(cfg, cache)
	if err := svc.Warm(ctx); err != nil {
		logger.Warnf("[app] %v", err)
	}
	return svc, nil
}

func buildPublisher(cfg config.PublishConfig) (engine.Sink, error) {
	return publish.New(cfg, publish.WithHolds(cfg.IncludeHolds))
}

func (b *AppBuilder) buildHTTP(a *App) (*livehttp.Server, error) {
	cfg := livehttp.ServerConfig{
		Addr:      b.cfg.HTTP.Addr,
		Positions: a.book,
		Health:    a.health,
		LogPaths:  map[string]string{},
	}
	if a.store != nil {
		cfg.Decisions = a.store
	}
	if a.metrics != nil {
		cfg.Metrics = a.metrics.Handler()
	}
	if p := strings.TrimSpace(b.cfg.App.LogPath); p != "" {
		cfg.LogPaths["app"] = p
	}
	if p := strings.TrimSpace(b.cfg.App.AuditLogPath); p != "" {
		cfg.LogPaths["audit"] = p
	}
	return livehttp.NewServer(cfg)
}
