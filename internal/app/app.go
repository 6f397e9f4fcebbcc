// Package app 负责应用级编排：加载配置后组装组件，运行回放或实盘循环。
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"confluence/internal/config"
	"confluence/internal/engine"
	"confluence/internal/logger"
	"confluence/internal/metrics"
	"confluence/internal/prediction"
	"confluence/internal/scheduler"
	"confluence/internal/sentiment"
	"confluence/internal/signal"
	"confluence/internal/store"
	livehttp "confluence/internal/transport/http/live"
)

type App struct {
	cfg      *config.Config
	deps     engine.Deps
	interval time.Duration

	candles   engine.LiveStore
	runner    *engine.Runner
	book      *signal.Book
	store     *store.DecisionStore
	publisher engine.Sink
	metrics   *metrics.Recorder
	sentiment *sentiment.Service
	watcher   *prediction.Watcher
	http      *livehttp.Server

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build(ctx)
}

// Runner 暴露底层 runner。
func (a *App) Runner() *engine.Runner { return a.runner }

// Store 返回决策存储；未启用时为 nil。
func (a *App) Store() *store.DecisionStore { return a.store }

// Replay 在配置的标的与区间上回放一次。
func (a *App) Replay(ctx context.Context) (engine.Summary, error) {
	if a == nil || a.runner == nil {
		return engine.Summary{}, fmt.Errorf("app not initialized")
	}
	if a.sentiment != nil {
		// 回放需要完整历史，失败时相关检查按缺失处理
		if err := a.sentiment.Refresh(ctx); err != nil {
			logger.Warnf("[app] sentiment history unavailable for replay: %v", err)
		}
	}
	from, to := a.cfg.Data.ReplayRange()
	sum, err := a.runner.Replay(ctx, a.cfg.Data.Instruments, from, to)
	if a.metrics != nil {
		a.metrics.ObserveRun("replay", sum)
	}
	return sum, err
}

// Run 启动实盘循环与 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.runner == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print(os.Stdout)
	}
	if a.store != nil {
		n, err := a.store.RestoreBook(ctx, a.deps.Strategy, a.book)
		if err != nil {
			return fmt.Errorf("restore positions: %w", err)
		}
		logger.Infof("✓ restored %d positions for %s", n, a.deps.Strategy)
	}
	if err := a.runner.Track(a.cfg.Data.Instruments...); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	sched := scheduler.NewAligned("poll", a.interval, time.Duration(a.cfg.Engine.PollOffsetSeconds)*time.Second)
	sched.RunImmediately = a.cfg.Engine.RunImmediately
	group.Go(func() error {
		err := sched.Run(ctx, a.poll)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return group.Wait()
}

// poll 是每根 K 线收盘后的任务。
func (a *App) poll(ctx context.Context, closedAt time.Time) {
	if a.sentiment != nil {
		a.sentiment.RefreshIfStale(ctx)
	}
	sum, err := a.runner.Poll(ctx, time.Now())
	if a.metrics != nil {
		a.metrics.ObserveRun("live", sum)
	}
	if err != nil {
		logger.Warnf("[app] poll after %s: %v", closedAt.Format(time.RFC3339), err)
		return
	}
	steps := 0
	for _, is := range sum.Instruments {
		steps += is.Steps
	}
	logger.Infof("[app] poll after %s: instruments=%d steps=%d failed=%v sink_errors=%d",
		closedAt.Format(time.RFC3339), len(sum.Instruments), steps, sum.Failed(), sum.SinkErrors)
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"strategy":  a.deps.Strategy,
		"timeframe": a.deps.Timeframe,
		"flags":     a.cfg.Flags.List(),
		"schema":    a.deps.Normalizer.Schema().Fingerprint(),
	}
	if a.watcher != nil {
		snap := a.watcher.Current()
		out["model"] = modelStatus(snap)
	}
	if a.sentiment != nil {
		out["sentiment"] = a.sentiment.Status()
	}
	return out
}

func modelStatus(s prediction.Snapshot) map[string]any {
	return map[string]any{
		"model_version": s.Manifest.ModelVersion,
		"revision":      s.Version,
		"loaded_at":     s.LoadedAt,
	}
}

func (a *App) registerGauges() {
	if a.metrics == nil {
		return
	}
	if a.sentiment != nil {
		a.metrics.TrackBreaker(a.sentiment.Breaker(), "fear_greed")
		a.metrics.GaugeFunc("sentiment_age_seconds", "Age of the latest fear and greed reading",
			metrics.AgeSeconds(time.Now, func() time.Time {
				r, _ := a.sentiment.At(time.Now())
				return r.Timestamp
			}))
	}
	if a.watcher != nil {
		a.metrics.GaugeFunc("manifest_rejected_swaps", "Model manifest swaps rejected as incompatible",
			func() float64 { return float64(a.watcher.Rejected()) })
		a.metrics.GaugeFunc("manifest_revision", "Accepted model manifest revision",
			func() float64 { return float64(a.watcher.Current().Version) })
	}
}

// Close 释放存储、发布端与情绪缓存连接。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var firstErr error
	closeIt := func(c any) {
		if cl, ok := c.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if a.publisher != nil {
		closeIt(a.publisher)
	}
	if a.store != nil {
		closeIt(a.store)
	}
	if a.candles != nil {
		closeIt(a.candles)
	}
	if a.sentiment != nil {
		closeIt(a.sentiment)
	}
	return firstErr
}
