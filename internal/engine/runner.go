package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"confluence/internal/logger"
	"confluence/internal/market"
	"confluence/internal/pkg/symbol"
	"confluence/internal/signal"
)

// LiveStore 在回放区间读取之外，还支持实盘轮询所需的增量读取。
type LiveStore interface {
	market.CandleStore
	After(ctx context.Context, instrument, timeframe string, after time.Time, limit int) ([]market.Candle, error)
	Latest(ctx context.Context, instrument, timeframe string, limit int) ([]market.Candle, error)
}

// Options 控制 Runner 的窗口、并发与决策下游。
type Options struct {
	Window      int
	MaxParallel int
	Interval    time.Duration
	Sinks       []Sink
}

// Runner 在多个标的上驱动 Engine，标的之间互不影响。
type Runner struct {
	deps        Deps
	candles     market.CandleStore
	book        *signal.Book
	window      int
	maxParallel int
	interval    time.Duration
	sinks       []Sink

	mu   sync.Mutex
	live map[string]*Engine

	sinkErrors atomic.Int64
}

// NewRunner 创建 Runner；book 为 nil 时新建空持仓簿。
func NewRunner(deps Deps, candles market.CandleStore, book *signal.Book, opts Options) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if candles == nil {
		return nil, fmt.Errorf("runner requires a candle store")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("runner requires a positive bar interval")
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if book == nil {
		book = signal.NewBook()
	}
	return &Runner{
		deps:        deps,
		candles:     candles,
		book:        book,
		window:      opts.Window,
		maxParallel: opts.MaxParallel,
		interval:    opts.Interval,
		sinks:       append([]Sink(nil), opts.Sinks...),
		live:        make(map[string]*Engine),
	}, nil
}

// AddSink 追加决策下游；需在运行前调用。
func (r *Runner) AddSink(s Sink) {
	if s != nil {
		r.sinks = append(r.sinks, s)
	}
}

// Book 返回实盘持仓簿。
func (r *Runner) Book() *signal.Book { return r.book }

// InstrumentSummary 汇总单个标的的一次运行。
type InstrumentSummary struct {
	Steps    int                  `json:"steps"`
	Warmup   int                  `json:"warmup"`
	Actions  map[string]int       `json:"actions"`
	Errors   int                  `json:"errors"`
	Err      string               `json:"error,omitempty"`
	Position signal.PositionState `json:"position"`
}

// Summary 汇总一次回放或轮询。
type Summary struct {
	RunID       string                       `json:"run_id"`
	StartedAt   time.Time                    `json:"started_at"`
	Elapsed     time.Duration                `json:"elapsed"`
	Instruments map[string]InstrumentSummary `json:"instruments"`
	SinkErrors  int64                        `json:"sink_errors"`
}

// Failed 返回整体失败的标的（按字母序）。
func (s Summary) Failed() []string {
	var out []string
	for inst, is := range s.Instruments {
		if is.Err != "" {
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

// Replay 在 [from, to] 上回放各标的；from 之前 window 根蜡烛只用于预热。
// 每次回放使用全新的持仓状态，同一输入的两次回放产生相同的决策序列。
func (r *Runner) Replay(ctx context.Context, instruments []string, from, to time.Time) (Summary, error) {
	runID := uuid.NewString()
	sum := Summary{RunID: runID, StartedAt: time.Now().UTC(), Instruments: make(map[string]InstrumentSummary, len(instruments))}
	before := r.sinkErrors.Load()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for _, inst := range symbol.NormalizeList(instruments) {
		inst := inst
		g.Go(func() error {
			is := r.replayOne(gctx, runID, inst, from, to)
			mu.Lock()
			sum.Instruments[inst] = is
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sum.Elapsed = time.Since(sum.StartedAt)
	sum.SinkErrors = r.sinkErrors.Load() - before
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	logger.Infof("[runner] replay %s finished: instruments=%d failed=%v elapsed=%s",
		runID, len(sum.Instruments), sum.Failed(), sum.Elapsed.Truncate(time.Millisecond))
	return sum, nil
}

func (r *Runner) replayOne(ctx context.Context, runID, inst string, from, to time.Time) InstrumentSummary {
	is := InstrumentSummary{Actions: make(map[string]int)}
	eng, err := New(inst, signal.NewMachine(inst), r.deps, r.window)
	if err != nil {
		is.Err = err.Error()
		return is
	}
	eng.SetRunID(runID)

	loadFrom := from
	if !from.IsZero() {
		loadFrom = from.Add(-time.Duration(eng.window.Cap()) * r.interval)
	}
	candles, err := r.candles.Range(ctx, inst, r.deps.Timeframe, loadFrom, to)
	if err != nil {
		is.Err = fmt.Sprintf("load candles: %v", err)
		logger.Warnf("[runner] %s: %s", inst, is.Err)
		return is
	}
	for _, c := range candles {
		if ctx.Err() != nil {
			is.Err = ctx.Err().Error()
			break
		}
		if !from.IsZero() && c.Timestamp.Before(from) {
			if err := eng.Warm(c); err != nil {
				is.Errors++
				continue
			}
			is.Warmup++
			continue
		}
		d := r.step(ctx, eng, c)
		is.Steps++
		is.Actions[d.Action.String()]++
		if d.Failed() {
			is.Errors++
		}
	}
	is.Position = eng.State()
	return is
}

// Poll 在实盘循环中处理各标的新收盘的蜡烛。
func (r *Runner) Poll(ctx context.Context, now time.Time) (Summary, error) {
	ls, ok := r.candles.(LiveStore)
	if !ok {
		return Summary{}, fmt.Errorf("candle store does not support incremental reads")
	}
	sum := Summary{StartedAt: time.Now().UTC(), Instruments: make(map[string]InstrumentSummary)}
	before := r.sinkErrors.Load()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for _, inst := range r.liveInstruments() {
		inst := inst
		g.Go(func() error {
			is := r.pollOne(gctx, ls, inst, now)
			mu.Lock()
			sum.Instruments[inst] = is
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sum.Elapsed = time.Since(sum.StartedAt)
	sum.SinkErrors = r.sinkErrors.Load() - before
	return sum, ctx.Err()
}

// Track 把标的加入实盘轮询。
func (r *Runner) Track(instruments ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range symbol.NormalizeList(instruments) {
		if _, ok := r.live[inst]; ok {
			continue
		}
		eng, err := New(inst, r.book.Machine(inst), r.deps, r.window)
		if err != nil {
			return err
		}
		eng.SetRunID(LiveRunID)
		r.live[inst] = eng
	}
	return nil
}

func (r *Runner) liveInstruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.live))
	for inst := range r.live {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) liveEngine(inst string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[inst]
}

func (r *Runner) pollOne(ctx context.Context, ls LiveStore, inst string, now time.Time) InstrumentSummary {
	is := InstrumentSummary{Actions: make(map[string]int)}
	eng := r.liveEngine(inst)
	if eng == nil {
		is.Err = "instrument not tracked"
		return is
	}

	var (
		candles []market.Candle
		err     error
	)
	last, warmed := eng.LastTimestamp()
	if warmed {
		candles, err = ls.After(ctx, inst, r.deps.Timeframe, last, 0)
	} else {
		candles, err = ls.Latest(ctx, inst, r.deps.Timeframe, eng.window.Cap()+1)
	}
	if err != nil {
		is.Err = fmt.Sprintf("load candles: %v", err)
		logger.Warnf("[runner] %s: %s", inst, is.Err)
		return is
	}
	candles = market.DropUnclosed(candles, r.interval, now)

	lastStep := eng.State().LastStep
	for i, c := range candles {
		// 冷启动时只对上次决策之后的蜡烛出决策；没有历史决策时只对最新一根
		stepIt := c.Timestamp.After(lastStep) && (i == len(candles)-1 || !lastStep.IsZero())
		if !warmed && !stepIt {
			if err := eng.Warm(c); err != nil {
				is.Errors++
				continue
			}
			is.Warmup++
			continue
		}
		d := r.step(ctx, eng, c)
		is.Steps++
		is.Actions[d.Action.String()]++
		if d.Failed() {
			is.Errors++
		}
	}
	is.Position = eng.State()
	return is
}

// step 执行一步并把决策交给下游；引擎内部 panic 转为带错误的 HOLD。
func (r *Runner) step(ctx context.Context, eng *Engine, c market.Candle) (d Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[runner] %s step panic at %s: %v\n%s", eng.Instrument(), c.Timestamp.Format(time.RFC3339), rec, debug.Stack())
			d = Decision{
				ID:         DecisionID(r.deps.Strategy, eng.Instrument(), r.deps.Timeframe, c.Timestamp),
				RunID:      eng.runID,
				Strategy:   r.deps.Strategy,
				Instrument: eng.Instrument(),
				Timeframe:  r.deps.Timeframe,
				Timestamp:  c.Timestamp.UTC(),
				Action:     signal.Hold,
				Position:   eng.State().Side,
				Price:      c.Close,
				Error:      fmt.Sprintf("panic: %v", rec),
			}
			r.emit(ctx, d)
		}
	}()
	d = eng.Step(ctx, c)
	r.emit(ctx, d)
	return d
}

func (r *Runner) emit(ctx context.Context, d Decision) {
	for _, s := range r.sinks {
		if err := invokeSink(ctx, s, d); err != nil {
			r.sinkErrors.Add(1)
			logger.Warnf("[runner] sink %T failed for %s@%s: %v", s, d.Instrument, d.Timestamp.Format(time.RFC3339), err)
		}
	}
}

func invokeSink(ctx context.Context, s Sink, d Decision) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
	}()
	return s.Handle(ctx, d)
}

