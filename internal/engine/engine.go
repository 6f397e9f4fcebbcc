// Package engine 把各组件串成单标的的逐步决策，并在多标的间并行回放。
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"confluence/internal/feature"
	"confluence/internal/gate"
	"confluence/internal/logger"
	"confluence/internal/market"
	"confluence/internal/pkg/symbol"
	"confluence/internal/prediction"
	"confluence/internal/regime"
	"confluence/internal/risk"
	"confluence/internal/score"
	"confluence/internal/sentiment"
	"confluence/internal/signal"
)

// SentimentReader 按时间点读取情绪指数。
type SentimentReader interface {
	At(ts time.Time) (sentiment.Reading, error)
}

// Deps 是引擎的无状态组件，可在多个标的间共享。
type Deps struct {
	Strategy      string
	Timeframe     string
	Normalizer    *feature.Normalizer
	Regime        regime.Classifier
	Scores        *score.Set
	Aggregator    *score.Aggregator
	Gate          *gate.Gate
	Sizer         *risk.Sizer
	Predictions   prediction.Source
	Sentiment     SentimentReader
	SimulateStops bool
}

func (d Deps) validate() error {
	switch {
	case d.Normalizer == nil:
		return fmt.Errorf("engine requires a feature normalizer")
	case d.Scores == nil || d.Aggregator == nil:
		return fmt.Errorf("engine requires score calculators and an aggregator")
	case d.Gate == nil:
		return fmt.Errorf("engine requires a gate")
	case d.Sizer == nil:
		return fmt.Errorf("engine requires a risk sizer")
	case d.Predictions == nil:
		return fmt.Errorf("engine requires a prediction source")
	}
	return nil
}

// Engine 处理单个标的，Step 必须顺序调用。
type Engine struct {
	instrument string
	deps       Deps
	machine    *signal.Machine
	window     *market.Window
	runID      string
	log        logger.Scoped
}

// New 创建单标的引擎；windowSize 小于特征所需回看长度时按回看长度放大。
func New(instrument string, machine *signal.Machine, deps Deps, windowSize int) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	instrument = symbol.Normalize(instrument)
	if instrument == "" {
		return nil, fmt.Errorf("engine requires an instrument")
	}
	if machine == nil {
		machine = signal.NewMachine(instrument)
	}
	if lb := deps.Normalizer.Lookback(); windowSize < lb {
		windowSize = lb
	}
	return &Engine{
		instrument: instrument,
		deps:       deps,
		machine:    machine,
		window:     market.NewWindow(windowSize),
		log:        logger.With(instrument),
	}, nil
}

func (e *Engine) Instrument() string { return e.instrument }

// SetRunID 为之后的决策打上运行标识。
func (e *Engine) SetRunID(id string) { e.runID = id }

// State 返回当前持仓。
func (e *Engine) State() signal.PositionState { return e.machine.State() }

// Warm 只把蜡烛放入窗口，不产生决策。
func (e *Engine) Warm(c market.Candle) error {
	return e.window.Push(c)
}

// LastTimestamp 返回窗口中最新蜡烛的时间。
func (e *Engine) LastTimestamp() (time.Time, bool) {
	c, ok := e.window.Last()
	return c.Timestamp, ok
}

// Step 处理一根已收盘的蜡烛并返回唯一的决策；任何错误都以 HOLD 加错误信息表示。
func (e *Engine) Step(ctx context.Context, c market.Candle) Decision {
	d := Decision{
		ID:         DecisionID(e.deps.Strategy, e.instrument, e.deps.Timeframe, c.Timestamp),
		RunID:      e.runID,
		Strategy:   e.deps.Strategy,
		Instrument: e.instrument,
		Timeframe:  e.deps.Timeframe,
		Timestamp:  c.Timestamp.UTC(),
		Action:     signal.Hold,
		Price:      c.Close,
	}
	if err := c.Validate(); err != nil {
		return e.fail(d, err)
	}
	if err := e.window.Push(c); err != nil {
		return e.fail(d, fmt.Errorf("%w: %v", signal.ErrDuplicateStep, err))
	}

	if e.deps.SimulateStops {
		if tr, hit := e.checkStop(c); hit {
			d.Action = tr.Action
			d.Reason = tr.Reason
			d.Position = tr.To
			e.log.Infof("[engine] %s at %s, stop hit", tr.Action, d.Timestamp.Format(time.RFC3339))
			return d
		}
	}

	vec, err := e.deps.Normalizer.Compute(e.instrument, e.window.Candles())
	if err != nil {
		return e.fail(d, err)
	}
	if skipped := vec.Skipped(); len(skipped) > 0 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("%v: %s", feature.ErrInsufficientHistory, strings.Join(skipped, ",")))
	}

	in := gate.Input{Instrument: e.instrument, Features: vec}
	in.Regime, in.RegimeOK = e.deps.Regime.FromVector(vec)
	in.Extreme, in.ExtremeOK = e.deps.Regime.Extreme(vec)
	if in.RegimeOK {
		d.Regime = in.Regime.String()
	}

	in.SubScores = e.deps.Scores.Compute(vec)
	in.Confluence, in.ConfluenceOK = e.deps.Aggregator.Aggregate(in.SubScores)
	if in.ConfluenceOK {
		d.OverallScore = floatPtr(in.Confluence.Overall)
	}
	if in.SubScores.VSAOK {
		d.VSAScore = floatPtr(in.SubScores.VSA.Score())
	}
	if in.SubScores.StructureOK {
		d.StructureDirection = intPtr(in.SubScores.Structure)
	}

	pred, ok, err := e.deps.Predictions.Prediction(ctx, e.instrument, d.Timestamp)
	switch {
	case err != nil:
		d.Warnings = append(d.Warnings, err.Error())
		if !errors.Is(err, prediction.ErrModelVersion) {
			e.log.Warnf("[engine] prediction lookup failed at %s: %v", d.Timestamp.Format(time.RFC3339), err)
		}
	case ok:
		in.Prediction, in.PredictionOK = pred.ExpectedReturn, true
		d.Prediction = floatPtr(pred.ExpectedReturn)
		d.ModelVersion = pred.ModelVersion
	}

	if e.deps.Sentiment != nil {
		reading, err := e.deps.Sentiment.At(d.Timestamp)
		if err == nil {
			in.FearGreed, in.SentimentOK = reading.Value, true
			d.FearGreed = intPtr(reading.Value)
		} else if errors.Is(err, sentiment.ErrStale) {
			d.Warnings = append(d.Warnings, err.Error())
		}
	}

	res := e.deps.Gate.Evaluate(in)
	d.Checks = res.Checks
	if err := res.Err(); err != nil {
		d.Warnings = append(d.Warnings, err.Error())
	}

	proposal := signal.Proposal{
		EnterLong:  res.EnterLong,
		EnterShort: res.EnterShort,
		ExitLong:   res.ExitLong,
		ExitShort:  res.ExitShort,
		Price:      c.Close,
	}
	var sizeErr error
	if (proposal.EnterLong || proposal.EnterShort) && e.machine.State().Side == signal.Flat {
		var conf *float64
		if in.PredictionOK {
			conf = pred.Confidence
		}
		params, err := e.deps.Sizer.Size(vec, risk.Confidence(conf, in.Confluence.Overall, in.ConfluenceOK))
		if err != nil {
			sizeErr = err
			proposal.EnterLong, proposal.EnterShort = false, false
		} else {
			proposal.Risk = params
		}
	}

	tr, err := e.machine.Step(d.Timestamp, proposal)
	if err != nil {
		return e.fail(d, err)
	}
	d.Action = tr.Action
	d.Position = tr.To
	d.Suppressed = tr.Suppressed
	if tr.Action.IsEntry() {
		d.StoplossPct = proposal.Risk.StoplossPct
		d.StakeAmount = proposal.Risk.StakeAmount
		d.Leverage = proposal.Risk.Leverage
		d.Tier = proposal.Risk.Tier
	}
	if sizeErr != nil {
		d.Error = sizeErr.Error()
		e.log.Warnf("[engine] entry refused at %s: %v", d.Timestamp.Format(time.RFC3339), sizeErr)
	}
	e.audit(d)
	return d
}

// checkStop 用本根 K 线的高低点检查入场后的止损。
func (e *Engine) checkStop(c market.Candle) (signal.Transition, bool) {
	st := e.machine.State()
	if st.Side == signal.Flat || st.Risk.StoplossPct >= 0 || !c.Timestamp.After(st.EntryTime) {
		return signal.Transition{}, false
	}
	short := st.Side == signal.Short
	stop := risk.StopPrice(st.EntryPrice, st.Risk.StoplossPct, short)
	if !risk.StopHit(short, c.Low, c.High, stop) {
		return signal.Transition{}, false
	}
	return e.machine.ForceFlat(c.Timestamp.UTC(), "stoploss")
}

func (e *Engine) fail(d Decision, err error) Decision {
	d.Action = signal.Hold
	d.Position = e.machine.State().Side
	d.Error = err.Error()
	e.log.Warnf("[engine] step at %s failed, holding: %v", d.Timestamp.Format(time.RFC3339), err)
	return d
}

func (e *Engine) audit(d Decision) {
	if !logger.AuditEnabled() || (d.Action == signal.Hold && d.Error == "") {
		return
	}
	var passed, failed strings.Builder
	for _, c := range d.Checks {
		line := fmt.Sprintf("%s.%s", c.Group, c.Name)
		if c.Missing {
			line += " (missing)"
		}
		if c.Passed {
			passed.WriteString(line + "\n")
		} else {
			failed.WriteString(line + "\n")
		}
	}
	sections := []logger.AuditSection{
		{Title: "PASSED", Body: passed.String()},
		{Title: "FAILED", Body: failed.String()},
	}
	if d.Error != "" {
		sections = append(sections, logger.AuditSection{Title: "ERROR", Body: d.Error})
	}
	logger.LogAudit("decision", d.Instrument, d.Action.String(), sections)
}
