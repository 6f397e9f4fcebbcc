package app

import (
	"fmt"
	"io"
	"strings"

	"confluence/internal/config"
	"confluence/internal/engine"
	"confluence/internal/pkg/utils"
)

// StartupSummary 汇总启动时生效的关键配置。
type StartupSummary struct {
	Strategy    string
	Timeframe   string
	Instruments []string
	Preset      string
	Flags       []string
	Producers   []string
	Features    int
	Fingerprint string
	Thresholds  ThresholdSummary
	Sinks       []string
	Model       string
	Sentiment   bool
	HTTPAddr    string
}

type ThresholdSummary struct {
	Long            float64
	Short           float64
	EntryPrediction float64
	ExitPrediction  float64
	StoplossFloor   float64
	StoplossCap     float64
	LeverageCap     float64
}

func newStartupSummary(cfg *config.Config, deps engine.Deps, a *App) *StartupSummary {
	s := &StartupSummary{
		Strategy:    deps.Strategy,
		Timeframe:   deps.Timeframe,
		Instruments: append([]string(nil), cfg.Data.Instruments...),
		Preset:      cfg.Flags.Version(),
		Flags:       cfg.Flags.List(),
		Producers:   deps.Normalizer.Producers(),
		Features:    deps.Normalizer.Schema().Len(),
		Fingerprint: deps.Normalizer.Schema().Fingerprint(),
		Thresholds: ThresholdSummary{
			Long:            deps.Aggregator.LongThreshold(),
			Short:           deps.Aggregator.ShortThreshold(),
			EntryPrediction: cfg.Gate.EntryPrediction,
			ExitPrediction:  cfg.Gate.ExitPrediction,
			StoplossFloor:   cfg.Risk.StoplossFloor,
			StoplossCap:     cfg.Risk.StoplossCap,
			LeverageCap:     cfg.Risk.LeverageCap,
		},
		Sentiment: a.sentiment != nil,
	}
	if a.store != nil {
		s.Sinks = append(s.Sinks, "store:"+cfg.Store.Path)
	}
	if a.publisher != nil {
		s.Sinks = append(s.Sinks, "kafka:"+cfg.Publish.Topic)
	}
	if a.metrics != nil {
		s.Sinks = append(s.Sinks, "metrics")
	}
	if a.watcher != nil {
		s.Model = a.watcher.Current().Manifest.ModelVersion
	}
	if a.http != nil {
		s.HTTPAddr = a.http.Addr()
	}
	return s
}

func (s *StartupSummary) Print(w io.Writer) {
	line := strings.Repeat("=", 80)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Fprintln(w, line)

	fmt.Fprintln(w, "[策略 (STRATEGY)]")
	fmt.Fprintf(w, "  标识: %s  周期: %s\n", s.Strategy, s.Timeframe)
	fmt.Fprintf(w, "  标的: %s\n", utils.FormatList(s.Instruments))
	fmt.Fprintf(w, "  预设: %s\n", s.Preset)
	fmt.Fprintf(w, "  开关: %s\n", utils.FormatList(s.Flags))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[特征 (FEATURES)]")
	fmt.Fprintf(w, "  生产者: %s\n", utils.FormatList(s.Producers))
	fmt.Fprintf(w, "  特征数: %d  指纹: %s\n", s.Features, s.Fingerprint)
	fmt.Fprintf(w, "  模型: %s\n", utils.OrDash(s.Model))
	fmt.Fprintln(w)

	t := s.Thresholds
	fmt.Fprintln(w, "[阈值 (THRESHOLDS)]")
	fmt.Fprintf(w, "  总分: long>%.2f short<%.2f\n", t.Long, t.Short)
	fmt.Fprintf(w, "  预测: entry %s exit %s\n", utils.FormatFloat(t.EntryPrediction), utils.FormatFloat(t.ExitPrediction))
	fmt.Fprintf(w, "  止损: [%s, %s]  杠杆上限: %.1f\n", utils.FormatPercent(t.StoplossFloor), utils.FormatPercent(t.StoplossCap), t.LeverageCap)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[输出 (OUTPUTS)]")
	fmt.Fprintf(w, "  下游: %s\n", utils.FormatList(s.Sinks))
	fmt.Fprintf(w, "  情绪指数: %v\n", s.Sentiment)
	fmt.Fprintf(w, "  HTTP: %s\n", utils.OrDash(s.HTTPAddr))
	fmt.Fprintln(w, line)
}
