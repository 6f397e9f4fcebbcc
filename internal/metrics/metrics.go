// Package metrics 用 Prometheus 暴露决策、检查与外部输入状态。
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"confluence/internal/engine"
	"confluence/internal/pkg/circuit"
	"confluence/internal/signal"
)

// Recorder 持有独立的 registry，同一进程内可以创建多个实例。
type Recorder struct {
	registry *prometheus.Registry
	ns       string

	decisions     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	checksFailed  *prometheus.CounterVec
	missingInputs *prometheus.CounterVec
	lastDecision  *prometheus.GaugeVec
	overall       *prometheus.GaugeVec
	position      *prometheus.GaugeVec
	runDuration   *prometheus.HistogramVec
	sinkErrors    prometheus.Counter
	breakerState  *prometheus.GaugeVec
}

var _ engine.Sink = (*Recorder)(nil)

// New 创建 Recorder；namespace 为空时使用 "confluence"。
func New(namespace string) *Recorder {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "confluence"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		ns:       namespace,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions emitted per instrument and action",
		}, []string{"instrument", "action"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_errors_total",
			Help:      "Steps that ended with an error",
		}, []string{"instrument"}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_warnings_total",
			Help:      "Warnings attached to decisions",
		}, []string{"instrument", "kind"}),
		checksFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_failed_total",
			Help:      "Failed gate checks per group and check name",
		}, []string{"group", "check"}),
		missingInputs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_inputs_missing_total",
			Help:      "Gate checks that failed because an input was missing",
		}, []string{"group", "check"}),
		lastDecision: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_decision_timestamp_seconds",
			Help:      "Bar timestamp of the latest decision",
		}, []string{"instrument"}),
		overall: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overall_score",
			Help:      "Latest confluence overall score",
		}, []string{"instrument"}),
		position: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_side",
			Help:      "Position after the latest decision: 1 long, -1 short, 0 flat",
		}, []string{"instrument"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of replay runs and live polls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		sinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Decision sink failures",
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"name"}),
	}
}

// Registry 返回底层 registry。
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler 返回 /metrics 的处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Handle 实现 engine.Sink。
func (r *Recorder) Handle(_ context.Context, d engine.Decision) error {
	r.decisions.WithLabelValues(d.Instrument, d.Action.String()).Inc()
	if d.Failed() {
		r.errors.WithLabelValues(d.Instrument).Inc()
	}
	for _, w := range d.Warnings {
		r.warnings.WithLabelValues(d.Instrument, warningKind(w)).Inc()
	}
	for _, c := range d.Checks {
		if c.Passed {
			continue
		}
		r.checksFailed.WithLabelValues(c.Group, c.Name).Inc()
		if c.Missing {
			r.missingInputs.WithLabelValues(c.Group, c.Name).Inc()
		}
	}
	r.lastDecision.WithLabelValues(d.Instrument).Set(float64(d.Timestamp.Unix()))
	if d.OverallScore != nil {
		r.overall.WithLabelValues(d.Instrument).Set(*d.OverallScore)
	}
	r.position.WithLabelValues(d.Instrument).Set(sideValue(d.Position))
	return nil
}

// ObserveRun 记录一次回放或轮询的汇总。
func (r *Recorder) ObserveRun(mode string, sum engine.Summary) {
	r.runDuration.WithLabelValues(mode).Observe(sum.Elapsed.Seconds())
	if sum.SinkErrors > 0 {
		r.sinkErrors.Add(float64(sum.SinkErrors))
	}
}

// TrackBreaker 在熔断器状态变化时更新 gauge。
func (r *Recorder) TrackBreaker(b *circuit.Breaker, name string) {
	if b == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(float64(b.State()))
	b.OnStateChange(func(_ string, _, to circuit.State) {
		r.breakerState.WithLabelValues(name).Set(float64(to))
	})
}

// GaugeFunc 注册一个按需求值的 gauge，例如情绪读数的时效。
func (r *Recorder) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(r.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: r.ns,
		Name:      name,
		Help:      help,
	}, fn)
}

// AgeSeconds 把时间点转换为距今秒数；零值返回 -1。
func AgeSeconds(now func() time.Time, ts func() time.Time) func() float64 {
	return func() float64 {
		t := ts()
		if t.IsZero() {
			return -1
		}
		return now().Sub(t).Seconds()
	}
}

func sideValue(s signal.Side) float64 {
	switch s {
	case signal.Long:
		return 1
	case signal.Short:
		return -1
	default:
		return 0
	}
}

// warningKind 把警告文本归入有限的标签值，避免高基数。
func warningKind(w string) string {
	w = strings.ToLower(w)
	switch {
	case strings.Contains(w, "sentiment"):
		return "sentiment"
	case strings.Contains(w, "prediction"), strings.Contains(w, "model"):
		return "prediction"
	case strings.Contains(w, "conflict"), strings.Contains(w, "both triggered"):
		return "conflict"
	case strings.Contains(w, "history"), strings.Contains(w, "feature"):
		return "features"
	default:
		return "other"
	}
}
