package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"confluence/internal/gate"
	"confluence/internal/signal"
)

// LiveRunID 标记实盘循环产生的决策，只有这些决策会更新持久化的持仓。
const LiveRunID = "live"

// decisionNamespace 使同一 (strategy, instrument, timeframe, T) 的决策 ID 在重放间保持一致。
var decisionNamespace = uuid.MustParse("8f7c1d2e-55a0-4d8b-9a43-0c6f2b1e7d90")

// Decision 是一个 (instrument, T) 上的完整决策记录。
type Decision struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id,omitempty"`
	Strategy   string        `json:"strategy"`
	Instrument string        `json:"instrument"`
	Timeframe  string        `json:"timeframe"`
	Timestamp  time.Time     `json:"timestamp"`
	Action     signal.Action `json:"action"`
	Position   signal.Side   `json:"position"`
	Price      float64       `json:"price"`

	StoplossPct float64 `json:"stoploss_pct,omitempty"`
	StakeAmount float64 `json:"stake_amount,omitempty"`
	Leverage    float64 `json:"leverage,omitempty"`
	Tier        string  `json:"tier,omitempty"`

	OverallScore       *float64 `json:"overall_score,omitempty"`
	VSAScore           *float64 `json:"vsa_score,omitempty"`
	StructureDirection *int     `json:"structure_direction,omitempty"`
	Regime             string   `json:"regime,omitempty"`
	Prediction         *float64 `json:"prediction,omitempty"`
	ModelVersion       string   `json:"model_version,omitempty"`
	FearGreed          *int     `json:"fear_greed,omitempty"`

	Checks     []gate.Check `json:"checks,omitempty"`
	Suppressed []string     `json:"suppressed,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// DecisionID 返回确定性的决策 ID。
func DecisionID(strategy, instrument, timeframe string, ts time.Time) string {
	key := strings.Join([]string{strategy, instrument, timeframe, strconv.FormatInt(ts.UTC().UnixMilli(), 10)}, "|")
	return uuid.NewSHA1(decisionNamespace, []byte(key)).String()
}

// Failed 报告该步是否以错误结束。
func (d Decision) Failed() bool { return d.Error != "" }

// Sink 接收决策，例如持久化、发布或指标。
type Sink interface {
	Handle(ctx context.Context, d Decision) error
}

// SinkFunc 适配普通函数。
type SinkFunc func(ctx context.Context, d Decision) error

func (f SinkFunc) Handle(ctx context.Context, d Decision) error { return f(ctx, d) }

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
