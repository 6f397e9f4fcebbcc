// Package prediction 读取外部模型给出的收益预测，并校验模型与当前特征 schema 的兼容性。
package prediction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"confluence/internal/pkg/symbol"
)

var (
	// ErrSchemaMismatch 表示模型训练时的特征集合与当前启用的不一致。
	ErrSchemaMismatch = errors.New("model feature schema mismatch")
	// ErrModelVersion 表示预测来自未被接受的模型版本。
	ErrModelVersion = errors.New("prediction model version not accepted")
)

// Prediction 是外部模型在 (instrument, T) 上的一条输出。
type Prediction struct {
	Instrument     string    `json:"instrument"`
	Timestamp      time.Time `json:"ts"`
	ExpectedReturn float64   `json:"expected_return"`
	Confidence     *float64  `json:"confidence,omitempty"`
	ModelVersion   string    `json:"model_version,omitempty"`
}

// Source 按时间点查询预测；不存在时 ok=false。
type Source interface {
	Prediction(ctx context.Context, instrument string, ts time.Time) (Prediction, bool, error)
}

type key struct {
	instrument string
	ts         int64
}

func keyOf(instrument string, ts time.Time) key {
	return key{instrument: symbol.Normalize(instrument), ts: ts.UTC().UnixMilli()}
}

// MemorySource 是内存中的预测表，测试与回放共用。
type MemorySource struct {
	mu    sync.RWMutex
	items map[key]Prediction
}

func NewMemorySource() *MemorySource {
	return &MemorySource{items: make(map[key]Prediction)}
}

// Add 写入一条预测；同一 (instrument, ts) 重复写入返回错误。
func (m *MemorySource) Add(p Prediction) error {
	if strings.TrimSpace(p.Instrument) == "" {
		return fmt.Errorf("prediction instrument is empty")
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("prediction %s has zero timestamp", p.Instrument)
	}
	p.Instrument = symbol.Normalize(p.Instrument)
	p.Timestamp = p.Timestamp.UTC()
	k := keyOf(p.Instrument, p.Timestamp)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[k]; ok {
		return fmt.Errorf("duplicate prediction for %s at %s", p.Instrument, p.Timestamp.Format(time.RFC3339))
	}
	m.items[k] = p
	return nil
}

func (m *MemorySource) Prediction(_ context.Context, instrument string, ts time.Time) (Prediction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[keyOf(instrument, ts)]
	return p, ok, nil
}

func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Instruments 返回出现过的标的（排序）。
func (m *MemorySource) Instruments() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range m.items {
		seen[k.instrument] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Acceptor 判断某条预测的模型版本是否可用。
type Acceptor interface {
	Accept(p Prediction) error
}

// Guarded 在 Source 之上过滤模型版本；被拒绝的预测视为缺失并返回包装后的 ErrModelVersion。
type Guarded struct {
	Source   Source
	Acceptor Acceptor
}

func (g Guarded) Prediction(ctx context.Context, instrument string, ts time.Time) (Prediction, bool, error) {
	p, ok, err := g.Source.Prediction(ctx, instrument, ts)
	if err != nil || !ok || g.Acceptor == nil {
		return p, ok, err
	}
	if err := g.Acceptor.Accept(p); err != nil {
		return Prediction{}, false, err
	}
	return p, true, nil
}
