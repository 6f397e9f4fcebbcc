package feature

import (
	"fmt"

	"confluence/internal/logger"
	"confluence/internal/market"
)

// Normalizer 依次运行启用的生产者，把窗口折叠为单个特征向量。
type Normalizer struct {
	producers []Producer
	schema    Schema
	lookback  int
}

// NewNormalizer 校验生产者之间没有重名特征。
func NewNormalizer(producers ...Producer) (*Normalizer, error) {
	if len(producers) == 0 {
		return nil, fmt.Errorf("no feature producers enabled")
	}
	owner := make(map[string]string)
	names := make([]string, 0, 64)
	lookback := 0
	for _, p := range producers {
		for _, f := range p.Features() {
			if prev, ok := owner[f]; ok {
				return nil, fmt.Errorf("feature %s produced by both %s and %s", f, prev, p.Name())
			}
			owner[f] = p.Name()
			names = append(names, f)
		}
		if p.Lookback() > lookback {
			lookback = p.Lookback()
		}
	}
	return &Normalizer{producers: producers, schema: NewSchema(names), lookback: lookback}, nil
}

// Schema 返回启用生产者的特征清单。
func (n *Normalizer) Schema() Schema { return n.schema }

// Lookback 返回所有生产者所需的最大历史长度。
func (n *Normalizer) Lookback() int { return n.lookback }

// Producers 返回生产者名（保持启用顺序）。
func (n *Normalizer) Producers() []string {
	out := make([]string, 0, len(n.producers))
	for _, p := range n.producers {
		out = append(out, p.Name())
	}
	return out
}

// Compute 只使用 window 内的数据计算 T=window 末尾时刻的特征。
// 历史不足的生产者被跳过，其特征缺失，其余生产者照常运行。
func (n *Normalizer) Compute(instrument string, window []market.Candle) (Vector, error) {
	if len(window) == 0 {
		return Vector{}, fmt.Errorf("%s: empty window: %w", instrument, ErrInsufficientHistory)
	}
	if err := market.CheckOrdered(window); err != nil {
		return Vector{}, fmt.Errorf("%s: %w", instrument, err)
	}
	w := newWindow(instrument, window)
	b := NewBuilder(instrument, w.Last().Timestamp)
	for _, p := range n.producers {
		if w.Len() < p.Lookback() {
			if logger.DebugEnabled() {
				err := fmt.Errorf("%w: have %d need %d", ErrInsufficientHistory, w.Len(), p.Lookback())
				logger.Debugf("[feature] %s %s skipped: %v", instrument, p.Name(), err)
			}
			b.skip(p.Name())
			continue
		}
		p.Produce(w, b)
	}
	return b.Build(), nil
}
