// Package publish 把决策以 JSON 消息发布到 Kafka，供执行方消费。
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"confluence/internal/config"
	"confluence/internal/engine"
	"confluence/internal/logger"
	"confluence/internal/pkg/symbol"
)

// messageWriter 是 kafka.Writer 中用到的部分。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 以标的为消息 key 写入决策，同一标的的决策落在同一分区并保持顺序。
type Publisher struct {
	writer messageWriter
	topic  string
	holds  bool
	clock  func() time.Time
}

var _ engine.Sink = (*Publisher)(nil)

// Option 调整 Publisher。
type Option func(*Publisher)

// WithHolds 让 HOLD 决策也被发布；默认只发布进出场。
func WithHolds(on bool) Option {
	return func(p *Publisher) { p.holds = on }
}

// New 按配置创建 Publisher。
func New(cfg config.PublishConfig, opts ...Option) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("publish: brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("publish: topic is required")
	}
	batch := time.Duration(cfg.BatchTimeoutMillis) * time.Millisecond
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	writeTimeout := time.Duration(cfg.WriteTimeoutSeconds) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  3,
		WriteTimeout: writeTimeout,
		BatchTimeout: batch,
	}
	logger.Infof("[publish] kafka writer ready: brokers=%v topic=%s compression=%s", brokers, topic, compressionName(cfg.Compression))
	return newWithWriter(w, topic, opts...), nil
}

func newWithWriter(w messageWriter, topic string, opts ...Option) *Publisher {
	p := &Publisher{writer: w, topic: topic, clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle 实现 engine.Sink。
func (p *Publisher) Handle(ctx context.Context, d engine.Decision) error {
	if !p.holds && !d.Action.IsEntry() && !d.Action.IsExit() {
		return nil
	}
	msg, err := p.message(d)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s@%s: %w", d.Instrument, d.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

func (p *Publisher) message(d engine.Decision) (kafka.Message, error) {
	value, err := json.Marshal(d)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}
	return kafka.Message{
		Key:   []byte(d.Instrument),
		Value: value,
		Time:  p.clock(),
		Headers: []kafka.Header{
			{Key: "decision_id", Value: []byte(d.ID)},
			{Key: "action", Value: []byte(d.Action.String())},
			{Key: "strategy", Value: []byte(d.Strategy)},
			{Key: "pair", Value: []byte(symbol.Pair(d.Instrument, symbol.DefaultSettle))},
		},
	}, nil
}

// Close 刷新缓冲并关闭连接。
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Gzip
	}
}

func compressionName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "gzip"
	}
	return s
}
