package feature

import (
	"errors"
	"math"
	"sort"
	"time"
)

// ErrInsufficientHistory 表示窗口长度不足以计算某个生产者的特征。
var ErrInsufficientHistory = errors.New("insufficient history")

// Vector 是 (instrument, ts) 上的只读特征快照，缺失特征不会填默认值。
type Vector struct {
	instrument string
	ts         time.Time
	values     map[string]float64
	skipped    []string
}

// NewVector 从现成的 map 构造向量（会复制一份，非有限值被丢弃）。
func NewVector(instrument string, ts time.Time, values map[string]float64) Vector {
	b := NewBuilder(instrument, ts)
	for k, v := range values {
		b.Set(k, v)
	}
	return b.Build()
}

// Get 返回特征值；ok=false 表示缺失。
func (v Vector) Get(name string) (float64, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Has 判断所有给定特征都存在。
func (v Vector) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := v.values[n]; !ok {
			return false
		}
	}
	return true
}

func (v Vector) Instrument() string   { return v.instrument }
func (v Vector) Timestamp() time.Time { return v.ts }
func (v Vector) Len() int             { return len(v.values) }

// Skipped 返回因历史不足而跳过的生产者名。
func (v Vector) Skipped() []string {
	return append([]string(nil), v.skipped...)
}

// Names 返回排序后的特征名。
func (v Vector) Names() []string {
	out := make([]string, 0, len(v.values))
	for k := range v.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Values 返回特征副本。
func (v Vector) Values() map[string]float64 {
	out := make(map[string]float64, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Builder 收集生产者输出，Build 之后得到不可变的 Vector。
type Builder struct {
	instrument string
	ts         time.Time
	values     map[string]float64
	skipped    []string
}

func NewBuilder(instrument string, ts time.Time) *Builder {
	return &Builder{instrument: instrument, ts: ts, values: make(map[string]float64)}
}

// Set 写入一个特征；NaN/Inf 视为无法计算，直接忽略。
func (b *Builder) Set(name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	b.values[name] = v
}

func (b *Builder) skip(producer string) {
	b.skipped = append(b.skipped, producer)
}

// Build 生成快照；之后对 Builder 的修改不会影响已生成的 Vector。
func (b *Builder) Build() Vector {
	values := make(map[string]float64, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return Vector{
		instrument: b.instrument,
		ts:         b.ts,
		values:     values,
		skipped:    append([]string(nil), b.skipped...),
	}
}
