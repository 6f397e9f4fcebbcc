package signal

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"confluence/internal/pkg/symbol"
	"confluence/internal/risk"
)

// ErrDuplicateStep 表示时间戳未严格递增。
var ErrDuplicateStep = errors.New("step timestamp not after last step")

// PositionState 是单个标的当前的持仓。
type PositionState struct {
	Side       Side            `json:"side"`
	EntryPrice float64         `json:"entry_price,omitempty"`
	EntryTime  time.Time       `json:"entry_time,omitempty"`
	Risk       risk.Parameters `json:"risk"`
	LastStep   time.Time       `json:"last_step"`
}

// Proposal 是 gate 判定加上入场所需的价格与风控参数。
type Proposal struct {
	EnterLong  bool
	EnterShort bool
	ExitLong   bool
	ExitShort  bool
	Price      float64
	Risk       risk.Parameters
}

// Transition 描述一次状态迁移；Suppressed 记录被压制的动作及原因。
type Transition struct {
	Timestamp  time.Time `json:"timestamp"`
	From       Side      `json:"from"`
	To         Side      `json:"to"`
	Action     Action    `json:"action"`
	Suppressed []string  `json:"suppressed,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Changed 报告持仓方向是否变化。
func (t Transition) Changed() bool { return t.From != t.To }

// Machine 为单个标的的状态机。Step 由该标的的引擎顺序调用，State 可并发读取。
type Machine struct {
	instrument string

	mu    sync.RWMutex
	state PositionState
}

func NewMachine(instrument string) *Machine {
	return &Machine{instrument: symbol.Normalize(instrument)}
}

func (m *Machine) Instrument() string { return m.instrument }

// State 返回状态快照。
func (m *Machine) State() PositionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Step 推进一个时间步：平仓优先于开仓，持仓时压制开仓，空仓时忽略平仓。
func (m *Machine) Step(ts time.Time, p Proposal) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.LastStep.IsZero() && !ts.After(m.state.LastStep) {
		return Transition{}, fmt.Errorf("%s at %s (last %s): %w",
			m.instrument, ts.UTC().Format(time.RFC3339), m.state.LastStep.UTC().Format(time.RFC3339), ErrDuplicateStep)
	}
	m.state.LastStep = ts
	tr := Transition{Timestamp: ts, From: m.state.Side, To: m.state.Side, Action: Hold}

	switch m.state.Side {
	case Flat:
		if p.ExitLong {
			tr.Suppressed = append(tr.Suppressed, "EXIT_LONG:flat")
		}
		if p.ExitShort {
			tr.Suppressed = append(tr.Suppressed, "EXIT_SHORT:flat")
		}
		switch {
		case p.EnterLong && p.EnterShort:
			tr.Suppressed = append(tr.Suppressed, "ENTER_LONG:conflict", "ENTER_SHORT:conflict")
		case p.EnterLong:
			m.open(Long, ts, p)
			tr.Action = EnterLong
		case p.EnterShort:
			m.open(Short, ts, p)
			tr.Action = EnterShort
		}
	case Long:
		if p.ExitShort {
			tr.Suppressed = append(tr.Suppressed, "EXIT_SHORT:long")
		}
		if p.ExitLong {
			m.close()
			tr.Action = ExitLong
			break
		}
		tr.Suppressed = appendEntries(tr.Suppressed, p, "long")
	case Short:
		if p.ExitLong {
			tr.Suppressed = append(tr.Suppressed, "EXIT_LONG:short")
		}
		if p.ExitShort {
			m.close()
			tr.Action = ExitShort
			break
		}
		tr.Suppressed = appendEntries(tr.Suppressed, p, "short")
	}
	tr.To = m.state.Side
	return tr, nil
}

// ForceFlat 由止损/止盈等外部事件触发平仓；已空仓时返回 false。
// ts 之后的 Step 才会被接受。
func (m *Machine) ForceFlat(ts time.Time, reason string) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Side == Flat {
		return Transition{}, false
	}
	tr := Transition{Timestamp: ts, From: m.state.Side, To: Flat, Reason: reason}
	if m.state.Side == Long {
		tr.Action = ExitLong
	} else {
		tr.Action = ExitShort
	}
	m.close()
	if ts.After(m.state.LastStep) {
		m.state.LastStep = ts
	}
	return tr, true
}

// Restore 用持久化的状态初始化状态机，仅在首次 Step 前调用。
func (m *Machine) Restore(state PositionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Machine) open(side Side, ts time.Time, p Proposal) {
	m.state.Side = side
	m.state.EntryPrice = p.Price
	m.state.EntryTime = ts
	m.state.Risk = p.Risk
}

func (m *Machine) close() {
	last := m.state.LastStep
	m.state = PositionState{LastStep: last}
}

func appendEntries(dst []string, p Proposal, side string) []string {
	if p.EnterLong {
		dst = append(dst, "ENTER_LONG:"+side)
	}
	if p.EnterShort {
		dst = append(dst, "ENTER_SHORT:"+side)
	}
	return dst
}

// Book 按标的持有状态机。
type Book struct {
	mu       sync.Mutex
	machines map[string]*Machine
}

func NewBook() *Book {
	return &Book{machines: make(map[string]*Machine)}
}

// Machine 返回标的的状态机，不存在时创建。
func (b *Book) Machine(instrument string) *Machine {
	key := symbol.Normalize(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.machines[key]
	if !ok {
		m = NewMachine(key)
		b.machines[key] = m
	}
	return m
}

// Snapshot 返回全部标的的状态副本。
func (b *Book) Snapshot() map[string]PositionState {
	b.mu.Lock()
	machines := make([]*Machine, 0, len(b.machines))
	for _, m := range b.machines {
		machines = append(machines, m)
	}
	b.mu.Unlock()
	out := make(map[string]PositionState, len(machines))
	for _, m := range machines {
		out[m.Instrument()] = m.State()
	}
	return out
}

// Instruments 返回已知标的（排序）。
func (b *Book) Instruments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.machines))
	for k := range b.machines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
