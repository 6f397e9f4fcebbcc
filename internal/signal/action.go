// Package signal 维护每个标的的持仓状态机，是 PositionState 唯一的修改者。
package signal

import (
	"fmt"
	"strings"
)

// Action 为一步决策的输出动作。
type Action int

const (
	Hold Action = iota
	EnterLong
	EnterShort
	ExitLong
	ExitShort
)

var actionNames = [...]string{"HOLD", "ENTER_LONG", "ENTER_SHORT", "EXIT_LONG", "EXIT_SHORT"}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "HOLD"
	}
	return actionNames[a]
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction 大小写不敏感。
func ParseAction(raw string) (Action, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	for i, name := range actionNames {
		if name == norm {
			return Action(i), nil
		}
	}
	return Hold, fmt.Errorf("unknown action: %q", raw)
}

// IsEntry 报告是否为开仓动作。
func (a Action) IsEntry() bool { return a == EnterLong || a == EnterShort }

// IsExit 报告是否为平仓动作。
func (a Action) IsExit() bool { return a == ExitLong || a == ExitShort }

// Side 为持仓方向。
type Side int

const (
	Flat Side = iota
	Long
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	*s = ParseSide(string(b))
	return nil
}

// ParseSide 未知值返回 Flat。
func ParseSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long":
		return Long
	case "short":
		return Short
	default:
		return Flat
	}
}
