package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"confluence/internal/logger"

	"github.com/spf13/viper"
)

// 功能开关名称。
const (
	FlagATRStoploss      = "atr_stoploss"
	FlagFixedStoploss    = "fixed_stoploss"
	FlagRegimeFilter     = "regime_filter"
	FlagConfluenceFilter = "confluence_filter"
	FlagTrendFilter      = "trend_filter"
	FlagStructureFilter  = "structure_filter"
	FlagSupportGuard     = "support_guard"
	FlagSentimentExit    = "sentiment_exit"
	FlagExitOnPressure   = "exit_on_pressure"
	FlagExitOnFade       = "exit_on_fade"
	FlagExitSMC          = "exit_smc"
)

// Flag 描述单个策略功能开关。
type Flag struct {
	Name          string
	Description   string
	Category      string
	AddedIn       string
	Default       bool
	ConflictsWith []string
}

var catalog = map[string]Flag{
	FlagATRStoploss: {
		Name:          FlagATRStoploss,
		Description:   "stoploss derived from ATR volatility",
		Category:      "risk_management",
		AddedIn:       "v1.0",
		Default:       true,
		ConflictsWith: []string{FlagFixedStoploss},
	},
	FlagFixedStoploss: {
		Name:          FlagFixedStoploss,
		Description:   "fixed stoploss percentage",
		Category:      "risk_management",
		AddedIn:       "v1.1",
		ConflictsWith: []string{FlagATRStoploss},
	},
	FlagRegimeFilter: {
		Name:        FlagRegimeFilter,
		Description: "no entries in volatile or chaotic regimes",
		Category:    "entry_filter",
		AddedIn:     "v1.0",
		Default:     true,
	},
	FlagConfluenceFilter: {
		Name:        FlagConfluenceFilter,
		Description: "overall score must clear the bias thresholds",
		Category:    "entry_filter",
		AddedIn:     "v1.0",
		Default:     true,
	},
	FlagTrendFilter: {
		Name:        FlagTrendFilter,
		Description: "short only below the long EMA",
		Category:    "entry_filter",
		AddedIn:     "v1.0",
		Default:     true,
	},
	FlagStructureFilter: {
		Name:        FlagStructureFilter,
		Description: "entries require a confirmed structure break in the trade direction",
		Category:    "entry_filter",
		AddedIn:     "v2.0",
		Default:     true,
	},
	FlagSupportGuard: {
		Name:        FlagSupportGuard,
		Description: "no shorts into a fibonacci support level",
		Category:    "entry_filter",
		AddedIn:     "v2.0",
		Default:     true,
	},
	FlagSentimentExit: {
		Name:        FlagSentimentExit,
		Description: "exit on extreme fear when sentiment is fresh",
		Category:    "exit_rule",
		AddedIn:     "v1.0",
		Default:     true,
	},
	FlagExitOnPressure: {
		Name:        FlagExitOnPressure,
		Description: "exit when money pressure flips against the position",
		Category:    "exit_rule",
		AddedIn:     "v2.0",
	},
	FlagExitOnFade: {
		Name:        FlagExitOnFade,
		Description: "exit when trend or momentum sub-scores fade against the position",
		Category:    "exit_rule",
		AddedIn:     "v2.2",
	},
	FlagExitSMC: {
		Name:        FlagExitSMC,
		Description: "exit on an opposing fair value gap or order block",
		Category:    "exit_rule",
		AddedIn:     "v2.2",
	},
}

// Catalog 返回全部已知开关（按名称排序）。
func Catalog() []Flag {
	out := make([]Flag, 0, len(catalog))
	for _, f := range catalog {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Preset 是一组带版本号的开关组合。
type Preset struct {
	Name        string   `mapstructure:"-"`
	Description string   `mapstructure:"description"`
	ReleaseDate string   `mapstructure:"release_date"`
	Flags       []string `mapstructure:"flags"`
}

// FileConfig 是 presets 文件的结构。
type FileConfig struct {
	Presets map[string]Preset `mapstructure:"presets"`
}

// BuiltinPresets 返回内置版本组合。
func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		"v1.0_baseline": {
			Name:        "v1.0_baseline",
			Description: "ATR stoploss with regime, confluence and trend filters",
			ReleaseDate: "2025-12-05",
			Flags:       []string{FlagATRStoploss, FlagRegimeFilter, FlagConfluenceFilter, FlagTrendFilter},
		},
		"v1.1_experimental": {
			Name:        "v1.1_experimental",
			Description: "fixed stoploss experiment",
			ReleaseDate: "2025-12-06",
			Flags:       []string{FlagFixedStoploss, FlagRegimeFilter, FlagConfluenceFilter, FlagTrendFilter},
		},
		"v2.0_confluence": {
			Name:        "v2.0_confluence",
			Description: "full confluence chain with structure and support guards",
			ReleaseDate: "2026-01-10",
			Flags: []string{
				FlagATRStoploss, FlagRegimeFilter, FlagConfluenceFilter, FlagTrendFilter,
				FlagStructureFilter, FlagSupportGuard, FlagSentimentExit,
			},
		},
	}
}

// LoadPresets 合并内置组合与可选的 presets 文件；同名时文件覆盖内置。
func LoadPresets(path string) (map[string]Preset, error) {
	presets := BuiltinPresets()
	path = strings.TrimSpace(path)
	if path == "" {
		return presets, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read presets file failed: %w", err)
	}
	var fileCfg FileConfig
	if err := v.Unmarshal(&fileCfg); err != nil {
		return nil, fmt.Errorf("parse presets file failed: %w", err)
	}
	for name, p := range fileCfg.Presets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p.Name = name
		p.Flags = normalizeFlagNames(p.Flags)
		presets[name] = p
	}
	logger.Infof("Preset loader loaded %d presets from %s", len(fileCfg.Presets), filepath.Base(path))
	return presets, nil
}

// FlagSet 是解析后的只读开关集合。
type FlagSet struct {
	version string
	enabled map[string]bool
}

// Resolve 按 catalog 默认值 → preset → 显式覆盖 的顺序求出开关集合，冲突或未知开关直接报错。
func Resolve(presets map[string]Preset, preset string, overrides map[string]bool) (FlagSet, error) {
	enabled := make(map[string]bool, len(catalog))
	for name, f := range catalog {
		enabled[name] = f.Default
	}
	version := "custom"
	if preset = strings.TrimSpace(preset); preset != "" {
		p, ok := presets[preset]
		if !ok {
			return FlagSet{}, fmt.Errorf("unknown feature preset: %s", preset)
		}
		for name := range enabled {
			enabled[name] = false
		}
		for _, name := range p.Flags {
			if _, ok := catalog[name]; !ok {
				return FlagSet{}, fmt.Errorf("preset %s references unknown flag: %s", preset, name)
			}
			enabled[name] = true
		}
		version = preset
	}
	for raw, on := range overrides {
		name := strings.ToLower(strings.TrimSpace(raw))
		if _, ok := catalog[name]; !ok {
			return FlagSet{}, fmt.Errorf("unknown feature flag: %s", raw)
		}
		enabled[name] = on
	}
	for name, on := range enabled {
		if !on {
			continue
		}
		for _, other := range catalog[name].ConflictsWith {
			if enabled[other] {
				return FlagSet{}, fmt.Errorf("feature flag conflict: %s and %s cannot both be enabled", name, other)
			}
		}
	}
	return FlagSet{version: version, enabled: enabled}, nil
}

// Enabled 报告开关是否开启；未知开关视为关闭。
func (f FlagSet) Enabled(name string) bool {
	return f.enabled[name]
}

// Version 返回 preset 名或 custom。
func (f FlagSet) Version() string {
	return f.version
}

// List 返回已开启的开关（排序）。
func (f FlagSet) List() []string {
	out := make([]string, 0, len(f.enabled))
	for name, on := range f.enabled {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeFlagNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, len(in))
	for _, name := range in {
		norm := strings.ToLower(strings.TrimSpace(name))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
