package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"confluence/internal/config/loader"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "CONFLUENCE_CONFIG"

// DefaultPath 返回环境变量或默认路径。
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// Load 读取配置（含 include 链），补齐默认值并校验，同时解析功能开关。
func Load(path string) (*Config, error) {
	layers, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, layer := range layers {
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("merging config failed: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := cfg.applyDefaults(explicitKeys(v.AllSettings())); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	presets, err := loader.LoadPresets(resolveRelative(path, cfg.Features.PresetsPath))
	if err != nil {
		return nil, err
	}
	flags, err := loader.Resolve(presets, cfg.Features.Preset, cfg.Features.Flags)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	cfg.Flags = flags
	return &cfg, nil
}

func resolveRelative(cfgPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	if _, err := os.Stat(target); err == nil {
		return target
	}
	return filepath.Join(filepath.Dir(cfgPath), target)
}

// includeChain 解析 include 链：被引用的文件排在引用者之前，后合并的覆盖先合并的。
func includeChain(path string) ([]map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{state: make(map[string]int)}
	if err := r.visit(root); err != nil {
		return nil, err
	}
	return r.layers, nil
}

const (
	visiting = iota + 1
	visited
)

type includeResolver struct {
	state  map[string]int
	layers []map[string]any
}

func (r *includeResolver) visit(path string) error {
	path = filepath.Clean(path)
	switch r.state[path] {
	case visiting:
		return fmt.Errorf("include cycle detected: %s", path)
	case visited:
		return nil
	}
	r.state[path] = visiting

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}
	r.state[path] = visited
	r.layers = append(r.layers, v.AllSettings())
	return nil
}

func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// explicitKeys 记录配置里出现过的叶子路径，用来区分显式的零值与未填写。
func explicitKeys(settings map[string]any) keySet {
	keys := make(keySet)
	var walk func(prefix string, node any)
	walk = func(prefix string, node any) {
		m, ok := node.(map[string]any)
		if !ok {
			keys.mark(prefix)
			return
		}
		for k, child := range m {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if prefix != "" {
				k = prefix + "." + k
			}
			walk(k, child)
		}
	}
	walk("", settings)
	return keys
}
