package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schema 是启用生产者输出的有序特征名列表。
type Schema struct {
	names []string
}

func NewSchema(names []string) Schema {
	return Schema{names: append([]string(nil), names...)}
}

// Names 返回特征名（生产者启用顺序）。
func (s Schema) Names() []string { return append([]string(nil), s.names...) }

func (s Schema) Len() int { return len(s.names) }

// Contains 判断特征是否在 schema 中。
func (s Schema) Contains(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// Fingerprint 对排序后的特征名做 sha256，与启用顺序无关。
func Fingerprint(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Fingerprint 返回当前 schema 的稳定哈希。
func (s Schema) Fingerprint() string { return Fingerprint(s.names) }

// Diff 返回 other 相对 s 缺少与多出的特征。
func (s Schema) Diff(other []string) (missing, extra []string) {
	have := make(map[string]struct{}, len(other))
	for _, n := range other {
		have[n] = struct{}{}
	}
	want := make(map[string]struct{}, len(s.names))
	for _, n := range s.names {
		want[n] = struct{}{}
		if _, ok := have[n]; !ok {
			missing = append(missing, n)
		}
	}
	for _, n := range other {
		if _, ok := want[n]; !ok {
			extra = append(extra, n)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

// Document 是导出给模型训练方的 schema 描述。
type Document struct {
	Strategy      string   `yaml:"strategy,omitempty"`
	Producers     []string `yaml:"producers"`
	FeatureSchema []string `yaml:"feature_schema"`
	Fingerprint   string   `yaml:"fingerprint"`
	GeneratedAt   string   `yaml:"generated_at"`
}

// Export 以 YAML 导出 schema。
func (s Schema) Export(strategy string, producers []string, now time.Time) ([]byte, error) {
	doc := Document{
		Strategy:      strategy,
		Producers:     producers,
		FeatureSchema: s.Names(),
		Fingerprint:   s.Fingerprint(),
		GeneratedAt:   now.UTC().Format(time.RFC3339),
	}
	return yaml.Marshal(doc)
}
