package prediction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"confluence/internal/feature"
)

const manifestSchema = `{
  "type": "object",
  "required": ["model_version", "feature_schema"],
  "properties": {
    "model_version": {"type": "string", "minLength": 1},
    "feature_schema": {"type": "array", "minItems": 1, "uniqueItems": true, "items": {"type": "string", "minLength": 1}},
    "fingerprint": {"type": "string", "pattern": "^([0-9a-f]{64})?$"},
    "trained_at": {"type": "string"}
  }
}`

var compiledManifestSchema = jsonschema.MustCompileString("model_manifest.json", manifestSchema)

// Manifest 描述模型训练时使用的特征集合。
type Manifest struct {
	ModelVersion  string    `yaml:"model_version" json:"model_version"`
	FeatureSchema []string  `yaml:"feature_schema" json:"feature_schema"`
	Fingerprint   string    `yaml:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	TrainedAt     time.Time `yaml:"trained_at,omitempty" json:"trained_at,omitempty"`
	Strategy      string    `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Producers     []string  `yaml:"producers,omitempty" json:"producers,omitempty"`
}

// LoadManifest 读取 YAML manifest；未知字段与 schema 不符均报错。
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read model manifest failed: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest 解析 manifest 内容。
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("parse model manifest failed: %w", err)
	}
	m.ModelVersion = strings.TrimSpace(m.ModelVersion)
	m.Fingerprint = strings.ToLower(strings.TrimSpace(m.Fingerprint))
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := compiledManifestSchema.Validate(v); err != nil {
		return fmt.Errorf("model manifest invalid: %w", err)
	}
	return nil
}

// CheckCompatible 要求 manifest 的特征集合与当前 schema 完全一致。
func CheckCompatible(m Manifest, schema feature.Schema) error {
	if m.Fingerprint != "" && m.Fingerprint != feature.Fingerprint(m.FeatureSchema) {
		return fmt.Errorf("model %s: fingerprint does not match its feature list: %w", m.ModelVersion, ErrSchemaMismatch)
	}
	if feature.Fingerprint(m.FeatureSchema) == schema.Fingerprint() {
		return nil
	}
	missing, extra := schema.Diff(m.FeatureSchema)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "not in model: "+strings.Join(missing, ","))
	}
	if len(extra) > 0 {
		parts = append(parts, "not produced: "+strings.Join(extra, ","))
	}
	if len(parts) == 0 {
		// 名称集合相同但列表不同（例如重复项）
		parts = append(parts, fmt.Sprintf("fingerprint model=%s schema=%s",
			feature.Fingerprint(m.FeatureSchema), schema.Fingerprint()))
	}
	return fmt.Errorf("model %s (%s): %w", m.ModelVersion, strings.Join(parts, "; "), ErrSchemaMismatch)
}
