package prediction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"confluence/internal/logger"
	"confluence/internal/pkg/symbol"
)

const recordSchema = `{
  "type": "object",
  "required": ["instrument", "ts", "expected_return"],
  "properties": {
    "instrument": {"type": "string", "minLength": 1},
    "ts": {"type": ["string", "integer"]},
    "expected_return": {"type": "number"},
    "confidence": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
    "model_version": {"type": "string"}
  }
}`

var compiledRecordSchema = jsonschema.MustCompileString("prediction_record.json", recordSchema)

// JSONLSource 从 JSON-lines 文件一次性加载预测。
type JSONLSource struct {
	*MemorySource
	path string
}

// NewJSONLSource 读取并校验整个文件；任一行非法则返回带行号的错误。
func NewJSONLSource(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open predictions failed: %w", err)
	}
	defer f.Close()
	mem, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	logger.Infof("[prediction] loaded %d predictions for %d instruments from %s",
		mem.Len(), len(mem.Instruments()), filepath.Base(path))
	return &JSONLSource{MemorySource: mem, path: path}, nil
}

func (s *JSONLSource) Path() string { return s.path }

// ReadJSONL 解析 JSON-lines 流，空行忽略。
func ReadJSONL(r io.Reader) (*MemorySource, error) {
	mem := NewMemorySource()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		p, err := ParseRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := mem.Add(p); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan predictions failed: %w", err)
	}
	return mem, nil
}

// ParseRecord 校验并解析一行预测记录；ts 接受 RFC3339 或毫秒时间戳。
func ParseRecord(raw string) (Prediction, error) {
	if !gjson.Valid(raw) {
		return Prediction{}, fmt.Errorf("invalid json")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Prediction{}, fmt.Errorf("decode record failed: %w", err)
	}
	if err := compiledRecordSchema.Validate(doc); err != nil {
		return Prediction{}, fmt.Errorf("record schema: %w", err)
	}

	fields := gjson.GetMany(raw, "instrument", "ts", "expected_return", "confidence", "model_version")
	ts, err := parseTS(fields[1])
	if err != nil {
		return Prediction{}, err
	}
	p := Prediction{
		Instrument:     symbol.Normalize(fields[0].String()),
		Timestamp:      ts,
		ExpectedReturn: fields[2].Float(),
		ModelVersion:   strings.TrimSpace(fields[4].String()),
	}
	if fields[3].Exists() && fields[3].Type == gjson.Number {
		c := fields[3].Float()
		p.Confidence = &c
	}
	return p, nil
}

func parseTS(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), nil
	case gjson.String:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(v.Str))
		if err != nil {
			return time.Time{}, fmt.Errorf("ts %q: %w", v.Str, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("ts missing")
	}
}
