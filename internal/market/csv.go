package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseCSV 读取 ts,open,high,low,close,volume 格式的蜡烛文件。
// ts 支持毫秒/秒级 unix 时间戳或 RFC3339；首行为表头时自动跳过。
// 结果按时间升序，重复时间戳视为错误。
func ParseCSV(r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var out []Candle
	line := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line+1, err)
		}
		line++
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("csv line %d: expect 6 columns got %d", line, len(rec))
		}
		c, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp.Equal(out[i-1].Timestamp) {
			return nil, fmt.Errorf("csv duplicate timestamp %s", out[i].Timestamp.Format(time.RFC3339))
		}
	}
	return out, nil
}

func isHeader(rec []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[len(rec)-1]), 64)
	return err != nil
}

func parseRecord(rec []string) (Candle, error) {
	ts, err := parseTimestamp(strings.TrimSpace(rec[0]))
	if err != nil {
		return Candle{}, err
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		vals[i] = v
	}
	c := Candle{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	if err := c.Validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// 小于 1e11 视为秒级
		if n < 100_000_000_000 {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return t.UTC(), nil
}
