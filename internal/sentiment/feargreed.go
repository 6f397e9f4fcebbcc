// Package sentiment 维护恐惧贪婪指数的历史，并按时间点给出带过期标记的读数。
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"confluence/internal/config"
	"confluence/internal/logger"
	"confluence/internal/pkg/circuit"
)

var (
	// ErrStale 表示最近一个读数已超过允许的时效。
	ErrStale = errors.New("sentiment reading is stale")
	// ErrUnavailable 表示在该时间点之前没有任何读数。
	ErrUnavailable = errors.New("sentiment unavailable")
)

const (
	errorBackoff   = 2 * time.Minute
	fallbackUpdate = 12 * time.Hour
)

// Point 是一条指数记录。
type Point struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

// Reading 是某时间点可见的最近读数。
type Reading struct {
	Point
	Age   time.Duration `json:"age"`
	Stale bool          `json:"stale"`
}

// Cache 持久化指数历史，跨进程重启共享。
type Cache interface {
	Load(ctx context.Context) ([]Point, error)
	Store(ctx context.Context, points []Point) error
}

// Service 拉取并缓存恐惧贪婪指数。
type Service struct {
	endpoint     string
	limit        int
	maxStaleness time.Duration
	refreshEvery time.Duration
	client       *http.Client
	breaker      *circuit.Breaker
	cache        Cache

	mu         sync.RWMutex
	history    []Point
	lastUpdate time.Time
	lastError  string
	nextUpdate time.Time
	refreshMu  sync.Mutex
}

// NewService 构造服务；cache 可为 nil。
func NewService(cfg config.SentimentConfig, cache Cache) *Service {
	return &Service{
		endpoint:     strings.TrimSpace(cfg.Endpoint),
		limit:        cfg.HistoryLimit,
		maxStaleness: time.Duration(cfg.MaxStalenessHours) * time.Hour,
		refreshEvery: time.Duration(cfg.RefreshIntervalMinutes) * time.Minute,
		client:       &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		breaker: circuit.New("fear_greed", cfg.BreakerThreshold,
			time.Duration(cfg.BreakerTimeoutSeconds)*time.Second),
		cache: cache,
	}
}

// Breaker 暴露熔断器，便于上报状态。
func (s *Service) Breaker() *circuit.Breaker { return s.breaker }

// MaxStaleness 返回读数允许的最大时效。
func (s *Service) MaxStaleness() time.Duration { return s.maxStaleness }

// Warm 从缓存恢复历史。
func (s *Service) Warm(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	points, err := s.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sentiment cache failed: %w", err)
	}
	s.merge(points)
	logger.Infof("[sentiment] restored %d fear & greed points from cache", len(points))
	return nil
}

// Close 关闭缓存连接。
func (s *Service) Close() error {
	if cl, ok := s.cache.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Seed 直接写入历史点，用于回放与测试。
func (s *Service) Seed(points []Point) { s.merge(points) }

// RefreshIfStale 仅在到达下次更新时间后拉取。
func (s *Service) RefreshIfStale(ctx context.Context) {
	now := time.Now()
	if !s.due(now) {
		return
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if !s.due(now) {
		return
	}
	if err := s.Refresh(ctx); err != nil {
		logger.Warnf("[sentiment] fear & greed refresh failed: %v", err)
	}
}

func (s *Service) due(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate.IsZero() || s.nextUpdate.IsZero() || !now.Before(s.nextUpdate)
}

// Refresh 拉取一次指数，经过熔断器保护。
func (s *Service) Refresh(ctx context.Context) error {
	var (
		points []Point
		until  time.Duration
	)
	err := s.breaker.Do(func() error {
		body, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		points, until, err = ParseResponse(body)
		return err
	})
	now := time.Now()
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.nextUpdate = now.Add(errorBackoff)
		s.mu.Unlock()
		return err
	}
	s.merge(points)

	next := now.Add(fallbackUpdate)
	if until > 0 {
		next = now.Add(until)
	}
	if s.refreshEvery > 0 && now.Add(s.refreshEvery).Before(next) {
		next = now.Add(s.refreshEvery)
	}
	s.mu.Lock()
	s.lastUpdate = now
	s.lastError = ""
	s.nextUpdate = next
	history := append([]Point(nil), s.history...)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Store(ctx, history); err != nil {
			logger.Warnf("[sentiment] cache store failed: %v", err)
		}
	}
	return nil
}

func (s *Service) fetch(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	url := s.endpoint
	if s.limit > 0 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "limit=" + strconv.Itoa(s.limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// ParseResponse 解析 alternative.me 的返回，返回按时间升序的点与下次更新间隔。
func ParseResponse(body []byte) ([]Point, time.Duration, error) {
	if !gjson.ValidBytes(body) {
		return nil, 0, fmt.Errorf("fear & greed response is not json")
	}
	root := gjson.ParseBytes(body)
	if e := root.Get("metadata.error"); e.Exists() && e.Type != gjson.Null {
		return nil, 0, fmt.Errorf("api error: %s", e.String())
	}
	data := root.Get("data")
	if !data.IsArray() || len(data.Array()) == 0 {
		return nil, 0, fmt.Errorf("api data empty")
	}
	var points []Point
	data.ForEach(func(_, item gjson.Result) bool {
		value, err := strconv.Atoi(strings.TrimSpace(item.Get("value").String()))
		if err != nil || value < 0 || value > 100 {
			return true
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(item.Get("timestamp").String()), 10, 64)
		if err != nil || sec <= 0 {
			return true
		}
		points = append(points, Point{
			Value:          value,
			Classification: strings.TrimSpace(item.Get("value_classification").String()),
			Timestamp:      time.Unix(sec, 0).UTC(),
		})
		return true
	})
	if len(points) == 0 {
		return nil, 0, fmt.Errorf("api data invalid")
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	var until time.Duration
	if secs := data.Array()[0].Get("time_until_update").Int(); secs > 0 {
		until = time.Duration(secs) * time.Second
	}
	return points, until, nil
}

func (s *Service) merge(points []Point) {
	if len(points) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byTS := make(map[int64]Point, len(s.history)+len(points))
	for _, p := range s.history {
		byTS[p.Timestamp.Unix()] = p
	}
	for _, p := range points {
		p.Timestamp = p.Timestamp.UTC()
		byTS[p.Timestamp.Unix()] = p
	}
	merged := make([]Point, 0, len(byTS))
	for _, p := range byTS {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	s.history = merged
}

// At 返回 ts 时刻可见的最近读数；过期时同时返回读数与 ErrStale。
func (s *Service) At(ts time.Time) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := sort.Search(len(s.history), func(i int) bool { return s.history[i].Timestamp.After(ts) })
	if idx == 0 {
		return Reading{}, ErrUnavailable
	}
	p := s.history[idx-1]
	r := Reading{Point: p, Age: ts.Sub(p.Timestamp)}
	if s.maxStaleness > 0 && r.Age > s.maxStaleness {
		r.Stale = true
		return r, fmt.Errorf("age %s exceeds %s: %w", r.Age, s.maxStaleness, ErrStale)
	}
	return r, nil
}

// Status 汇总服务状态。
type Status struct {
	Points     int       `json:"points"`
	LastUpdate time.Time `json:"last_update"`
	NextUpdate time.Time `json:"next_update"`
	LastError  string    `json:"last_error,omitempty"`
	Breaker    string    `json:"breaker"`
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Points:     len(s.history),
		LastUpdate: s.lastUpdate,
		NextUpdate: s.nextUpdate,
		LastError:  s.lastError,
		Breaker:    s.breaker.State().String(),
	}
}
