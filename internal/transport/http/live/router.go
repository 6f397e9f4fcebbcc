// Package livehttp 暴露决策记录与运行状态的只读查询接口。
package livehttp

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"confluence/internal/engine"
	"confluence/internal/logger"
	"confluence/internal/pkg/symbol"
	"confluence/internal/signal"
	"confluence/internal/store"
)

// DecisionReader 由 store.DecisionStore 实现。
type DecisionReader interface {
	ListDecisions(ctx context.Context, q store.Query) ([]engine.Decision, error)
	Decision(ctx context.Context, id string) (engine.Decision, error)
}

// PositionSource 返回当前持仓快照，例如 signal.Book。
type PositionSource interface {
	Snapshot() map[string]signal.PositionState
}

// HealthFunc 汇报外部输入（情绪、模型 manifest 等）的状态。
type HealthFunc func() map[string]any

// Router 挂载 /api 下的查询接口。
type Router struct {
	decisions DecisionReader
	positions PositionSource
	health    HealthFunc
	logPaths  map[string]string
	logNames  []string
}

// NewRouter 构造 router。
func NewRouter(cfg ServerConfig) *Router {
	names := make([]string, 0, len(cfg.LogPaths))
	for name, path := range cfg.LogPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{
		decisions: cfg.Decisions,
		positions: cfg.Positions,
		health:    cfg.Health,
		logPaths:  cfg.LogPaths,
		logNames:  names,
	}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/:id", r.handleDecisionByID)
	group.GET("/positions", r.handlePositions)
	group.GET("/health", r.handleHealth)
	group.GET("/logs", r.handleLogs)
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision store disabled"})
		return
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageSize > 500 {
		pageSize = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := store.Query{
		Instrument: c.Query("instrument"),
		Action:     c.Query("action"),
		RunID:      c.Query("run_id"),
		Limit:      pageSize,
		Offset:     offset,
	}
	var err error
	if q.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	if q.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}
	if q.Action != "" {
		if _, err := signal.ParseAction(q.Action); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	list, err := r.decisions.ListDecisions(ctx, q)
	if err != nil {
		logger.Errorf("[api] decisions list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"decisions": list,
		"limit":     pageSize,
		"offset":    offset,
	})
}

func (r *Router) handleDecisionByID(c *gin.Context) {
	if r.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision store disabled"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}
	d, err := r.decisions.Decision(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	if err != nil {
		logger.Errorf("[api] decision detail failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d})
}

func (r *Router) handlePositions(c *gin.Context) {
	if r.positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live loop not running"})
		return
	}
	snap := r.positions.Snapshot()
	if inst := symbol.Normalize(c.Query("instrument")); inst != "" {
		st, ok := snap[inst]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "instrument not tracked"})
			return
		}
		snap = map[string]signal.PositionState{inst: st}
	}
	c.JSON(http.StatusOK, gin.H{"positions": snap})
}

func (r *Router) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "time": time.Now().UTC()}
	if r.health != nil {
		for k, v := range r.health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log files configured"})
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	path := strings.TrimSpace(r.logPaths[name])
	if path == "" {
		name = r.logNames[0]
		path = r.logPaths[name]
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 || limit > 5000 {
		limit = 200
	}
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"lines":     lines,
		"available": r.logNames,
	})
}

// parseTimeParam 接受 RFC3339 或 Unix 毫秒。
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

const maxLogLineSize = 4 * 1024 * 1024

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
