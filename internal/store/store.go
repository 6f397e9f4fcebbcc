// Package store 用 Gorm + SQLite 持久化决策记录与实盘持仓。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"confluence/internal/engine"
	"confluence/internal/logger"
	"confluence/internal/pkg/symbol"
	"confluence/internal/risk"
	"confluence/internal/signal"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// DecisionStore 持久化决策；实现 engine.Sink。
type DecisionStore struct {
	db *gorm.DB
}

var _ engine.Sink = (*DecisionStore)(nil)

// Open 打开（必要时创建）数据库并迁移表结构。
func Open(path string) (*DecisionStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("decision store: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DecisionModel{}, &PositionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 多个标的并发写入，单连接串行化避免 SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &DecisionStore{db: db}, nil
}

func (s *DecisionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Handle 写入决策；同一 ID 再次写入时覆盖（重放产生相同 ID）。
// 实盘决策同时更新持仓快照。
func (s *DecisionStore) Handle(ctx context.Context, d engine.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", d.ID, err)
	}
	row := DecisionModel{
		ID:            d.ID,
		RunID:         d.RunID,
		Strategy:      d.Strategy,
		Instrument:    d.Instrument,
		Timeframe:     d.Timeframe,
		TS:            d.Timestamp.UnixMilli(),
		Action:        d.Action.String(),
		Position:      d.Position.String(),
		Price:         d.Price,
		ModelVersion:  d.ModelVersion,
		Error:         d.Error,
		Payload:       datatypes.JSON(payload),
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&row).Error
		if err != nil {
			return err
		}
		if d.RunID != engine.LiveRunID {
			return nil
		}
		return upsertPosition(tx, d)
	})
}

func upsertPosition(tx *gorm.DB, d engine.Decision) error {
	now := time.Now().Unix()
	row := PositionModel{
		Strategy:      d.Strategy,
		Instrument:    d.Instrument,
		Side:          d.Position.String(),
		LastStepTS:    d.Timestamp.UnixMilli(),
		DecisionID:    d.ID,
		UpdatedAtUnix: now,
	}
	conflict := []clause.Column{{Name: "strategy"}, {Name: "instrument"}}
	switch {
	case d.Action.IsEntry():
		raw, err := json.Marshal(risk.Parameters{
			StoplossPct: d.StoplossPct,
			StakeAmount: d.StakeAmount,
			Leverage:    d.Leverage,
			Tier:        d.Tier,
		})
		if err != nil {
			return err
		}
		row.EntryPrice = d.Price
		row.EntryTS = d.Timestamp.UnixMilli()
		row.RiskJSON = datatypes.JSON(raw)
		return tx.Clauses(clause.OnConflict{Columns: conflict, UpdateAll: true}).Create(&row).Error
	case d.Action.IsExit():
		row.RiskJSON = datatypes.JSON("null")
		return tx.Clauses(clause.OnConflict{Columns: conflict, UpdateAll: true}).Create(&row).Error
	default:
		row.RiskJSON = datatypes.JSON("null")
		return tx.Clauses(clause.OnConflict{
			Columns: conflict,
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_step_ts": gorm.Expr("MAX(positions.last_step_ts, excluded.last_step_ts)"),
				"updated_at":   gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&row).Error
	}
}

// Query 为决策列表的筛选条件；零值字段不参与筛选。
type Query struct {
	Instrument string
	Action     string
	RunID      string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// ListDecisions 按时间倒序返回决策。
func (s *DecisionStore) ListDecisions(ctx context.Context, q Query) ([]engine.Decision, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	tx := s.db.WithContext(ctx).Model(&DecisionModel{})
	if inst := symbol.Normalize(q.Instrument); inst != "" {
		tx = tx.Where("instrument = ?", inst)
	}
	if action := strings.ToUpper(strings.TrimSpace(q.Action)); action != "" {
		tx = tx.Where("action = ?", action)
	}
	if runID := strings.TrimSpace(q.RunID); runID != "" {
		tx = tx.Where("run_id = ?", runID)
	}
	if !q.From.IsZero() {
		tx = tx.Where("ts >= ?", q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		tx = tx.Where("ts <= ?", q.To.UnixMilli())
	}
	var rows []DecisionModel
	if err := tx.Order("ts DESC").Order("instrument ASC").Limit(limit).Offset(max(q.Offset, 0)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Decision, 0, len(rows))
	for _, r := range rows {
		d, err := decodeDecision(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Decision 按 ID 读取单条决策。
func (s *DecisionStore) Decision(ctx context.Context, id string) (engine.Decision, error) {
	var row DecisionModel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Decision{}, ErrNotFound
	}
	if err != nil {
		return engine.Decision{}, err
	}
	return decodeDecision(row)
}

func decodeDecision(r DecisionModel) (engine.Decision, error) {
	var d engine.Decision
	if err := json.Unmarshal(r.Payload, &d); err != nil {
		return engine.Decision{}, fmt.Errorf("decode decision %s: %w", r.ID, err)
	}
	return d, nil
}

// Positions 返回某个策略的持仓快照，按标的索引。
func (s *DecisionStore) Positions(ctx context.Context, strategy string) (map[string]signal.PositionState, error) {
	var rows []PositionModel
	if err := s.db.WithContext(ctx).Where("strategy = ?", strategy).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]signal.PositionState, len(rows))
	for _, r := range rows {
		side := signal.ParseSide(r.Side)
		st := signal.PositionState{Side: side, LastStep: millisToTime(r.LastStepTS)}
		if side != signal.Flat {
			st.EntryPrice = r.EntryPrice
			st.EntryTime = millisToTime(r.EntryTS)
			if len(r.RiskJSON) > 0 {
				if err := json.Unmarshal(r.RiskJSON, &st.Risk); err != nil {
					return nil, fmt.Errorf("position %s risk: %w", r.Instrument, err)
				}
			}
		}
		out[r.Instrument] = st
	}
	return out, nil
}

// RestoreBook 把持久化的持仓写回状态机，返回恢复的标的数。
func (s *DecisionStore) RestoreBook(ctx context.Context, strategy string, book *signal.Book) (int, error) {
	positions, err := s.Positions(ctx, strategy)
	if err != nil {
		return 0, err
	}
	for inst, st := range positions {
		book.Machine(inst).Restore(st)
		if st.Side != signal.Flat {
			logger.Infof("[store] restored %s %s position entered at %s", inst, st.Side, st.EntryTime.Format(time.RFC3339))
		}
	}
	return len(positions), nil
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
