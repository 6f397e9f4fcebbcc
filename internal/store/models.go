package store

import (
	"gorm.io/datatypes"
)

// DecisionModel 是 decisions 表的一行；Payload 保存完整决策 JSON，其余列用于筛选。
type DecisionModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	RunID         string         `gorm:"column:run_id;index"`
	Strategy      string         `gorm:"column:strategy"`
	Instrument    string         `gorm:"column:instrument;index:idx_decision_inst_ts,priority:1"`
	Timeframe     string         `gorm:"column:timeframe"`
	TS            int64          `gorm:"column:ts;index:idx_decision_inst_ts,priority:2"`
	Action        string         `gorm:"column:action;index"`
	Position      string         `gorm:"column:position"`
	Price         float64        `gorm:"column:price"`
	ModelVersion  string         `gorm:"column:model_version"`
	Error         string         `gorm:"column:error"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (DecisionModel) TableName() string { return "decisions" }

// PositionModel 是实盘持仓快照，按 (strategy, instrument) 唯一。
type PositionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Strategy      string         `gorm:"column:strategy;uniqueIndex:idx_position,priority:1"`
	Instrument    string         `gorm:"column:instrument;uniqueIndex:idx_position,priority:2"`
	Side          string         `gorm:"column:side"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	EntryTS       int64          `gorm:"column:entry_ts"`
	LastStepTS    int64          `gorm:"column:last_step_ts"`
	RiskJSON      datatypes.JSON `gorm:"column:risk_json;type:TEXT"`
	DecisionID    string         `gorm:"column:decision_id"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }
