package market

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"confluence/internal/pkg/symbol"
)

// CandleStore 是引擎读取历史蜡烛的边界接口。
type CandleStore interface {
	Range(ctx context.Context, instrument, timeframe string, from, to time.Time) ([]Candle, error)
}

// Manifest 记录某个 instrument@timeframe 文件的统计信息。
type Manifest struct {
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 按 instrument/timeframe 拆分 sqlite 文件保存蜡烛。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ CandleStore = (*Store)(nil)

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("candle store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(instrument, timeframe string) (*sql.DB, string, error) {
	instrument = symbol.Normalize(instrument)
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if instrument == "" || timeframe == "" {
		return nil, "", fmt.Errorf("instrument/timeframe cannot be empty")
	}
	key := instrument + "@" + timeframe
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dbPath(instrument, timeframe)
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, instrument, timeframe); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(instrument, timeframe string) string {
	return filepath.Join(s.root, instrument, timeframe+".db")
}

// InsertCandles 批量写入蜡烛（重复 open_time 将被覆盖）。
func (s *Store) InsertCandles(ctx context.Context, instrument, timeframe string, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, err
		}
	}
	db, _, err := s.db(instrument, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// Range 返回 [from, to] 区间的蜡烛（开盘时间闭区间，升序）；零值边界表示不限。
func (s *Store) Range(ctx context.Context, instrument, timeframe string, from, to time.Time) ([]Candle, error) {
	db, _, err := s.db(instrument, timeframe)
	if err != nil {
		return nil, err
	}
	start := int64(math.MinInt64)
	end := int64(math.MaxInt64)
	if !from.IsZero() {
		start = from.UnixMilli()
	}
	if !to.IsZero() {
		end = to.UnixMilli()
	}
	if end < start {
		return nil, fmt.Errorf("range end before start")
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, false)
}

// After 返回严格晚于 after 的蜡烛（升序，最多 limit 根）。
func (s *Store) After(ctx context.Context, instrument, timeframe string, after time.Time, limit int) ([]Candle, error) {
	db, _, err := s.db(instrument, timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles WHERE open_time > ?
		ORDER BY open_time ASC LIMIT ?`, after.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, false)
}

// Latest 返回最近 limit 根蜡烛（升序）。
func (s *Store) Latest(ctx context.Context, instrument, timeframe string, limit int) ([]Candle, error) {
	db, _, err := s.db(instrument, timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 300
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles ORDER BY open_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, true)
}

func (s *Store) Manifest(ctx context.Context, instrument, timeframe string) (Manifest, error) {
	db, path, err := s.db(instrument, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT instrument,timeframe,COALESCE(min_time,0),COALESCE(max_time,0),rows,COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Instrument, &m.Timeframe, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func scanCandles(rows *sql.Rows, reverse bool) ([]Candle, error) {
	defer rows.Close()
	var list []Candle
	for rows.Next() {
		var (
			ts int64
			c  Candle
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Timestamp = time.UnixMilli(ts).UTC()
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureSchema(db *sql.DB, instrument, timeframe string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			instrument TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, instrument, timeframe) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET instrument=excluded.instrument, timeframe=excluded.timeframe;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, instrument, timeframe)
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
