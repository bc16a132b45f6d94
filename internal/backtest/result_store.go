package backtest

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
	gormlogger "gorm.io/gorm/logger"
)

// 回测任务的状态机：pending → running → completed/failed。
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("回测任务不存在")

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Strategy       string         `json:"strategy" binding:"required"`
	Symbol         string         `json:"symbol" binding:"required"`
	Timeframe      string         `json:"timeframe" binding:"required"`
	Start          int64          `json:"start"`
	End            int64          `json:"end"`
	Limit          int            `json:"limit"`
	InitialBalance float64        `json:"initial_balance"`
	Params         map[string]any `json:"params"`
}

// Run 表示一次回测任务及其结果快照。
type Run struct {
	ID             string         `json:"id"`
	Strategy       string         `json:"strategy"`
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	Start          int64          `json:"start"`
	End            int64          `json:"end"`
	InitialBalance float64        `json:"initial_balance"`
	Status         string         `json:"status"`
	Message        string         `json:"message,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Result         *Result        `json:"result,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    time.Time      `json:"completed_at,omitempty"`
}

// runModel 为 backtest_runs 表的 GORM 映射。
type runModel struct {
	ID             string `gorm:"primaryKey;column:id"`
	Strategy       string `gorm:"column:strategy;index"`
	Symbol         string `gorm:"column:symbol;index"`
	Timeframe      string `gorm:"column:timeframe"`
	StartTS        int64  `gorm:"column:start_ts"`
	EndTS          int64  `gorm:"column:end_ts"`
	InitialBalance float64
	Status         string `gorm:"column:status;index"`
	Message        string
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	TotalReturnPct float64
	MaxDrawdownPct float64
	WinRate        float64
	TradesJSON     datatypes.JSON `gorm:"column:trades_json;type:TEXT"`
	EquityJSON     datatypes.JSON `gorm:"column:equity_json;type:TEXT"`
	CreatedAt      int64          `gorm:"column:created_at"`
	CompletedAt    int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

// ResultStore 用 GORM + SQLite 持久化回测任务。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条 pending 状态的任务记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	model, err := toRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// MarkRunning 将任务置为 running。
func (s *ResultStore) MarkRunning(ctx context.Context, id string) error {
	return s.updateRun(ctx, id, map[string]any{"status": RunStatusRunning, "message": ""})
}

// MarkFailed 记录失败原因并收尾。
func (s *ResultStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.updateRun(ctx, id, map[string]any{
		"status":       RunStatusFailed,
		"message":      msg,
		"completed_at": time.Now().UnixMilli(),
	})
}

// MarkCompleted 写入最终结果并收尾。
func (s *ResultStore) MarkCompleted(ctx context.Context, id string, result Result) error {
	tradesJSON, err := json.Marshal(result.Trades)
	if err != nil {
		return err
	}
	equityJSON, err := json.Marshal(result.EquityCurve)
	if err != nil {
		return err
	}
	return s.updateRun(ctx, id, map[string]any{
		"status":           RunStatusCompleted,
		"message":          "",
		"total_return_pct": result.TotalReturnPct,
		"max_drawdown_pct": result.MaxDrawdownPct,
		"win_rate":         result.WinRate,
		"trades_json":      datatypes.JSON(tradesJSON),
		"equity_json":      datatypes.JSON(equityJSON),
		"completed_at":     time.Now().UnixMilli(),
	})
}

func (s *ResultStore) updateRun(ctx context.Context, id string, fields map[string]any) error {
	tx := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun 读取单条任务，完整结果一并展开。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var model runModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return fromRunModel(model)
}

// ListRuns 按创建时间倒序列出任务（不含成交与曲线明细）。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var models []runModel
	err := s.db.WithContext(ctx).
		Select("id", "strategy", "symbol", "timeframe", "start_ts", "end_ts", "initial_balance",
			"status", "message", "params_json", "total_return_pct", "max_drawdown_pct", "win_rate",
			"created_at", "completed_at").
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := fromRunModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// DeleteRun 删除任务记录。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx).Delete(&runModel{}, "id = ?", id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func toRunModel(run Run) (runModel, error) {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return runModel{}, err
	}
	model := runModel{
		ID:             run.ID,
		Strategy:       run.Strategy,
		Symbol:         run.Symbol,
		Timeframe:      run.Timeframe,
		StartTS:        run.Start,
		EndTS:          run.End,
		InitialBalance: run.InitialBalance,
		Status:         run.Status,
		Message:        run.Message,
		ParamsJSON:     datatypes.JSON(paramsJSON),
		CreatedAt:      run.CreatedAt.UnixMilli(),
	}
	if !run.CompletedAt.IsZero() {
		model.CompletedAt = run.CompletedAt.UnixMilli()
	}
	return model, nil
}

func fromRunModel(m runModel) (Run, error) {
	run := Run{
		ID:             m.ID,
		Strategy:       m.Strategy,
		Symbol:         m.Symbol,
		Timeframe:      m.Timeframe,
		Start:          m.StartTS,
		End:            m.EndTS,
		InitialBalance: m.InitialBalance,
		Status:         m.Status,
		Message:        m.Message,
		CreatedAt:      timeFromMillis(m.CreatedAt),
		CompletedAt:    timeFromMillis(m.CompletedAt),
	}
	if len(m.ParamsJSON) > 0 {
		if err := json.Unmarshal(m.ParamsJSON, &run.Params); err != nil {
			return Run{}, err
		}
	}
	if m.Status == RunStatusCompleted {
		result := &Result{
			TotalReturnPct: m.TotalReturnPct,
			MaxDrawdownPct: m.MaxDrawdownPct,
			WinRate:        m.WinRate,
		}
		if len(m.TradesJSON) > 0 {
			if err := json.Unmarshal(m.TradesJSON, &result.Trades); err != nil {
				return Run{}, err
			}
		}
		if len(m.EquityJSON) > 0 {
			if err := json.Unmarshal(m.EquityJSON, &result.EquityCurve); err != nil {
				return Run{}, err
			}
		}
		run.Result = result
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
