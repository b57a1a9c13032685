package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"dtms/internal/detector"
	"dtms/internal/dtms"
	"dtms/internal/strike"
)

// Store persists the audit trail: every state transition and every
// action outcome, queryable from the HTTP layer.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the history database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TransitionModel{}, &OutcomeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// RecordTransition persists one state change alongside the strike
// picture that caused it.
func (s *Store) RecordTransition(ctx context.Context, tr dtms.Transition, rec strike.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store not initialized")
	}
	var readings datatypes.JSON
	if len(rec.Readings) > 0 {
		raw, err := json.Marshal(rec.Readings)
		if err == nil {
			readings = datatypes.JSON(raw)
		}
	}
	model := TransitionModel{
		Ticket:        tr.Ticket,
		Symbol:        tr.Symbol,
		FromState:     tr.From.String(),
		ToState:       tr.To.String(),
		Reason:        tr.Reason,
		Strikes:       rec.Strikes,
		Urgency:       rec.Urgency.String(),
		ReadingsJSON:  readings,
		OccurredUnix:  tr.At.Unix(),
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// OutcomeRecord is the store-facing view of one action outcome.
type OutcomeRecord struct {
	RequestID string    `json:"request_id"`
	Ticket    int64     `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Kind      string    `json:"kind"`
	Target    float64   `json:"target,omitempty"`
	Status    string    `json:"status"`
	Retries   int       `json:"retries"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// RecordOutcome persists one resolved action.
func (s *Store) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store not initialized")
	}
	model := OutcomeModel{
		RequestID:     rec.RequestID,
		Ticket:        rec.Ticket,
		Symbol:        rec.Symbol,
		Kind:          rec.Kind,
		Target:        rec.Target,
		Status:        rec.Status,
		Retries:       rec.Retries,
		Error:         rec.Error,
		OccurredUnix:  rec.At.Unix(),
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// TransitionRecord is the query-facing view of one transition row.
type TransitionRecord struct {
	Ticket   int64              `json:"ticket"`
	Symbol   string             `json:"symbol"`
	From     string             `json:"from"`
	To       string             `json:"to"`
	Reason   string             `json:"reason"`
	Strikes  int                `json:"strikes"`
	Urgency  string             `json:"urgency"`
	Readings []detector.Reading `json:"readings,omitempty"`
	At       time.Time          `json:"at"`
}

// ListTransitions returns the newest transitions, optionally filtered
// by ticket (0 means all tickets).
func (s *Store) ListTransitions(ctx context.Context, ticket int64, limit int) ([]TransitionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&TransitionModel{}).Order("id DESC").Limit(limit)
	if ticket > 0 {
		q = q.Where("ticket = ?", ticket)
	}
	var rows []TransitionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TransitionRecord, 0, len(rows))
	for _, row := range rows {
		rec := TransitionRecord{
			Ticket:  row.Ticket,
			Symbol:  row.Symbol,
			From:    row.FromState,
			To:      row.ToState,
			Reason:  row.Reason,
			Strikes: row.Strikes,
			Urgency: row.Urgency,
			At:      time.Unix(row.OccurredUnix, 0).UTC(),
		}
		if len(row.ReadingsJSON) > 0 {
			_ = json.Unmarshal(row.ReadingsJSON, &rec.Readings)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListOutcomes returns the newest action outcomes, optionally filtered
// by ticket (0 means all tickets).
func (s *Store) ListOutcomes(ctx context.Context, ticket int64, limit int) ([]OutcomeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&OutcomeModel{}).Order("id DESC").Limit(limit)
	if ticket > 0 {
		q = q.Where("ticket = ?", ticket)
	}
	var rows []OutcomeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]OutcomeRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, OutcomeRecord{
			RequestID: row.RequestID,
			Ticket:    row.Ticket,
			Symbol:    row.Symbol,
			Kind:      row.Kind,
			Target:    row.Target,
			Status:    row.Status,
			Retries:   row.Retries,
			Error:     row.Error,
			At:        time.Unix(row.OccurredUnix, 0).UTC(),
		})
	}
	return out, nil
}
