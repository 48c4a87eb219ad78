package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt is one completed practice recording.
type Attempt struct {
	ID           string `gorm:"primaryKey;size:36"`
	TargetText   string `gorm:"not null"`
	WordsJSON    string `gorm:"type:text"`
	AverageScore float64
	Passed       int
	Average      int
	Failed       int
	Samples      int
	DurationMs   int64
	CreatedAt    time.Time `gorm:"index"`
}

// Words decodes the stored per-word results.
func (a Attempt) Words() (EvaluationResult, error) {
	var r EvaluationResult
	if a.WordsJSON == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(a.WordsJSON), &r); err != nil {
		return nil, fmt.Errorf("history: decode words of %s: %w", a.ID, err)
	}
	return r, nil
}

// newAttempt builds the history row for a completed session.
func newAttempt(snap Snapshot, samples, sampleRate int) (Attempt, error) {
	words, err := json.Marshal(snap.Result)
	if err != nil {
		return Attempt{}, fmt.Errorf("history: encode words: %w", err)
	}
	counts := CountLabels(snap.Result)
	var dur int64
	if sampleRate > 0 {
		dur = int64(samples) * 1000 / int64(sampleRate)
	}
	return Attempt{
		ID:           snap.ID,
		TargetText:   snap.Target.Text(),
		WordsJSON:    string(words),
		AverageScore: AverageScore(snap.Result),
		Passed:       counts.Passed,
		Average:      counts.Average,
		Failed:       counts.Failed,
		Samples:      samples,
		DurationMs:   dur,
	}, nil
}

// HistoryService keeps completed attempts in a local sqlite database.
type HistoryService struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewHistoryService opens (or creates) the database at path and migrates it.
func NewHistoryService(path string, log *zap.SugaredLogger) (*HistoryService, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	log.Debugf("opened %s", path)
	return &HistoryService{db: db, log: log}, nil
}

// SaveAttempt inserts a. CreatedAt is filled in by gorm when zero.
func (h *HistoryService) SaveAttempt(ctx context.Context, a Attempt) error {
	if err := h.db.WithContext(ctx).Create(&a).Error; err != nil {
		return fmt.Errorf("history: save %s: %w", a.ID, err)
	}
	h.log.Debugf("saved attempt %s (avg %.3f)", a.ID, a.AverageScore)
	return nil
}

// Recent returns up to limit attempts, newest first.
func (h *HistoryService) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	var out []Attempt
	err := h.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Get returns the attempt with id, or gorm.ErrRecordNotFound.
func (h *HistoryService) Get(ctx context.Context, id string) (Attempt, error) {
	var a Attempt
	if err := h.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return Attempt{}, fmt.Errorf("history: get %s: %w", id, err)
	}
	return a, nil
}

// Close releases the underlying connection pool.
func (h *HistoryService) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
