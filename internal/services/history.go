package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryService stores build runs and listener feedback in Postgres
type HistoryService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

// SaveBuild records a finished build with its skipped files
func (s *HistoryService) SaveBuild(ctx context.Context, sourceDir string, report models.BuildReport) error {
	run := models.BuildRun{
		SourceDir:        sourceDir,
		FilesProcessed:   report.FilesProcessed,
		FragmentsIndexed: report.FragmentsIndexed,
		ErrorCount:       len(report.Errors),
		Seeded:           report.Seeded,
		DurationMS:       report.Duration.Milliseconds(),
	}
	for _, fe := range report.Errors {
		run.Errors = append(run.Errors, models.BuildFileError{File: fe.File, Kind: fe.Kind, Message: fe.Message})
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("save build run: %w", err)
	}
	return nil
}

// RecentBuilds returns the latest builds, newest first
func (s *HistoryService) RecentBuilds(ctx context.Context, limit int) ([]models.BuildRun, error) {
	limit = clampLimit(limit)

	var runs []models.BuildRun
	err := s.db.WithContext(ctx).
		Preload("Errors").
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list build runs: %w", err)
	}
	return runs, nil
}

// RecordFeedback stores one rate, skip or repeat
func (s *HistoryService) RecordFeedback(ctx context.Context, fb solo.Feedback) error {
	at := fb.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := models.MelodyFeedback{
		SessionID: fb.SessionID,
		Source:    fb.Source,
		Kind:      fb.Kind,
		Rating:    fb.Rating,
		At:        at,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// LoadFeedback returns all stored feedback, oldest first, ready to be
// replayed into a preference table
func (s *HistoryService) LoadFeedback(ctx context.Context) ([]solo.Feedback, error) {
	var rows []models.MelodyFeedback
	if err := s.db.WithContext(ctx).Order("at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}

	out := make([]solo.Feedback, len(rows))
	for i, r := range rows {
		out[i] = solo.Feedback{
			SessionID: r.SessionID,
			Source:    r.Source,
			Kind:      r.Kind,
			Rating:    r.Rating,
			At:        r.At,
		}
	}
	return out, nil
}

// RestorePreferences replays stored feedback into prefs. Rows that no
// longer apply are skipped. It returns how many were applied.
func (s *HistoryService) RestorePreferences(ctx context.Context, prefs *solo.Preferences) (int, error) {
	history, err := s.LoadFeedback(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, fb := range history {
		if prefs.Apply(fb) == nil {
			applied++
		}
	}
	return applied, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
