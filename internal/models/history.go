package models

import (
	"time"

	"gorm.io/gorm"
)

// BuildRun records one finished database build
type BuildRun struct {
	ID               uint             `gorm:"primarykey" json:"id"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        gorm.DeletedAt   `gorm:"index" json:"-"`
	SourceDir        string           `gorm:"not null" json:"source_dir"`
	FilesProcessed   int              `gorm:"not null" json:"files_processed"`
	FragmentsIndexed int              `gorm:"not null" json:"fragments_indexed"`
	ErrorCount       int              `gorm:"default:0" json:"error_count"`
	Errors           []BuildFileError `gorm:"foreignKey:BuildRunID" json:"errors,omitempty"`
	Seeded           bool             `gorm:"default:false" json:"seeded"`
	DurationMS       int64            `gorm:"not null" json:"duration_ms"`
}

// BuildFileError is a file skipped by a build
type BuildFileError struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	BuildRunID uint      `gorm:"not null;index" json:"build_run_id"`
	File       string    `gorm:"not null" json:"file"`
	Kind       string    `gorm:"not null" json:"kind"` // "parse", "malformed", "index"
	Message    string    `gorm:"type:text" json:"message"`
}

// MelodyFeedback is one listener reaction to a played fragment
type MelodyFeedback struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `gorm:"index" json:"session_id"`
	Source    string    `gorm:"not null;index" json:"source"`
	Kind      string    `gorm:"not null" json:"kind"` // "rate", "skip", "repeat"
	Rating    float64   `gorm:"default:0" json:"rating"`
	At        time.Time `gorm:"not null;index" json:"at"`
}
