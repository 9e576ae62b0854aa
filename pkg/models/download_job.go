package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	DownloadStatusPending     = "pending"
	DownloadStatusDownloading = "downloading"
	DownloadStatusCompleted   = "completed"
	DownloadStatusFailed      = "failed"
	DownloadStatusPaused      = "paused"
)

type DownloadJob struct {
	bun.BaseModel `bun:"table:download_jobs,alias:dj"`

	ID              int        `bun:",pk,nullzero" json:"id"`
	CatalogID       string     `bun:",nullzero" json:"catalog_id"`
	Title           string     `bun:",nullzero" json:"title"`
	Artist          *string    `json:"artist,omitempty"`
	ThumbnailURL    *string    `json:"thumbnail_url,omitempty"`
	DestinationPath string     `bun:",nullzero" json:"destination_path"`
	Status          string     `bun:",nullzero" json:"status"`
	Progress        int        `json:"progress"`
	TotalPages      int        `json:"total_pages"`
	CompletedPages  int        `json:"completed_pages"`
	Speed           float64    `json:"speed"`
	Error           *string    `json:"error,omitempty"`
	Priority        int        `json:"priority"`
	AddedAt         time.Time  `json:"added_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has finished successfully. Failed jobs
// can still be retried, so they are not terminal.
func (j *DownloadJob) IsTerminal() bool {
	return j.Status == DownloadStatusCompleted
}
