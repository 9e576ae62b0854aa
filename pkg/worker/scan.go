package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/scan"
)

// ScanEvent is the payload of scan events.
type ScanEvent struct {
	JobID  int          `json:"job_id"`
	Root   string       `json:"root"`
	Result *scan.Result `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// ProcessScanJob reconciles the job's path, or the library root when the job
// names none.
func (w *Worker) ProcessScanJob(ctx context.Context, job *models.Job) error {
	log := w.jobLogService.NewJobLogger(ctx, job.ID)

	root := w.config.LibraryPath
	if data, ok := job.DataParsed.(*models.JobScanData); ok && data.Path != "" {
		root = data.Path
	}

	log.Info("scan started", logger.Data{"root": root})
	w.broadcaster.Broadcast(events.Event{Type: events.TypeScanStarted, Data: &ScanEvent{JobID: job.ID, Root: root}})

	result, err := w.scanner.Scan(ctx, root)

	done := &ScanEvent{JobID: job.ID, Root: root, Result: result}
	if err != nil {
		done.Error = err.Error()
	}
	w.broadcaster.Broadcast(events.Event{Type: events.TypeScanCompleted, Data: done})

	if err != nil {
		return errors.Wrapf(err, "scan of %s", root)
	}
	if result == nil {
		return nil
	}
	if result.ThumbnailsFailed > 0 {
		log.Warn("some thumbnails could not be generated", logger.Data{"failed": result.ThumbnailsFailed})
	}
	log.Info("scan finished", logger.Data{
		"added":   result.Added,
		"updated": result.Updated,
		"deleted": result.Deleted,
	})
	return nil
}
