package downloads

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/models"
)

// kick starts the drain loop unless it is already running.
func (s *Scheduler) kick() {
	if !s.started.Load() || s.ctx.Err() != nil {
		return
	}
	if !s.state.tryStart() {
		return
	}
	s.wg.Add(1)
	go s.drain()
}

func (s *Scheduler) drain() {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			s.state.stop()
			return
		}

		s.state.clearKick()
		ran, err := s.runNext(s.ctx)
		if err != nil {
			s.state.stop()
			if s.ctx.Err() != nil {
				return
			}
			s.log.Err(err).Error("drain loop failed", logger.Data{"retry_in": s.opts.ErrorBackoff.String()})
			s.scheduleRetry()
			return
		}
		if !ran {
			if s.state.tryStop() {
				return
			}
			continue
		}

		select {
		case <-s.ctx.Done():
			s.state.stop()
			return
		case <-time.After(s.opts.DrainInterval):
		}
	}
}

func (s *Scheduler) scheduleRetry() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(s.opts.ErrorBackoff, s.kick)
}

// runNext transfers the next pending job. It reports false when the queue
// has nothing pending.
func (s *Scheduler) runNext(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	job, err := s.service.NextPending(ctx)
	if err != nil {
		s.opMu.Unlock()
		return false, err
	}
	if job == nil {
		s.opMu.Unlock()
		return false, nil
	}

	s.state.begin(job.ID)
	now := time.Now()
	job.Status = models.DownloadStatusDownloading
	job.StartedAt = &now
	job.Error = nil
	err = s.service.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "started_at", "error"}})
	s.opMu.Unlock()
	if err != nil {
		s.state.finish(job.ID)
		return false, errors.Wrapf(err, "failed to start download %d", job.ID)
	}

	log := s.log.Data(logger.Data{"download_id": job.ID, "catalog_id": job.CatalogID})
	ctx = log.WithContext(ctx)
	log.Info("download started")
	s.broadcast(events.TypeDownloadUpdated, job)

	ctl := newControl(s, job)
	transferErr := s.opts.Transfer(ctx, job, ctl)

	completed, err := s.finishJob(ctx, job, transferErr)
	if err != nil {
		s.revert(ctx, job)
		return false, err
	}
	if completed && s.opts.OnComplete != nil {
		s.wg.Add(1)
		go func(job models.DownloadJob) {
			defer s.wg.Done()
			s.opts.OnComplete(context.WithoutCancel(ctx), &job)
		}(*job)
	}
	return true, nil
}

// finishJob persists the outcome of a transfer. It reports whether the job
// completed.
func (s *Scheduler) finishJob(ctx context.Context, job *models.DownloadJob, transferErr error) (bool, error) {
	log := logger.FromContext(ctx)

	s.opMu.Lock()
	defer s.opMu.Unlock()
	// Runs before the unlock so no caller sees a settled row with the job
	// still active.
	defer s.state.finish(job.ID)

	if s.state.wasRemoved(job.ID) {
		log.Info("download removed while transferring")
		s.removeDestination(ctx, job)
		return false, nil
	}

	paused := errors.Is(transferErr, ErrPaused) || (transferErr != nil && s.state.pauseRequested(job.ID))
	if transferErr != nil && !paused && ctx.Err() != nil {
		// Shutting down; the next process picks the job up again.
		return false, s.persistStatus(context.WithoutCancel(ctx), job, models.DownloadStatusPending)
	}
	ctx = context.WithoutCancel(ctx)
	switch {
	case paused:
		log.Info("download paused", logger.Data{"completed_pages": job.CompletedPages})
		job.Speed = 0
		if err := s.persist(ctx, job, []string{"status", "speed"}, models.DownloadStatusPaused); err != nil {
			return false, err
		}
	case transferErr == nil:
		now := time.Now()
		job.Progress = 100
		if job.TotalPages > 0 {
			job.CompletedPages = job.TotalPages
		}
		job.Speed = 0
		job.CompletedAt = &now
		log.Info("download completed")
		if err := s.persist(ctx, job, []string{"status", "progress", "completed_pages", "speed", "completed_at"}, models.DownloadStatusCompleted); err != nil {
			return false, err
		}
	default:
		msg := transferErr.Error()
		job.Error = &msg
		job.Speed = 0
		log.Err(transferErr).Error("download failed")
		if err := s.persist(ctx, job, []string{"status", "error", "speed"}, models.DownloadStatusFailed); err != nil {
			return false, err
		}
	}

	s.broadcast(events.TypeDownloadUpdated, job)
	return !paused && transferErr == nil, nil
}

// persist writes status and columns. A row deleted underneath us is not an
// error.
func (s *Scheduler) persist(ctx context.Context, job *models.DownloadJob, columns []string, status string) error {
	if !CanTransition(job.Status, status) {
		return errcodes.InvalidTransition("finish", job.Status)
	}
	job.Status = status
	err := s.service.UpdateJob(ctx, job, UpdateJobOptions{Columns: columns})
	if err != nil && !errcodes.HasCode(err, errcodes.CodeNotFound) {
		return errors.Wrapf(err, "failed to persist download %d as %s", job.ID, status)
	}
	return nil
}

func (s *Scheduler) persistStatus(ctx context.Context, job *models.DownloadJob, status string) error {
	job.Status = status
	job.Speed = 0
	err := s.service.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "speed"}})
	if err != nil && !errcodes.HasCode(err, errcodes.CodeNotFound) {
		return errors.Wrapf(err, "failed to persist download %d as %s", job.ID, status)
	}
	s.broadcast(events.TypeDownloadUpdated, job)
	return nil
}

// revert puts a job the loop failed on back to pending so it isn't stranded
// in downloading.
func (s *Scheduler) revert(ctx context.Context, job *models.DownloadJob) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.persistStatus(context.WithoutCancel(ctx), job, models.DownloadStatusPending); err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to requeue download")
	}
}
