package downloads

import (
	"context"
	"sync"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/models"
)

// Control is a transfer's view of its job while it runs. It is safe for
// concurrent use.
type Control struct {
	scheduler *Scheduler
	mu        sync.Mutex
	job       *models.DownloadJob
}

func newControl(s *Scheduler, job *models.DownloadJob) *Control {
	return &Control{scheduler: s, job: job}
}

// Paused reports whether the transfer should stop at the next safe point,
// either because the job was paused or because it was removed.
func (c *Control) Paused() bool {
	id := c.job.ID
	return c.scheduler.state.pauseRequested(id) || c.scheduler.state.wasRemoved(id)
}

// Progress records how far the transfer got. speed is in bytes per second.
func (c *Control) Progress(completed, total int, speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := c.job
	job.CompletedPages = completed
	job.TotalPages = total
	job.Speed = speed
	if total > 0 {
		job.Progress = completed * 100 / total
	}

	s := c.scheduler
	ctx := context.WithoutCancel(s.ctx)
	err := s.service.UpdateJob(ctx, job, UpdateJobOptions{
		Columns: []string{"progress", "total_pages", "completed_pages", "speed"},
	})
	if err != nil && !errcodes.HasCode(err, errcodes.CodeNotFound) {
		s.log.Warn("failed to record download progress", logger.Data{"download_id": job.ID, "error": err.Error()})
	}

	snapshot := *job
	s.opts.Broadcaster.Broadcast(events.Event{Type: events.TypeDownloadProgress, Data: &snapshot})
}

// Update sets descriptive fields the transfer learns about the job, such as
// its title once the remote listing is fetched.
func (c *Control) Update(title string, artist *string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := c.job
	job.Title = title
	job.Artist = artist
	s := c.scheduler
	err := s.service.UpdateJob(context.WithoutCancel(s.ctx), job, UpdateJobOptions{Columns: []string{"title", "artist"}})
	if err != nil && !errcodes.HasCode(err, errcodes.CodeNotFound) {
		s.log.Warn("failed to update download", logger.Data{"download_id": job.ID, "error": err.Error()})
	}
}
