package downloads

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

// ErrPaused is returned by a TransferFunc that stopped because Control.Paused
// reported true.
var ErrPaused = errors.New("transfer paused")

// TransferFunc downloads job into job.DestinationPath. It must poll
// ctl.Paused between resumable steps and return ErrPaused when it sees it set.
type TransferFunc func(ctx context.Context, job *models.DownloadJob, ctl *Control) error

type Options struct {
	DownloadDir   string
	DrainInterval time.Duration
	ErrorBackoff  time.Duration
	Transfer      TransferFunc
	// OnComplete runs after a job is persisted as completed.
	OnComplete  func(ctx context.Context, job *models.DownloadJob)
	Broadcaster events.Broadcaster
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DownloadDir:   cfg.DownloadDir,
		DrainInterval: cfg.DrainInterval,
		ErrorBackoff:  cfg.DrainErrorBackoff,
	}
}

// Scheduler runs download jobs one at a time in priority order.
type Scheduler struct {
	service *Service
	opts    Options
	state   *State
	log     logger.Logger

	// opMu serializes status changes between API calls and the drain loop.
	opMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	wg      sync.WaitGroup

	timerMu    sync.Mutex
	retryTimer *time.Timer
}

func NewScheduler(db bun.IDB, opts Options) *Scheduler {
	if opts.Broadcaster == nil {
		opts.Broadcaster = events.Discard
	}
	if opts.Transfer == nil {
		opts.Transfer = func(context.Context, *models.DownloadJob, *Control) error {
			return errors.New("no transfer configured")
		}
	}

	log := logger.New().Data(logger.Data{"component": "downloads"})
	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))

	return &Scheduler{
		service: NewService(db),
		opts:    opts,
		state:   NewState(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) State() *State {
	return s.state
}

// Recover resets jobs left downloading by a previous process to pending.
// Paused jobs stay paused.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	n, err := s.service.ResetDownloading(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover interrupted downloads")
	}
	if n > 0 {
		logger.FromContext(ctx).Info("requeued interrupted downloads", logger.Data{"count": n})
	}
	return n, nil
}

// Start recovers the queue and starts draining it.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		return err
	}
	s.started.Store(true)
	s.kick()
	return nil
}

// Shutdown stops the drain loop. A transfer in flight sees its context
// cancelled and its job goes back to pending.
func (s *Scheduler) Shutdown() {
	s.started.Store(false)
	s.cancel()

	s.timerMu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.timerMu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) Enqueue(ctx context.Context, job *models.DownloadJob) (*models.DownloadJob, error) {
	if job.CatalogID == "" {
		return nil, errcodes.ValidationError("catalog_id is required.")
	}
	dest, ok := s.destinationFor(job)
	if !ok {
		return nil, errcodes.ValidationError("destination_path must be inside the download directory.")
	}

	s.opMu.Lock()
	existing, err := s.service.FindOpenByCatalogID(ctx, job.CatalogID)
	if err != nil {
		s.opMu.Unlock()
		return nil, err
	}
	if existing != nil {
		s.opMu.Unlock()
		return nil, errcodes.Duplicate("Download", job.CatalogID)
	}

	job.ID = 0
	job.Status = models.DownloadStatusPending
	job.Progress = 0
	job.CompletedPages = 0
	job.Speed = 0
	job.Error = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	if job.Title == "" {
		job.Title = job.CatalogID
	}
	job.DestinationPath = dest

	err = s.service.CreateJob(ctx, job)
	s.opMu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("download queued", logger.Data{"download_id": job.ID, "catalog_id": job.CatalogID})
	s.broadcast(events.TypeDownloadQueued, job)
	s.kick()
	return job, nil
}

// Remove deletes the job. An incomplete job's destination is removed too if
// a transfer ever wrote to it, once that transfer has stopped.
func (s *Scheduler) Remove(ctx context.Context, id int) error {
	s.opMu.Lock()
	job, err := s.service.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
	if err != nil {
		s.opMu.Unlock()
		return err
	}
	active := s.state.IsActive(id)
	if active {
		s.state.markRemoved(id)
	}
	err = s.service.DeleteJob(ctx, id)
	s.opMu.Unlock()
	if err != nil {
		return err
	}

	if !active && !job.IsTerminal() {
		s.removeDestination(ctx, job)
	}

	logger.FromContext(ctx).Info("download removed", logger.Data{"download_id": id})
	s.broadcast(events.TypeDownloadRemoved, job)
	return nil
}

// Pause asks the active transfer of a downloading job to stop. The job is
// persisted as paused once the transfer returns.
func (s *Scheduler) Pause(ctx context.Context, id int) (*models.DownloadJob, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	job, err := s.service.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
	if err != nil {
		return nil, err
	}
	if !CanTransition(job.Status, models.DownloadStatusPaused) {
		return nil, errcodes.InvalidTransition("pause", job.Status)
	}
	s.state.requestPause(id)
	return job, nil
}

func (s *Scheduler) Resume(ctx context.Context, id int) (*models.DownloadJob, error) {
	return s.requeue(ctx, id, "resume", models.DownloadStatusPaused, func(job *models.DownloadJob) []string {
		job.Speed = 0
		return []string{"speed"}
	})
}

// Retry requeues a failed job from scratch. started_at is kept so the partial
// destination stays eligible for cleanup on Remove.
func (s *Scheduler) Retry(ctx context.Context, id int) (*models.DownloadJob, error) {
	return s.requeue(ctx, id, "retry", models.DownloadStatusFailed, func(job *models.DownloadJob) []string {
		job.Progress = 0
		job.CompletedPages = 0
		job.Speed = 0
		job.Error = nil
		job.CompletedAt = nil
		return []string{"progress", "completed_pages", "speed", "error", "completed_at"}
	})
}

// requeue moves a job in status from back to pending.
func (s *Scheduler) requeue(ctx context.Context, id int, action, from string, reset func(*models.DownloadJob) []string) (*models.DownloadJob, error) {
	s.opMu.Lock()
	job, err := s.service.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
	if err != nil {
		s.opMu.Unlock()
		return nil, err
	}
	if job.Status != from || !CanTransition(job.Status, models.DownloadStatusPending) {
		s.opMu.Unlock()
		return nil, errcodes.InvalidTransition(action, job.Status)
	}

	job.Status = models.DownloadStatusPending
	columns := append([]string{"status"}, reset(job)...)
	err = s.service.UpdateJob(ctx, job, UpdateJobOptions{Columns: columns})
	s.opMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.broadcast(events.TypeDownloadUpdated, job)
	s.kick()
	return job, nil
}

func (s *Scheduler) ListAll(ctx context.Context) ([]*models.DownloadJob, error) {
	return s.service.ListJobs(ctx, ListJobsOptions{})
}

func (s *Scheduler) Retrieve(ctx context.Context, id int) (*models.DownloadJob, error) {
	return s.service.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
}

func (s *Scheduler) broadcast(typ string, job *models.DownloadJob) {
	snapshot := *job
	s.opts.Broadcaster.Broadcast(events.Event{Type: typ, Data: &snapshot})
}

// destinationFor resolves the job's destination against DownloadDir. It
// reports false for a path outside DownloadDir or equal to it.
func (s *Scheduler) destinationFor(job *models.DownloadJob) (string, bool) {
	root := filepath.Clean(s.opts.DownloadDir)
	dest := job.DestinationPath
	if dest == "" {
		dest = job.CatalogID
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(root, dest)
	}
	dest = filepath.Clean(dest)
	if dest == root || !fileutils.IsUnder(dest, root) {
		return "", false
	}
	return dest, true
}

// removeDestination deletes content left by a transfer. Jobs that never
// started, and paths that escaped DownloadDir, are left alone.
func (s *Scheduler) removeDestination(ctx context.Context, job *models.DownloadJob) {
	if job.StartedAt == nil || job.DestinationPath == "" {
		return
	}
	if _, ok := s.destinationFor(job); !ok {
		return
	}
	if err := os.RemoveAll(job.DestinationPath); err != nil {
		logger.FromContext(ctx).Warn("failed to remove partial download", logger.Data{
			"download_id": job.ID,
			"path":        job.DestinationPath,
			"error":       err.Error(),
		})
	}
}
