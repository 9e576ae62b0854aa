package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/scan"
	"github.com/uptrace/bun"
)

var processID = uuid.NewString()[:8]

// Scanner is the part of scan.Scanner the worker drives.
type Scanner interface {
	Scan(ctx context.Context, root string) (*scan.Result, error)
}

// Worker polls the jobs table and runs queued scan jobs.
type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]func(ctx context.Context, job *models.Job) error

	jobService    *jobs.Service
	jobLogService *joblogs.Service
	scanner       Scanner
	broadcaster   events.Broadcaster

	inFlightMu sync.Mutex
	inFlight   map[int]struct{}

	queue          chan *models.Job
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB, scanner Scanner, broadcaster events.Broadcaster) *Worker {
	if broadcaster == nil {
		broadcaster = events.Discard
	}
	processes := cfg.ScanJobWorkers
	if processes < 1 {
		processes = 1
	}
	cfg.ScanJobWorkers = processes

	w := &Worker{
		config: cfg,
		log:    logger.New().Data(logger.Data{"component": "worker"}),

		jobService:    jobs.NewService(db),
		jobLogService: joblogs.NewService(db),
		scanner:       scanner,
		broadcaster:   broadcaster,

		inFlight: make(map[int]struct{}),

		queue:          make(chan *models.Job, processes),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}, processes),
	}

	w.processFuncs = map[string]func(ctx context.Context, job *models.Job) error{
		models.JobTypeScan: w.ProcessScanJob,
	}

	return w
}

func (w *Worker) Start() {
	go w.fetchJobs()
	for i := 0; i < w.config.ScanJobWorkers; i++ {
		go w.processJobs()
	}
}

func (w *Worker) fetchJobs() {
	duration := w.config.ScanJobPollInterval
	timer := time.NewTimer(0)

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			timer.Stop()
			w.doneFetching <- struct{}{}
			return
		case <-timer.C:
			j, err := w.jobService.ListJobs(context.Background(), jobs.ListJobsOptions{
				Limit:              pointerutil.Int(w.config.ScanJobWorkers),
				Statuses:           []string{models.JobStatusPending, models.JobStatusInProgress},
				ProcessIDToExclude: &processID,
			})
			if err != nil {
				w.log.Err(err).Error("list jobs error")
				timer.Reset(duration)
				continue
			}
			for _, job := range j {
				if !w.claim(job.ID) {
					continue
				}
				select {
				case w.queue <- job:
				case <-w.shutdown:
					w.release(job.ID)
					timer.Stop()
					w.doneFetching <- struct{}{}
					return
				}
			}
			timer.Reset(duration)
		}
	}
}

// claim marks a job as queued in this process so the next poll doesn't queue
// it again before it is marked in progress.
func (w *Worker) claim(id int) bool {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *Worker) release(id int) {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()
	delete(w.inFlight, id)
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.processJob(job)
			w.release(job.ID)
		}
	}
}

func (w *Worker) processJob(job *models.Job) {
	// Prep the context to be passed down to the process function.
	log := w.log.ID(uuid.NewString()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(context.Background())

	// Update job to be in progress and claimed by this process.
	job.Status = models.JobStatusInProgress
	job.ProcessID = &processID

	err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "process_id"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
		return
	}

	// Find and invoke the appropriate process function.
	fn, ok := w.processFuncs[job.Type]
	if !ok {
		log.Error("can't find process function for type")
		w.fail(ctx, job, "unknown job type "+job.Type)
		return
	}
	if err := fn(ctx, job); err != nil {
		w.jobLogService.NewJobLogger(ctx, job.ID).Error("job failed", err, nil)
		w.fail(ctx, job, err.Error())
		return
	}

	// Update job to be completed so that it's not picked up anymore.
	job.Status = models.JobStatusCompleted
	job.Progress = 100

	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "progress"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
	}
}

func (w *Worker) fail(ctx context.Context, job *models.Job, msg string) {
	job.Status = models.JobStatusFailed
	job.Error = &msg
	err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "error"},
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("update job error")
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneFetching
	for i := 0; i < w.config.ScanJobWorkers; i++ {
		<-w.doneProcessing
	}
}
