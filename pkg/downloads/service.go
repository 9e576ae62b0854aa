package downloads

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveJobOptions struct {
	ID *int
}

type ListJobsOptions struct {
	Limit    *int
	Offset   *int
	Statuses []string

	includeTotal bool
}

type UpdateJobOptions struct {
	Columns []string
}

// Service is the persistent store behind the download queue. It enforces no
// state machine rules of its own; the Scheduler does that.
type Service struct {
	db bun.IDB
}

func NewService(db bun.IDB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJob(ctx context.Context, job *models.DownloadJob) error {
	if job.AddedAt.IsZero() {
		job.AddedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = models.DownloadStatusPending
	}

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.DownloadJob, error) {
	job := &models.DownloadJob{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("dj.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Download")
		}
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *Service) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.DownloadJob, error) {
	j, _, err := svc.listJobsWithTotal(ctx, opts)
	return j, errors.WithStack(err)
}

func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.DownloadJob, int, error) {
	opts.includeTotal = true
	return svc.listJobsWithTotal(ctx, opts)
}

func (svc *Service) listJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.DownloadJob, int, error) {
	jobs := []*models.DownloadJob{}
	var total int
	var err error

	q := queueOrder(svc.db.
		NewSelect().
		Model(&jobs))

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("dj.status IN (?)", bun.In(opts.Statuses))
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return jobs, total, nil
}

// queueOrder sorts by priority, then by insertion.
func queueOrder(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Order("dj.priority DESC").
		Order("dj.added_at ASC").
		Order("dj.id ASC")
}

// NextPending returns the pending job the drain loop should run next, or nil
// when nothing is pending.
func (svc *Service) NextPending(ctx context.Context) (*models.DownloadJob, error) {
	jobs := []*models.DownloadJob{}
	err := queueOrder(svc.db.
		NewSelect().
		Model(&jobs).
		Where("dj.status = ?", models.DownloadStatusPending)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// FindOpenByCatalogID returns the job for catalogID that hasn't completed
// yet, or nil if there isn't one.
func (svc *Service) FindOpenByCatalogID(ctx context.Context, catalogID string) (*models.DownloadJob, error) {
	jobs := []*models.DownloadJob{}
	err := svc.db.
		NewSelect().
		Model(&jobs).
		Where("dj.catalog_id = ?", catalogID).
		Where("dj.status != ?", models.DownloadStatusCompleted).
		Order("dj.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

func (svc *Service) UpdateJob(ctx context.Context, job *models.DownloadJob, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	res, err := svc.db.
		NewUpdate().
		Model(job).
		Column(opts.Columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errcodes.NotFound("Download")
	}

	return nil
}

func (svc *Service) DeleteJob(ctx context.Context, id int) error {
	res, err := svc.db.
		NewDelete().
		Model((*models.DownloadJob)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errcodes.NotFound("Download")
	}
	return nil
}

// ResetDownloading moves every downloading job back to pending and returns
// how many there were.
func (svc *Service) ResetDownloading(ctx context.Context) (int, error) {
	res, err := svc.db.
		NewUpdate().
		Model((*models.DownloadJob)(nil)).
		Set("status = ?", models.DownloadStatusPending).
		Set("speed = 0").
		Where("status = ?", models.DownloadStatusDownloading).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(n), nil
}
