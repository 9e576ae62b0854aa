package jobs

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/binder"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/fileutils"
	"github.com/tankobon/tankobon/pkg/models"
)

type handler struct {
	jobService  *Service
	libraryPath string
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// An empty body scans the whole library.
	c.Set(binder.DisallowEmptyBodyKey, false)

	// Bind params.
	params := CreateScanPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	path := filepath.Clean(h.libraryPath)
	if params.Path != "" {
		path = params.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(h.libraryPath, path)
		}
		path = filepath.Clean(path)
		if !fileutils.IsUnder(path, h.libraryPath) {
			return errcodes.ValidationError("path must be inside the library.")
		}
	}

	hasActive, err := h.jobService.HasActiveScan(ctx, path)
	if err != nil {
		return errors.WithStack(err)
	}
	if hasActive {
		return errcodes.Conflict("A scan of this path is already running or pending.")
	}

	job := &models.Job{
		Type:       models.JobTypeScan,
		Status:     models.JobStatusPending,
		DataParsed: &models.JobScanData{Path: path},
	}

	if err := h.jobService.CreateJob(ctx, job); err != nil {
		return errors.WithStack(err)
	}

	job, err = h.jobService.RetrieveJob(ctx, RetrieveJobOptions{
		ID: &job.ID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, job))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Job")
	}

	job, err := h.jobService.RetrieveJob(ctx, RetrieveJobOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.jobService.ListJobsWithTotal(ctx, ListJobsOptions{
		Limit:       &params.Limit,
		Offset:      &params.Offset,
		Statuses:    params.Status,
		NewestFirst: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Jobs  []*models.Job `json:"jobs"`
		Total int           `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
