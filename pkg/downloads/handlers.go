package downloads

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
)

type handler struct {
	scheduler *Scheduler
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListDownloadsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.scheduler.service.ListJobsWithTotal(ctx, ListJobsOptions{
		Statuses: params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Downloads []*models.DownloadJob `json:"downloads"`
		Total     int                   `json:"total"`
		State     Snapshot              `json:"state"`
	}{jobs, total, h.scheduler.State().Snapshot()}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Download")
	}

	job, err := h.scheduler.Retrieve(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) enqueue(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := EnqueuePayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job, err := h.scheduler.Enqueue(ctx, &models.DownloadJob{
		CatalogID:       params.CatalogID,
		Title:           params.Title,
		Artist:          params.Artist,
		ThumbnailURL:    params.ThumbnailURL,
		DestinationPath: params.DestinationPath,
		Priority:        params.Priority,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, job))
}

func (h *handler) pause(c echo.Context) error {
	return h.transition(c, h.scheduler.Pause)
}

func (h *handler) resume(c echo.Context) error {
	return h.transition(c, h.scheduler.Resume)
}

func (h *handler) retry(c echo.Context) error {
	return h.transition(c, h.scheduler.Retry)
}

func (h *handler) transition(c echo.Context, fn func(ctx context.Context, id int) (*models.DownloadJob, error)) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Download")
	}

	job, err := fn(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) remove(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Download")
	}

	if err := h.scheduler.Remove(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}
