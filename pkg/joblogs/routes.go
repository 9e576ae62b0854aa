package joblogs

import (
	"github.com/labstack/echo/v4"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	h := &handler{
		jobLogService: NewService(db),
		jobService:    jobs.NewService(db),
	}

	e.GET("/scans/:id/logs", h.list)
}
