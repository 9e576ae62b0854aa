package jobs

import (
	"github.com/labstack/echo/v4"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB, cfg *config.Config) {
	h := &handler{
		jobService:  NewService(db),
		libraryPath: cfg.LibraryPath,
	}

	g := e.Group("/scans")
	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("", h.create)
}
