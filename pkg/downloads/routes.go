package downloads

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, scheduler *Scheduler) {
	h := &handler{
		scheduler: scheduler,
	}

	g := e.Group("/downloads")
	g.GET("", h.list)
	g.POST("", h.enqueue)
	g.GET("/:id", h.retrieve)
	g.DELETE("/:id", h.remove)
	g.POST("/:id/pause", h.pause)
	g.POST("/:id/resume", h.resume)
	g.POST("/:id/retry", h.retry)
}
