package books

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	h := &handler{
		bookService: NewService(db),
	}

	g := e.Group("/books")
	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("/:id", h.update)
	g.GET("/:id/cover", h.cover)
	g.GET("/:id/history", h.history)
	g.POST("/:id/read", h.recordRead)
}
