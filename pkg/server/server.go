package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/tankobon/tankobon/pkg/binder"
	"github.com/tankobon/tankobon/pkg/books"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/downloads"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/events"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/uptrace/bun"
)

// Dependencies are the long-lived components the routes drive.
type Dependencies struct {
	Scheduler *downloads.Scheduler
	Hub       *events.Hub
}

// NewHandler builds the echo instance with every route registered.
func NewHandler(cfg *config.Config, db *bun.DB, deps Dependencies) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	books.RegisterRoutes(e, db)
	jobs.RegisterRoutes(e, db, cfg)
	joblogs.RegisterRoutes(e, db)
	if deps.Scheduler != nil {
		downloads.RegisterRoutes(e, deps.Scheduler)
	}
	if deps.Hub != nil {
		events.RegisterRoutes(e, deps.Hub)
	}

	e.RouteNotFound("/*", notFoundHandler)
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	return e, nil
}

func New(cfg *config.Config, db *bun.DB, deps Dependencies) (*http.Server, error) {
	e, err := NewHandler(cfg, db, deps)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
