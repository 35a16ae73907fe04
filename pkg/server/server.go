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
	"github.com/uptrace/bun"

	"github.com/medleyhq/medley/pkg/binder"
	"github.com/medleyhq/medley/pkg/config"
	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/jobs"
	"github.com/medleyhq/medley/pkg/libraries"
	"github.com/medleyhq/medley/pkg/media"
	"github.com/medleyhq/medley/pkg/people"
	"github.com/medleyhq/medley/pkg/progress"
)

func New(cfg *config.Config, db *bun.DB, bus *progress.Bus) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	libraries.RegisterRoutes(e, db)
	jobs.RegisterRoutes(e, db)
	media.RegisterRoutes(e, db)
	people.RegisterRoutes(e, db)
	progress.RegisterRoutes(e, db, bus)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

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
