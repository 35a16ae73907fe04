package progress

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/medleyhq/medley/pkg/libraries"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB, bus *Bus) {
	h := &handler{
		bus:            bus,
		libraryService: libraries.NewService(db),
	}

	e.GET("/libraries/:id/progress", h.retrieve)
}
