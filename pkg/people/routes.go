package people

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	h := &handler{
		personService: NewService(db),
	}

	e.GET("/persons", h.list)
	e.GET("/persons/:id", h.retrieve)
}
