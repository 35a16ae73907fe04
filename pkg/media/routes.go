package media

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB) {
	h := &handler{
		mediaService: NewService(db),
	}

	e.GET("/items", h.listItems)
	e.GET("/items/:id", h.retrieveItem)
	e.GET("/containers", h.listContainers)
	e.GET("/containers/:id", h.retrieveContainer)
}
