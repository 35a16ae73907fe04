package progress

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/libraries"
)

type handler struct {
	bus            *Bus
	libraryService *libraries.Service
}

// retrieve returns the most recent scan snapshot for a library. Clients poll
// this until the snapshot's phase is terminal.
func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Library")
	}

	if _, err := h.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: &id}); err != nil {
		return errors.WithStack(err)
	}

	snapshot, ok := h.bus.Latest(id)
	if !ok {
		return errcodes.NotFound("Scan progress")
	}

	return errors.WithStack(c.JSON(http.StatusOK, snapshot))
}
