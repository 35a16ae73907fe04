package media

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/models"
)

type handler struct {
	mediaService *Service
}

func (h *handler) listItems(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListItemsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	items, err := h.mediaService.ListItems(ctx, ListItemsOptions{
		LibraryID:   params.LibraryID,
		ContainerID: params.ContainerID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Items []*models.MediaItem `json:"items"`
	}{items}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieveItem(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Media item")
	}

	item, err := h.mediaService.RetrieveItem(ctx, RetrieveItemOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, item))
}

func (h *handler) listContainers(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListContainersQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	containers, err := h.mediaService.ListContainers(ctx, ListContainersOptions{
		LibraryID: params.LibraryID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Containers []*models.Container `json:"containers"`
	}{containers}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieveContainer(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Container")
	}

	container, err := h.mediaService.RetrieveContainer(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, container))
}
