package creators

import (
	"context"
	"errors"
	"net/http"

	"github.com/crate-audio/crate/internal/creator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		GetCreator(id uuid.UUID) (*creator.Creator, error)
		ListCreators() ([]*creator.Creator, error)
	}

	// CreatorService performs cache-aside profile lookups, reaching out
	// to the upstream profile API when the cached record is stale.
	CreatorService interface {
		GetOrFetchCreator(ctx context.Context, username string) (*creator.Creator, error)
	}

	Controller struct {
		store   Store
		service CreatorService
	}
)

func New(service CreatorService, store Store) *Controller {
	return &Controller{store, service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.GET("/by-username/:username/", controller.getByUsername)
}

// list returns all cached creators, most followed first.
func (controller *Controller) list(ec echo.Context) error {
	creators, err := controller.store.ListCreators()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, creators)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Creator ID is not a valid UUID")
	}

	fetched, err := controller.store.GetCreator(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, fetched)
}

// getByUsername resolves a creator by their platform username, fetching
// the profile from the upstream API if the cached record is missing or
// stale.
func (controller *Controller) getByUsername(ec echo.Context) error {
	username := ec.Param("username")
	if username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Username must be provided")
	}

	fetched, err := controller.service.GetOrFetchCreator(ec.Request().Context(), username)
	if err != nil {
		if errors.Is(err, creator.ErrCreatorUnavailable) {
			return echo.NewHTTPError(http.StatusNotFound, "Creator could not be found or fetched")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, fetched)
}
