package collections

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/crate-audio/crate/internal/api/jwt"
	"github.com/crate-audio/crate/internal/collection"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/user"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("CollectionsController")

type (
	Store interface {
		CreateCollectionWithItems(ownerID uuid.UUID, sourceURLs []string) (*collection.Collection, error)
		GetCollection(id uuid.UUID) (*collection.Collection, error)
		ListCollectionsForOwner(ownerID uuid.UUID) ([]*collection.Collection, error)
		ResetCollection(id uuid.UUID) (*collection.Collection, error)
	}

	AuthProvider interface {
		GetAuthenticatedUserFromContext(ec echo.Context) (*jwt.AuthenticatedUser, error)
	}

	SubmitRequest struct {
		SourceURLs []string `json:"source_urls" validate:"required,min=1,max=200,dive,url"`
	}

	Controller struct {
		store        Store
		authProvider AuthProvider
		eventBus     event.EventDispatcher
		validate     *validator.Validate
		adminOnly    echo.MiddlewareFunc
	}
)

func New(validate *validator.Validate, authProvider AuthProvider, eventBus event.EventDispatcher, store Store, adminOnly echo.MiddlewareFunc) *Controller {
	return &Controller{store, authProvider, eventBus, validate, adminOnly}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.submit)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.POST("/:id/reset/", controller.reset, controller.adminOnly)
}

// submit creates a new collection from the video URLs in the request
// body, debiting the authenticated user one credit per URL. The
// persisted collection is announced on the event bus, which hands it to
// the collection service for sequential ingestion.
func (controller *Controller) submit(ec echo.Context) error {
	authenticatedUser, err := controller.authProvider.GetAuthenticatedUserFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	var request SubmitRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body invalid: %s", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request invalid: %s", err))
	}

	created, err := controller.store.CreateCollectionWithItems(authenticatedUser.UserID, request.SourceURLs)
	if err != nil {
		if errors.Is(err, user.ErrInsufficientCredit) {
			return echo.NewHTTPError(http.StatusPaymentRequired, "Insufficient credits for this submission")
		}

		log.Errorf("Failed to create collection: %v\n", err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	controller.eventBus.Dispatch(event.CollectionSubmittedEvent, created.ID)
	return ec.JSON(http.StatusCreated, created)
}

// list returns the authenticated user's collections, newest first.
func (controller *Controller) list(ec echo.Context) error {
	authenticatedUser, err := controller.authProvider.GetAuthenticatedUserFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	collections, err := controller.store.ListCollectionsForOwner(authenticatedUser.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, collections)
}

// get returns the collection with the given ID. Non-admin users may
// only view their own collections.
func (controller *Controller) get(ec echo.Context) error {
	authenticatedUser, err := controller.authProvider.GetAuthenticatedUserFromContext(ec)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}

	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Collection ID is not a valid UUID")
	}

	fetched, err := controller.store.GetCollection(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	if fetched.OwnerID != authenticatedUser.UserID && !authenticatedUser.IsAdmin {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, fetched)
}

// reset returns an errored collection to pending with its progress
// zeroed, refunding the owner for the unprocessed remainder, and
// re-announces it for processing. Admin only.
func (controller *Controller) reset(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Collection ID is not a valid UUID")
	}

	reset, err := controller.store.ResetCollection(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to reset collection: %s", err))
	}

	controller.eventBus.Dispatch(event.CollectionSubmittedEvent, reset.ID)
	return ec.JSON(http.StatusOK, reset)
}
