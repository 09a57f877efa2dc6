package users

import (
	"fmt"
	"net/http"

	"github.com/crate-audio/crate/internal/user"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		CreateUser(username []byte, rawPassword []byte, initialCredits int, isAdmin bool) error
		ListUsers() ([]*user.User, error)
		GetUserWithID(userID uuid.UUID) (*user.User, error)
	}

	CreateRequest struct {
		Username       string `json:"username" validate:"required,min=3,max=64"`
		Password       string `json:"password" validate:"required,min=8"`
		InitialCredits int    `json:"initial_credits" validate:"gte=0"`
		IsAdmin        bool   `json:"is_admin"`
	}

	controller struct {
		store    Store
		validate *validator.Validate
	}
)

func NewController(validate *validator.Validate, store Store) *controller {
	return &controller{store, validate}
}

func (controller *controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
}

func (controller *controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body invalid: %s", err))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Request invalid: %s", err))
	}

	if err := controller.store.CreateUser([]byte(request.Username), []byte(request.Password), request.InitialCredits, request.IsAdmin); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to create user: %s", err))
	}

	return ec.NoContent(http.StatusCreated)
}

func (controller *controller) list(ec echo.Context) error {
	users, err := controller.store.ListUsers()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, users)
}

func (controller *controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "User ID is not a valid UUID")
	}

	fetched, err := controller.store.GetUserWithID(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return ec.JSON(http.StatusOK, fetched)
}
