package auth

import (
	"net/http"

	"github.com/crate-audio/crate/internal/api/jwt"
	"github.com/crate-audio/crate/internal/user"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized)
	log             = logger.Get("AuthController")
)

type (
	Store interface {
		GetUserWithUsernameAndPassword(username []byte, rawPassword []byte) (*user.User, error)
		GetUserWithID(id uuid.UUID) (*user.User, error)
	}

	AuthProvider interface {
		GenerateTokenCookies(userID uuid.UUID) (*http.Cookie, *http.Cookie, error)
		RefreshTokens(allegedRefreshToken string) (*http.Cookie, *http.Cookie, error)
		RevokeTokensInContext(ec echo.Context)
		ValidateTokenMiddleware() echo.MiddlewareFunc
		GetAuthenticatedUserFromContext(ec echo.Context) (*jwt.AuthenticatedUser, error)
	}

	LoginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	Controller struct {
		store        Store
		authProvider AuthProvider

		refreshTokenCookieName string
	}
)

func New(authProvider AuthProvider, store Store, refreshTokenCookieName string) *Controller {
	return &Controller{store, authProvider, refreshTokenCookieName}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/login/", controller.login)
	eg.POST("/refresh/", controller.refresh)
	eg.POST("/logout/", controller.logout, controller.authProvider.ValidateTokenMiddleware())
	eg.GET("/current-user/", controller.currentUser, controller.authProvider.ValidateTokenMiddleware())
}

// login accepts a POST request containing the alleged username and
// password in the body, and:
//   - Asserts that the user with the username provided exists
//   - The provided password is valid
//   - Generates an auth token, and a refresh token, and stores these in
//     the response cookies
func (controller *Controller) login(ec echo.Context) error {
	var request LoginRequest
	if err := ec.Bind(&request); err != nil {
		log.Warnf("Failed to authenticate due to error: %v\n", err)
		return errUnauthorized
	}

	authenticated, err := controller.store.GetUserWithUsernameAndPassword([]byte(request.Username), []byte(request.Password))
	if err != nil {
		log.Warnf("Failed to authenticate due to error: %v\n", err)
		return errUnauthorized
	}

	authCookie, refreshCookie, err := controller.authProvider.GenerateTokenCookies(authenticated.ID)
	if err != nil {
		log.Warnf("Failed to authenticate due to error: %v\n", err)
		return errUnauthorized
	}

	ec.SetCookie(authCookie)
	ec.SetCookie(refreshCookie)
	return ec.JSON(http.StatusOK, authenticated)
}

// refresh allows a client to obtain a new auth and refresh token by
// providing a valid refresh token. The new tokens are stored in the
// response cookies, same as login.
func (controller *Controller) refresh(ec echo.Context) error {
	refreshCookie, err := ec.Cookie(controller.refreshTokenCookieName)
	if err != nil {
		log.Warnf("Failed to refresh: no refresh token cookie present\n")
		return errUnauthorized
	}

	newAuthCookie, newRefreshCookie, err := controller.authProvider.RefreshTokens(refreshCookie.Value)
	if err != nil {
		log.Errorf("Failed to refresh: %s\n", err)
		return errUnauthorized
	}

	ec.SetCookie(newAuthCookie)
	ec.SetCookie(newRefreshCookie)
	return ec.NoContent(http.StatusOK)
}

// logout revokes the tokens in the request cookies so they cannot be
// used again, even before their natural expiry.
func (controller *Controller) logout(ec echo.Context) error {
	controller.authProvider.RevokeTokensInContext(ec)
	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) currentUser(ec echo.Context) error {
	authenticatedUser, err := controller.authProvider.GetAuthenticatedUserFromContext(ec)
	if err != nil {
		log.Errorf("Failed to get current user due to error: %v\n", err)
		return errUnauthorized
	}

	u, err := controller.store.GetUserWithID(authenticatedUser.UserID)
	if err != nil {
		log.Errorf("Failed to get current user due to error: %v\n", err)
		return errUnauthorized
	}

	return ec.JSON(http.StatusOK, u)
}
