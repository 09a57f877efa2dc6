package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/crate-audio/crate/internal/user"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/crate-audio/crate/pkg/sync"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrAuthTokenMissing = errors.New("request does not contain required auth token in cookies")
	ErrAdminRequired    = errors.New("authenticated user does not have administrator rights")

	log = logger.Get("JWT-Auth")
)

const (
	AuthTokenCookieName = "auth-token"
	AuthTokenLifespan   = time.Minute * 30

	RefreshTokenCookieName = "refresh-token"
	RefreshTokenLifespan   = time.Hour * 24 * 30 // 30 days

	userContextKey = "user"
)

type (
	AuthenticatedUser struct {
		UserID  uuid.UUID
		IsAdmin bool
	}

	authTokenClaims struct {
		jwt.RegisteredClaims
		UserID  uuid.UUID `json:"user_id"`
		IsAdmin bool      `json:"is_admin"`
	}

	refreshTokenClaims struct {
		jwt.RegisteredClaims
		UserID uuid.UUID `json:"user_id"`
	}

	Store interface {
		RecordUserLogin(userID uuid.UUID) error
		RecordUserRefresh(userID uuid.UUID) error
		GetUserWithUsernameAndPassword(username []byte, rawPassword []byte) (*user.User, error)
		GetUserWithID(id uuid.UUID) (*user.User, error)
	}

	jwtAuthProvider struct {
		store                  Store
		authTokenSecret        []byte
		refreshTokenSecret     []byte
		refreshTokenCookiePath string

		// Tokens which have been explicitly revoked (for example when a
		// user logs out) live in this set until shortly after their
		// natural expiry, at which point they're cleaned up.
		blacklistedTokens *sync.TypedSyncMap[string, struct{}]

		// Tracks which tokens are currently 'active' for each user so
		// that a user-wide revocation can find them. A token does NOT
		// need to exist here to be valid; entries are cleaned up
		// automatically shortly after expiry.
		userTokens *sync.TypedSyncMap[uuid.UUID, []string]
	}
)

// NewJwtAuth creates an authentication provider which uses JWT tokens to
// authenticate user actions. The Store is used to fetch user information
// during token generation. refreshRoutePath restricts where the browser
// will transmit the refresh token cookie (it should only be sent to the
// server when it's going to be used). The two signing secrets should not
// match, and should be >= 256 bits in size.
func NewJwtAuth(store Store, refreshRoutePath string, authTokenSecret []byte, refreshTokenSecret []byte) *jwtAuthProvider {
	return &jwtAuthProvider{
		store,
		authTokenSecret,
		refreshTokenSecret,
		refreshRoutePath,
		new(sync.TypedSyncMap[string, struct{}]),
		new(sync.TypedSyncMap[uuid.UUID, []string])}
}

// GenerateTokenCookies generates an auth token and a refresh token using
// the appropriate secrets and expiries, returning both as cookies ready
// to be set on the response.
func (auth *jwtAuthProvider) GenerateTokenCookies(userID uuid.UUID) (*http.Cookie, *http.Cookie, error) {
	authToken, authTokenExp, err := auth.generateAccessToken(userID)
	if err != nil {
		return nil, nil, err
	}

	refreshToken, refreshTokenExp, err := auth.generateRefreshToken(userID)
	if err != nil {
		return nil, nil, err
	}

	// Don't block the request waiting for these
	go func() {
		if err := auth.store.RecordUserLogin(userID); err != nil {
			log.Warnf("Failed to record user login for %v: %v\n", userID, err)
		}
		if err := auth.store.RecordUserRefresh(userID); err != nil {
			log.Warnf("Failed to record user refresh for %v: %v\n", userID, err)
		}
	}()

	actual, loaded := auth.userTokens.LoadOrStore(userID, []string{authToken, refreshToken})
	if loaded {
		auth.userTokens.Store(userID, append(actual, authToken, refreshToken))
	}

	auth.scheduleUserTokenCleanup(userID, authToken, authTokenExp)
	auth.scheduleUserTokenCleanup(userID, refreshToken, refreshTokenExp)

	authTokenCookie := createTokenCookie(AuthTokenCookieName, "/", authToken, authTokenExp)
	refreshTokenCookie := createTokenCookie(RefreshTokenCookieName, auth.refreshTokenCookiePath, refreshToken, refreshTokenExp)
	return authTokenCookie, refreshTokenCookie, nil
}

// ValidateTokenMiddleware returns an echo middleware which rejects any
// request that does not carry a valid, unrevoked auth token cookie. On
// success the authenticated user is stored in the request context for
// handlers to extract (see GetAuthenticatedUserFromContext).
func (auth *jwtAuthProvider) ValidateTokenMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			tokenCookie, err := ec.Cookie(AuthTokenCookieName)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(ErrAuthTokenMissing)
			}

			token, err := auth.validateJWT(tokenCookie.Value, auth.authTokenSecret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			claims, ok := token.Claims.(*jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			}

			userID, err := auth.getUserIDFromClaims(*claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			isAdmin := false
			if v, ok := (*claims)["is_admin"].(bool); ok {
				isAdmin = v
			}

			ec.Set(userContextKey, &AuthenticatedUser{UserID: *userID, IsAdmin: isAdmin})
			return next(ec)
		}
	}
}

// RequireAdminMiddleware returns an echo middleware which rejects requests
// from authenticated users without administrator rights. Must be applied
// after ValidateTokenMiddleware.
func (auth *jwtAuthProvider) RequireAdminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			authenticatedUser, err := auth.GetAuthenticatedUserFromContext(ec)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			if !authenticatedUser.IsAdmin {
				log.Warnf("User %s attempted to access admin-only route %s\n", authenticatedUser.UserID, ec.Request().RequestURI)
				return echo.NewHTTPError(http.StatusForbidden, http.StatusText(http.StatusForbidden)).SetInternal(ErrAdminRequired)
			}

			return next(ec)
		}
	}
}

// GetAuthenticatedUserFromContext extracts the user ID and admin flag
// from the context of a request which has passed through the validation
// middleware.
func (auth *jwtAuthProvider) GetAuthenticatedUserFromContext(ec echo.Context) (*AuthenticatedUser, error) {
	u, ok := ec.Get(userContextKey).(*AuthenticatedUser)
	if !ok {
		return nil, errors.New("no user found in request context")
	}

	return u, nil
}

// RevokeTokensInContext revokes the auth and refresh token in this
// request context, assuming they are provided. A missing token/cookie
// is ignored.
func (auth *jwtAuthProvider) RevokeTokensInContext(ec echo.Context) {
	if cookie, err := ec.Cookie(AuthTokenCookieName); err == nil && cookie != nil {
		auth.revokeToken(cookie.Value)
	}
	if cookie, err := ec.Cookie(RefreshTokenCookieName); err == nil && cookie != nil {
		auth.revokeToken(cookie.Value)
	}
}

// RevokeAllForUser finds all the tokens granted to the specified user and
// revokes them (if any), requiring the user to log in again on all of
// their devices.
func (auth *jwtAuthProvider) RevokeAllForUser(userID uuid.UUID) error {
	grantedTokens, ok := auth.userTokens.Load(userID)
	if !ok || len(grantedTokens) == 0 {
		return nil
	}

	for _, granted := range grantedTokens {
		auth.revokeToken(granted)
	}

	return nil
}

// RefreshTokens generates new auth and refresh token cookies IF the
// provided refresh token is valid.
func (auth *jwtAuthProvider) RefreshTokens(allegedRefreshToken string) (*http.Cookie, *http.Cookie, error) {
	token, err := auth.validateJWT(allegedRefreshToken, auth.refreshTokenSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refresh: %w", err)
	}

	claims := token.Claims.(*jwt.MapClaims)
	userID, err := auth.getUserIDFromClaims(*claims)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refresh: %w", err)
	}

	return auth.GenerateTokenCookies(*userID)
}

// validateJWT ensures that the provided token is:
//   - signed using the same secret/algorithm as we expect
//   - contains a valid userID
//   - not expired
//   - not blacklisted
func (auth *jwtAuthProvider) validateJWT(token string, secret []byte) (*jwt.Token, error) {
	tokenClaims := &jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(
		token,
		tokenClaims,
		func(token *jwt.Token) (interface{}, error) { return secret, nil },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	if tkn == nil || !tkn.Valid {
		return nil, errors.New("failed to verify JWT: token is expired or invalid")
	}

	if _, err := auth.getUserIDFromClaims(*tokenClaims); err != nil {
		return nil, fmt.Errorf("failed to extract userID from JWT: %w", err)
	}

	if _, ok := auth.blacklistedTokens.Load(token); ok {
		return nil, errors.New("failed to verify JWT: token has been revoked")
	}

	return tkn, nil
}

// generateAccessToken generates a short-term token which authenticates
// against protected API endpoints. The token carries the user's admin
// flag at the time of generation so the server can restrict access to
// administrative endpoints without a DB round-trip.
//
// (Shortly) before this token expires, the client is expected to refresh
// their tokens using their refresh token.
func (auth *jwtAuthProvider) generateAccessToken(userID uuid.UUID) (string, time.Time, error) {
	fetched, err := auth.store.GetUserWithID(userID)
	if err != nil {
		return "", time.Now(), fmt.Errorf("failed to fetch user %s during auth token generation: %w", userID, err)
	}

	exp := time.Now().Add(AuthTokenLifespan)
	claims := &authTokenClaims{
		UserID:           userID,
		IsAdmin:          fetched.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}

	token, err := generateToken(claims, auth.authTokenSecret)
	if err != nil {
		return "", time.Now(), fmt.Errorf("failed to generate auth token: %w", err)
	}

	return token, exp, nil
}

// generateRefreshToken generates a long-life token which the client can
// use to mint more auth tokens.
func (auth *jwtAuthProvider) generateRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	_, err := auth.store.GetUserWithID(userID)
	if err != nil {
		return "", time.Now(), fmt.Errorf("failed to fetch user %s during refresh token generation: %w", userID, err)
	}

	exp := time.Now().Add(RefreshTokenLifespan)
	claims := &refreshTokenClaims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	}

	token, err := generateToken(claims, auth.refreshTokenSecret)
	if err != nil {
		return "", time.Now(), fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return token, exp, nil
}

// scheduleUserTokenCleanup removes the specified token from the user's
// token map shortly after it expires, keeping the map from growing
// without bound.
func (auth *jwtAuthProvider) scheduleUserTokenCleanup(userID uuid.UUID, token string, expiry time.Time) {
	until := time.Until(expiry.Add(time.Second * 5))
	log.Debugf("Scheduling cleanup of a token for user %s in %s\n", userID, until)

	time.AfterFunc(until, func() {
		log.Debugf("Cleaning up token for user %s as it has expired (~5 seconds ago)\n", userID)

		// An expired token will no longer be accepted anyway, so it can
		// leave the blacklist and the user token mapping.
		auth.blacklistedTokens.Delete(token)

		userTokens, ok := auth.userTokens.Load(userID)
		if ok && len(userTokens) > 0 {
			newUserTokens := slices.DeleteFunc(userTokens, func(tk string) bool { return tk == token })
			auth.userTokens.Store(userID, newUserTokens)
		}
	})
}

func (auth *jwtAuthProvider) getUserIDFromClaims(claims jwt.MapClaims) (*uuid.UUID, error) {
	if userID, ok := claims["user_id"]; ok {
		idStr, ok := userID.(string)
		if !ok {
			return nil, errors.New("failed to extract user ID from JWT claims: not a string")
		}

		if id, err := uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("failed to extract user ID from JWT claims: %w", err)
		} else {
			return &id, nil
		}
	} else {
		return nil, errors.New("failed to extract user ID from JWT claims: missing")
	}
}

func (auth *jwtAuthProvider) revokeToken(token string) {
	auth.blacklistedTokens.Store(token, struct{}{})
}

func createTokenCookie(name string, path string, token string, expiration time.Time) *http.Cookie {
	cookie := new(http.Cookie)
	cookie.Name = name
	cookie.Value = token
	cookie.Expires = expiration
	cookie.Path = path
	cookie.HttpOnly = true

	return cookie
}

func generateToken(claims jwt.Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
