package api

import (
	"context"
	"sync"

	"github.com/crate-audio/crate/internal/api/auth"
	"github.com/crate-audio/crate/internal/api/collections"
	"github.com/crate-audio/crate/internal/api/creators"
	"github.com/crate-audio/crate/internal/api/ingests"
	"github.com/crate-audio/crate/internal/api/jwt"
	"github.com/crate-audio/crate/internal/api/samples"
	"github.com/crate-audio/crate/internal/api/users"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/http/websocket"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

const refreshRoutePath = "/api/crate/v1/auth/refresh/"

type (
	RestConfig struct {
		HostAddr           string `toml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
		AuthTokenSecret    string `toml:"auth_token_secret" env:"API_AUTH_TOKEN_SECRET" env-required:"true"`
		RefreshTokenSecret string `toml:"refresh_token_secret" env:"API_REFRESH_TOKEN_SECRET" env-required:"true"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// dataStore is a union of every controller's store requirements.
	dataStore interface {
		jwt.Store
		users.Store
		collections.Store
		samples.Store
		creators.Store
		collectionStore
		sampleStore
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes Crate exposes, manage ongoing web
	// socket connections and events, and to enforce authc + authz middleware
	// where applicable.
	RestGateway struct {
		*broadcaster
		config               *RestConfig
		ec                   *echo.Echo
		socket               *websocket.SocketHub
		authController       controller
		userController       controller
		collectionController controller
		sampleController     controller
		creatorController    controller
		ingestController     controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all
// the routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	eventBus event.EventCoordinator,
	ingestService ingests.IngestService,
	creatorService creators.CreatorService,
	store dataStore,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	authProvider := jwt.NewJwtAuth(store, refreshRoutePath, []byte(config.AuthTokenSecret), []byte(config.RefreshTokenSecret))
	authenticated := authProvider.ValidateTokenMiddleware()
	adminOnly := authProvider.RequireAdminMiddleware()

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:          newBroadcaster(socket, eventBus, ingestService, store, store),
		config:               config,
		ec:                   ec,
		socket:               socket,
		authController:       auth.New(authProvider, store, jwt.RefreshTokenCookieName),
		userController:       users.NewController(validate, store),
		collectionController: collections.New(validate, authProvider, eventBus, store, adminOnly),
		sampleController:     samples.New(validate, ingestService, store, adminOnly),
		creatorController:    creators.New(creatorService, store),
		ingestController:     ingests.New(ingestService),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/crate/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	authGroup := ec.Group("/api/crate/v1/auth")
	gateway.authController.SetRoutes(authGroup)

	userGroup := ec.Group("/api/crate/v1/users", authenticated, adminOnly)
	gateway.userController.SetRoutes(userGroup)

	collectionGroup := ec.Group("/api/crate/v1/collections", authenticated)
	gateway.collectionController.SetRoutes(collectionGroup)

	sampleGroup := ec.Group("/api/crate/v1/samples", authenticated)
	gateway.sampleController.SetRoutes(sampleGroup)

	creatorGroup := ec.Group("/api/crate/v1/creators", authenticated)
	gateway.creatorController.SetRoutes(creatorGroup)

	ingestGroup := ec.Group("/api/crate/v1/ingests", authenticated)
	gateway.ingestController.SetRoutes(ingestGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
