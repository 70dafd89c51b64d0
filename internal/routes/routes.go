// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"serial-service/internal/config"
	"serial-service/internal/handler"
	"serial-service/internal/middleware"
	"serial-service/internal/utils"
)

// Router mounts the handlers behind the shared middleware chain
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	health    *handler.HealthHandler
	serial    *handler.SerialHandler
	websocket *handler.WebSocketHandler
}

func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	health *handler.HealthHandler,
	serial *handler.SerialHandler,
	websocket *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		health:    health,
		serial:    serial,
		websocket: websocket,
	}
}

// SetupRouter builds the engine. Debug mode is used outside production.
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

// Recovery runs first so panics in later middleware still produce a JSON
// error; request IDs are assigned before logging reads them.
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

}

func (r *Router) addRoutes(router *gin.Engine) {
	r.health.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	r.serial.RegisterRoutes(apiV1)

	r.websocket.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("Routes registered",
		zap.Int("count", len(router.Routes())),
	)
}

// addDocumentationRoutes serves the swagger UI. The API description is
// registered by the docs package.
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
