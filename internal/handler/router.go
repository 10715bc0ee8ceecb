package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/scissor-app/scissor/internal/middleware"
	"github.com/scissor-app/scissor/internal/service"
	"go.uber.org/zap"
)

func NewRouter(
	lifecycle service.LifecycleService,
	resolver service.Resolver,
	rateLimiter *middleware.RateLimiter,
	identity gin.HandlerFunc,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("host", c.Request.Host),
			zap.String("ip", c.ClientIP()),
		)
		c.Next()
	})

	mappingHandler := NewMappingHandler(lifecycle, logger)
	redirectHandler := NewRedirectHandler(resolver, logger)

	router.GET("/health", HealthCheck)

	// Management surface: authenticated, limited per account.
	urls := router.Group("/urls")
	urls.Use(identity)
	urls.Use(rateLimiter.MiddlewareWithKey(func(c *gin.Context) string {
		if id, ok := middleware.AccountIDFromContext(c); ok {
			return "account:" + strconv.FormatInt(id, 10)
		}
		return ""
	}))
	{
		urls.POST("/shorten-url", mappingHandler.Shorten)
		urls.GET("/all-urls", mappingHandler.List)
		urls.GET("/deleted-urls", mappingHandler.ListDeleted)
		urls.GET("/restore-url/:id", mappingHandler.Restore)
		urls.GET("/generate-qr-code/:code", mappingHandler.GenerateQR)
		urls.GET("/:code", mappingHandler.Get)
		urls.PUT("/:code", mappingHandler.Update)
		urls.DELETE("/:code", mappingHandler.Delete)
	}

	// Redirects stay unauthenticated; the limiter keys on client IP.
	router.GET("/:code", rateLimiter.Middleware(), redirectHandler.Redirect)

	return router
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
