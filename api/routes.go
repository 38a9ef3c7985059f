package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/api/handlers"
	"github.com/customeros/imagestack/api/middleware"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/services"
)

const (
	APIKeyHeader     = "X-IMAGESTACK-API-KEY"
	APIKeyQueryParam = "api_key"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, log logger.Logger, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	apiHandlers := handlers.InitHandlers(s, log)

	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  APIKeyHeader,
		QueryParam:  APIKeyQueryParam,
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		inbound := api.Group("/inbound")
		{
			inbound.POST("", apiHandlers.Inbound.Receive())
			inbound.POST("/sns", apiHandlers.Inbound.ReceiveSNS())
		}

		api.POST("/archiver/run", apiHandlers.Archiver.Run())
		api.POST("/inbox/poll", apiHandlers.Inbox.Poll())

		properties := api.Group("/properties")
		{
			properties.GET("", apiHandlers.Properties.List())
			properties.GET("/:id", apiHandlers.Properties.Get())
		}

		api.GET("/blobs/*key", apiHandlers.Blobs.Get())
	}
}
