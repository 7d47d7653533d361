package main

import (
	"github.com/carrental/booking-hold/internal/config"
	"github.com/carrental/booking-hold/internal/handlers"
	"github.com/carrental/booking-hold/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func setupRouter(cfg *config.Config, a *app, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: !containsWildcard(cfg.CORS.AllowedOrigins),
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", handlers.NewHealthHandler(a.db, a.sessions, version).Check)

	v1 := router.Group("/api/v1")
	{
		handlers.NewSessionHandler(a.sessions, logger).RegisterRoutes(v1)

		if a.holds != nil {
			handlers.NewHoldHandler(a.holds, logger).RegisterRoutes(v1)
			v1.POST("/payments/webhook", handlers.NewWebhookHandler(a.relay, logger).HandleWebhook)
		}
	}

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
