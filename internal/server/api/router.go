package api

import (
	"filedrop/internal/server/config"
	"filedrop/internal/server/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Disposition"},
	}))
	e.Use(RequestLogger())
	e.Use(m.Middleware())

	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	uploadSlots := NewConcurrencyLimiter(cfg.MaxConcurrentUploads)

	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	e.GET("/files", handler.HandleList)
	e.POST("/files", handler.HandleUpload, uploadLimiter.Middleware(), uploadSlots.Middleware())
	e.GET("/files/:id/download", handler.HandleDownload)

	return e
}
