package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/magda-bebop/internal/api/handlers"
	apimiddleware "github.com/Conceptual-Machines/magda-bebop/internal/api/middleware"
	"github.com/Conceptual-Machines/magda-bebop/internal/builder"
	"github.com/Conceptual-Machines/magda-bebop/internal/config"
	"github.com/Conceptual-Machines/magda-bebop/internal/metrics"
	"github.com/Conceptual-Machines/magda-bebop/internal/middleware"
	"github.com/Conceptual-Machines/magda-bebop/internal/services"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

// Deps are the services the router exposes. DB and History are nil when no
// database is configured; Recorder may be nil.
type Deps struct {
	Builder  *builder.Service
	Sessions *solo.Manager
	DB       *gorm.DB
	History  *services.HistoryService
	Recorder *metrics.Recorder
}

func SetupRouter(deps Deps, cfg *config.Config, version string) *gin.Engine {
	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking(deps.Recorder))

	router.Use(apimiddleware.CORS())

	store := deps.Builder.Store()

	healthHandler := handlers.NewHealthHandler(store, deps.DB)
	router.GET("/health", healthHandler.HealthCheck)

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	metricsHandler := handlers.NewMetricsHandler(version, store, deps.Sessions)
	router.GET("/api/metrics", metricsHandler.GetMetrics)

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(cfg))
	{
		var history handlers.BuildHistory
		if deps.History != nil {
			history = deps.History
		}
		databaseHandler := handlers.NewDatabaseHandler(deps.Builder, cfg.MIDISourceDir, history)
		v1.GET("/database", databaseHandler.Info)
		v1.POST("/database/query", databaseHandler.Query)
		v1.GET("/database/builds", databaseHandler.Builds)

		// Rebuilding swaps the index under every session
		admin := v1.Group("/database")
		admin.Use(middleware.AdminRequired())
		admin.POST("/build", databaseHandler.Build)
		admin.DELETE("", databaseHandler.Clear)

		modeHandler := handlers.NewModeHandler(deps.Sessions)
		v1.GET("/mode", modeHandler.GetMode)
		v1.PUT("/mode", modeHandler.SetMode)
		v1.GET("/preferences", modeHandler.GetPreferences)
		v1.PUT("/preferences", modeHandler.UpdatePreferences)
		v1.DELETE("/preferences", modeHandler.ResetPreferences)

		sessionHandler := handlers.NewSessionHandler(deps.Sessions, cfg.Solo)
		sessions := v1.Group("/sessions")
		sessions.POST("", sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.DELETE("/:id", sessionHandler.Delete)
		sessions.POST("/:id/chords", sessionHandler.Chord)
		sessions.POST("/:id/tick", sessionHandler.Tick)
		sessions.GET("/:id/notes", sessionHandler.Notes)
		sessions.GET("/:id/render", sessionHandler.Render)
		sessions.PUT("/:id/tempo", sessionHandler.Tempo)
		sessions.POST("/:id/rate", sessionHandler.Rate)
		sessions.POST("/:id/skip", sessionHandler.Skip)
		sessions.POST("/:id/repeat", sessionHandler.Repeat)
	}

	return router
}

func authMiddleware(cfg *config.Config) gin.HandlerFunc {
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		return middleware.JWTAuth(cfg)
	case config.AuthModeGateway:
		return apimiddleware.GatewayAuth()
	default:
		return apimiddleware.NoAuth()
	}
}
