package lead

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hfi/leadguard/internal/audit"
	"github.com/hfi/leadguard/internal/guard"
	"github.com/hfi/leadguard/internal/token"
)

// RouterConfig wires the public API
type RouterConfig struct {
	Verifier       *token.Verifier
	Guard          *guard.Guard
	Sink           Sink
	Auditor        audit.Auditor
	Logger         zerolog.Logger
	AllowedOrigins []string
	FailOpen       bool
}

// NewRouter builds the gin engine serving the lead API
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), Metrics())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	handler := NewHandler(cfg.Sink, cfg.Logger)

	api := router.Group("/api/v1")
	{
		api.POST("/leads", ReplayGuard(cfg.Verifier, cfg.Guard, GuardOptions{
			FailOpen: cfg.FailOpen,
			Auditor:  cfg.Auditor,
			Logger:   cfg.Logger,
		}), handler.Submit)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
