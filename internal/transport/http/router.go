package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterConfig carries the HTTP-facing settings.
type RouterConfig struct {
	Mode           string
	AllowedOrigins []string
}

// NewRouter mounts the REST API, the websocket endpoint and health checks.
func NewRouter(sessions Sessions, log zerolog.Logger, cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	setupValidator()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(log))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	sessionHandler := NewSessionHandler(sessions, log)
	api := router.Group("/api/v1/sessions")
	{
		api.POST("", sessionHandler.Start)
		api.POST("/:token/answers", sessionHandler.SubmitAnswer)
		api.GET("/:token/progress", sessionHandler.Progress)
		api.POST("/:token/finish", sessionHandler.Finish)
		api.POST("/:token/abandon", sessionHandler.Abandon)
	}

	ws := NewWSHandler(sessions, log, cfg.AllowedOrigins)
	router.GET("/ws", gin.WrapF(ws.ServeWS))

	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, ErrNotFound, nil)
	})
	return router
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString(contextKeyRequestID)).
			Msg("request")
	}
}
