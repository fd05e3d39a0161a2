package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"spacehub/internal/auth"
	"spacehub/internal/gateway"
	"spacehub/internal/hub"
	"spacehub/internal/middleware"
	"spacehub/internal/space"
)

type Deps struct {
	Registry    *space.Registry
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
	SendBuffer  int
	// WSRateLimit is the number of upgrades allowed per client IP per minute.
	WSRateLimit int
}

// NewRouter builds the HTTP surface. The returned stop func releases the
// background work the router owns and must be called once it stops serving.
func NewRouter(deps Deps) (*gin.Engine, func()) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "spaces": len(deps.Registry.GetAll()), "connections": deps.Hub.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := deps.WSRateLimit
	if limit <= 0 {
		limit = 60
	}
	wsLimiter := middleware.NewRateLimiter(limit, time.Minute)
	ws := &gateway.Handler{
		Registry:   deps.Registry,
		Hub:        deps.Hub,
		SendBuffer: deps.SendBuffer,
		Logger:     deps.Logger.With().Str("component", "gateway").Logger(),
	}
	r.GET("/ws",
		middleware.RateLimitMiddleware(wsLimiter, deps.Logger),
		middleware.RequireAuth(deps.TokenConfig),
		ws.Serve,
	)

	admin := r.Group("/admin")
	admin.Use(middleware.RequireAuth(deps.TokenConfig), middleware.RequireAdmin())
	admin.GET("/dump", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"spaces": deps.Registry.Dump()})
	})

	return r, wsLimiter.Close
}

// requestLogger logs one line per request. Websocket requests are logged
// when the connection ends.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = logger.Error()
		case status >= http.StatusBadRequest:
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
