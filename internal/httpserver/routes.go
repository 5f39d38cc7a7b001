package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pscheid92/livepoll/internal/platform/correlation"
)

const (
	authRateLimit  = 1
	authRateBurst  = 5
	maxRequestBody = "64K"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(metricsMiddleware())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.BodyLimit(maxRequestBody))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  s.config.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, correlation.Header},
		ExposeHeaders: []string{correlation.Header},
		MaxAge:        600,
	}))

	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.registerHealthRoutes()
	s.registerAuthRoutes()
	s.registerPollRoutes()
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

func (s *Server) registerAuthRoutes() {
	limited := newRateLimiter(authRateLimit, authRateBurst)

	g := s.echo.Group("/auth")
	g.POST("/register", s.handleRegister, limited)
	g.POST("/login", s.handleLogin, limited)
	g.GET("/me", s.handleMe, s.requireUser)
}

func (s *Server) registerPollRoutes() {
	voteLimited := newRateLimiter(s.config.VoteRateLimit, s.config.VoteRateBurst)

	g := s.echo.Group("/polls")
	g.GET("", s.handleListPolls, s.optionalUser)
	g.GET("/", s.handleListPolls, s.optionalUser)
	g.POST("", s.handleCreatePoll, s.requireUser)
	g.POST("/", s.handleCreatePoll, s.requireUser)
	g.GET("/me", s.handleListMyPolls, s.requireUser)
	g.GET("/ws/:id", s.handleWebSocket)
	g.GET("/:id", s.handleGetPoll, s.optionalUser)
	g.GET("/:id/results", s.handleResults, s.optionalUser)
	g.POST("/:id/vote", s.handleVote, s.requireUser, voteLimited)
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":    "livepoll",
		"message": "Live polls API",
	})
}
