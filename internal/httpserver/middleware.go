package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
	"github.com/pscheid92/livepoll/internal/platform/correlation"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

const contextKeyUserID = "userID"

// correlationMiddleware adopts a sane inbound X-Request-ID or mints one, puts
// it on the request context for logging and echoes it in the response.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
			req := c.Request()
			c.SetRequest(req.WithContext(correlation.WithID(req.Context(), id)))
			c.Response().Header().Set(correlation.Header, id)
			return next(c)
		}
	}
}

// metricsMiddleware records request counts and latency by route pattern.
// It skips /metrics and /health/* endpoints.
func metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "/metrics" || strings.HasPrefix(route, "/health") {
				return next(c)
			}
			if route == "" {
				route = "unmatched"
			}

			start := time.Now()
			err := next(c)

			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)
			metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ErrorHandlingMiddleware turns handler errors into JSON error responses.
// Domain errors are mapped to structured errors first; framework HTTP errors
// keep their status code.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			if c.Response().Committed {
				slog.WarnContext(c.Request().Context(), "Error after response was committed",
					"path", c.Request().URL.Path, "error", err)
				return nil
			}

			status, structuredErr := toStructured(err)
			metrics.HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
			logError(c, status, structuredErr)

			if err := c.JSON(status, structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func toStructured(err error) (int, *apperrors.Error) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			message = msg
		}
		return httpErr.Code, apperrors.FromStatus(httpErr.Code, message).WithCause(httpErr.Internal)
	}

	structuredErr := fromDomain(err)
	return structuredErr.HTTPStatus(), structuredErr
}

func fromDomain(err error) *apperrors.Error {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return apperrors.UnauthorizedError("authentication required").WithCause(err)
	case errors.Is(err, domain.ErrInvalidCredentials):
		return apperrors.UnauthorizedError("incorrect email or password")
	case errors.Is(err, domain.ErrUserNotFound):
		return apperrors.UnauthorizedError("user no longer exists")
	case errors.Is(err, domain.ErrEmailTaken):
		return apperrors.ConflictError("email already registered")
	case errors.Is(err, domain.ErrPollNotFound):
		return apperrors.NotFoundError("poll not found")
	case errors.Is(err, domain.ErrInvalidOption), errors.Is(err, domain.ErrOptionNotFound):
		return apperrors.ValidationError("invalid option for this poll")
	case errors.Is(err, domain.ErrVoteConflict):
		return apperrors.ConflictError("vote conflicted with a concurrent vote, please retry").WithCause(err)
	}
	return apperrors.AsStructuredError(err)
}

func logError(c echo.Context, status int, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", status,
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if userID, ok := c.Get(contextKeyUserID).(uuid.UUID); ok {
		attrs = append(attrs, "user_id", userID)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeUnauthorized:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeConflict, apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Request refused", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// requireUser rejects requests without a valid bearer token.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := s.identity.CurrentUserID(bearerToken(c.Request()))
		if err != nil {
			c.Response().Header().Set("WWW-Authenticate", "Bearer")
			return err
		}
		c.Set(contextKeyUserID, userID)
		return next(c)
	}
}

// optionalUser identifies the caller when a valid token is present and
// otherwise continues anonymously.
func (s *Server) optionalUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := bearerToken(c.Request()); token != "" {
			if userID, err := s.identity.CurrentUserID(token); err == nil {
				c.Set(contextKeyUserID, userID)
			}
		}
		return next(c)
	}
}

// currentUser returns the caller's id, or uuid.Nil for anonymous requests.
func currentUser(c echo.Context) uuid.UUID {
	userID, _ := c.Get(contextKeyUserID).(uuid.UUID)
	return userID
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get(echo.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
