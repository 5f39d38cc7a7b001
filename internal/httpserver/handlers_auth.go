package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/app"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	token, err := s.app.Register(c.Request().Context(), app.RegisterRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, token); err != nil {
		return fmt.Errorf("failed to write register response: %w", err)
	}
	return nil
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.ValidationError("email and password are required")
	}

	token, err := s.app.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, token); err != nil {
		return fmt.Errorf("failed to write login response: %w", err)
	}
	return nil
}

func (s *Server) handleMe(c echo.Context) error {
	user, err := s.app.Me(c.Request().Context(), currentUser(c))
	if err != nil {
		return err
	}

	resp := userResponse{ID: user.ID, Email: user.Email, Name: user.Name, CreatedAt: user.CreatedAt}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write user response: %w", err)
	}
	return nil
}
