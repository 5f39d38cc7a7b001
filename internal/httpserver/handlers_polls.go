package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/app"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

type createPollRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
}

type voteRequest struct {
	OptionID string `json:"option_id"`
}

type voteResponse struct {
	OptionID   uuid.UUID `json:"option_id"`
	VotesCount int64     `json:"votes_count"`
	TotalVotes int64     `json:"total_votes"`
}

func parsePollID(c echo.Context) (uuid.UUID, error) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid poll id").WithField("poll_id", raw)
	}
	return id, nil
}

func parseListRequest(c echo.Context) (app.ListPollsRequest, error) {
	req := app.ListPollsRequest{Limit: app.DefaultPageLimit, Search: c.QueryParam("search")}

	if raw := c.QueryParam("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil {
			return req, apperrors.ValidationError("skip must be an integer").WithField("skip", raw)
		}
		req.Skip = skip
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return req, apperrors.ValidationError("limit must be an integer").WithField("limit", raw)
		}
		req.Limit = limit
	}
	return req, nil
}

func (s *Server) handleListPolls(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return err
	}

	polls, err := s.app.ListPolls(c.Request().Context(), req, currentUser(c))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, polls); err != nil {
		return fmt.Errorf("failed to write polls response: %w", err)
	}
	return nil
}

func (s *Server) handleListMyPolls(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return err
	}

	polls, err := s.app.ListMyPolls(c.Request().Context(), currentUser(c), req)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, polls); err != nil {
		return fmt.Errorf("failed to write polls response: %w", err)
	}
	return nil
}

func (s *Server) handleCreatePoll(c echo.Context) error {
	var req createPollRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	poll, err := s.app.CreatePoll(c.Request().Context(), currentUser(c), app.CreatePollRequest{
		Title:       req.Title,
		Description: req.Description,
		Options:     req.Options,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, poll); err != nil {
		return fmt.Errorf("failed to write poll response: %w", err)
	}
	return nil
}

func (s *Server) handleGetPoll(c echo.Context) error {
	pollID, err := parsePollID(c)
	if err != nil {
		return err
	}

	poll, err := s.app.GetPoll(c.Request().Context(), pollID, currentUser(c))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, poll); err != nil {
		return fmt.Errorf("failed to write poll response: %w", err)
	}
	return nil
}

func (s *Server) handleResults(c echo.Context) error {
	pollID, err := parsePollID(c)
	if err != nil {
		return err
	}

	results, err := s.app.Results(c.Request().Context(), pollID, currentUser(c))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, results); err != nil {
		return fmt.Errorf("failed to write results response: %w", err)
	}
	return nil
}

func (s *Server) handleVote(c echo.Context) error {
	pollID, err := parsePollID(c)
	if err != nil {
		return err
	}

	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	optionID, err := uuid.Parse(req.OptionID)
	if err != nil {
		return apperrors.ValidationError("invalid option id").WithField("option_id", req.OptionID)
	}

	outcome, err := s.app.Vote(c.Request().Context(), pollID, optionID, currentUser(c))
	if err != nil {
		return err
	}

	resp := voteResponse{OptionID: outcome.OptionID, VotesCount: outcome.VotesCount, TotalVotes: outcome.TotalVotes}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write vote response: %w", err)
	}
	return nil
}
