package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pscheid92/livepoll/internal/auth"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
	"golang.org/x/sync/singleflight"
)

const (
	maxTitleLen      = 255
	maxOptionLen     = 500
	minOptions       = 2
	maxOptions       = 20
	maxNameLen       = 100
	minPasswordLen   = 8
	maxPasswordBytes = 72
	maxSearchLen     = 200

	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Accounts is the identity use-case surface, implemented by auth.Service.
type Accounts interface {
	Register(ctx context.Context, email, name, password string) (*auth.Token, error)
	Login(ctx context.Context, email, password string) (*auth.Token, error)
	Me(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// VoteCaster commits a vote and, separately, reads the counts after it.
// Implemented by voting.Coordinator.
type VoteCaster interface {
	Commit(ctx context.Context, pollID, optionID, userID uuid.UUID) (domain.VoteResult, error)
	Tally(ctx context.Context, pollID, optionID uuid.UUID, result domain.VoteResult) (*domain.VoteOutcome, error)
}

// Service is the application layer. It is the only component that references
// multiple domain components.
type Service struct {
	accounts     Accounts
	polls        domain.PollRepository
	votes        VoteCaster
	publisher    domain.Publisher
	resultsGroup singleflight.Group
	pollLocks    pollLocks
}

func NewService(accounts Accounts, polls domain.PollRepository, votes VoteCaster, publisher domain.Publisher) *Service {
	return &Service{
		accounts:  accounts,
		polls:     polls,
		votes:     votes,
		publisher: publisher,
	}
}

type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

type CreatePollRequest struct {
	Title       string
	Description string
	Options     []string
}

type ListPollsRequest struct {
	Skip   int
	Limit  int
	Search string
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*auth.Token, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	if !validEmail(email) {
		return nil, apperrors.ValidationError("email is invalid").WithField("email", req.Email)
	}
	if name == "" {
		return nil, apperrors.ValidationError("name cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return nil, apperrors.ValidationError(fmt.Sprintf("name exceeds %d characters", maxNameLen))
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLen {
		return nil, apperrors.ValidationError(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if len(req.Password) > maxPasswordBytes {
		return nil, apperrors.ValidationError(fmt.Sprintf("password exceeds %d bytes", maxPasswordBytes))
	}

	return s.accounts.Register(ctx, email, name, req.Password)
}

func (s *Service) Login(ctx context.Context, email, password string) (*auth.Token, error) {
	return s.accounts.Login(ctx, normalizeEmail(email), password)
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.accounts.Me(ctx, userID)
}

// CreatePoll validates and stores a poll, returning it as its owner sees it.
func (s *Service) CreatePoll(ctx context.Context, ownerID uuid.UUID, req CreatePollRequest) (*domain.PollResults, error) {
	if ownerID == uuid.Nil {
		return nil, domain.ErrUnauthenticated
	}

	np, err := validatePoll(ownerID, req)
	if err != nil {
		return nil, err
	}

	poll, err := s.polls.Create(ctx, np)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}

	slog.InfoContext(ctx, "Poll created", "poll_id", poll.ID, "owner_id", ownerID, "options", len(np.Options))
	return s.polls.Results(ctx, poll.ID, ownerID)
}

func validatePoll(ownerID uuid.UUID, req CreatePollRequest) (domain.NewPoll, error) {
	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)

	if title == "" {
		return domain.NewPoll{}, apperrors.ValidationError("title cannot be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return domain.NewPoll{}, apperrors.ValidationError(fmt.Sprintf("title exceeds %d characters", maxTitleLen))
	}
	if description == "" {
		return domain.NewPoll{}, apperrors.ValidationError("description cannot be empty")
	}
	if len(req.Options) < minOptions || len(req.Options) > maxOptions {
		return domain.NewPoll{}, apperrors.ValidationError(fmt.Sprintf("a poll needs between %d and %d options", minOptions, maxOptions)).
			WithField("options", len(req.Options))
	}

	options := make([]string, 0, len(req.Options))
	for i, raw := range req.Options {
		text := strings.TrimSpace(raw)
		if text == "" {
			return domain.NewPoll{}, apperrors.ValidationError("option cannot be empty").WithField("option", i)
		}
		if utf8.RuneCountInString(text) > maxOptionLen {
			return domain.NewPoll{}, apperrors.ValidationError(fmt.Sprintf("option exceeds %d characters", maxOptionLen)).
				WithField("option", i)
		}
		options = append(options, text)
	}

	return domain.NewPoll{
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Options:     options,
	}, nil
}

// ListPolls lists all polls newest first. viewer may be uuid.Nil.
func (s *Service) ListPolls(ctx context.Context, req ListPollsRequest, viewer uuid.UUID) ([]domain.PollResults, error) {
	q, err := pollQuery(req, viewer)
	if err != nil {
		return nil, err
	}
	return s.polls.List(ctx, q)
}

// ListMyPolls lists the polls owned by ownerID.
func (s *Service) ListMyPolls(ctx context.Context, ownerID uuid.UUID, req ListPollsRequest) ([]domain.PollResults, error) {
	if ownerID == uuid.Nil {
		return nil, domain.ErrUnauthenticated
	}

	q, err := pollQuery(req, ownerID)
	if err != nil {
		return nil, err
	}
	q.OwnerID = &ownerID
	return s.polls.List(ctx, q)
}

func pollQuery(req ListPollsRequest, viewer uuid.UUID) (domain.PollQuery, error) {
	if req.Skip < 0 {
		return domain.PollQuery{}, apperrors.ValidationError("skip must not be negative").WithField("skip", req.Skip)
	}
	if req.Limit < 1 || req.Limit > MaxPageLimit {
		return domain.PollQuery{}, apperrors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit)).
			WithField("limit", req.Limit)
	}

	search := strings.TrimSpace(req.Search)
	if utf8.RuneCountInString(search) > maxSearchLen {
		return domain.PollQuery{}, apperrors.ValidationError(fmt.Sprintf("search exceeds %d characters", maxSearchLen))
	}

	return domain.PollQuery{Skip: req.Skip, Limit: req.Limit, Search: search, Viewer: viewer}, nil
}

// GetPoll loads one poll with tallies as viewer sees it.
func (s *Service) GetPoll(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	return s.polls.Results(ctx, pollID, viewer)
}

// Results is GetPoll with concurrent loads for the same poll and viewer
// collapsed into one query.
func (s *Service) Results(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	key := pollID.String() + ":" + viewer.String()
	v, err, shared := s.resultsGroup.Do(key, func() (any, error) {
		return s.polls.Results(context.WithoutCancel(ctx), pollID, viewer)
	})
	metrics.ResultsLoads.WithLabelValues(fmt.Sprint(shared)).Inc()
	if err != nil {
		return nil, err
	}

	// Callers sharing a load each get their own copy.
	res := *v.(*domain.PollResults)
	res.Options = append([]domain.OptionResult(nil), res.Options...)
	return &res, nil
}

// Vote commits the caller's vote and then publishes the new counts exactly
// once. A publish failure is logged and counted; the vote stays committed.
//
// Counts are read and published under a per-poll lock, so updates for one
// poll are published in the order their counts were read and the last one
// reflects every committed vote. The transaction itself runs outside the lock.
func (s *Service) Vote(ctx context.Context, pollID, optionID, userID uuid.UUID) (*domain.VoteOutcome, error) {
	result, err := s.votes.Commit(ctx, pollID, optionID, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.pollLocks.lock(pollID)
	defer unlock()

	outcome, err := s.votes.Tally(ctx, pollID, optionID, result)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, outcome.Update()); err != nil {
		metrics.VotePublishFailures.Inc()
		slog.ErrorContext(ctx, "Failed to publish poll update",
			"poll_id", pollID,
			"option_id", optionID,
			"error", err)
	}

	return outcome, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && len(email) <= 254
}
