// Package voting implements the transactional vote write path.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
	"github.com/pscheid92/livepoll/internal/platform/retry"
)

// Coordinator casts votes. It does not broadcast; callers publish the
// returned outcome exactly once.
type Coordinator struct {
	store  domain.VoteStore
	clock  clockwork.Clock
	policy retry.Policy
}

func NewCoordinator(store domain.VoteStore, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		store: store,
		clock: clock,
		// A same-user race resolves on the second attempt: the winner's row is
		// visible and the loser takes the update path.
		policy: retry.Policy{
			MaxAttempts: 2,
			Clock:       clock,
			OnRetry: func(attempt int, err error, _ time.Duration) {
				metrics.VoteConflictRetries.Inc()
				slog.Debug("Retrying vote after conflict", "attempt", attempt, "error", err)
			},
		},
	}
}

// CastVote records userID's choice of optionID on pollID, replacing any
// earlier choice, and returns counts recomputed after commit.
func (c *Coordinator) CastVote(ctx context.Context, pollID, optionID, userID uuid.UUID) (*domain.VoteOutcome, error) {
	result, err := c.Commit(ctx, pollID, optionID, userID)
	if err != nil {
		return nil, err
	}
	return c.Tally(ctx, pollID, optionID, result)
}

// Commit runs the vote transaction, retrying once on a same-user race, and
// reports what it did to the caller's vote row. It reads no counts.
func (c *Coordinator) Commit(ctx context.Context, pollID, optionID, userID uuid.UUID) (domain.VoteResult, error) {
	start := c.clock.Now()
	defer func() { metrics.VoteDuration.Observe(c.clock.Since(start).Seconds()) }()

	if userID == uuid.Nil {
		metrics.VotesTotal.WithLabelValues("rejected").Inc()
		return "", domain.ErrUnauthenticated
	}

	var result domain.VoteResult
	err := retry.DoVoid(ctx, c.policy, retry.OnlyOn(domain.ErrVoteConflict), func(ctx context.Context) error {
		return c.store.WithinTx(ctx, func(tx domain.VoteTx) error {
			var err error
			result, err = apply(ctx, tx, pollID, optionID, userID)
			return err
		})
	})
	if err != nil {
		var permErr *retry.PermanentError
		if errors.As(err, &permErr) {
			err = permErr.Err
		}
		if isRejection(err) {
			metrics.VotesTotal.WithLabelValues("rejected").Inc()
			return "", err
		}
		metrics.VotesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("cast vote: %w", err)
	}

	metrics.VotesTotal.WithLabelValues(string(result)).Inc()
	return result, nil
}

// Tally reads the current counts for optionID and pollID. Counts are read
// after commit, so a Tally sees every vote committed before it started.
func (c *Coordinator) Tally(ctx context.Context, pollID, optionID uuid.UUID, result domain.VoteResult) (*domain.VoteOutcome, error) {
	optionCount, err := c.store.CountVotesForOption(ctx, optionID)
	if err != nil {
		return nil, fmt.Errorf("count option votes: %w", err)
	}
	total, err := c.store.CountVotesForPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("count poll votes: %w", err)
	}

	return &domain.VoteOutcome{
		PollID:     pollID,
		OptionID:   optionID,
		VotesCount: optionCount,
		TotalVotes: total,
		Result:     result,
	}, nil
}

func apply(ctx context.Context, tx domain.VoteTx, pollID, optionID, userID uuid.UUID) (domain.VoteResult, error) {
	if _, err := tx.GetPoll(ctx, pollID); err != nil {
		return "", err
	}

	option, err := tx.GetOption(ctx, optionID)
	if errors.Is(err, domain.ErrOptionNotFound) {
		return "", domain.ErrInvalidOption
	}
	if err != nil {
		return "", err
	}
	if option.PollID != pollID {
		return "", domain.ErrInvalidOption
	}

	existing, err := tx.FindVote(ctx, userID, pollID)
	switch {
	case errors.Is(err, domain.ErrVoteNotFound):
		if _, err := tx.InsertVote(ctx, userID, pollID, optionID); err != nil {
			return "", err
		}
		return domain.VoteCreated, nil
	case err != nil:
		return "", err
	case existing.OptionID == optionID:
		return domain.VoteUnchanged, nil
	default:
		if err := tx.UpdateVoteOption(ctx, existing.ID, optionID); err != nil {
			return "", err
		}
		return domain.VoteChanged, nil
	}
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrPollNotFound) ||
		errors.Is(err, domain.ErrInvalidOption) ||
		errors.Is(err, domain.ErrUnauthenticated)
}
