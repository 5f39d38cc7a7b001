package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/livepoll/internal/domain"
)

const voteColumns = `id, user_id, poll_id, option_id, created_at, updated_at`

// VoteStore runs vote transactions. Transactions for the same (user, poll)
// pair are serialized with a transaction-scoped advisory lock taken in
// FindVote; the votes_user_poll_key constraint backs this up.
type VoteStore struct {
	pool *pgxpool.Pool
}

var _ domain.VoteStore = (*VoteStore)(nil)

func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

func (s *VoteStore) WithinTx(ctx context.Context, fn func(tx domain.VoteTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin vote transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&voteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if pgErrorCode(err) == uniqueViolation {
			return domain.ErrVoteConflict
		}
		return fmt.Errorf("failed to commit vote: %w", err)
	}
	return nil
}

func (s *VoteStore) CountVotesForOption(ctx context.Context, optionID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `-- name: CountVotesForOption
		SELECT COUNT(*) FROM votes WHERE option_id = $1`, optionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count option votes: %w", err)
	}
	return n, nil
}

func (s *VoteStore) CountVotesForPoll(ctx context.Context, pollID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `-- name: CountVotesForPoll
		SELECT COUNT(*) FROM votes WHERE poll_id = $1`, pollID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count poll votes: %w", err)
	}
	return n, nil
}

type voteTx struct {
	tx pgx.Tx
}

func (t *voteTx) GetPoll(ctx context.Context, pollID uuid.UUID) (*domain.Poll, error) {
	p, err := scanPoll(t.tx.QueryRow(ctx, `-- name: VoteGetPoll
		SELECT `+pollColumns+` FROM polls WHERE id = $1`, pollID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}
	return p, nil
}

func (t *voteTx) GetOption(ctx context.Context, optionID uuid.UUID) (*domain.Option, error) {
	var o domain.Option
	err := t.tx.QueryRow(ctx, `-- name: VoteGetOption
		SELECT id, poll_id, text, position FROM options WHERE id = $1`, optionID).
		Scan(&o.ID, &o.PollID, &o.Text, &o.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get option: %w", err)
	}
	return &o, nil
}

// FindVote locks the (user, poll) pair until the transaction ends, then reads
// the current vote.
func (t *voteTx) FindVote(ctx context.Context, userID, pollID uuid.UUID) (*domain.Vote, error) {
	if _, err := t.tx.Exec(ctx, `-- name: LockUserPoll
		SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`,
		userID.String(), pollID.String()); err != nil {
		return nil, fmt.Errorf("failed to lock vote: %w", err)
	}

	var v domain.Vote
	err := t.tx.QueryRow(ctx, `-- name: FindVote
		SELECT `+voteColumns+` FROM votes WHERE user_id = $1 AND poll_id = $2`, userID, pollID).
		Scan(&v.ID, &v.UserID, &v.PollID, &v.OptionID, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrVoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find vote: %w", err)
	}
	return &v, nil
}

func (t *voteTx) InsertVote(ctx context.Context, userID, pollID, optionID uuid.UUID) (*domain.Vote, error) {
	var v domain.Vote
	err := t.tx.QueryRow(ctx, `-- name: InsertVote
		INSERT INTO votes (id, user_id, poll_id, option_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+voteColumns,
		uuid.New(), userID, pollID, optionID).
		Scan(&v.ID, &v.UserID, &v.PollID, &v.OptionID, &v.CreatedAt, &v.UpdatedAt)

	switch pgErrorCode(err) {
	case uniqueViolation:
		return nil, domain.ErrVoteConflict
	case foreignKeyViolation:
		// A valid token can outlive its user, e.g. after a database reset.
		if pgConstraint(err) == votesUserForeignKey {
			return nil, domain.ErrUnauthenticated
		}
		return nil, domain.ErrInvalidOption
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert vote: %w", err)
	}
	return &v, nil
}

func (t *voteTx) UpdateVoteOption(ctx context.Context, voteID, optionID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `-- name: UpdateVoteOption
		UPDATE votes SET option_id = $2, updated_at = NOW() WHERE id = $1`, voteID, optionID)
	if pgErrorCode(err) == foreignKeyViolation {
		return domain.ErrInvalidOption
	}
	if err != nil {
		return fmt.Errorf("failed to update vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVoteNotFound
	}
	return nil
}
