package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/livepoll/internal/domain"
)

const pollColumns = `id, owner_id, title, description, created_at`

type PollRepo struct {
	pool *pgxpool.Pool
}

var _ domain.PollRepository = (*PollRepo)(nil)

func NewPollRepo(pool *pgxpool.Pool) *PollRepo {
	return &PollRepo{pool: pool}
}

func scanPoll(row pgx.Row) (*domain.Poll, error) {
	var p domain.Poll
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts the poll and its options in one transaction.
func (r *PollRepo) Create(ctx context.Context, np domain.NewPoll) (*domain.Poll, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	poll, err := scanPoll(tx.QueryRow(ctx, `-- name: CreatePoll
		INSERT INTO polls (id, owner_id, title, description)
		VALUES ($1, $2, $3, $4)
		RETURNING `+pollColumns,
		uuid.New(), np.OwnerID, np.Title, np.Description))
	if err != nil {
		return nil, fmt.Errorf("failed to insert poll: %w", err)
	}

	batch := &pgx.Batch{}
	for i, text := range np.Options {
		batch.Queue(`-- name: CreateOption
			INSERT INTO options (id, poll_id, text, position) VALUES ($1, $2, $3, $4)`,
			uuid.New(), poll.ID, text, i)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to insert options: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit poll: %w", err)
	}
	return poll, nil
}

func (r *PollRepo) Results(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	poll, err := scanPoll(r.pool.QueryRow(ctx, `-- name: GetPoll
		SELECT `+pollColumns+` FROM polls WHERE id = $1`, pollID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}

	results, err := r.attachResults(ctx, []*domain.Poll{poll}, viewer)
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// List returns polls newest first. Search matches title or description,
// case-insensitively, as a literal substring.
func (r *PollRepo) List(ctx context.Context, q domain.PollQuery) ([]domain.PollResults, error) {
	owner := uuid.NullUUID{}
	if q.OwnerID != nil {
		owner = uuid.NullUUID{UUID: *q.OwnerID, Valid: true}
	}

	rows, err := r.pool.Query(ctx, `-- name: ListPolls
		SELECT `+pollColumns+` FROM polls
		WHERE ($1::uuid IS NULL OR owner_id = $1)
		  AND ($2::text = '' OR title ILIKE '%' || $2::text || '%' OR description ILIKE '%' || $2::text || '%')
		ORDER BY created_at DESC, id
		OFFSET $3 LIMIT $4`,
		owner, escapeLike(q.Search), q.Skip, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}

	polls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Poll, error) {
		return scanPoll(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan polls: %w", err)
	}
	if len(polls) == 0 {
		return []domain.PollResults{}, nil
	}
	return r.attachResults(ctx, polls, q.Viewer)
}

// attachResults loads option tallies for polls and, for a signed-in viewer,
// their current choice in each.
func (r *PollRepo) attachResults(ctx context.Context, polls []*domain.Poll, viewer uuid.UUID) ([]domain.PollResults, error) {
	ids := make([]string, len(polls))
	results := make([]domain.PollResults, len(polls))
	index := make(map[uuid.UUID]int, len(polls))
	for i, p := range polls {
		ids[i] = p.ID.String()
		index[p.ID] = i
		results[i] = domain.PollResults{
			ID:          p.ID,
			OwnerID:     p.OwnerID,
			Title:       p.Title,
			Description: p.Description,
			CreatedAt:   p.CreatedAt,
			Options:     []domain.OptionResult{},
		}
	}

	rows, err := r.pool.Query(ctx, `-- name: OptionTallies
		SELECT o.poll_id, o.id, o.text, COUNT(v.id)
		FROM options o
		LEFT JOIN votes v ON v.option_id = o.id
		WHERE o.poll_id = ANY($1::uuid[])
		GROUP BY o.poll_id, o.id, o.text, o.position
		ORDER BY o.poll_id, o.position`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load option tallies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pollID uuid.UUID
		var opt domain.OptionResult
		if err := rows.Scan(&pollID, &opt.ID, &opt.Text, &opt.VotesCount); err != nil {
			return nil, fmt.Errorf("failed to scan option tally: %w", err)
		}
		res := &results[index[pollID]]
		res.Options = append(res.Options, opt)
		res.TotalVotes += opt.VotesCount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read option tallies: %w", err)
	}

	if viewer == uuid.Nil {
		return results, nil
	}

	voteRows, err := r.pool.Query(ctx, `-- name: ViewerVotes
		SELECT poll_id, option_id FROM votes
		WHERE user_id = $1 AND poll_id = ANY($2::uuid[])`, viewer, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer votes: %w", err)
	}
	defer voteRows.Close()

	for voteRows.Next() {
		var pollID, optionID uuid.UUID
		if err := voteRows.Scan(&pollID, &optionID); err != nil {
			return nil, fmt.Errorf("failed to scan viewer vote: %w", err)
		}
		res := &results[index[pollID]]
		res.HasVoted = true
		res.UserVote = &optionID
	}
	if err := voteRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read viewer votes: %w", err)
	}
	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
