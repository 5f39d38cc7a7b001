package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Vote struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PollID    uuid.UUID
	OptionID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VoteResult describes what a CastVote did to the caller's vote row.
type VoteResult string

const (
	VoteCreated   VoteResult = "created"
	VoteChanged   VoteResult = "changed"
	VoteUnchanged VoteResult = "unchanged"
)

// VoteOutcome carries counts recomputed after the vote committed.
type VoteOutcome struct {
	PollID     uuid.UUID
	OptionID   uuid.UUID
	VotesCount int64
	TotalVotes int64
	Result     VoteResult
}

func (o VoteOutcome) Update() PollUpdate {
	return PollUpdate{
		PollID:     o.PollID,
		OptionID:   o.OptionID,
		VotesCount: o.VotesCount,
		TotalVotes: o.TotalVotes,
	}
}

// VoteTx is the data access available inside one vote transaction.
// Implementations serialize transactions for the same (user, poll) pair.
type VoteTx interface {
	GetPoll(ctx context.Context, pollID uuid.UUID) (*Poll, error)
	GetOption(ctx context.Context, optionID uuid.UUID) (*Option, error)
	// FindVote returns ErrVoteNotFound when the user has not voted on the poll.
	FindVote(ctx context.Context, userID, pollID uuid.UUID) (*Vote, error)
	// InsertVote returns ErrVoteConflict when a row for (user, poll) already exists.
	InsertVote(ctx context.Context, userID, pollID, optionID uuid.UUID) (*Vote, error)
	UpdateVoteOption(ctx context.Context, voteID, optionID uuid.UUID) error
}

// VoteStore runs fn in a transaction that commits only if fn returns nil.
// Counts are read outside the transaction, after commit.
type VoteStore interface {
	WithinTx(ctx context.Context, fn func(tx VoteTx) error) error
	CountVotesForOption(ctx context.Context, optionID uuid.UUID) (int64, error)
	CountVotesForPoll(ctx context.Context, pollID uuid.UUID) (int64, error)
}
