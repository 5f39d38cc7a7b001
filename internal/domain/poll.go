package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Poll struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Description string
	CreatedAt   time.Time
}

type Option struct {
	ID       uuid.UUID
	PollID   uuid.UUID
	Text     string
	Position int
}

// NewPoll is the input for creating a poll; Options keeps caller order.
type NewPoll struct {
	OwnerID     uuid.UUID
	Title       string
	Description string
	Options     []string
}

type OptionResult struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	VotesCount int64     `json:"votes_count"`
}

// PollResults is a poll with derived tallies, as seen by one viewer.
// HasVoted and UserVote are zero for anonymous viewers.
type PollResults struct {
	ID          uuid.UUID      `json:"id"`
	OwnerID     uuid.UUID      `json:"owner_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	Options     []OptionResult `json:"options"`
	TotalVotes  int64          `json:"total_votes"`
	HasVoted    bool           `json:"hasVoted"`
	UserVote    *uuid.UUID     `json:"userVote"`
}

// PollQuery filters a poll listing. A nil OwnerID lists all polls;
// uuid.Nil as Viewer means anonymous.
type PollQuery struct {
	Skip    int
	Limit   int
	Search  string
	OwnerID *uuid.UUID
	Viewer  uuid.UUID
}

// PollRepository is the catalogue side of storage. Lookups return ErrPollNotFound.
type PollRepository interface {
	Create(ctx context.Context, poll NewPoll) (*Poll, error)
	Results(ctx context.Context, pollID, viewer uuid.UUID) (*PollResults, error)
	List(ctx context.Context, q PollQuery) ([]PollResults, error)
}
