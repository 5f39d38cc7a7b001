package domain

import (
	"context"

	"github.com/google/uuid"
)

// PollUpdate is the payload pushed to every subscriber of a poll. It is a
// complete result fragment, not a delta.
type PollUpdate struct {
	PollID     uuid.UUID `json:"poll_id"`
	OptionID   uuid.UUID `json:"option_id"`
	VotesCount int64     `json:"votes_count"`
	TotalVotes int64     `json:"total_votes"`
}

// Publisher hands a committed vote's update to the fan-out layer.
type Publisher interface {
	Publish(ctx context.Context, update PollUpdate) error
}
