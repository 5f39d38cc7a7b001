package domain

import "errors"

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrPollNotFound       = errors.New("poll not found")
	ErrOptionNotFound     = errors.New("option not found")
	ErrInvalidOption      = errors.New("option does not belong to poll")
	ErrVoteNotFound       = errors.New("vote not found")
	ErrVoteConflict       = errors.New("concurrent vote for the same user and poll")
)
