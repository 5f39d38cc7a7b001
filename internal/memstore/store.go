// Package memstore is an in-process implementation of the storage contracts,
// used by tests and by the server when started with DATABASE_URL=memory://.
//
// Vote transactions are serialized store-wide: a vote on one poll waits for
// a vote on any other poll to finish. Only the Postgres store scopes vote
// serialization to a single (user, poll) pair, so this store is unsuited to
// load tests of the vote path.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
)

type voteKey struct {
	userID uuid.UUID
	pollID uuid.UUID
}

// Store keeps all state behind one mutex. Vote transactions hold it for their
// whole duration, so they are fully serialized across users and polls.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock

	users        map[uuid.UUID]*domain.User
	usersByEmail map[string]uuid.UUID
	polls        map[uuid.UUID]*domain.Poll
	pollOrder    []uuid.UUID
	options      map[uuid.UUID]*domain.Option
	pollOptions  map[uuid.UUID][]uuid.UUID
	votes        map[voteKey]*domain.Vote
}

var (
	_ domain.UserRepository = userRepo{}
	_ domain.PollRepository = pollRepo{}
	_ domain.VoteStore      = (*Store)(nil)
)

func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:        clock,
		users:        make(map[uuid.UUID]*domain.User),
		usersByEmail: make(map[string]uuid.UUID),
		polls:        make(map[uuid.UUID]*domain.Poll),
		options:      make(map[uuid.UUID]*domain.Option),
		pollOptions:  make(map[uuid.UUID][]uuid.UUID),
		votes:        make(map[voteKey]*domain.Vote),
	}
}

// Users

func (s *Store) Users() domain.UserRepository { return userRepo{s} }

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, email, name, passwordHash string) (*domain.User, error) {
	return r.s.createUser(email, name, passwordHash)
}

func (r userRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return r.s.userByID(userID)
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.s.userByEmail(email)
}

func (s *Store) createUser(email, name, passwordHash string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := s.usersByEmail[key]; exists {
		return nil, domain.ErrEmailTaken
	}
	u := &domain.User{ID: uuid.New(), Email: email, Name: name, PasswordHash: passwordHash, CreatedAt: s.clock.Now()}
	s.users[u.ID] = u
	s.usersByEmail[key] = u.ID
	copied := *u
	return &copied, nil
}

func (s *Store) userByID(userID uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *Store) userByEmail(email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

// Polls

func (s *Store) Polls() domain.PollRepository { return pollRepo{s} }

type pollRepo struct{ s *Store }

func (r pollRepo) Create(ctx context.Context, np domain.NewPoll) (*domain.Poll, error) {
	return r.s.createPoll(np), nil
}

func (r pollRepo) Results(ctx context.Context, pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	return r.s.results(pollID, viewer)
}

func (r pollRepo) List(ctx context.Context, q domain.PollQuery) ([]domain.PollResults, error) {
	return r.s.list(q)
}

func (s *Store) createPoll(np domain.NewPoll) *domain.Poll {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &domain.Poll{
		ID:          uuid.New(),
		OwnerID:     np.OwnerID,
		Title:       np.Title,
		Description: np.Description,
		CreatedAt:   s.clock.Now(),
	}
	s.polls[p.ID] = p
	s.pollOrder = append(s.pollOrder, p.ID)
	for i, text := range np.Options {
		o := &domain.Option{ID: uuid.New(), PollID: p.ID, Text: text, Position: i}
		s.options[o.ID] = o
		s.pollOptions[p.ID] = append(s.pollOptions[p.ID], o.ID)
	}
	copied := *p
	return &copied
}

func (s *Store) results(pollID, viewer uuid.UUID) (*domain.PollResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.polls[pollID]; !ok {
		return nil, domain.ErrPollNotFound
	}
	res := s.resultsLocked(pollID, viewer)
	return &res, nil
}

func (s *Store) list(q domain.PollQuery) ([]domain.PollResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(q.Search)
	matched := make([]*domain.Poll, 0, len(s.pollOrder))
	for _, id := range s.pollOrder {
		p := s.polls[id]
		if q.OwnerID != nil && p.OwnerID != *q.OwnerID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		matched = append(matched, p)
	}
	// Newest first, matching the SQL implementation.
	slices.SortStableFunc(matched, func(a, b *domain.Poll) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	out := make([]domain.PollResults, 0, q.Limit)
	for i := q.Skip; i < len(matched) && len(out) < q.Limit; i++ {
		out = append(out, s.resultsLocked(matched[i].ID, q.Viewer))
	}
	return out, nil
}

// must hold s.mu
func (s *Store) resultsLocked(pollID, viewer uuid.UUID) domain.PollResults {
	p := s.polls[pollID]
	counts := make(map[uuid.UUID]int64)
	var total int64
	for k, v := range s.votes {
		if k.pollID == pollID {
			counts[v.OptionID]++
			total++
		}
	}

	res := domain.PollResults{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Title:       p.Title,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		TotalVotes:  total,
		Options:     make([]domain.OptionResult, 0, len(s.pollOptions[pollID])),
	}
	for _, oid := range s.pollOptions[pollID] {
		o := s.options[oid]
		res.Options = append(res.Options, domain.OptionResult{ID: o.ID, Text: o.Text, VotesCount: counts[o.ID]})
	}
	slices.SortStableFunc(res.Options, func(a, b domain.OptionResult) int {
		return cmp.Compare(s.options[a.ID].Position, s.options[b.ID].Position)
	})

	if viewer != uuid.Nil {
		if v, ok := s.votes[voteKey{viewer, pollID}]; ok {
			optionID := v.OptionID
			res.HasVoted = true
			res.UserVote = &optionID
		}
	}
	return res
}

// Votes

func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.VoteTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &voteTx{
		s:       s,
		now:     s.clock.Now(),
		inserts: make(map[voteKey]*domain.Vote),
		updates: make(map[uuid.UUID]uuid.UUID),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) CountVotesForOption(ctx context.Context, optionID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, v := range s.votes {
		if v.OptionID == optionID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountVotesForPoll(ctx context.Context, pollID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.votes {
		if k.pollID == pollID {
			n++
		}
	}
	return n, nil
}

// voteTx stages writes and applies them on commit. It runs with s.mu held.
type voteTx struct {
	s       *Store
	now     time.Time
	inserts map[voteKey]*domain.Vote
	updates map[uuid.UUID]uuid.UUID
}

func (tx *voteTx) GetPoll(ctx context.Context, pollID uuid.UUID) (*domain.Poll, error) {
	p, ok := tx.s.polls[pollID]
	if !ok {
		return nil, domain.ErrPollNotFound
	}
	copied := *p
	return &copied, nil
}

func (tx *voteTx) GetOption(ctx context.Context, optionID uuid.UUID) (*domain.Option, error) {
	o, ok := tx.s.options[optionID]
	if !ok {
		return nil, domain.ErrOptionNotFound
	}
	copied := *o
	return &copied, nil
}

func (tx *voteTx) FindVote(ctx context.Context, userID, pollID uuid.UUID) (*domain.Vote, error) {
	key := voteKey{userID, pollID}
	v, ok := tx.inserts[key]
	if !ok {
		v, ok = tx.s.votes[key]
	}
	if !ok {
		return nil, domain.ErrVoteNotFound
	}
	copied := *v
	if optionID, updated := tx.updates[v.ID]; updated {
		copied.OptionID = optionID
	}
	return &copied, nil
}

func (tx *voteTx) InsertVote(ctx context.Context, userID, pollID, optionID uuid.UUID) (*domain.Vote, error) {
	key := voteKey{userID, pollID}
	if _, exists := tx.s.votes[key]; exists {
		return nil, domain.ErrVoteConflict
	}
	if _, exists := tx.inserts[key]; exists {
		return nil, domain.ErrVoteConflict
	}
	v := &domain.Vote{ID: uuid.New(), UserID: userID, PollID: pollID, OptionID: optionID, CreatedAt: tx.now, UpdatedAt: tx.now}
	tx.inserts[key] = v
	copied := *v
	return &copied, nil
}

func (tx *voteTx) UpdateVoteOption(ctx context.Context, voteID, optionID uuid.UUID) error {
	for _, v := range tx.inserts {
		if v.ID == voteID {
			v.OptionID = optionID
			return nil
		}
	}
	for _, v := range tx.s.votes {
		if v.ID == voteID {
			tx.updates[voteID] = optionID
			return nil
		}
	}
	return domain.ErrVoteNotFound
}

func (tx *voteTx) commit() {
	for key, v := range tx.inserts {
		tx.s.votes[key] = v
	}
	for _, v := range tx.s.votes {
		if optionID, ok := tx.updates[v.ID]; ok {
			v.OptionID = optionID
			v.UpdatedAt = tx.now
		}
	}
}

// VoteRows returns the number of stored vote rows for (userID, pollID): 0 or 1.
func (s *Store) VoteRows(userID, pollID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.votes[voteKey{userID, pollID}]; ok {
		return 1
	}
	return 0
}
