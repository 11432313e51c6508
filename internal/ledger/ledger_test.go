package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
	"github.com/lvdashuaibi/roundvote/internal/ledger"
	"github.com/lvdashuaibi/roundvote/internal/logging"
	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/repository"
	"github.com/lvdashuaibi/roundvote/internal/repository/repotest"
	"github.com/lvdashuaibi/roundvote/internal/tally"
)

func newLedger(repo *repository.SQLRepository, opts ...ledger.Option) *ledger.Ledger {
	return ledger.New(repo, repo, tally.NewAggregator(logging.Discard()), logging.Discard(), opts...)
}

func TestCastVoteScenario(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r1 := repotest.SeedRound(t, repo, true)
	p1 := repotest.SeedParticipant(t, repo, "P1")
	u1 := repotest.SeedUser(t, repo, "U1")

	votedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(repo, ledger.WithClock(func() time.Time { return votedAt }))

	vote, err := l.CastVote(ctx, r1.ID, p1.ID, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, vote.VotingID)
	assert.Equal(t, p1.ID, vote.ParticipantID)
	assert.Equal(t, u1.ID, vote.UserID)
	assert.True(t, vote.CreatedAt.Equal(votedAt))

	entry, err := repo.GetTally(ctx, r1.ID, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Count)

	_, err = l.CastVote(ctx, r1.ID, p1.ID, u1.ID)
	assert.True(t, apperr.Is(err, apperr.DuplicateVote), "got %v", err)

	entry, err = repo.GetTally(ctx, r1.ID, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Count)
}

func TestCastVoteReturnsTally(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	l := newLedger(repo)

	for i, name := range []string{"u1", "u2", "u3"} {
		u := repotest.SeedUser(t, repo, name)
		b, err := l.Cast(ctx, r.ID, p.ID, u.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, b.Tally.Count)
		assert.Equal(t, u.ID, b.Vote.UserID)
	}
}

func TestCastVoteRejections(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	open := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	u := repotest.SeedUser(t, repo, "alice")

	// 时间窗口仍然有效，但 open=false
	closed := repotest.SeedRound(t, repo, false)
	// 时间窗口已过，但 open=true
	now := time.Now().UTC().Truncate(time.Second)
	stale := &model.VotingRound{ID: uuid.NewString(), InitDate: now.Add(-48 * time.Hour), EndDate: now.Add(-24 * time.Hour), Open: true}
	require.NoError(t, repo.CreateRound(ctx, stale))

	l := newLedger(repo)

	tests := []struct {
		name          string
		votingID      string
		participantID string
		want          apperr.Kind
	}{
		{"unknown round", uuid.NewString(), p.ID, apperr.NotFound},
		{"closed round", closed.ID, p.ID, apperr.RoundClosed},
		{"closed round unknown participant", closed.ID, uuid.NewString(), apperr.RoundClosed},
		{"unknown participant", open.ID, uuid.NewString(), apperr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vote, err := l.CastVote(ctx, tt.votingID, tt.participantID, u.ID)
			assert.Nil(t, vote)
			assert.Equal(t, tt.want, apperr.KindOf(err), "got %v", err)
		})
	}

	_, err := l.CastVote(ctx, stale.ID, p.ID, u.ID)
	assert.NoError(t, err)

	has, err := repo.HasVote(ctx, closed.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

// staleStore 模拟预检查与插入之间的竞争窗口
type staleStore struct {
	*repository.SQLRepository
}

func (staleStore) HasVote(context.Context, string, string) (bool, error) { return false, nil }

func TestCastVoteDuplicateViaConstraint(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	u := repotest.SeedUser(t, repo, "alice")

	l := ledger.New(repo, staleStore{repo}, tally.NewAggregator(logging.Discard()), logging.Discard())

	_, err := l.CastVote(ctx, r.ID, p.ID, u.ID)
	require.NoError(t, err)
	_, err = l.CastVote(ctx, r.ID, p.ID, u.ID)
	require.True(t, apperr.Is(err, apperr.DuplicateVote), "got %v", err)
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	n, err := repo.CountVotes(ctx, r.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	entry, err := repo.GetTally(ctx, r.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Count)
}

func TestConcurrentIdenticalCasts(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	u := repotest.SeedUser(t, repo, "alice")

	// 关闭预检查，让所有请求都落到唯一约束上
	l := ledger.New(repo, staleStore{repo}, tally.NewAggregator(logging.Discard()), logging.Discard())

	const n = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		dup     int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.CastVote(ctx, r.ID, p.ID, u.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case apperr.Is(err, apperr.DuplicateVote):
				dup++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, dup)

	entry, err := repo.GetTally(ctx, r.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Count)
}

func TestConcurrentCastsAcrossParticipants(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	participants := []*model.Participant{
		repotest.SeedParticipant(t, repo, "alpha"),
		repotest.SeedParticipant(t, repo, "bravo"),
		repotest.SeedParticipant(t, repo, "charlie"),
	}
	const voters = 24
	users := make([]*model.User, voters)
	for i := range users {
		users[i] = repotest.SeedUser(t, repo, uuid.NewString())
	}

	l := newLedger(repo)

	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i, u := range users {
		wg.Add(1)
		go func(u *model.User, p *model.Participant) {
			defer wg.Done()
			_, err := l.CastVote(ctx, r.ID, p.ID, u.ID)
			errs <- err
		}(u, participants[i%len(participants)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total := 0
	for _, p := range participants {
		entry, err := repo.GetTally(ctx, r.ID, p.ID)
		require.NoError(t, err)
		n, err := repo.CountVotes(ctx, r.ID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, n, entry.Count, "participant %s", p.Name)
		total += entry.Count
	}
	assert.Equal(t, voters, total)
}

type failingIncrementer struct{ err error }

func (f failingIncrementer) Increment(context.Context, tally.Tx, string, string) (*model.TallyEntry, error) {
	return nil, f.err
}

func TestCastVoteAtomicity(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	u := repotest.SeedUser(t, repo, "alice")

	boom := errors.New("injected failure")
	l := ledger.New(repo, repo, failingIncrementer{err: boom}, logging.Discard())

	_, err := l.CastVote(ctx, r.ID, p.ID, u.ID)
	require.True(t, apperr.Is(err, apperr.PersistenceFailure), "got %v", err)
	assert.ErrorIs(t, err, boom)

	has, err := repo.HasVote(ctx, r.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, has)
	_, err = repo.GetTally(ctx, r.ID, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// 回滚后同一用户仍可正常投票
	_, err = newLedger(repo).CastVote(ctx, r.ID, p.ID, u.ID)
	require.NoError(t, err)
}

func TestCastVoteUnknownUserIsPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")

	_, err := newLedger(repo).CastVote(ctx, r.ID, p.ID, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.PersistenceFailure), "got %v", err)

	_, err = repo.GetTally(ctx, r.ID, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
