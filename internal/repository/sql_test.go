package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/repository"
	"github.com/lvdashuaibi/roundvote/internal/repository/repotest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	repo := repotest.NewSQLite(t)
	require.NoError(t, repo.Migrate(context.Background()))
	assert.Equal(t, repository.DriverSQLite, repo.Driver())
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)

	u := repotest.SeedUser(t, repo, "alice")

	got, err := repo.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.RefreshToken)

	err = repo.CreateUser(ctx, &model.User{ID: uuid.NewString(), Name: "alice", Password: "y"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	token := "refresh-1"
	require.NoError(t, repo.SetRefreshToken(ctx, u.ID, &token))
	got, err = repo.GetUserByRefreshToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, token, *got.RefreshToken)

	_, err = repo.GetUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.SetRefreshToken(ctx, uuid.NewString(), &token), repository.ErrNotFound)
}

func TestRounds(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)

	open := repotest.SeedRound(t, repo, true)
	closed := repotest.SeedRound(t, repo, false)

	got, err := repo.GetRoundByID(ctx, open.ID)
	require.NoError(t, err)
	assert.True(t, got.Open)
	assert.True(t, got.EndDate.Equal(open.EndDate))

	rounds, err := repo.ListOpenRounds(ctx)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, open.ID, rounds[0].ID)

	require.NoError(t, repo.SetRoundOpen(ctx, closed.ID, true))
	got, err = repo.GetRoundByID(ctx, closed.ID)
	require.NoError(t, err)
	assert.True(t, got.Open)

	_, err = repo.GetRoundByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, repo.SetRoundOpen(ctx, uuid.NewString(), false), repository.ErrNotFound)
}

func TestCloseExpiredRounds(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)

	now := time.Now().UTC().Truncate(time.Second)
	expired := &model.VotingRound{ID: uuid.NewString(), InitDate: now.Add(-2 * time.Hour), EndDate: now.Add(-time.Hour), Open: true}
	require.NoError(t, repo.CreateRound(ctx, expired))
	active := repotest.SeedRound(t, repo, true)

	n, err := repo.CloseExpiredRounds(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetRoundByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, got.Open)
	got, err = repo.GetRoundByID(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, got.Open)
}

func TestParticipants(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)

	b := repotest.SeedParticipant(t, repo, "bravo")
	a := repotest.SeedParticipant(t, repo, "alpha")

	list, err := repo.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	got, err := repo.GetParticipantByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "bravo", got.Name)

	_, err = repo.GetParticipantByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTxVoteAndTally(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	u := repotest.SeedUser(t, repo, "alice")
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")

	vote := &model.Vote{ID: uuid.NewString(), VotingID: r.ID, ParticipantID: p.ID, UserID: u.ID, CreatedAt: time.Now()}
	err := repo.InTx(ctx, func(tx *repository.Tx) error {
		if err := tx.InsertVote(ctx, vote); err != nil {
			return err
		}
		if err := tx.IncrementTally(ctx, uuid.NewString(), r.ID, p.ID); err != nil {
			return err
		}
		return tx.IncrementTally(ctx, uuid.NewString(), r.ID, p.ID)
	})
	require.NoError(t, err)

	entry, err := repo.GetTally(ctx, r.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Count)

	has, err := repo.HasVote(ctx, r.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, has)

	stored, err := repo.GetVote(ctx, r.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ParticipantID)

	dup := &model.Vote{ID: uuid.NewString(), VotingID: r.ID, ParticipantID: p.ID, UserID: u.ID, CreatedAt: time.Now()}
	err = repo.InTx(ctx, func(tx *repository.Tx) error {
		return tx.InsertVote(ctx, dup)
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	u := repotest.SeedUser(t, repo, "alice")
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(tx *repository.Tx) error {
		vote := &model.Vote{ID: uuid.NewString(), VotingID: r.ID, ParticipantID: p.ID, UserID: u.ID, CreatedAt: time.Now()}
		if err := tx.InsertVote(ctx, vote); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	has, err := repo.HasVote(ctx, r.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, has)

	assert.Panics(t, func() {
		_ = repo.InTx(ctx, func(tx *repository.Tx) error {
			if err := tx.IncrementTally(ctx, uuid.NewString(), r.ID, p.ID); err != nil {
				return err
			}
			panic("boom")
		})
	})
	_, err = repo.GetTally(ctx, r.ID, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
