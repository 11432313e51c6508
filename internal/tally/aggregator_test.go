package tally_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/roundvote/internal/logging"
	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/repository"
	"github.com/lvdashuaibi/roundvote/internal/repository/repotest"
	"github.com/lvdashuaibi/roundvote/internal/tally"
)

func TestIncrementCreatesThenAccumulates(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	agg := tally.NewAggregator(logging.Discard())

	var first, second *model.TallyEntry
	require.NoError(t, repo.InTx(ctx, func(tx *repository.Tx) (err error) {
		first, err = agg.Increment(ctx, tx, r.ID, p.ID)
		return err
	}))
	require.NoError(t, repo.InTx(ctx, func(tx *repository.Tx) (err error) {
		second, err = agg.Increment(ctx, tx, r.ID, p.ID)
		return err
	}))

	assert.Equal(t, 1, first.Count)
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, r.ID, second.VotingID)
	assert.Equal(t, p.ID, second.ParticipantID)
}

func TestIncrementConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewSQLite(t)
	r := repotest.SeedRound(t, repo, true)
	p := repotest.SeedParticipant(t, repo, "alpha")
	agg := tally.NewAggregator(logging.Discard())

	const n = 16
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- repo.InTx(ctx, func(tx *repository.Tx) error {
				_, err := agg.Increment(ctx, tx, r.ID, p.ID)
				return err
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	entry, err := repo.GetTally(ctx, r.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, n, entry.Count)
}

type stubTx struct {
	incErr error
	entry  *model.TallyEntry
	getErr error
}

func (s *stubTx) IncrementTally(context.Context, string, string, string) error { return s.incErr }

func (s *stubTx) GetTally(context.Context, string, string) (*model.TallyEntry, error) {
	return s.entry, s.getErr
}

func TestIncrementFailures(t *testing.T) {
	boom := errors.New("boom")
	agg := tally.NewAggregator(logging.Discard())

	tests := []struct {
		name string
		tx   *stubTx
	}{
		{"upsert fails", &stubTx{incErr: boom}},
		{"read back fails", &stubTx{getErr: boom}},
		{"zero count", &stubTx{entry: &model.TallyEntry{ID: uuid.NewString(), Count: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			entry, err := agg.Increment(ctx, tt.tx, "v", "p")
			assert.Error(t, err)
			assert.Nil(t, entry)
		})
	}
}
