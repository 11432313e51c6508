// Package ledger 校验并记录投票，投票与计票在同一事务中提交。
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/repository"
	"github.com/lvdashuaibi/roundvote/internal/tally"
)

// Registry 轮次与候选人查询
type Registry interface {
	GetRoundByID(ctx context.Context, id string) (*model.VotingRound, error)
	GetParticipantByID(ctx context.Context, id string) (*model.Participant, error)
}

// Store 投票记录存储
type Store interface {
	HasVote(ctx context.Context, votingID, userID string) (bool, error)
	InTx(ctx context.Context, fn func(tx *repository.Tx) error) error
}

// Incrementer 计票
type Incrementer interface {
	Increment(ctx context.Context, tx tally.Tx, votingID, participantID string) (*model.TallyEntry, error)
}

// Ballot 一次成功投票的结果
type Ballot struct {
	Vote  *model.Vote
	Tally *model.TallyEntry
}

type Ledger struct {
	registry Registry
	store    Store
	tally    Incrementer
	now      func() time.Time
	log      logrus.FieldLogger
}

type Option func(*Ledger)

// WithClock 替换投票时间来源
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(registry Registry, store Store, tally Incrementer, log logrus.FieldLogger, opts ...Option) *Ledger {
	l := &Ledger{
		registry: registry,
		store:    store,
		tally:    tally,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CastVote 为 userID 在 votingID 轮次中投给 participantID
func (l *Ledger) CastVote(ctx context.Context, votingID, participantID, userID string) (*model.Vote, error) {
	b, err := l.Cast(ctx, votingID, participantID, userID)
	if err != nil {
		return nil, err
	}
	return b.Vote, nil
}

// Cast 与 CastVote 相同，同时返回提交后的计票行
func (l *Ledger) Cast(ctx context.Context, votingID, participantID, userID string) (*Ballot, error) {
	const op = "ledger.CastVote"

	round, err := l.registry.GetRoundByID(ctx, votingID)
	if err != nil {
		return nil, storeError(op, err)
	}
	// 只认 open 标记，不根据时间推断
	if !round.Open {
		return nil, apperr.New(apperr.RoundClosed, op, "投票轮次已关闭: "+votingID)
	}

	if _, err := l.registry.GetParticipantByID(ctx, participantID); err != nil {
		return nil, storeError(op, err)
	}

	voted, err := l.store.HasVote(ctx, votingID, userID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if voted {
		return nil, apperr.New(apperr.DuplicateVote, op, "用户已在该轮次投票")
	}

	vote := &model.Vote{
		ID:            uuid.NewString(),
		VotingID:      votingID,
		ParticipantID: participantID,
		UserID:        userID,
		CreatedAt:     l.now().UTC(),
	}

	var entry *model.TallyEntry
	err = l.store.InTx(ctx, func(tx *repository.Tx) error {
		if err := tx.InsertVote(ctx, vote); err != nil {
			return err
		}
		var err error
		entry, err = l.tally.Increment(ctx, tx, votingID, participantID)
		return err
	})
	if err != nil {
		return nil, storeError(op, err)
	}

	l.log.WithFields(logrus.Fields{
		"vote":        vote.ID,
		"voting":      votingID,
		"participant": participantID,
		"user":        userID,
		"count":       entry.Count,
	}).Info("投票成功")
	return &Ballot{Vote: vote, Tally: entry}, nil
}

// storeError 将存储层错误转换为业务错误
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.E(apperr.NotFound, op, err)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.E(apperr.DuplicateVote, op, err)
	default:
		return apperr.E(apperr.PersistenceFailure, op, err)
	}
}
