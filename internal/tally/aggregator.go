// Package tally 在投票事务内维护 (轮次, 候选人) 的计票行。
package tally

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/internal/model"
)

// Tx 计票所需的事务操作，由 repository.Tx 实现
type Tx interface {
	IncrementTally(ctx context.Context, id, votingID, participantID string) error
	GetTally(ctx context.Context, votingID, participantID string) (*model.TallyEntry, error)
}

// Aggregator 只在账本事务内部调用
type Aggregator struct {
	log logrus.FieldLogger
}

func NewAggregator(log logrus.FieldLogger) *Aggregator {
	return &Aggregator{log: log}
}

// Increment 原子地创建或累加计票行，并在同一事务内读回
func (a *Aggregator) Increment(ctx context.Context, tx Tx, votingID, participantID string) (*model.TallyEntry, error) {
	if err := tx.IncrementTally(ctx, uuid.NewString(), votingID, participantID); err != nil {
		return nil, err
	}

	entry, err := tx.GetTally(ctx, votingID, participantID)
	if err != nil {
		return nil, fmt.Errorf("读取计票结果失败: %w", err)
	}
	if entry.Count < 1 {
		return nil, fmt.Errorf("计票结果异常: 轮次=%s 候选人=%s count=%d", votingID, participantID, entry.Count)
	}

	a.log.WithFields(logrus.Fields{
		"voting":      votingID,
		"participant": participantID,
		"count":       entry.Count,
	}).Debug("计票已更新")
	return entry, nil
}
