package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lvdashuaibi/roundvote/internal/model"
)

// Tx 投票事务，只在 InTx 的回调内有效
type Tx struct {
	tx      *sql.Tx
	dialect *dialect
}

// InsertVote 写入投票记录，(voting_id, user_id) 冲突时返回 ErrDuplicate
func (t *Tx) InsertVote(ctx context.Context, vote *model.Vote) error {
	_, err := t.tx.ExecContext(ctx,
		t.dialect.rebind("INSERT INTO votes (id, voting_id, participant_id, user_id, created_at) VALUES (?, ?, ?, ?, ?)"),
		vote.ID, vote.VotingID, vote.ParticipantID, vote.UserID, vote.CreatedAt.UTC(),
	)
	if err != nil {
		if t.dialect.isUniqueViolation(err) {
			return fmt.Errorf("用户 %s 已在轮次 %s 投票: %w", vote.UserID, vote.VotingID, ErrDuplicate)
		}
		return fmt.Errorf("写入投票记录失败: %w", err)
	}
	return nil
}

// IncrementTally 原子地插入或累加计票行，id 只在首次插入时使用
func (t *Tx) IncrementTally(ctx context.Context, id, votingID, participantID string) error {
	if _, err := t.tx.ExecContext(ctx, t.dialect.rebind(t.dialect.tallyUpsert), id, votingID, participantID); err != nil {
		return fmt.Errorf("更新计票结果失败: %w", err)
	}
	return nil
}

// GetTally 在事务内读取计票行
func (t *Tx) GetTally(ctx context.Context, votingID, participantID string) (*model.TallyEntry, error) {
	return getTally(ctx, t.tx, t.dialect, votingID, participantID)
}

// HasVote 快速判断用户是否已在该轮次投票，并发安全由唯一约束保证
func (r *SQLRepository) HasVote(ctx context.Context, votingID, userID string) (bool, error) {
	var id string
	err := r.masterDB.QueryRowContext(ctx,
		r.q("SELECT id FROM votes WHERE voting_id = ? AND user_id = ?"), votingID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("查询投票记录失败: %w", err)
	}
	return true, nil
}

// GetVote 查询用户在轮次中的投票
func (r *SQLRepository) GetVote(ctx context.Context, votingID, userID string) (*model.Vote, error) {
	var v model.Vote
	err := r.slaveDB.QueryRowContext(ctx,
		r.q("SELECT id, voting_id, participant_id, user_id, created_at FROM votes WHERE voting_id = ? AND user_id = ?"),
		votingID, userID,
	).Scan(&v.ID, &v.VotingID, &v.ParticipantID, &v.UserID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("投票记录不存在: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("查询投票记录失败: %w", err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

// CountVotes 统计 (votingID, participantID) 的投票数，用于对账
func (r *SQLRepository) CountVotes(ctx context.Context, votingID, participantID string) (int, error) {
	var n int
	err := r.masterDB.QueryRowContext(ctx,
		r.q("SELECT COUNT(*) FROM votes WHERE voting_id = ? AND participant_id = ?"), votingID, participantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计投票数失败: %w", err)
	}
	return n, nil
}

// GetTally 查询计票结果，尚无投票时返回 ErrNotFound
func (r *SQLRepository) GetTally(ctx context.Context, votingID, participantID string) (*model.TallyEntry, error) {
	return getTally(ctx, r.slaveDB, r.dialect, votingID, participantID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTally(ctx context.Context, db queryRower, d *dialect, votingID, participantID string) (*model.TallyEntry, error) {
	var e model.TallyEntry
	err := db.QueryRowContext(ctx,
		d.rebind("SELECT id, voting_id, participant_id, count FROM results WHERE voting_id = ? AND participant_id = ?"),
		votingID, participantID,
	).Scan(&e.ID, &e.VotingID, &e.ParticipantID, &e.Count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("计票结果不存在: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("查询计票结果失败: %w", err)
	}
	return &e, nil
}
