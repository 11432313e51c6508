package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lvdashuaibi/roundvote/internal/model"
)

const roundColumns = "id, init_date, end_date, open"

// CreateRound 新建投票轮次
func (r *SQLRepository) CreateRound(ctx context.Context, round *model.VotingRound) error {
	_, err := r.masterDB.ExecContext(ctx,
		r.q("INSERT INTO votings (id, init_date, end_date, open) VALUES (?, ?, ?, ?)"),
		round.ID, round.InitDate.UTC(), round.EndDate.UTC(), round.Open,
	)
	if err != nil {
		return fmt.Errorf("创建投票轮次失败: %w", err)
	}
	return nil
}

// GetRoundByID 查询投票轮次，投票流程依赖该结果，因此读主库
func (r *SQLRepository) GetRoundByID(ctx context.Context, id string) (*model.VotingRound, error) {
	row := r.masterDB.QueryRowContext(ctx, r.q("SELECT "+roundColumns+" FROM votings WHERE id = ?"), id)

	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("投票轮次 %s 不存在: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("查询投票轮次失败: %w", err)
	}
	return round, nil
}

// ListOpenRounds 查询所有开放中的投票轮次
func (r *SQLRepository) ListOpenRounds(ctx context.Context) ([]*model.VotingRound, error) {
	rows, err := r.slaveDB.QueryContext(ctx,
		r.q("SELECT "+roundColumns+" FROM votings WHERE open = ? ORDER BY init_date"), true)
	if err != nil {
		return nil, fmt.Errorf("查询开放投票轮次失败: %w", err)
	}
	defer rows.Close()

	var rounds []*model.VotingRound
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描投票轮次失败: %w", err)
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代投票轮次失败: %w", err)
	}
	return rounds, nil
}

// SetRoundOpen 修改轮次开放状态
func (r *SQLRepository) SetRoundOpen(ctx context.Context, id string, open bool) error {
	if _, err := r.GetRoundByID(ctx, id); err != nil {
		return err
	}
	if _, err := r.masterDB.ExecContext(ctx, r.q("UPDATE votings SET open = ? WHERE id = ?"), open, id); err != nil {
		return fmt.Errorf("更新投票轮次状态失败: %w", err)
	}
	return nil
}

// CloseExpiredRounds 关闭 end_date 早于 now 的开放轮次，返回关闭数量
func (r *SQLRepository) CloseExpiredRounds(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.masterDB.ExecContext(ctx,
		r.q("UPDATE votings SET open = ? WHERE open = ? AND end_date < ?"), false, true, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("关闭过期投票轮次失败: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取更新结果失败: %w", err)
	}
	return n, nil
}

// CreateParticipant 新建候选人
func (r *SQLRepository) CreateParticipant(ctx context.Context, participant *model.Participant) error {
	_, err := r.masterDB.ExecContext(ctx,
		r.q("INSERT INTO participants (id, name) VALUES (?, ?)"), participant.ID, participant.Name)
	if err != nil {
		return fmt.Errorf("创建候选人失败: %w", err)
	}
	return nil
}

// GetParticipantByID 查询候选人
func (r *SQLRepository) GetParticipantByID(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	err := r.masterDB.QueryRowContext(ctx,
		r.q("SELECT id, name FROM participants WHERE id = ?"), id).Scan(&p.ID, &p.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("候选人 %s 不存在: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	return &p, nil
}

// ListParticipants 查询所有候选人
func (r *SQLRepository) ListParticipants(ctx context.Context) ([]*model.Participant, error) {
	rows, err := r.slaveDB.QueryContext(ctx, "SELECT id, name FROM participants ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("扫描候选人失败: %w", err)
		}
		participants = append(participants, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代候选人失败: %w", err)
	}
	return participants, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*model.VotingRound, error) {
	var round model.VotingRound
	if err := row.Scan(&round.ID, &round.InitDate, &round.EndDate, &round.Open); err != nil {
		return nil, err
	}
	round.InitDate = round.InitDate.UTC()
	round.EndDate = round.EndDate.UTC()
	return &round, nil
}
