package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lvdashuaibi/roundvote/internal/model"
)

const userColumns = "id, name, password, refresh_token"

// CreateUser 新建用户，用户名重复时返回 ErrDuplicate
func (r *SQLRepository) CreateUser(ctx context.Context, user *model.User) error {
	_, err := r.masterDB.ExecContext(ctx,
		r.q("INSERT INTO users (id, name, password, refresh_token) VALUES (?, ?, ?, ?)"),
		user.ID, user.Name, user.Password, user.RefreshToken,
	)
	if err != nil {
		if r.dialect.isUniqueViolation(err) {
			return fmt.Errorf("用户名 %s 已存在: %w", user.Name, ErrDuplicate)
		}
		return fmt.Errorf("创建用户失败: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	return r.getUser(ctx, "name", name)
}

func (r *SQLRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.getUser(ctx, "id", id)
}

func (r *SQLRepository) GetUserByRefreshToken(ctx context.Context, token string) (*model.User, error) {
	return r.getUser(ctx, "refresh_token", token)
}

// getUser 账户读取走主库，注册后立即登录需要读到最新数据
func (r *SQLRepository) getUser(ctx context.Context, column, value string) (*model.User, error) {
	query := r.q("SELECT " + userColumns + " FROM users WHERE " + column + " = ?")

	var user model.User
	var refresh sql.NullString
	err := r.masterDB.QueryRowContext(ctx, query, value).Scan(&user.ID, &user.Name, &user.Password, &refresh)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("用户不存在: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if refresh.Valid {
		user.RefreshToken = &refresh.String
	}
	return &user, nil
}

// SetRefreshToken 更新用户的刷新凭证，token 为 nil 时清空
func (r *SQLRepository) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	result, err := r.masterDB.ExecContext(ctx,
		r.q("UPDATE users SET refresh_token = ? WHERE id = ?"), token, userID)
	if err != nil {
		return fmt.Errorf("更新刷新凭证失败: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新结果失败: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("用户 %s 不存在: %w", userID, ErrNotFound)
	}
	return nil
}
