// Package repotest 提供基于临时 SQLite 文件的测试仓库。
package repotest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/logging"
	"github.com/lvdashuaibi/roundvote/internal/model"
	"github.com/lvdashuaibi/roundvote/internal/repository"
)

// SQLiteDSN WAL + busy_timeout + IMMEDIATE 事务，允许并发写入排队
func SQLiteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// NewSQLite 创建已建表的仓库，测试结束时自动关闭
func NewSQLite(t testing.TB) *repository.SQLRepository {
	t.Helper()
	dsn := SQLiteDSN(filepath.Join(t.TempDir(), "roundvote.db"))
	repo, err := repository.NewSQLRepository(config.DatabaseConfig{
		Driver:       repository.DriverSQLite,
		Master:       dsn,
		MaxOpenConns: 8,
	}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

// SeedUser 写入一个用户
func SeedUser(t testing.TB, repo *repository.SQLRepository, name string) *model.User {
	t.Helper()
	u := &model.User{ID: uuid.NewString(), Name: name, Password: "x"}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

// SeedRound 写入一个轮次，时间窗口覆盖当前时间
func SeedRound(t testing.TB, repo *repository.SQLRepository, open bool) *model.VotingRound {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	r := &model.VotingRound{
		ID:       uuid.NewString(),
		InitDate: now.Add(-time.Hour),
		EndDate:  now.Add(time.Hour),
		Open:     open,
	}
	require.NoError(t, repo.CreateRound(context.Background(), r))
	return r
}

// SeedParticipant 写入一个候选人
func SeedParticipant(t testing.TB, repo *repository.SQLRepository, name string) *model.Participant {
	t.Helper()
	p := &model.Participant{ID: uuid.NewString(), Name: name}
	require.NoError(t, repo.CreateParticipant(context.Background(), p))
	return p
}
