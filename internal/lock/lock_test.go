package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/logging"
)

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewLocalLock()
	l.now = func() time.Time { return now }

	ok, err := l.AcquireLock(ctx, "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.AcquireLock(ctx, "a", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.RefreshLock(ctx, "a", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(3 * time.Second)
	ok, err = l.RefreshLock(ctx, "a", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.AcquireLock(ctx, "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.ReleaseLock(ctx, "a"))
	ok, err = l.AcquireLock(ctx, "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	called := false
	err := WithLock(ctx, l, MigrationLock, time.Minute, time.Millisecond, func(context.Context) error {
		called = true
		ok, err := l.AcquireLock(ctx, MigrationLock, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	// fn 返回后锁已释放
	ok, err := l.AcquireLock(ctx, MigrationLock, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// 锁被占用时等待到 ctx 结束
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = WithLock(waitCtx, l, MigrationLock, time.Minute, 5*time.Millisecond, func(context.Context) error {
		t.Fatal("不应执行")
		return nil
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewBackend(t *testing.T) {
	l, err := New(context.Background(), &config.Config{Lock: config.LockConfig{Backend: "none"}}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &LocalLock{}, l)

	_, err = New(context.Background(), &config.Config{Lock: config.LockConfig{Backend: "zookeeper"}}, logging.Discard())
	assert.Error(t, err)
}

// 需要本地 Redis：ROUNDVOTE_TEST_REDIS_ADDR=127.0.0.1:6379
func TestRedLock(t *testing.T) {
	addr := os.Getenv("ROUNDVOTE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROUNDVOTE_TEST_REDIS_ADDR 未设置")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	l := NewRedLockWithClients([]*redis.Client{client}, []string{addr}, 1, logging.Discard())
	defer l.Close()

	name := "roundvote-test-" + time.Now().Format("150405.000000000")
	ok, err := l.AcquireLock(ctx, name, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	other := NewRedLockWithClients([]*redis.Client{redis.NewClient(&redis.Options{Addr: addr})}, []string{addr}, 1, logging.Discard())
	defer other.Close()
	ok, err = other.AcquireLock(ctx, name, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.RefreshLock(ctx, name, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.ReleaseLock(ctx, name))
	ok, err = other.AcquireLock(ctx, name, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
