package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
)

const (
	// MigrationLock 启动时建表使用的锁
	MigrationLock = "roundvote-migration"
	// SchedulerLock 轮次关闭任务的主节点锁
	SchedulerLock = "roundvote-scheduler"
)

// Lock 分布式锁接口
type Lock interface {
	// AcquireLock 获取分布式锁
	// 返回值：bool表示是否成功获取锁，error表示获取过程中的错误
	AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// RefreshLock 刷新锁的过期时间
	RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// ReleaseLock 释放分布式锁
	ReleaseLock(ctx context.Context, lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭分布式锁客户端
	Close() error
}

// New 根据 lock.backend 创建锁实现
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (Lock, error) {
	switch cfg.Lock.Backend {
	case "etcd":
		return NewEtcdLock(cfg.ETCD, log)
	case "redis":
		return NewRedLock(ctx, cfg.Redis, cfg.Lock, log)
	case "", "none":
		return NewLocalLock(), nil
	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Lock.Backend)
	}
}

// WithLock 持有锁期间执行 fn，获取失败时按 interval 重试直到 ctx 结束
func WithLock(ctx context.Context, l Lock, name string, ttl, interval time.Duration, fn func(ctx context.Context) error) error {
	for {
		ok, err := l.AcquireLock(ctx, name, ttl)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	defer l.ReleaseLock(context.Background(), name)
	return fn(ctx)
}

// LocalLock 单实例部署使用的进程内锁
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLock) AcquireLock(_ context.Context, lockName string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.locks[lockName]; ok && l.now().Before(exp) {
		return false, nil
	}
	l.locks[lockName] = l.now().Add(ttl)
	return true, nil
}

func (l *LocalLock) RefreshLock(_ context.Context, lockName string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.locks[lockName]
	if !ok || !l.now().Before(exp) {
		delete(l.locks, lockName)
		return false, nil
	}
	l.locks[lockName] = l.now().Add(ttl)
	return true, nil
}

func (l *LocalLock) ReleaseLock(_ context.Context, lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = make(map[string]time.Time)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
