// Package scheduler 定时关闭已过期的投票轮次。
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/internal/lock"
)

// RoundStore 由 repository.SQLRepository 实现
type RoundStore interface {
	CloseExpiredRounds(ctx context.Context, now time.Time) (int64, error)
}

// RoundCloser 只有持有 SchedulerLock 的实例执行关闭操作
type RoundCloser struct {
	store    RoundStore
	lock     lock.Lock
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
	log      logrus.FieldLogger

	mu       sync.Mutex
	isLeader bool
	stopChan chan struct{}
	done     chan struct{}
}

func NewRoundCloser(store RoundStore, l lock.Lock, interval, lockTTL time.Duration, log logrus.FieldLogger) *RoundCloser {
	// 锁有效期至少为两个周期
	if lockTTL < 2*interval {
		lockTTL = 2 * interval
	}
	return &RoundCloser{
		store:    store,
		lock:     l,
		interval: interval,
		lockTTL:  lockTTL,
		now:      time.Now,
		log:      log,
	}
}

// Start 启动后台任务，ctx 结束或调用 Stop 时退出
func (s *RoundCloser) Start(ctx context.Context) {
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runLogged(ctx)
		for {
			select {
			case <-ticker.C:
				s.runLogged(ctx)
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			}
		}
	}()
	s.log.WithField("interval", s.interval).Info("轮次关闭任务已启动")
}

// Stop 停止任务并释放主节点锁
func (s *RoundCloser) Stop() {
	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLeader {
		if err := s.lock.ReleaseLock(context.Background(), lock.SchedulerLock); err != nil {
			s.log.WithError(err).Warn("释放轮次关闭任务锁失败")
		}
		s.isLeader = false
	}
	s.log.Info("轮次关闭任务已停止")
}

func (s *RoundCloser) runLogged(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.log.WithError(err).Warn("关闭过期轮次失败")
		return
	}
	if n > 0 {
		s.log.WithField("closed", n).Info("已关闭过期投票轮次")
	}
}

// RunOnce 执行一次；非主节点时返回 0
func (s *RoundCloser) RunOnce(ctx context.Context) (int64, error) {
	leader, err := s.ensureLeader(ctx)
	if err != nil || !leader {
		return 0, err
	}
	return s.store.CloseExpiredRounds(ctx, s.now())
}

// IsLeader 当前实例是否持有任务锁
func (s *RoundCloser) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLeader
}

func (s *RoundCloser) ensureLeader(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isLeader {
		ok, err := s.lock.RefreshLock(ctx, lock.SchedulerLock, s.lockTTL)
		if err == nil && ok {
			return true, nil
		}
		s.log.WithError(err).Warn("轮次关闭任务锁已失效")
		s.isLeader = false
	}

	ok, err := s.lock.AcquireLock(ctx, lock.SchedulerLock, s.lockTTL)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("获取轮次关闭任务锁成功")
	}
	s.isLeader = ok
	return ok, nil
}
