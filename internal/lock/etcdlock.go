package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lvdashuaibi/roundvote/config"
)

const keyPrefix = "/roundvote/locks/"

// EtcdLock 基于租约的分布式锁
type EtcdLock struct {
	client *clientv3.Client
	log    logrus.FieldLogger
	mu     sync.Mutex
	locks  map[string]*lockEntry
}

type lockEntry struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc // 停止自动续约
}

func NewEtcdLock(cfg config.ETCDConfig, log logrus.FieldLogger) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}
	return &EtcdLock{
		client: cli,
		log:    log,
		locks:  make(map[string]*lockEntry),
	}, nil
}

// leaseSeconds etcd 租约最小粒度为秒
func leaseSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func (el *EtcdLock) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, ok := el.locks[lockName]; ok {
		return false, fmt.Errorf("锁 %s 已被当前实例持有", lockName)
	}

	key := keyPrefix + lockName
	grantResp, err := el.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return false, fmt.Errorf("创建租约失败: %w", err)
	}

	// key 不存在时写入
	txnResp, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grantResp.ID))).
		Commit()
	if err != nil {
		el.client.Revoke(context.Background(), grantResp.ID)
		return false, fmt.Errorf("事务执行失败: %w", err)
	}
	if !txnResp.Succeeded {
		el.client.Revoke(context.Background(), grantResp.ID)
		return false, nil
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	go el.keepAlive(keepAliveCtx, lockName, grantResp.ID, ttl)

	el.locks[lockName] = &lockEntry{leaseID: grantResp.ID, key: key, cancel: cancel}
	el.log.WithField("lock", lockName).Debug("获取etcd锁成功")
	return true, nil
}

func (el *EtcdLock) RefreshLock(ctx context.Context, lockName string, _ time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.locks[lockName]
	if !ok {
		return false, fmt.Errorf("未持有锁 %s", lockName)
	}

	if _, err := el.client.KeepAliveOnce(ctx, entry.leaseID); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			entry.cancel()
			delete(el.locks, lockName)
			return false, nil
		}
		return false, fmt.Errorf("续约失败: %w", err)
	}
	return true, nil
}

func (el *EtcdLock) ReleaseLock(ctx context.Context, lockName string) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.releaseLock(ctx, lockName)
}

func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	defer el.mu.Unlock()

	for lockName := range el.locks {
		if err := el.releaseLock(context.Background(), lockName); err != nil {
			el.log.WithError(err).WithField("lock", lockName).Warn("释放etcd锁失败")
		}
	}
}

func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	return el.client.Close()
}

func (el *EtcdLock) keepAlive(ctx context.Context, lockName string, leaseID clientv3.LeaseID, ttl time.Duration) {
	ticker := time.NewTicker(time.Duration(leaseSeconds(ttl)) * time.Second / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := el.client.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() == nil {
					el.log.WithError(err).WithField("lock", lockName).Warn("etcd锁自动续约失败")
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (el *EtcdLock) releaseLock(ctx context.Context, lockName string) error {
	entry, ok := el.locks[lockName]
	if !ok {
		return nil
	}
	entry.cancel()
	delete(el.locks, lockName)

	if _, err := el.client.Delete(ctx, entry.key); err != nil {
		return fmt.Errorf("删除键失败: %w", err)
	}
	if _, err := el.client.Revoke(ctx, entry.leaseID); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("释放租约失败: %w", err)
	}
	return nil
}
