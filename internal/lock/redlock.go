package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
)

// 只操作自己持有的锁
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// RedLock 多个独立 Redis 节点上的 Redlock 实现
type RedLock struct {
	clients []*redis.Client
	addrs   []string
	log     logrus.FieldLogger
	retries int
	delay   time.Duration

	mu    sync.Mutex
	locks map[string]string // 锁名 -> token
}

func NewRedLock(ctx context.Context, cfg config.RedisConfig, lockCfg config.LockConfig, log logrus.FieldLogger) (*RedLock, error) {
	if len(cfg.LockAddresses) == 0 {
		return nil, fmt.Errorf("未配置Redis锁节点")
	}

	var clients []*redis.Client
	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			client.Close()
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}
		clients = append(clients, client)
	}

	return NewRedLockWithClients(clients, cfg.LockAddresses, lockCfg.RetryCount, log), nil
}

func NewRedLockWithClients(clients []*redis.Client, addrs []string, retries int, log logrus.FieldLogger) *RedLock {
	if retries <= 0 {
		retries = 1
	}
	return &RedLock{
		clients: clients,
		addrs:   addrs,
		log:     log,
		retries: retries,
		delay:   100 * time.Millisecond,
		locks:   make(map[string]string),
	}
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// AcquireLock 在多数节点上 SETNX 成功且未超出有效期时视为获取成功
func (r *RedLock) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	token, err := newToken()
	if err != nil {
		return false, fmt.Errorf("生成锁令牌失败: %w", err)
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		start := time.Now()
		success := 0
		for i, client := range r.clients {
			ok, err := client.SetNX(ctx, lockName, token, ttl).Result()
			if err != nil {
				r.log.WithError(err).WithFields(logrus.Fields{"node": r.addrs[i], "lock": lockName}).Warn("在节点获取锁失败")
				continue
			}
			if ok {
				success++
			}
		}

		if success >= r.quorum() && ttl-time.Since(start) > 0 {
			r.mu.Lock()
			r.locks[lockName] = token
			r.mu.Unlock()
			r.log.WithField("lock", lockName).Debug("获取Redis锁成功")
			return true, nil
		}

		r.unlockAll(context.Background(), lockName, token)

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.delay):
		}
	}
	return false, nil
}

func (r *RedLock) RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	token, exists := r.locks[lockName]
	r.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	success := 0
	for i, client := range r.clients {
		n, err := refreshScript.Run(ctx, client, []string{lockName}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{"node": r.addrs[i], "lock": lockName}).Warn("在节点刷新锁失败")
			continue
		}
		if n == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}

	r.mu.Lock()
	delete(r.locks, lockName)
	r.mu.Unlock()
	return false, nil
}

func (r *RedLock) ReleaseLock(ctx context.Context, lockName string) error {
	r.mu.Lock()
	token, exists := r.locks[lockName]
	delete(r.locks, lockName)
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	r.unlockAll(ctx, lockName, token)
	return nil
}

func (r *RedLock) unlockAll(ctx context.Context, lockName, token string) {
	for i, client := range r.clients {
		if err := unlockScript.Run(ctx, client, []string{lockName}, token).Err(); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{"node": r.addrs[i], "lock": lockName}).Warn("在节点释放锁失败")
		}
	}
}

func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	locks := r.locks
	r.locks = make(map[string]string)
	r.mu.Unlock()

	for name, token := range locks {
		r.unlockAll(context.Background(), name, token)
	}
}

func (r *RedLock) Close() error {
	r.ReleaseAllLocks()
	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			r.log.WithError(err).Warn("关闭Redis客户端失败")
		}
	}
	return nil
}
