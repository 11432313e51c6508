package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/model"
)

const (
	// Redis键前缀
	TallyKey = "roundvote:tally:"

	defaultResultTTL = time.Minute
)

// RedisRepository 计票结果缓存，数据库为唯一数据源
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(ctx context.Context, cfg config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	return NewRedisRepositoryWithClient(client, cfg.ResultTTL), nil
}

func NewRedisRepositoryWithClient(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func tallyKey(votingID, participantID string) string {
	return TallyKey + votingID + ":" + participantID
}

// GetTally 从缓存获取计票结果，未命中时 found 为 false
func (r *RedisRepository) GetTally(ctx context.Context, votingID, participantID string) (*model.TallyEntry, bool, error) {
	data, err := r.client.Get(ctx, tallyKey(votingID, participantID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("获取计票缓存失败: %w", err)
	}

	var entry model.TallyEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, fmt.Errorf("解析计票缓存失败: %w", err)
	}
	return &entry, true, nil
}

// SetTally 写入计票缓存
func (r *RedisRepository) SetTally(ctx context.Context, entry *model.TallyEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化计票结果失败: %w", err)
	}
	if err := r.client.Set(ctx, tallyKey(entry.VotingID, entry.ParticipantID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("设置计票缓存失败: %w", err)
	}
	return nil
}

// DeleteTally 删除计票缓存
func (r *RedisRepository) DeleteTally(ctx context.Context, votingID, participantID string) error {
	if err := r.client.Del(ctx, tallyKey(votingID, participantID)).Err(); err != nil {
		return fmt.Errorf("删除计票缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
