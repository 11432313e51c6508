package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/model"
)

const maxWorkers = 8

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MessageHandler 处理一条投票事件
type MessageHandler func(ctx context.Context, event *model.VoteEvent) error

type Consumer struct {
	readers []messageReader
	log     logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer 配置了 group_id 时使用消费者组，否则每个分区一个 reader
func NewConsumer(ctx context.Context, cfg config.KafkaConfig, log logrus.FieldLogger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka配置不完整: brokers=%v topic=%q", cfg.Brokers, cfg.Topic)
	}

	var readers []messageReader
	if cfg.GroupID != "" {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}))
		log.WithField("group", cfg.GroupID).Info("创建消费者组Reader")
	} else {
		partitions, err := topicPartitions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if len(partitions) > maxWorkers {
			log.Warnf("分区数量(%d)大于goroutine上限(%d)，只消费前%d个分区", len(partitions), maxWorkers, maxWorkers)
			partitions = partitions[:maxWorkers]
		}
		for _, partition := range partitions {
			readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
				Brokers:   cfg.Brokers,
				Topic:     cfg.Topic,
				Partition: partition,
				MinBytes:  1,
				MaxBytes:  10e6,
			}))
		}
		log.Infof("Kafka主题 %s 使用 %d 个分区Reader", cfg.Topic, len(readers))
	}

	return newConsumer(readers, log), nil
}

func newConsumer(readers []messageReader, log logrus.FieldLogger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{readers: readers, log: log, ctx: ctx, cancel: cancel}
}

func topicPartitions(ctx context.Context, cfg config.KafkaConfig) ([]int, error) {
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}
	ids := make([]int, 0, len(partitions))
	for _, p := range partitions {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("Kafka主题 %s 没有分区", cfg.Topic)
	}
	return ids, nil
}

// StartConsuming 每个 reader 一个 goroutine
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r messageReader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}
	c.log.Infof("已启动 %d 个Kafka消费者工作线程", len(c.readers))
}

func (c *Consumer) consumeMessages(workerID int, reader messageReader, handler MessageHandler) {
	log := c.log.WithField("worker", workerID)
	for {
		m, err := reader.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.WithError(err).Warn("读取消息失败")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var event model.VoteEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.WithError(err).WithField("offset", m.Offset).Warn("解析消息失败")
			continue
		}
		if err := handler(c.ctx, &event); err != nil {
			log.WithError(err).WithField("vote", event.VoteID).Warn("处理投票事件失败")
		}
	}
}

// Stop 停止消费并关闭所有 reader
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var errs []error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Info("所有Kafka消费者工作线程已停止")
	return errors.Join(errs...)
}
