package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
	"github.com/lvdashuaibi/roundvote/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 投票事务提交后发送 VoteEvent
type Producer struct {
	writer messageWriter
	log    logrus.FieldLogger
}

func NewProducer(cfg config.KafkaConfig, log logrus.FieldLogger) (*Producer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka配置不完整: brokers=%v topic=%q", cfg.Brokers, cfg.Topic)
	}

	// 使用Hash分区器，同一轮次的事件进入同一分区
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("Kafka生产者已创建")
	return &Producer{writer: writer, log: log}, nil
}

// SendVoteEvent 发送投票事件，以轮次 ID 作为分区键
func (p *Producer) SendVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化投票事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.VotingID),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送投票事件失败: %w", err)
	}
	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
