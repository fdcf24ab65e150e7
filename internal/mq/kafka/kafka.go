package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"ragworker/internal/mq"
	applog "ragworker/internal/platform/log"
)

// ConsumerConfig 消费组配置
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	PollTimeout time.Duration
}

func (c ConsumerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if c.GroupID == "" {
		return errors.New("kafka: group id is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka: at least one topic is required")
	}
	return nil
}

// Consumer 基于 kafka-go Reader 的消费组，关闭自动提交，只显式提交。
type Consumer struct {
	reader      *kafkago.Reader
	pollTimeout time.Duration
}

var _ mq.Consumer = (*Consumer)(nil)

// NewConsumer 创建消费组读取端
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = time.Second
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		StartOffset:    kafkago.FirstOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        poll,
	})
	applog.Info("[MQ] Kafka consumer started", "brokers", strings.Join(cfg.Brokers, ","), "group", cfg.GroupID, "topics", cfg.Topics)
	return &Consumer{reader: reader, pollTimeout: poll}, nil
}

// Fetch 单个轮询周期内没有消息时返回 nil, nil
func (c *Consumer) Fetch(ctx context.Context) (*mq.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	m, err := c.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, mq.ErrClosed
		}
		return nil, fmt.Errorf("kafka fetch: %w", err)
	}
	return fromKafka(m), nil
}

func (c *Consumer) Commit(ctx context.Context, msg *mq.Message) error {
	m, ok := msg.Raw().(kafkago.Message)
	if !ok {
		return fmt.Errorf("kafka commit: message from another driver (topic %s)", msg.Topic)
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("kafka commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(m kafkago.Message) *mq.Message {
	return mq.NewMessage(m.Topic, m.Partition, m.Offset, "", m.Key, m.Value, m)
}

// Producer 基于 kafka-go Writer，主题随消息指定
type Producer struct {
	writer *kafkago.Writer
}

var _ mq.Producer = (*Producer)(nil)

// NewProducer 创建生产者；按 key 哈希分区，等待全部副本确认
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	return &Producer{writer: &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafkago.Message{Topic: topic, Key: key, Value: value}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// SplitBrokers 解析逗号分隔的 broker 列表
func SplitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
