package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ragworker/internal/mq"
	applog "ragworker/internal/platform/log"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

// ConsumerConfig 消费组配置；每个 topic 对应一个 stream
type ConsumerConfig struct {
	Group       string
	Consumer    string
	Topics      []string
	PollTimeout time.Duration
	// ClaimMinIdle 组内其它消费者的待确认条目空闲超过该值时接管，0 不接管
	ClaimMinIdle time.Duration
}

const claimBatch = 10

// streamClient Consumer 用到的 redis 命令
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Consumer Redis Streams 消费组。启动后先重放本消费者未确认的条目，
// 再按 ClaimMinIdle 周期接管已失联消费者遗留的条目，最后读新条目。
type Consumer struct {
	rdb          streamClient
	group        string
	consumer     string
	topics       []string
	pollTimeout  time.Duration
	claimMinIdle time.Duration

	mu        sync.Mutex
	replayed  bool
	lastClaim time.Time
	buffered  []*mq.Message
	now       func() time.Time
}

var _ mq.Consumer = (*Consumer)(nil)

// NewConsumer 创建消费组（stream 不存在时一并创建）
func NewConsumer(ctx context.Context, rdb *redis.Client, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("redisstream: group and topics are required")
	}
	return newConsumer(ctx, rdb, cfg)
}

func newConsumer(ctx context.Context, rdb streamClient, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Group + "-1"
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = time.Second
	}
	for _, topic := range cfg.Topics {
		err := rdb.XGroupCreateMkStream(ctx, topic, cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("create group %s on %s: %w", cfg.Group, topic, err)
		}
	}
	applog.Info("[MQ] Redis stream consumer started",
		"group", cfg.Group, "consumer", cfg.Consumer, "topics", cfg.Topics, "claim_min_idle", cfg.ClaimMinIdle)
	return &Consumer{
		rdb:          rdb,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		topics:       cfg.Topics,
		pollTimeout:  poll,
		claimMinIdle: cfg.ClaimMinIdle,
		now:          time.Now,
	}, nil
}

// Fetch 一个轮询周期内无消息时返回 nil, nil
func (c *Consumer) Fetch(ctx context.Context) (*mq.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffered) > 0 {
		return c.pop(), nil
	}

	if c.replayed && c.claimDue() {
		if c.buffered = c.claim(ctx); len(c.buffered) > 0 {
			return c.pop(), nil
		}
	}

	start := ">"
	block := c.pollTimeout
	if !c.replayed {
		start = "0"
		block = -1
	}

	streams := make([]string, 0, len(c.topics)*2)
	streams = append(streams, c.topics...)
	for range c.topics {
		streams = append(streams, start)
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  streams,
		Count:    10,
		Block:    block,
	}).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			c.replayed = true
			return nil, nil
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, mq.ErrClosed
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	c.buffered = toMessages(res)
	if !c.replayed && len(c.buffered) == 0 {
		c.replayed = true
	}
	if len(c.buffered) == 0 {
		return nil, nil
	}
	return c.pop(), nil
}

func (c *Consumer) claimDue() bool {
	return c.claimMinIdle > 0 && c.now().Sub(c.lastClaim) >= c.claimMinIdle
}

// claim XAUTOCLAIM 接管每个 stream 中空闲超时的待确认条目。
// 某个 stream 接管满一批时不推进 lastClaim，下次 Fetch 继续接管。
func (c *Consumer) claim(ctx context.Context) []*mq.Message {
	var (
		out  []*mq.Message
		full bool
	)
	for _, topic := range c.topics {
		msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimMinIdle,
			Start:    "0-0",
			Count:    claimBatch,
		}).Result()
		if err != nil {
			applog.Warn("[MQ] Reclaim idle entries failed", "stream", topic, "group", c.group, "error", err)
			continue
		}
		if len(msgs) > 0 {
			applog.Info("[MQ] Reclaimed idle entries", "stream", topic, "group", c.group, "consumer", c.consumer, "count", len(msgs))
		}
		if len(msgs) >= claimBatch {
			full = true
		}
		out = append(out, toMessages([]redis.XStream{{Stream: topic, Messages: msgs}})...)
	}
	if !full {
		c.lastClaim = c.now()
	}
	return out
}

func (c *Consumer) pop() *mq.Message {
	m := c.buffered[0]
	c.buffered = c.buffered[1:]
	return m
}

func (c *Consumer) Commit(ctx context.Context, msg *mq.Message) error {
	if err := c.rdb.XAck(ctx, msg.Topic, c.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}

// Close 不关闭共享的 redis 客户端
func (c *Consumer) Close() error { return nil }

func toMessages(streams []redis.XStream) []*mq.Message {
	var out []*mq.Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, mq.NewMessage(s.Stream, 0, 0, m.ID, field(m.Values, fieldKey), field(m.Values, fieldPayload), m))
		}
	}
	return out
}

func field(values map[string]any, name string) []byte {
	switch v := values[name].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// Producer XADD 发布；maxLen > 0 时近似裁剪 stream
type Producer struct {
	rdb    *redis.Client
	maxLen int64
}

var _ mq.Producer = (*Producer)(nil)

func NewProducer(rdb *redis.Client, maxLen int64) *Producer {
	return &Producer{rdb: rdb, maxLen: maxLen}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{fieldKey: string(key), fieldPayload: string(value)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return nil }
