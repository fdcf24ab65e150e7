// Package ingest doc_ingest 消费循环。
// 无论处理结果如何都提交消息（fail forward），坏消息不阻塞分区。
package ingest

import (
	"context"
	"errors"
	"time"

	"ragworker/internal/domain/rag"
	"ragworker/internal/mq"
	applog "ragworker/internal/platform/log"
)

// Consumer 入库消费循环
type Consumer struct {
	consumer    mq.Consumer
	pipeline    *rag.Pipeline
	idleBackoff time.Duration
}

// New 创建入库消费循环
func New(consumer mq.Consumer, pipeline *rag.Pipeline) *Consumer {
	return &Consumer{consumer: consumer, pipeline: pipeline, idleBackoff: time.Second}
}

// Run 持续消费直到 ctx 取消；once 为 true 时处理完一条消息即返回
func (c *Consumer) Run(ctx context.Context, once bool) error {
	applog.Info("[Ingest] Consumer started", "once", once)
	for {
		if ctx.Err() != nil {
			applog.Info("[Ingest] Consumer stopped")
			return nil
		}

		msg, err := c.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				applog.Info("[Ingest] Consumer stopped")
				return nil
			}
			if errors.Is(err, mq.ErrClosed) {
				return err
			}
			applog.Error("[Ingest] Fetch failed", "error", err)
			wait(ctx, c.idleBackoff)
			continue
		}
		if msg == nil {
			continue
		}

		c.Handle(context.WithoutCancel(ctx), msg)
		if once {
			return nil
		}
	}
}

// Handle 处理并提交一条消息
func (c *Consumer) Handle(ctx context.Context, msg *mq.Message) rag.IngestOutcome {
	start := time.Now()
	outcome, err := c.pipeline.Handle(ctx, msg.Value)

	attrs := []any{
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"outcome", string(outcome),
		"latency_ms", time.Since(start).Milliseconds(),
	}
	log := applog.Component("ingest")
	if err != nil {
		attrs = append(attrs, "code", string(rag.Classify(err)), "error", err)
		log.Warn("[Ingest] Message handled with failure", attrs...)
	} else {
		log.Info("[Ingest] Message handled", attrs...)
	}

	if err := c.consumer.Commit(ctx, msg); err != nil {
		applog.Error("[Ingest] Commit failed, message may be redelivered",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
	}
	return outcome
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
