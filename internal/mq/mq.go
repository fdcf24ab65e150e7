// Package mq 定义 worker 与 ingest 循环使用的消息队列抽象。
// 语义为至少一次投递：消息处理完成（结果已发布）后才 Commit。
package mq

import (
	"context"
	"errors"
)

// ErrClosed 消费者或生产者已关闭
var ErrClosed = errors.New("mq: closed")

// Message 一条已拉取、尚未提交的消息
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	// ID Redis Streams 的条目 ID；Kafka 为空
	ID    string
	Key   []byte
	Value []byte

	raw any
}

// NewMessage 供驱动实现构造消息，raw 为驱动自身的提交句柄
func NewMessage(topic string, partition int, offset int64, id string, key, value []byte, raw any) *Message {
	return &Message{Topic: topic, Partition: partition, Offset: offset, ID: id, Key: key, Value: value, raw: raw}
}

// Raw 驱动提交句柄
func (m *Message) Raw() any { return m.raw }

// Consumer 消费组读取端
type Consumer interface {
	// Fetch 拉取下一条消息；一个轮询周期内无消息时返回 nil, nil
	Fetch(ctx context.Context) (*Message, error)
	// Commit 确认消息已处理
	Commit(ctx context.Context, msg *Message) error
	Close() error
}

// Producer 发布端
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}
