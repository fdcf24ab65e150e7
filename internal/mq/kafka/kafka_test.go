package kafka

import (
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"redpanda:9092", "b2:9092"}, SplitBrokers(" redpanda:9092, ,b2:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestConsumerConfigValidation(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{GroupID: "g", Topics: []string{"t"}})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b"}, Topics: []string{"t"}})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b"}, GroupID: "g"})
	assert.Error(t, err)

	_, err = NewProducer(nil)
	assert.Error(t, err)
}

func TestFromKafkaKeepsCommitHandle(t *testing.T) {
	m := kafkago.Message{Topic: "rag_search_request", Partition: 2, Offset: 41, Key: []byte("k"), Value: []byte(`{}`)}
	msg := fromKafka(m)

	assert.Equal(t, "rag_search_request", msg.Topic)
	assert.Equal(t, 2, msg.Partition)
	assert.EqualValues(t, 41, msg.Offset)
	assert.Equal(t, []byte(`{}`), msg.Value)
	raw, ok := msg.Raw().(kafkago.Message)
	require.True(t, ok)
	assert.Equal(t, m.Offset, raw.Offset)
}
