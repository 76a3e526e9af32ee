package mq

import (
	"context"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

type kafkaQueue struct {
	w       *kafka.Writer
	timeout time.Duration
}

// newKafka returns a publisher writing to c.Topic. Messages are keyed so
// every artifact of one report lands on the same partition.
func newKafka(c Config) *kafkaQueue {
	topic := c.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	// Writers are safe for concurrent use
	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &kafkaQueue{w: w, timeout: c.timeout()}
}

func (q *kafkaQueue) PublishReport(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

func (q *kafkaQueue) Close() error { return q.w.Close() }
