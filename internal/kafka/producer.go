package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-stepping/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Publisher is implemented by Producer and NopProducer.
type Publisher interface {
	Publish(topic, key string, value []byte) error
}

type Producer struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

// NewProducer returns a producer that routes each message to the topic given
// at publish time.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Logger: log}
}

func (p *Producer) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish to %s (key=%s): %v", topic, key, err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(value)))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// PublishJSON marshals v and publishes it through pub.
func PublishJSON(pub Publisher, topic, key string, v interface{}) error {
	if pub == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return pub.Publish(topic, key, payload)
}

// NopProducer drops every message. Used when Kafka is disabled.
type NopProducer struct {
	Logger *logger.Logger
}

func (n NopProducer) Publish(topic, key string, value []byte) error {
	n.Logger.Debug("KAFKA", fmt.Sprintf("Kafka disabled, dropping %s (key=%s)", topic, key))
	return nil
}
