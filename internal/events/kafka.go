package events

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport writes each routing key to the topic of the same name.
type KafkaTransport struct {
	writer kafkaWriter
}

func NewKafkaTransport(brokers []string) (*KafkaTransport, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return newKafkaTransport(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}), nil
}

func newKafkaTransport(w kafkaWriter) *KafkaTransport {
	return &KafkaTransport{writer: w}
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Send(ctx context.Context, msg Message) error {
	return t.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.RoutingKey,
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(msg.ID)},
		},
	})
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
