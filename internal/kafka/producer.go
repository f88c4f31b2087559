package kafka

import (
	"context"
	"encoding/json"
	"time"

	"ticketly/internal/models"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	Writer *kafka.Writer
}

// NewProducer returns a producer that can publish to any topic; the topic is
// carried per message so one writer serves the whole ticket event feed.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{Writer: writer}
}

func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishTicketEvent streams a ticket state transition, keyed by event id so
// all transitions of one event land on the same partition in order.
func (p *Producer) PublishTicketEvent(topic string, ev models.TicketEvent) error {
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Publish(topic, ev.EventID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
