package kafka

import (
	"context"
	"encoding/json"
	"log"

	"ticketly/internal/models"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Start consumes ticket events until ctx is cancelled. Malformed messages are
// skipped; the derived-state recompute must keep converging past them.
func (c *Consumer) Start(ctx context.Context, handler func(ev models.TicketEvent)) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("kafka: error reading message: %v", err)
			continue
		}

		var ev models.TicketEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("kafka: failed to unmarshal ticket event: %v", err)
			continue
		}

		handler(ev)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
