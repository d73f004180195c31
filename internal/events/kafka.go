package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes purchase-created events to a Kafka topic, keyed by
// purchase id so replays for a purchase land in one partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

func (p *Producer) PublishPurchaseCreated(ctx context.Context, ev PurchaseCreated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.PurchaseID),
		Value: data,
		Time:  ev.OccurredAt,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads purchase-created events within a consumer group, giving
// at-least-once delivery to the reconciler.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader}
}

// Consume loops until ctx is cancelled. Handler errors are logged and the
// offset still advances; the platform retry for stock drift is redelivery of
// later events plus operator alerting on the logged fault.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[events] read message: %v", err)
			continue
		}

		var ev PurchaseCreated
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("[events] malformed event at offset %d: %v", msg.Offset, err)
			continue
		}
		if err := handler(ctx, ev.PurchaseID); err != nil {
			log.Printf("[events] reconcile failed purchase=%s: %v", ev.PurchaseID, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
