package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"travel-booking/internal/logger"
	"travel-booking/internal/worker"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer mirrors sync engine broadcasts onto a topic so other services can
// follow booking reconciliation.
type Producer struct {
	Writer MessageWriter
	Topic  string
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topic: topic, Logger: log}
}

// PublishEvent writes ev keyed by its type, so all events of one type land
// on the same partition in order.
func (p *Producer) PublishEvent(ctx context.Context, ev worker.Event) error {
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", p.Topic, string(ev.Type))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(ev.Type),
			Value: msgBytes,
		},
	)
}

// Run publishes every event received on events until the channel closes or
// ctx is done. Publish failures are logged and skipped.
func (p *Producer) Run(ctx context.Context, events <-chan worker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.PublishEvent(ctx, ev); err != nil {
				p.Logger.Error("KAFKA", fmt.Sprintf("publish %s: %v", ev.Type, err))
			}
		}
	}
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
