package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"

	"travel-booking/internal/logger"
	"travel-booking/internal/models"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TicketHandler receives one decoded ticket batch.
type TicketHandler func(ctx context.Context, tickets []models.Ticket) error

// Consumer reads the ticket feed: each message holds one ticket or a JSON
// array of tickets.
type Consumer struct {
	Reader MessageReader
	Logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{Reader: reader, Logger: log}
}

// Start consumes until ctx is cancelled or the reader is closed. Bad
// messages are logged and skipped.
func (c *Consumer) Start(ctx context.Context, handler TicketHandler) {
	c.Logger.Info("KAFKA", "ticket feed consumer started")

	for {
		msg, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.Logger.Info("KAFKA", "ticket feed consumer stopped")
				return
			}
			if errors.Is(err, io.EOF) {
				c.Logger.Info("KAFKA", "ticket feed reader closed")
				return
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		tickets, err := DecodeTickets(msg.Value)
		if err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message at offset %d: %v", msg.Offset, err))
			continue
		}
		if len(tickets) == 0 {
			continue
		}

		c.Logger.LogKafka("RECEIVE", msg.Topic, fmt.Sprintf("%d tickets", len(tickets)))
		if err := handler(ctx, tickets); err != nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("cache %d tickets: %v", len(tickets), err))
		}
	}
}

// DecodeTickets accepts a single ticket object or an array of them and drops
// entries without an id or with an unknown type.
func DecodeTickets(value []byte) ([]models.Ticket, error) {
	value = bytes.TrimSpace(value)
	var tickets []models.Ticket
	if len(value) > 0 && value[0] == '[' {
		if err := json.Unmarshal(value, &tickets); err != nil {
			return nil, err
		}
	} else {
		var t models.Ticket
		if err := json.Unmarshal(value, &t); err != nil {
			return nil, err
		}
		tickets = []models.Ticket{t}
	}

	valid := tickets[:0]
	for _, t := range tickets {
		if t.ID == "" || !t.Type.Valid() {
			continue
		}
		valid = append(valid, t)
	}
	return valid, nil
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.Reader.Close()
}
