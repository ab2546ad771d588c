// Package kafka publishes alert events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/govwatch/internal/hash/sha256"
)

// Keyer lets a payload choose its partition key.
type Keyer interface {
	Key() string
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config describes the cluster connection.
type Config struct {
	Brokers     []string
	MaxAttempts int
}

// Publisher writes JSON payloads to the topic named in each call.
type Publisher struct {
	writer MessageWriter
	hasher *sha256.Hasher
	now    func() time.Time
}

// New builds a Publisher with a kafka.Writer for cfg.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            attempts,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}), nil
}

// NewWithWriter wraps an existing writer. The writer must not pin a topic.
func NewWithWriter(w MessageWriter) *Publisher {
	return &Publisher{writer: w, hasher: sha256.New(), now: time.Now}
}

// Publish writes one message and returns its key. The key defaults to the
// payload digest so identical payloads land on the same partition.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key := ""
	if k, ok := payload.(Keyer); ok {
		key = k.Key()
	}
	if key == "" {
		digest, _ := p.hasher.Hash(data)
		key = digest[:32]
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "published_at", Value: []byte(p.now().UTC().Format(time.RFC3339))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
