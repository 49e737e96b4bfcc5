// Package broker administers topics and produces messages on a Kafka
// compatible broker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Config describes how to reach the broker.
type Config struct {
	Brokers  []string
	ClientID string
}

type admin interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
	DeleteTopics(ctx context.Context, topics ...string) (kadm.DeleteTopicResponses, error)
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Broker creates and deletes single-partition topics and produces batches of
// opaque text messages to them.
type Broker struct {
	adm    admin
	client producer
	logger *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// New connects to the brokers. The connection is lazy: errors surface on
// the first operation.
func New(cfg Config, opts ...Option) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("broker: no seed brokers configured")
	}
	kopts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	return newBroker(kadm.NewClient(cl), cl, opts...), nil
}

func newBroker(adm admin, client producer, opts ...Option) *Broker {
	b := &Broker{
		adm:    adm,
		client: client,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateTopic creates a topic with one partition and replication factor
// one. An existing topic is not an error.
func (b *Broker) CreateTopic(ctx context.Context, name string) error {
	resps, err := b.adm.CreateTopics(ctx, 1, 1, nil, name)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", name, err)
	}
	if r, ok := resps[name]; ok && r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", name, r.Err)
	}
	b.logger.Debug("topic created", "topic", name)
	return nil
}

// DeleteTopic deletes a topic. A missing topic is not an error.
func (b *Broker) DeleteTopic(ctx context.Context, name string) error {
	resps, err := b.adm.DeleteTopics(ctx, name)
	if err != nil {
		return fmt.Errorf("delete topic %s: %w", name, err)
	}
	if r, ok := resps[name]; ok && r.Err != nil && !errors.Is(r.Err, kerr.UnknownTopicOrPartition) {
		return fmt.Errorf("delete topic %s: %w", name, r.Err)
	}
	b.logger.Debug("topic deleted", "topic", name)
	return nil
}

// Produce sends messages to topic in order and waits until all are
// acknowledged.
func (b *Broker) Produce(ctx context.Context, topic string, messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	records := make([]*kgo.Record, len(messages))
	for i, m := range messages {
		records[i] = &kgo.Record{Topic: topic, Value: []byte(m)}
	}
	if err := b.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	b.logger.Debug("produced", "topic", topic, "messages", len(messages))
	return nil
}

// Close releases the client.
func (b *Broker) Close() {
	b.client.Close()
}
