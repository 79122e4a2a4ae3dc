package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/desertthunder/trackline/internal/shared"
)

// KafkaConfig configures a [KafkaBroker].
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
}

// KafkaBroker publishes each queue to its own topic and consumes it with a consumer group.
//
// Ack commits the message offset, so unacknowledged messages are redelivered after a restart.
type KafkaBroker struct {
	cfg    KafkaConfig
	writer *kafka.Writer

	mu      sync.Mutex
	readers map[string]*kafka.Reader
	closed  bool
}

// NewKafkaBroker creates a broker. Connections are opened lazily.
func NewKafkaBroker(cfg KafkaConfig) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", shared.ErrInvalidConfig)
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "trackline-workers"
	}

	return &KafkaBroker{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		readers: make(map[string]*kafka.Reader),
	}, nil
}

// Topic returns the topic that carries queue.
func (b *KafkaBroker) Topic(queue string) string {
	return b.cfg.TopicPrefix + queue
}

func (b *KafkaBroker) Publish(ctx context.Context, env Envelope) error {
	msg, err := b.encode(env)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *KafkaBroker) Receive(ctx context.Context, queue string) (Delivery, error) {
	reader, err := b.reader(queue)
	if err != nil {
		return Delivery{}, err
	}

	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Delivery{}, err
		}
		if errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
			return Delivery{}, ErrBrokerClosed
		}
		return Delivery{}, fmt.Errorf("failed to fetch from %s: %w", b.Topic(queue), err)
	}

	env, err := decode(msg)
	if err != nil {
		// a message we cannot read would block the partition forever
		_ = reader.CommitMessages(ctx, msg)
		return Delivery{}, err
	}

	return NewDelivery(env, func(ctx context.Context) error {
		return reader.CommitMessages(ctx, msg)
	}), nil
}

func (b *KafkaBroker) reader(queue string) (*kafka.Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	r, ok := b.readers[queue]
	if !ok {
		r = kafka.NewReader(kafka.ReaderConfig{
			Brokers: b.cfg.Brokers,
			Topic:   b.Topic(queue),
			GroupID: b.cfg.GroupID,
		})
		b.readers[queue] = r
	}
	return r, nil
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	errs := []error{b.writer.Close()}
	for _, r := range b.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

func (b *KafkaBroker) encode(env Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return kafka.Message{
		Topic: b.Topic(env.Queue),
		Key:   []byte(env.JobID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
		},
	}, nil
}

func decode(msg kafka.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return env, fmt.Errorf("failed to decode message at offset %d: %w", msg.Offset, err)
	}
	if env.JobID == "" {
		return env, fmt.Errorf("message at offset %d has no job id", msg.Offset)
	}
	return env, nil
}
