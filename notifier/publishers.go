package notifier

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"

	auth "github.com/goliatone/go-workorder-auth"
)

// MessageWriter is the part of *kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notifications to a topic keyed by Kind, the mail
// service consumes them.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter returns a synchronous writer acknowledging on all replicas
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: 10 * time.Second,
	}
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n Notification) error {
	value, err := n.Encode()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode notification")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Kind),
		Value: value,
		Time:  n.CreatedAt,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish notification").
			WithMetadata(map[string]any{"kind": n.Kind})
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs notifications, for development without a broker.
// Tokens are logged so the flows can be completed by hand.
type LogPublisher struct {
	logger auth.Logger
}

func NewLogPublisher(logger auth.Logger) *LogPublisher {
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, n Notification) error {
	p.logger.Info("notification", "kind", n.Kind, "to", n.To, "token", n.Token, "first_name", n.FirstName)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
