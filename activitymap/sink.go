package activitymap

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"

	auth "github.com/goliatone/go-workorder-auth"
)

// MessageWriter is the part of *kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes normalized activity records keyed by object id, so
// events about one user stay ordered on a partition.
type KafkaSink struct {
	writer MessageWriter
	opts   []Option
}

var _ auth.ActivitySink = (*KafkaSink)(nil)

func NewKafkaSink(writer MessageWriter, opts ...Option) *KafkaSink {
	return &KafkaSink{writer: writer, opts: opts}
}

func (s *KafkaSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	record := Normalize(event, s.opts...)

	value, err := json.Marshal(record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode activity record")
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.ObjectType + ":" + record.ObjectID),
		Value: value,
		Time:  record.OccurredAt,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish activity record").
			WithMetadata(map[string]any{"verb": record.Verb})
	}
	return nil
}

// LogSink writes normalized records to the logger
func LogSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		record := Normalize(event, opts...)
		logger.Info("activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})
}
