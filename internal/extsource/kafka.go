// Package extsource provides Stream sources backed by external transport,
// as opposed to internal/source's in-memory/timer-driven producers.
// FromKafka runs a sarama consumer-group session loop and pushes each
// decoded message onto a Stream[T] instead of dispatching it to a
// handler callback.
package extsource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"

	"fluxpipe/internal/logger"
	"fluxpipe/internal/stream"
)

var log = logger.WithComponent("extsource.kafka")

// KafkaConfig configures a Kafka-backed source: the brokers, consumer
// group, and topics to subscribe to, plus how long a broken session is
// retried before the stream gives up and errors out.
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxReconnectElapsed bounds how long FromKafka keeps retrying a
	// broken consumer-group session before giving up and erroring the
	// stream. Zero means retry indefinitely.
	MaxReconnectElapsed time.Duration
}

// Decode converts one Kafka message's value into T. A decode error is
// logged and the message is skipped rather than erroring the whole
// stream, so one malformed message never commits and never takes down
// an otherwise healthy consumer session.
type Decode[T any] func(msg *sarama.ConsumerMessage) (T, error)

// JSONDecode is the common case: unmarshal the message value as JSON.
func JSONDecode[T any]() Decode[T] {
	return func(msg *sarama.ConsumerMessage) (T, error) {
		var v T
		err := json.Unmarshal(msg.Value, &v)
		return v, err
	}
}

// FromKafka returns a Stream that subscribes to config.Topics as consumer
// group config.GroupID and pushes every decoded message. Sessions that end
// (rebalance, broker error) are retried with exponential backoff via
// cenkalti/backoff/v5, since a stream source should survive a transient
// broker blip rather than terminate on the first one. The stream closes
// when ctx is cancelled, and errors if backoff gives up within
// config.MaxReconnectElapsed.
func FromKafka[T any](ctx context.Context, config KafkaConfig, decode Decode[T]) *stream.Stream[T] {
	start := func(sctx context.Context, c stream.Controller[T]) error {
		saramaConfig := sarama.NewConfig()
		saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
		saramaConfig.Consumer.Group.Session.Timeout = 30 * time.Second
		saramaConfig.Consumer.Group.Heartbeat.Interval = 10 * time.Second

		group, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
		if err != nil {
			c.Error(fmt.Errorf("extsource: create kafka consumer group: %w", err))
			return nil
		}
		defer group.Close()

		handler := &claimHandler[T]{ctx: sctx, ctrl: c, decode: decode}

		operation := func() (struct{}, error) {
			if err := group.Consume(sctx, config.Topics, handler); err != nil {
				return struct{}{}, err
			}
			if sctx.Err() != nil {
				return struct{}{}, backoff.Permanent(sctx.Err())
			}
			return struct{}{}, fmt.Errorf("extsource: consumer group session ended")
		}

		opts := []backoff.RetryOption{backoff.WithBackOff(backoff.NewExponentialBackOff())}
		if config.MaxReconnectElapsed > 0 {
			opts = append(opts, backoff.WithMaxElapsedTime(config.MaxReconnectElapsed))
		} else {
			opts = append(opts, backoff.WithMaxElapsedTime(0))
		}

		for sctx.Err() == nil {
			if _, err := backoff.Retry(sctx, operation, opts...); err != nil {
				if sctx.Err() != nil {
					break
				}
				c.Error(fmt.Errorf("extsource: kafka consume: %w", err))
				return nil
			}
		}
		c.Close()
		return nil
	}

	return stream.New[T](ctx, start, nil, nil, stream.DefaultStrategy())
}

// claimHandler adapts a single consumer-group session's claim loop onto a
// Stream's Controller, decoding and enqueueing each claimed message until
// the claim closes or the context is cancelled.
type claimHandler[T any] struct {
	ctx    context.Context
	ctrl   stream.Controller[T]
	decode Decode[T]
}

func (h *claimHandler[T]) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler[T]) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler[T]) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-h.ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			v, err := h.decode(msg)
			if err != nil {
				log.Error("decode kafka message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				continue
			}
			h.ctrl.Enqueue(v)
			session.MarkMessage(msg, "")
		}
	}
}
