// Package analytics tracks completed match operations: a Collector publishes
// match events to Kafka off the request path, and an Aggregator consumes them
// into running statistics served by the stats endpoint.
package analytics

import (
	"context"
	"log/slog"

	"github.com/medassist-io/codematch/internal/matcher"
	"github.com/medassist-io/codematch/pkg/kafka"
)

// Collector buffers match events and publishes them to Kafka asynchronously.
// It implements matcher.EventSink; a full buffer drops events rather than
// blocking a match request.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan matcher.MatchEvent
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector over the given producer.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan matcher.MatchEvent, bufferSize),
		logger:   slog.Default().With("component", "analytics-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publish loop. It runs until ctx is cancelled or Close is
// called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// RecordMatch enqueues a match event without blocking.
func (c *Collector) RecordMatch(ctx context.Context, e matcher.MatchEvent) {
	select {
	case c.eventCh <- e:
	default:
		c.logger.Warn("match event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the publish loop to drain.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event matcher.MatchEvent) {
	err := c.producer.Publish(ctx, kafka.Event{
		Key:   event.Operation,
		Value: event,
	})
	if err != nil {
		c.logger.Error("failed to publish match event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
