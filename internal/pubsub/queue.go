// Package pubsub delivers the bridge's outbound MQTT commands in order.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultQueueSize bounds the number of commands waiting for the transport.
const DefaultQueueSize = 16

// ErrQueueClosed is returned by Send once the queue has stopped draining.
var ErrQueueClosed = errors.New("message queue is closed")

// Transport executes commands against a broker connection.
type Transport interface {
	// Connect establishes a connection to the broker
	Connect(ctx context.Context) error

	// Execute performs a single publish, subscribe or unsubscribe
	Execute(ctx context.Context, action domain.Action) error

	// Close terminates the connection to the broker
	Close() error
}

// SinkError reports that the transport failed to execute a command. It is fatal.
type SinkError struct {
	Kind  domain.ActionKind
	Topic string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("mqtt %s %q failed: %v", e.Kind, e.Topic, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Queue is a bounded FIFO of actions drained by a single goroutine into a
// Transport. Send blocks while the queue is full.
type Queue struct {
	actions   chan domain.Action
	done      chan struct{}
	transport Transport
	logger    zerolog.Logger
}

var _ domain.MessageSink = (*Queue)(nil)

// NewQueue creates a queue of the given capacity in front of transport.
func NewQueue(transport Transport, size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Queue{
		actions:   make(chan domain.Action, size),
		done:      make(chan struct{}),
		transport: transport,
		logger:    log.With().Str("component", "queue").Logger(),
	}
}

// Send enqueues an action. It blocks until there is room, ctx is done or the queue stops.
func (q *Queue) Send(ctx context.Context, action domain.Action) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.actions <- action:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	return len(q.actions)
}

// Run drains the queue into the transport in FIFO order until ctx is done.
// The first transport failure stops the queue and is returned as a *SinkError.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			if n := len(q.actions); n > 0 {
				q.logger.Debug().Int("dropped", n).Msg("Queue stopped with pending actions")
			}
			return nil
		case action := <-q.actions:
			if err := q.transport.Execute(ctx, action); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				q.logger.Error().
					Err(err).
					Str("kind", action.Kind.String()).
					Str("topic", action.Topic).
					Msg("Transport failed, stopping queue")
				return &SinkError{Kind: action.Kind, Topic: action.Topic, Err: err}
			}
		}
	}
}
