// Package redis implements the transport contract over a Redis list.
//
// Senders RPUSH onto the list; the receiver reads the head with LINDEX and
// removes it with LPOP once the handler accepts it. Every call is bounded by
// a short timeout so a slow server never stalls the engine for long.
//
// Delivery is at-least-once: if LPOP fails after the handler accepted a
// message, the message stays at the head and the next Poll delivers it
// again. A sequencer input then appends it as a second command with a new
// sequence.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/roach88/elara/internal/transport"
)

// DefaultTimeout bounds each Redis call.
const DefaultTimeout = 50 * time.Millisecond

// transientPrefixes are server replies that clear on their own; a call
// failing with one of them is retried exactly once.
var transientPrefixes = []string{"LOADING", "TRYAGAIN", "BUSY"}

// Queue is a Redis list used as a transport endpoint.
type Queue struct {
	client  *backend.Client
	key     string
	maxLen  int64
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ transport.Sender   = (*Queue)(nil)
	_ transport.Receiver = (*Queue)(nil)
)

type Option func(*Queue)

// WithMaxLength makes sends BACK_PRESSURED once the list holds n messages.
// Zero means unbounded.
func WithMaxLength(n int64) Option {
	return func(q *Queue) {
		q.maxLen = n
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.timeout = d
	}
}

// WithLogger sets the logger for receive failures.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates a queue on a new client for address. The client's own retries
// are disabled; the queue retries transient replies itself.
func New(address, key string, opts ...Option) *Queue {
	client := backend.NewClient(&backend.Options{Addr: address, MaxRetries: -1})
	return NewFromClient(client, key, opts...)
}

// NewFromClient creates a queue from an existing client. Configure the
// client with MaxRetries: -1 to keep the single retry contract.
func NewFromClient(client *backend.Client, key string, opts ...Option) *Queue {
	q := &Queue{
		client:  client,
		key:     key,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Key returns the list key.
func (q *Queue) Key() string { return q.key }

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// SendMessage pushes buf onto the list.
func (q *Queue) SendMessage(buf []byte) transport.SendResult {
	if q.maxLen > 0 {
		var n int64
		err := q.do(func(ctx context.Context) error {
			var err error
			n, err = q.client.LLen(ctx, q.key).Result()
			return err
		})
		if err != nil {
			return classify(err)
		}
		if n >= q.maxLen {
			return transport.BackPressured
		}
	}

	err := q.do(func(ctx context.Context) error {
		return q.client.RPush(ctx, q.key, buf).Err()
	})
	if err != nil {
		return classify(err)
	}
	return transport.Sent
}

// Poll delivers the head of the list, if any.
func (q *Queue) Poll(h transport.Handler) int {
	var msg []byte
	err := q.do(func(ctx context.Context) error {
		var err error
		msg, err = q.client.LIndex(ctx, q.key, 0).Bytes()
		return err
	})
	if errors.Is(err, backend.Nil) {
		return 0
	}
	if err != nil {
		q.logger.Warn("redis poll failed", "key", q.key, "result", classify(err), "error", err)
		return 0
	}

	if !h(msg) {
		return 1
	}

	err = q.do(func(ctx context.Context) error {
		return q.client.LPop(ctx, q.key).Err()
	})
	if err != nil && !errors.Is(err, backend.Nil) {
		// The message stays at the head and will be delivered again.
		q.logger.Error("redis pop failed after delivery", "key", q.key, "error", err)
	}
	return 1
}

// do runs fn under the call timeout, retrying once on a transient reply.
func (q *Queue) do(fn func(ctx context.Context) error) error {
	err := q.call(fn)
	if err != nil && isTransient(err) {
		err = q.call(fn)
	}
	return err
}

func (q *Queue) call(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	return fn(ctx)
}

func isTransient(err error) bool {
	var rerr backend.Error
	if !errors.As(err, &rerr) {
		return false
	}
	msg := rerr.Error()
	for _, p := range transientPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

func classify(err error) transport.SendResult {
	switch {
	case err == nil:
		return transport.Sent
	case errors.Is(err, backend.ErrClosed):
		return transport.Closed
	case isTransient(err):
		return transport.BackPressured
	case errors.Is(err, context.DeadlineExceeded):
		return transport.Disconnected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transport.Disconnected
	}
	return transport.Failed
}
