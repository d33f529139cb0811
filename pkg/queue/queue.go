// Package queue serializes spreadsheet writes. The backing store enforces a
// strict per-minute write quota shared across all in-flight webhook
// deliveries, so every mutating operation funnels through one worker.
package queue

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Op is one spreadsheet write operation.
type Op func(ctx context.Context) error

// Config holds pacing and rate-limit backoff settings.
type Config struct {
	// MinInterval is the minimum spacing between operation completions.
	MinInterval time.Duration
	// BackoffMin/BackoffMax bound the jittered sleep before a rate-limited
	// operation is retried.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// ErrClosed is returned when an operation is submitted after Shutdown.
var ErrClosed = errors.New("queue: closed")

// Queue executes operations one at a time in enqueue order. A rate-limited
// operation is retried at the front of the queue after a jittered backoff;
// the caller's result only resolves on ultimate success or a non-rate-limit
// error. Depth is unbounded.
type Queue struct {
	ops         chan *item
	cfg         Config
	isRateLimit func(error) bool
	logger      *log.Logger
	depth       atomic.Int64
	onDepth     func(int64)
	onRetry     func()

	// mu serializes submission against shutdown so an operation can never
	// slip into the channel after the drain loop has exited.
	mu      sync.Mutex
	stopped bool
	closed  chan struct{}
	done    chan struct{}
}

type item struct {
	op   Op
	done chan error
}

// Option adjusts queue behavior.
type Option func(*Queue)

// WithDepthGauge registers a callback invoked on every depth change.
func WithDepthGauge(fn func(int64)) Option {
	return func(q *Queue) { q.onDepth = fn }
}

// WithRetryCounter registers a callback invoked on every rate-limit retry.
func WithRetryCounter(fn func()) Option {
	return func(q *Queue) { q.onRetry = fn }
}

func New(cfg Config, isRateLimit func(error) bool, logger *log.Logger, opts ...Option) *Queue {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if isRateLimit == nil {
		isRateLimit = func(error) bool { return false }
	}
	if logger == nil {
		logger = log.Default()
	}
	q := &Queue{
		ops:         make(chan *item, 64),
		cfg:         cfg,
		isRateLimit: isRateLimit,
		logger:      logger,
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Run drains the queue until Shutdown. ctx is passed to operations; it is
// not used to abort the loop, so accepted work always runs to completion.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case it := <-q.ops:
			q.execute(ctx, it)
		case <-q.closed:
			// Drain whatever was accepted before shutdown.
			for {
				select {
				case it := <-q.ops:
					q.execute(ctx, it)
				default:
					return
				}
			}
		}
	}
}

// Enqueue submits op and returns a channel that resolves with its ultimate
// result.
func (q *Queue) Enqueue(op Op) <-chan error {
	it := &item{op: op, done: make(chan error, 1)}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		it.done <- ErrClosed
		return it.done
	}
	q.setDepth(q.depth.Add(1))
	q.ops <- it
	q.mu.Unlock()
	return it.done
}

// Do submits op and waits for its ultimate result.
func (q *Queue) Do(ctx context.Context, op Op) error {
	select {
	case err := <-q.Enqueue(op):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth reports the number of operations waiting or in flight.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// Shutdown stops accepting new operations and waits for the queue to drain.
// Operations accepted before Shutdown run to completion.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	alreadyStopped := q.stopped
	q.stopped = true
	q.mu.Unlock()

	if !alreadyStopped {
		close(q.closed)
	}
	<-q.done
}

func (q *Queue) execute(ctx context.Context, it *item) {
	defer q.setDepth(q.depth.Add(-1))

	for {
		err := it.op(ctx)
		if err != nil && q.isRateLimit(err) {
			backoff := q.jitteredBackoff()
			q.logger.Printf("write rate limited, retrying in %s", backoff)
			if q.onRetry != nil {
				q.onRetry()
			}
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				it.done <- ctx.Err()
				return
			}
		}
		it.done <- err
		break
	}

	time.Sleep(q.cfg.MinInterval)
}

func (q *Queue) jitteredBackoff() time.Duration {
	window := int64(q.cfg.BackoffMax - q.cfg.BackoffMin)
	if window <= 0 {
		return q.cfg.BackoffMin
	}
	return q.cfg.BackoffMin + time.Duration(rand.Int63n(window))
}

func (q *Queue) setDepth(depth int64) {
	if q.onDepth != nil {
		q.onDepth(depth)
	}
}
