// Package queue is the job transport between order submission and the
// worker pool. Delivery is at-least-once at best; an order dequeued by a
// worker that then crashes is lost.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ksred/swaprouter/internal/types"
)

const DefaultListKey = "order-queue"

var ErrClosed = errors.New("queue closed")

type Producer interface {
	Enqueue(ctx context.Context, order types.Order) error
}

// Consumer blocks in Dequeue until an order is available, ctx is done or the
// queue is closed
type Consumer interface {
	Dequeue(ctx context.Context) (types.Order, error)
}

// RedisQueue pushes JSON-encoded orders onto a Redis list and pops from the
// other end, giving FIFO order across processes.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultListKey
	}
	return &RedisQueue{client: client, key: key, pollTimeout: time.Second}
}

func (q *RedisQueue) Enqueue(ctx context.Context, order types.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue order: %w", err)
	}
	return nil
}

// Dequeue polls with a short BRPOP timeout so a cancelled ctx is noticed promptly
func (q *RedisQueue) Dequeue(ctx context.Context) (types.Order, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Order{}, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return types.Order{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return types.Order{}, ErrClosed
			}
			return types.Order{}, fmt.Errorf("dequeue order: %w", err)
		}

		// BRPOP replies with [key, value]
		var order types.Order
		if err := json.Unmarshal([]byte(res[1]), &order); err != nil {
			return types.Order{}, fmt.Errorf("decode order: %w", err)
		}
		return order, nil
	}
}

// MemoryQueue is an in-process FIFO backed by a buffered channel
type MemoryQueue struct {
	ch     chan types.Order
	closed chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:     make(chan types.Order, size),
		closed: make(chan struct{}),
	}
}

// Enqueue blocks while the buffer is full
func (q *MemoryQueue) Enqueue(ctx context.Context, order types.Order) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- order:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (types.Order, error) {
	select {
	case order := <-q.ch:
		return order, nil
	case <-q.closed:
		return types.Order{}, ErrClosed
	case <-ctx.Done():
		return types.Order{}, ctx.Err()
	}
}

// Close stops the queue; buffered orders are dropped. Close must be called once.
func (q *MemoryQueue) Close() {
	close(q.closed)
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
