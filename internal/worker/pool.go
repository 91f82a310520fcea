// Package worker drains the order queue and runs each order through the
// execution engine with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/swaprouter/internal/livestatus"
	"github.com/ksred/swaprouter/internal/queue"
	"github.com/ksred/swaprouter/internal/trading"
	"github.com/ksred/swaprouter/internal/types"
)

const DefaultConcurrency = 10

// Executor runs an order to a terminal state
type Executor interface {
	ExecuteOrder(ctx context.Context, order types.Order, onStatus trading.StatusFunc) types.Order
}

// Notifier pushes a status event to whoever is watching the order
type Notifier interface {
	Send(orderID string, event types.StatusEvent)
}

// Recorder persists terminal orders
type Recorder interface {
	UpsertOrder(ctx context.Context, order *types.Order) error
}

// Stats is a point-in-time snapshot of pool activity
type Stats struct {
	InFlight  int64 `json:"in_flight"`
	Confirmed int64 `json:"confirmed"`
	Failed    int64 `json:"failed"`
}

type Pool struct {
	consumer    queue.Consumer
	executor    Executor
	live        livestatus.Store
	notifier    Notifier
	records     Recorder
	concurrency int
	retryDelay  time.Duration

	inFlight  atomic.Int64
	confirmed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func NewPool(consumer queue.Consumer, executor Executor, live livestatus.Store, notifier Notifier, records Recorder, opts ...Option) *Pool {
	p := &Pool{
		consumer:    consumer,
		executor:    executor,
		live:        live,
		notifier:    notifier,
		records:     records,
		concurrency: DefaultConcurrency,
		retryDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start dequeues and processes orders until ctx is cancelled or the queue is
// closed, then waits for in-flight orders before returning. A slot is taken
// before each dequeue, so an order only leaves the queue once a worker is free
// to run it. Cancelling ctx stops dequeuing; orders already taken still run to
// a terminal state.
func (p *Pool) Start(ctx context.Context) {
	logger := log.With().Str("component", "worker_pool").Logger()
	logger.Info().Int("concurrency", p.concurrency).Msg("starting worker pool")

	slots := make(chan struct{}, p.concurrency)
	g := new(errgroup.Group)

dequeue:
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			break dequeue
		}
		if ctx.Err() != nil {
			<-slots
			break
		}

		order, err := p.consumer.Dequeue(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break dequeue
			}
			logger.Error().Err(err).Msg("failed to dequeue order")
			select {
			case <-ctx.Done():
			case <-time.After(p.retryDelay):
			}
			continue
		}

		p.inFlight.Add(1)
		g.Go(func() error {
			defer func() {
				p.inFlight.Add(-1)
				<-slots
			}()
			p.process(ctx, order)
			return nil
		})
	}

	logger.Info().Int64("in_flight", p.inFlight.Load()).Msg("draining worker pool")
	g.Wait()
	logger.Info().Msg("worker pool stopped")
}

func (p *Pool) Stats() Stats {
	return Stats{
		InFlight:  p.inFlight.Load(),
		Confirmed: p.confirmed.Load(),
		Failed:    p.failed.Load(),
	}
}

// process runs one order. Live status and durable write failures are logged
// and never change the outcome.
func (p *Pool) process(ctx context.Context, order types.Order) {
	logger := log.With().
		Str("component", "worker_pool").
		Str("order_id", order.OrderID).
		Logger()

	// a dequeued order always reaches a terminal state and is recorded, even
	// once shutdown has cancelled ctx
	runCtx := context.WithoutCancel(ctx)

	if err := p.live.Set(runCtx, order.OrderID, types.StatusPending); err != nil {
		logger.Warn().Err(err).Msg("failed to set live status")
	}

	final := p.executor.ExecuteOrder(runCtx, order, func(ev types.StatusEvent) {
		if err := p.live.Set(runCtx, order.OrderID, ev.Status); err != nil {
			logger.Warn().Err(err).Str("status", string(ev.Status)).Msg("failed to set live status")
		}
		p.notifier.Send(order.OrderID, ev)
	})

	if final.Status == types.StatusConfirmed {
		p.confirmed.Add(1)
	} else {
		p.failed.Add(1)
	}

	if err := p.records.UpsertOrder(runCtx, &final); err != nil {
		logger.Error().Err(err).Str("status", string(final.Status)).Msg("failed to persist order outcome")
	}

	if err := p.live.Delete(runCtx, order.OrderID); err != nil {
		logger.Warn().Err(err).Msg("failed to delete live status")
	}

	logger.Info().Str("status", string(final.Status)).Msg("order processed")
}
