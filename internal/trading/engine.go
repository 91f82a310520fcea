package trading

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/swaprouter/internal/exchange"
	"github.com/ksred/swaprouter/internal/types"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
)

var errNoVenues = errors.New("no venues configured")

// StatusFunc receives every status transition of an order in emission order
type StatusFunc func(types.StatusEvent)

// Engine drives one order through quoting, venue selection and settlement with
// bounded retries. It holds no per-order state and is safe for concurrent use.
type Engine struct {
	venues      []exchange.Venue
	maxAttempts int
	backoffBase time.Duration
	sleep       exchange.SleepFunc
}

type EngineOption func(*Engine)

func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithBackoffBase(d time.Duration) EngineOption {
	return func(e *Engine) { e.backoffBase = d }
}

func WithSleep(fn exchange.SleepFunc) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine creates an engine over venues. Declaration order breaks price ties.
func NewEngine(venues []exchange.Venue, opts ...EngineOption) *Engine {
	e := &Engine{
		venues:      venues,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		sleep:       exchange.SleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteOrder runs the order to a terminal state and returns it. Venue errors
// are retried with exponential backoff and end up in FailReason once attempts
// run out; ExecuteOrder itself never fails. A cancelled ctx ends any pending
// backoff early and the order fails with the last venue error.
func (e *Engine) ExecuteOrder(ctx context.Context, order types.Order, onStatus StatusFunc) types.Order {
	logger := log.With().
		Str("component", "execution_engine").
		Str("order_id", order.OrderID).
		Logger()

	emit := func(ev types.StatusEvent) {
		if onStatus != nil {
			onStatus(ev)
		}
	}

	var lastErr error
	for attempts := 0; attempts < e.maxAttempts; {
		emit(types.PendingEvent(order.OrderID))

		dex, swap, err := e.attempt(ctx, order, emit)
		if err == nil {
			emit(types.ConfirmedEvent(order.OrderID, dex, swap))
			logger.Info().
				Str("dex", string(dex)).
				Float64("executed_price", swap.ExecutedPrice).
				Str("tx_hash", swap.TxHash).
				Int("attempt", attempts+1).
				Msg("order confirmed")
			return order.Confirm(dex, swap)
		}

		lastErr = err
		failed := types.FailedEvent(order.OrderID, err)
		emit(failed)
		attempts++

		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", e.maxAttempts).
			Msg("execution attempt failed")

		if attempts >= e.maxAttempts {
			break
		}

		delay := e.backoffBase * time.Duration(1<<attempts)
		if err := e.sleep(ctx, delay); err != nil {
			logger.Warn().Err(err).Dur("backoff", delay).Msg("backoff interrupted, abandoning retries")
			break
		}
	}

	reason := types.FailedEvent(order.OrderID, lastErr).Error
	logger.Error().Str("fail_reason", reason).Msg("order failed")
	return order.Fail(reason)
}

// attempt performs one quote, select and swap cycle
func (e *Engine) attempt(ctx context.Context, order types.Order, emit StatusFunc) (types.Dex, types.SwapResult, error) {
	emit(types.RoutingEvent(order.OrderID))

	if len(e.venues) == 0 {
		return "", types.SwapResult{}, errNoVenues
	}

	quotes, err := e.fetchQuotes(ctx, order)
	if err != nil {
		return "", types.SwapResult{}, err
	}

	best := selectBest(quotes)
	venue := e.venues[best]
	quote := quotes[best]

	emit(types.BuildingEvent(order.OrderID, venue.Name(), quote.Price))
	emit(types.SubmittedEvent(order.OrderID))

	swap, err := venue.ExecuteSwap(ctx, order, quote)
	if err != nil {
		return "", types.SwapResult{}, err
	}
	return venue.Name(), swap, nil
}

// fetchQuotes asks every venue concurrently; the first failure aborts the round
func (e *Engine) fetchQuotes(ctx context.Context, order types.Order) ([]types.Quote, error) {
	quotes := make([]types.Quote, len(e.venues))
	g, gctx := errgroup.WithContext(ctx)
	for i, venue := range e.venues {
		g.Go(func() error {
			q, err := venue.GetQuote(gctx, order.TokenIn, order.TokenOut, order.AmountIn)
			if err != nil {
				return err
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// selectBest returns the index of the lowest raw price. Fees are not considered
// and the earliest index wins a tie.
func selectBest(quotes []types.Quote) int {
	best := 0
	for i := 1; i < len(quotes); i++ {
		if quotes[i].Price < quotes[best].Price {
			best = i
		}
	}
	return best
}
