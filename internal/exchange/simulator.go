package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/swaprouter/internal/types"
)

const (
	minAmountOutRatio = 0.97
	txHashLength      = 64
)

// Rand is the randomness the simulator draws from. *rand.Rand satisfies it but
// is not safe for concurrent use; the default uses the locked global source.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SimulatorConfig describes one simulated venue
type SimulatorConfig struct {
	Name          types.Dex
	BasePrice     float64
	PriceFloor    float64 // lowest quote multiplier applied to BasePrice
	PriceWidth    float64 // multiplier range above PriceFloor
	FeeRate       float64
	QuoteLatency  time.Duration
	SettleLatency time.Duration
	SettleJitter  time.Duration
	SuccessRate   float64 // 0-1, probability a swap settles
}

// RaydiumConfig quotes within [0.98, 1.02] of base with a 0.3% fee
func RaydiumConfig(basePrice float64) SimulatorConfig {
	return SimulatorConfig{
		Name:          types.DexRaydium,
		BasePrice:     basePrice,
		PriceFloor:    0.98,
		PriceWidth:    0.04,
		FeeRate:       0.003,
		QuoteLatency:  200 * time.Millisecond,
		SettleLatency: 2 * time.Second,
		SettleJitter:  time.Second,
		SuccessRate:   1,
	}
}

// MeteoraConfig quotes within [0.97, 1.02] of base with a 0.2% fee
func MeteoraConfig(basePrice float64) SimulatorConfig {
	return SimulatorConfig{
		Name:          types.DexMeteora,
		BasePrice:     basePrice,
		PriceFloor:    0.97,
		PriceWidth:    0.05,
		FeeRate:       0.002,
		QuoteLatency:  200 * time.Millisecond,
		SettleLatency: 2 * time.Second,
		SettleJitter:  time.Second,
		SuccessRate:   1,
	}
}

// Simulator is a mock venue with realistic price dispersion and settlement delay
type Simulator struct {
	cfg   SimulatorConfig
	rand  Rand
	sleep SleepFunc
}

type Option func(*Simulator)

func WithRand(r Rand) Option {
	return func(s *Simulator) { s.rand = r }
}

func WithSleep(fn SleepFunc) Option {
	return func(s *Simulator) { s.sleep = fn }
}

func NewSimulator(cfg SimulatorConfig, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:   cfg,
		rand:  globalRand{},
		sleep: SleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) Name() types.Dex {
	return s.cfg.Name
}

// GetQuote returns a jittered price around the configured base price
func (s *Simulator) GetQuote(ctx context.Context, tokenIn, tokenOut string, amount float64) (types.Quote, error) {
	if err := s.sleep(ctx, s.cfg.QuoteLatency); err != nil {
		return types.Quote{}, fmt.Errorf("quote from %s: %w", s.cfg.Name, err)
	}

	price := s.cfg.BasePrice * (s.cfg.PriceFloor + s.rand.Float64()*s.cfg.PriceWidth)
	minOut := amount * minAmountOutRatio

	log.Debug().
		Str("dex", string(s.cfg.Name)).
		Str("token_in", tokenIn).
		Str("token_out", tokenOut).
		Float64("amount", amount).
		Float64("price", price).
		Msg("simulated quote")

	return types.Quote{
		Price:        price,
		Fee:          s.cfg.FeeRate,
		MinAmountOut: &minOut,
		PoolID:       PoolID(s.cfg.Name, tokenIn, tokenOut),
	}, nil
}

// PoolID names the simulated pool a venue quotes a pair from
func PoolID(dex types.Dex, tokenIn, tokenOut string) string {
	return fmt.Sprintf("%s-%s-%s", dex, strings.ToLower(tokenIn), strings.ToLower(tokenOut))
}

// ExecuteSwap waits out a simulated settlement and returns a random tx hash.
// The executed price is the quoted price.
func (s *Simulator) ExecuteSwap(ctx context.Context, order types.Order, quote types.Quote) (types.SwapResult, error) {
	logger := log.With().
		Str("dex", string(s.cfg.Name)).
		Str("order_id", order.OrderID).
		Str("pool_id", quote.PoolID).
		Logger()

	latency := s.cfg.SettleLatency + time.Duration(s.rand.Float64()*float64(s.cfg.SettleJitter))
	logger.Debug().Dur("latency", latency).Msg("simulated settlement latency")
	if err := s.sleep(ctx, latency); err != nil {
		return types.SwapResult{}, fmt.Errorf("swap on %s: %w", s.cfg.Name, err)
	}

	if s.cfg.SuccessRate < 1 && s.rand.Float64() >= s.cfg.SuccessRate {
		logger.Warn().
			Float64("success_rate", s.cfg.SuccessRate).
			Msg("simulated settlement rejected")
		return types.SwapResult{}, fmt.Errorf("execution failed on %s", s.cfg.Name)
	}

	price := quote.Price
	if price <= 0 {
		price = s.cfg.BasePrice * (0.97 + s.rand.Float64()*0.06)
	}

	result := types.SwapResult{
		TxHash:        s.txHash(),
		ExecutedPrice: price,
	}

	logger.Debug().
		Str("tx_hash", result.TxHash).
		Float64("executed_price", result.ExecutedPrice).
		Msg("simulated swap settled")

	return result, nil
}

func (s *Simulator) txHash() string {
	const hexDigits = "0123456789abcdef"
	var b strings.Builder
	b.Grow(txHashLength)
	for i := 0; i < txHashLength; i++ {
		b.WriteByte(hexDigits[s.rand.Intn(len(hexDigits))])
	}
	return b.String()
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) Intn(n int) int   { return rand.Intn(n) }

// SleepContext waits d or until ctx is done, whichever comes first
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
