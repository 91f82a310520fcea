package exchange

import (
	"context"

	"github.com/ksred/swaprouter/internal/types"
)

// Venue is a liquidity source able to quote and settle a swap. Implementations
// must tolerate concurrent calls; the engine fans quotes out to every venue at
// once without synchronising between them.
type Venue interface {
	Name() types.Dex
	GetQuote(ctx context.Context, tokenIn, tokenOut string, amount float64) (types.Quote, error)
	ExecuteSwap(ctx context.Context, order types.Order, quote types.Quote) (types.SwapResult, error)
}
