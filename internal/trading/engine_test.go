package trading

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ksred/swaprouter/internal/exchange"
	"github.com/ksred/swaprouter/internal/types"
)

// fakeVenue quotes from a fixed price list and fails swaps on demand
type fakeVenue struct {
	name     types.Dex
	price    float64
	quoteErr error
	swapErrs []error // consumed one per ExecuteSwap call

	mu         sync.Mutex
	quoteCalls int
	swapCalls  int
	swapQuotes []types.Quote
}

func (v *fakeVenue) Name() types.Dex { return v.name }

func (v *fakeVenue) GetQuote(_ context.Context, _, _ string, _ float64) (types.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quoteCalls++
	if v.quoteErr != nil {
		return types.Quote{}, v.quoteErr
	}
	return types.Quote{Price: v.price, Fee: 0.003}, nil
}

func (v *fakeVenue) ExecuteSwap(_ context.Context, _ types.Order, q types.Quote) (types.SwapResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.swapCalls++
	v.swapQuotes = append(v.swapQuotes, q)
	if len(v.swapErrs) > 0 {
		err := v.swapErrs[0]
		v.swapErrs = v.swapErrs[1:]
		if err != nil {
			return types.SwapResult{}, err
		}
	}
	return types.SwapResult{TxHash: fmt.Sprintf("tx-%s-%d", v.name, v.swapCalls), ExecutedPrice: q.Price}, nil
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return r.err
}

func newTestEngine(sleeps *recordedSleeps, venues ...exchange.Venue) *Engine {
	return NewEngine(venues, WithSleep(sleeps.sleep))
}

func collectEvents() (*[]types.StatusEvent, StatusFunc) {
	var events []types.StatusEvent
	return &events, func(ev types.StatusEvent) { events = append(events, ev) }
}

func statuses(events []types.StatusEvent) []types.OrderStatus {
	out := make([]types.OrderStatus, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}

func testOrder() types.Order {
	return types.Order{
		OrderID:  "order-1",
		UserID:   "user-1",
		Type:     types.OrderTypeMarket,
		TokenIn:  "SOL",
		TokenOut: "USDC",
		AmountIn: 1,
		Status:   types.StatusPending,
	}
}

func TestEngine_SelectsLowestPrice(t *testing.T) {
	tests := []struct {
		name    string
		raydium float64
		meteora float64
		want    types.Dex
	}{
		{"raydium cheaper", 98, 100, types.DexRaydium},
		{"meteora cheaper", 100, 98, types.DexMeteora},
		{"tie goes to first declared", 99, 99, types.DexRaydium},
	}

	for _, tt := range tests {
		raydium := &fakeVenue{name: types.DexRaydium, price: tt.raydium}
		meteora := &fakeVenue{name: types.DexMeteora, price: tt.meteora}
		engine := newTestEngine(&recordedSleeps{}, raydium, meteora)

		got := engine.ExecuteOrder(context.Background(), testOrder(), nil)

		if got.Status != types.StatusConfirmed {
			t.Fatalf("%s: status = %s, want confirmed", tt.name, got.Status)
		}
		if *got.DexUsed != tt.want {
			t.Errorf("%s: dex = %s, want %s", tt.name, *got.DexUsed, tt.want)
		}
		if raydium.quoteCalls != 1 || meteora.quoteCalls != 1 {
			t.Errorf("%s: expected one quote per venue, got raydium=%d meteora=%d", tt.name, raydium.quoteCalls, meteora.quoteCalls)
		}
	}
}

func TestEngine_SuccessEventSequence(t *testing.T) {
	raydium := &fakeVenue{name: types.DexRaydium, price: 98}
	meteora := &fakeVenue{name: types.DexMeteora, price: 100}
	sleeps := &recordedSleeps{}
	engine := newTestEngine(sleeps, raydium, meteora)

	events, onStatus := collectEvents()
	got := engine.ExecuteOrder(context.Background(), testOrder(), onStatus)

	want := []types.StatusEvent{
		types.PendingEvent("order-1"),
		types.RoutingEvent("order-1"),
		types.BuildingEvent("order-1", types.DexRaydium, 98),
		types.SubmittedEvent("order-1"),
		types.ConfirmedEvent("order-1", types.DexRaydium, types.SwapResult{TxHash: "tx-raydium-1", ExecutedPrice: 98}),
	}
	if !reflect.DeepEqual(*events, want) {
		t.Fatalf("events = %+v\nwant %+v", *events, want)
	}
	if *got.ExecutedPrice != 98 || *got.TxHash != "tx-raydium-1" || got.FailReason != nil {
		t.Errorf("unexpected confirmed order: %+v", got)
	}
	if !got.OutcomeConsistent() {
		t.Errorf("confirmed order is not outcome consistent: %+v", got)
	}
	if len(sleeps.delays) != 0 {
		t.Errorf("expected no backoff on success, got %v", sleeps.delays)
	}
	if meteora.swapCalls != 0 {
		t.Errorf("losing venue should not be asked to swap")
	}
}

func TestEngine_AllQuotesFail(t *testing.T) {
	quoteErr := errors.New("quote timeout")
	raydium := &fakeVenue{name: types.DexRaydium, quoteErr: quoteErr}
	meteora := &fakeVenue{name: types.DexMeteora, price: 100}
	sleeps := &recordedSleeps{}
	engine := newTestEngine(sleeps, raydium, meteora)

	events, onStatus := collectEvents()
	got := engine.ExecuteOrder(context.Background(), testOrder(), onStatus)

	wantStatuses := []types.OrderStatus{
		types.StatusPending, types.StatusRouting, types.StatusFailed,
		types.StatusPending, types.StatusRouting, types.StatusFailed,
		types.StatusPending, types.StatusRouting, types.StatusFailed,
	}
	if !reflect.DeepEqual(statuses(*events), wantStatuses) {
		t.Fatalf("statuses = %v, want %v", statuses(*events), wantStatuses)
	}
	for _, ev := range *events {
		if ev.Status == types.StatusFailed && ev.Error != "quote timeout" {
			t.Errorf("failed event error = %q", ev.Error)
		}
	}
	if got.Status != types.StatusFailed || got.FailReason == nil || *got.FailReason != "quote timeout" {
		t.Fatalf("unexpected failed order: %+v", got)
	}
	if got.TxHash != nil || got.ExecutedPrice != nil || got.DexUsed != nil {
		t.Errorf("failed order carries fill fields: %+v", got)
	}
	if want := []time.Duration{2 * time.Second, 4 * time.Second}; !reflect.DeepEqual(sleeps.delays, want) {
		t.Errorf("backoff = %v, want %v", sleeps.delays, want)
	}
	if raydium.quoteCalls != 3 {
		t.Errorf("expected a fresh quote each attempt, got %d", raydium.quoteCalls)
	}
	if meteora.swapCalls != 0 {
		t.Errorf("no swap should be attempted when quoting fails")
	}
}

func TestEngine_RetriesFailedSwap(t *testing.T) {
	raydium := &fakeVenue{name: types.DexRaydium, price: 98, swapErrs: []error{errors.New("slippage exceeded")}}
	meteora := &fakeVenue{name: types.DexMeteora, price: 100}
	sleeps := &recordedSleeps{}
	engine := newTestEngine(sleeps, raydium, meteora)

	events, onStatus := collectEvents()
	got := engine.ExecuteOrder(context.Background(), testOrder(), onStatus)

	wantStatuses := []types.OrderStatus{
		types.StatusPending, types.StatusRouting, types.StatusBuilding, types.StatusSubmitted, types.StatusFailed,
		types.StatusPending, types.StatusRouting, types.StatusBuilding, types.StatusSubmitted, types.StatusConfirmed,
	}
	if !reflect.DeepEqual(statuses(*events), wantStatuses) {
		t.Fatalf("statuses = %v, want %v", statuses(*events), wantStatuses)
	}
	if (*events)[4].Error != "slippage exceeded" {
		t.Errorf("failed event error = %q", (*events)[4].Error)
	}
	if got.Status != types.StatusConfirmed || *got.TxHash != "tx-raydium-2" {
		t.Errorf("unexpected order: %+v", got)
	}
	if want := []time.Duration{2 * time.Second}; !reflect.DeepEqual(sleeps.delays, want) {
		t.Errorf("backoff = %v, want %v", sleeps.delays, want)
	}
	if raydium.quoteCalls != 2 || meteora.quoteCalls != 2 {
		t.Errorf("expected re-quote on retry, got raydium=%d meteora=%d", raydium.quoteCalls, meteora.quoteCalls)
	}
}

func TestEngine_SwapGetsSelectedQuote(t *testing.T) {
	raydium := &fakeVenue{name: types.DexRaydium, price: 101}
	meteora := &fakeVenue{name: types.DexMeteora, price: 97.5}
	engine := newTestEngine(&recordedSleeps{}, raydium, meteora)

	engine.ExecuteOrder(context.Background(), testOrder(), nil)

	if len(meteora.swapQuotes) != 1 || meteora.swapQuotes[0].Price != 97.5 {
		t.Fatalf("swap quotes = %+v", meteora.swapQuotes)
	}
}

func TestEngine_CancelledBackoffFailsWithLastError(t *testing.T) {
	raydium := &fakeVenue{name: types.DexRaydium, quoteErr: errors.New("rpc unavailable")}
	sleeps := &recordedSleeps{err: context.Canceled}
	engine := newTestEngine(sleeps, raydium)

	events, onStatus := collectEvents()
	got := engine.ExecuteOrder(context.Background(), testOrder(), onStatus)

	if got.Status != types.StatusFailed || *got.FailReason != "rpc unavailable" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if len(*events) != 3 {
		t.Errorf("expected a single attempt, got events %v", statuses(*events))
	}
}

func TestEngine_NoVenues(t *testing.T) {
	engine := NewEngine(nil, WithSleep((&recordedSleeps{}).sleep), WithMaxAttempts(1))

	got := engine.ExecuteOrder(context.Background(), testOrder(), nil)
	if got.Status != types.StatusFailed || *got.FailReason != errNoVenues.Error() {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestEngine_ConcurrentOrders(t *testing.T) {
	raydium := &fakeVenue{name: types.DexRaydium, price: 98}
	meteora := &fakeVenue{name: types.DexMeteora, price: 100}
	engine := newTestEngine(&recordedSleeps{}, raydium, meteora)

	var wg sync.WaitGroup
	results := make([]types.Order, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order := testOrder()
			order.OrderID = fmt.Sprintf("order-%d", i)
			results[i] = engine.ExecuteOrder(context.Background(), order, nil)
		}()
	}
	wg.Wait()

	for i, o := range results {
		if o.Status != types.StatusConfirmed || o.OrderID != fmt.Sprintf("order-%d", i) {
			t.Errorf("result %d: %+v", i, o)
		}
	}
}
