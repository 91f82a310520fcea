package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/swaprouter/internal/app"
	"github.com/ksred/swaprouter/internal/config"
	"github.com/ksred/swaprouter/internal/types"
)

const (
	minOrders = 15
	maxOrders = 150
)

var pairs = [][2]string{
	{"SOL", "USDC"},
	{"USDC", "SOL"},
	{"SOL", "USDT"},
	{"WSOL", "USDC"},
	{"USDT", "USDC"},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for one step of the order flow
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// orderOutcome is what one followed order ended as
type orderOutcome struct {
	orderID  string
	pair     string
	status   types.OrderStatus
	dex      types.Dex
	price    float64
	attempts int
	sequence []types.OrderStatus
}

// simulationClient submits orders over HTTP and follows them over websocket
type simulationClient struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	stats   map[string]*routeStats
	order   []string
}

func newSimulationClient(baseURL string) *simulationClient {
	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  websocket.DefaultDialer,
		stats: map[string]*routeStats{
			"submit": {name: "Submit Order"},
			"stream": {name: "Submit To Final"},
			"status": {name: "Order Status"},
		},
		order: []string{"submit", "stream", "status"},
	}
}

// submitOrder posts an order and returns its id and websocket url
func (sc *simulationClient) submitOrder(ctx context.Context, req types.ExecuteOrderRequest) (string, string, error) {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return "", "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		sc.baseURL+"/api/v1/orders/execute?upgrade=ws", bytes.NewBuffer(body))
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(httpReq)
	if err != nil {
		sc.stats["submit"].addFailure()
		return "", "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats["submit"].addFailure()
		return "", "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Submit order response")

	if resp.StatusCode != http.StatusCreated {
		sc.stats["submit"].addFailure()
		return "", "", fmt.Errorf("submit order failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	sc.stats["submit"].addDuration(time.Since(start))

	var result struct {
		Success bool                       `json:"success"`
		Data    types.ExecuteOrderResponse `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if result.Data.OrderID == "" || result.Data.WebsocketURL == "" {
		return "", "", fmt.Errorf("incomplete submit response: %s", string(respBody))
	}

	return result.Data.OrderID, result.Data.WebsocketURL, nil
}

// followOrder reads status messages until the server closes the stream
func (sc *simulationClient) followOrder(ctx context.Context, wsURL string, submitted time.Time) (*orderOutcome, error) {
	conn, _, err := sc.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		sc.stats["stream"].addFailure()
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	out := &orderOutcome{}
	for {
		conn.SetReadDeadline(time.Now().Add(time.Minute))

		// snapshot and event messages share status, order_id, dex and error
		var msg struct {
			Status        types.OrderStatus `json:"status"`
			Dex           types.Dex         `json:"dex"`
			ExecutedPrice float64           `json:"executed_price"`
			Order         *types.Order      `json:"order"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && out.status.IsTerminal() {
				sc.stats["stream"].addDuration(time.Since(submitted))
				return out, nil
			}
			sc.stats["stream"].addFailure()
			return nil, fmt.Errorf("stream ended before a final status: %w", err)
		}

		out.sequence = append(out.sequence, msg.Status)
		out.status = msg.Status
		switch {
		case msg.Status == types.StatusFailed:
			out.attempts++
		case msg.Status == types.StatusConfirmed:
			out.attempts++
			out.dex = msg.Dex
			out.price = msg.ExecutedPrice
		}
		if msg.Order != nil && msg.Order.DexUsed != nil {
			out.dex = *msg.Order.DexUsed
			out.price = *msg.Order.ExecutedPrice
		}
	}
}

// getStatus reads the status endpoint once the order has been finalized
func (sc *simulationClient) getStatus(ctx context.Context, orderID string) (*types.OrderStatusResponse, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/api/v1/orders/status/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["status"].addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		sc.stats["status"].addFailure()
		return nil, fmt.Errorf("status lookup failed with status %d", resp.StatusCode)
	}
	sc.stats["status"].addDuration(time.Since(start))

	var result struct {
		Data types.OrderStatusResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for each step
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Step", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// runOrder submits one random order, follows it to completion and checks the
// durable record agrees with what the stream reported
func (sc *simulationClient) runOrder(ctx context.Context, workerID int) (*orderOutcome, error) {
	pair := pairs[rand.Intn(len(pairs))]
	req := types.ExecuteOrderRequest{
		TokenIn:  pair[0],
		TokenOut: pair[1],
		AmountIn: math.Round((rand.Float64()*10+0.1)*100) / 100,
		UserID:   fmt.Sprintf("sim-user-%d", workerID),
	}

	submitted := time.Now()
	orderID, wsURL, err := sc.submitOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	out, err := sc.followOrder(ctx, wsURL, submitted)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	out.orderID = orderID
	out.pair = pair[0] + "/" + pair[1]

	// the worker persists and clears the live entry just after the final event
	for i := 0; i < 20; i++ {
		status, err := sc.getStatus(ctx, orderID)
		if err == nil && status.Source == types.SourceHistorical {
			if status.Status != out.status {
				return out, fmt.Errorf("order %s: stream said %s, record says %s", orderID, out.status, status.Status)
			}
			return out, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return out, fmt.Errorf("order %s: no durable record", orderID)
}

// startEmbeddedServer runs the router in-process with in-memory backends
func startEmbeddedServer(ctx context.Context, port int) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	cfg.Port = port
	cfg.RedisURL = ""
	cfg.DatabasePath = "file:simulation?mode=memory&cache=shared"

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	go application.RunWorkers(ctx)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: application.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
		application.Close()
	}()
	return srv.ListenAndServe()
}

// main runs the order flow simulation against a router
func main() {
	addr := flag.String("addr", "http://localhost:8080", "router base url")
	embedded := flag.Bool("embedded", false, "start an in-memory router in-process on :8080")
	orders := flag.Int("orders", 0, "orders to submit (random between 15 and 150 when 0)")
	workers := flag.Int("workers", 5, "concurrent simulated clients")
	perSecond := flag.Float64("rate", 10, "maximum submissions per second across all clients")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *embedded {
		go func() {
			if err := startEmbeddedServer(ctx, 8080); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Failed to start server")
			}
		}()
		time.Sleep(time.Second)
	}

	targetOrders := *orders
	if targetOrders <= 0 {
		targetOrders = rand.Intn(maxOrders-minOrders) + minOrders
	}
	log.Info().Int("target_orders", targetOrders).Int("workers", *workers).Msg("Starting simulation")

	simClient := newSimulationClient(*addr)
	limiter := rate.NewLimiter(rate.Limit(*perSecond), 1)

	jobs := make(chan int)
	outcomes := make(chan *orderOutcome, targetOrders)
	var failures sync.Map
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				out, err := simClient.runOrder(ctx, workerID)
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Order flow failed")
					failures.Store(uuid.New().String(), err)
					continue
				}
				log.Info().
					Int("worker_id", workerID).
					Str("order_id", out.orderID).
					Str("pair", out.pair).
					Str("status", string(out.status)).
					Str("dex", string(out.dex)).
					Int("attempts", out.attempts).
					Msg("Order finished")
				outcomes <- out
			}
		}(w)
	}

	for i := 0; i < targetOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	printSummary(outcomes, &failures, time.Since(start))
	simClient.printPerformanceStats()
}

func printSummary(outcomes <-chan *orderOutcome, failures *sync.Map, duration time.Duration) {
	var (
		total, confirmed, failed, retried int
		dexCounts                         = make(map[string]int)
		pairCounts                        = make(map[string]int)
		sequences                         = make(map[string]int)
	)

	for out := range outcomes {
		total++
		pairCounts[out.pair]++
		if out.attempts > 1 {
			retried++
		}
		switch out.status {
		case types.StatusConfirmed:
			confirmed++
			dexCounts[string(out.dex)]++
		case types.StatusFailed:
			failed++
		}
		parts := make([]string, len(out.sequence))
		for i, s := range out.sequence {
			parts[i] = string(s)
		}
		sequences[strings.Join(parts, ">")]++
	}

	flowErrors := 0
	failures.Range(func(_, _ interface{}) bool {
		flowErrors++
		return true
	})

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ORDER ROUTING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Order Statistics
----------------
Followed:         %d
Confirmed:        %d
Failed:           %d
Retried:          %d
Flow errors:      %d
Duration:         %v

Venue Distribution
------------------
`, total, confirmed, failed, retried, flowErrors, duration.Round(time.Millisecond))
	printBars(dexCounts)

	fmt.Println("\nPair Distribution")
	fmt.Println("-----------------")
	printBars(pairCounts)

	fmt.Println("\nStatus Sequences")
	fmt.Println("----------------")
	for seq, n := range sequences {
		fmt.Printf("%4d  %s\n", n, seq)
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if total > 0 {
		successRate = float64(confirmed) / float64(total) * 100
	}
	log.Info().
		Float64("success_rate", successRate).
		Int("followed", total).
		Int("confirmed", confirmed).
		Dur("duration", duration).
		Msg("Simulation completed")
}

// printBars prints counts as a simple ASCII bar chart
func printBars(counts map[string]int) {
	maxCount := 0
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		keys = append(keys, k)
		if n > maxCount {
			maxCount = n
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		barLength := int(float64(counts[k]) / float64(maxCount) * 20)
		fmt.Printf("%-10s: %s (%d)\n", k, strings.Repeat("#", barLength), counts[k])
	}
}
