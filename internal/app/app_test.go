package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"github.com/ksred/swaprouter/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Env:                "test",
		Port:               8080,
		LogLevel:           "info",
		DatabasePath:       fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		QueueBuffer:        16,
		WorkerConcurrency:  4,
		MaxAttempts:        3,
		BackoffBase:        time.Millisecond,
		SimBasePrice:       100,
		SimSuccessRate:     1,
		CORSAllowedOrigins: []string{"*"},
		ShutdownTimeout:    time.Second,
	}
}

// startApp runs the app with workers and an HTTP server until the test ends
func startApp(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	go func() {
		a.RunWorkers(ctx)
		close(workersDone)
	}()

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-workersDone
		a.Close()
	})
	return srv
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
}

func call(t *testing.T, method, url string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

// followOrder reads websocket messages until the server closes the stream and
// returns the statuses seen
func followOrder(t *testing.T, wsURL string) []string {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var seen []string
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("stream ended with %v after %v", err, seen)
			}
			return seen
		}
		status, _ := msg["status"].(string)
		seen = append(seen, status)
	}
}

func waitHistorical(t *testing.T, baseURL, orderID string) envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		code, env := call(t, http.MethodGet, baseURL+"/api/v1/orders/status/"+orderID, nil)
		if code == http.StatusOK && env.Data["source"] == "historical" {
			return env
		}
		if time.Now().After(deadline) {
			t.Fatalf("order %s never became historical: %d %+v", orderID, code, env)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func runOrderLifecycle(t *testing.T, srv *httptest.Server) {
	t.Helper()
	code, env := call(t, http.MethodPost, srv.URL+"/api/v1/orders/execute?upgrade=ws", map[string]interface{}{
		"token_in":  "SOL",
		"token_out": "USDC",
		"amount_in": 2,
		"user_id":   "user-1",
	})
	if code != http.StatusCreated || !env.Success {
		t.Fatalf("submit: %d %+v", code, env)
	}
	orderID, _ := env.Data["order_id"].(string)
	wsURL, _ := env.Data["websocket_url"].(string)
	if orderID == "" || !strings.HasPrefix(wsURL, "ws://") {
		t.Fatalf("submit response: %+v", env.Data)
	}

	seen := followOrder(t, wsURL)
	if len(seen) == 0 || seen[len(seen)-1] != "confirmed" {
		t.Fatalf("statuses seen = %v, want to end with confirmed", seen)
	}

	env = waitHistorical(t, srv.URL, orderID)
	order, _ := env.Data["order"].(map[string]interface{})
	if env.Data["status"] != "confirmed" || order["tx_hash"] == nil || order["executed_price"] == nil {
		t.Fatalf("historical record: %+v", env.Data)
	}
	if dex := order["dex_used"]; dex != "raydium" && dex != "meteora" {
		t.Fatalf("dex_used = %v", dex)
	}

	code, env = call(t, http.MethodGet, srv.URL+"/api/v1/orders/"+orderID, nil)
	if code != http.StatusOK || env.Data["order_id"] != orderID {
		t.Fatalf("get order: %d %+v", code, env)
	}
}

func TestApp_OrderLifecycleInMemory(t *testing.T) {
	srv := startApp(t, testConfig(t))
	runOrderLifecycle(t, srv)

	code, env := call(t, http.MethodGet, srv.URL+"/healthz", nil)
	workers, _ := env.Data["workers"].(map[string]interface{})
	if code != http.StatusOK || workers["confirmed"] != float64(1) {
		t.Fatalf("healthz: %d %+v", code, env)
	}
}

func TestApp_OrderLifecycleRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.LiveStatusTTL = time.Minute

	srv := startApp(t, cfg)
	runOrderLifecycle(t, srv)

	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("redis should be empty after the order finished, got %v", keys)
	}

	mr.Close()
	code, _ := call(t, http.MethodGet, srv.URL+"/healthz", nil)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with redis down = %d, want 503", code)
	}
}

func TestApp_CORSPreflight(t *testing.T) {
	srv := startApp(t, testConfig(t))

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/orders/execute", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNew_InvalidRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "://nope"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}
