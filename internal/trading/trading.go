package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/swaprouter/internal/broadcast"
	"github.com/ksred/swaprouter/internal/livestatus"
	"github.com/ksred/swaprouter/internal/queue"
	"github.com/ksred/swaprouter/internal/types"
	"github.com/ksred/swaprouter/pkg/response"
)

// Service accepts order submissions and answers status queries
type Service struct {
	db       *Database
	producer queue.Producer
	live     livestatus.Store
}

// NewService creates a trading service over the durable store, the job queue
// and the live status store
func NewService(gormDB *gorm.DB, producer queue.Producer, live livestatus.Store) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		producer: producer,
		live:     live,
	}
}

// SubmitOrder validates the request, creates a pending market order and
// enqueues it for execution. With a non-empty idempotencyKey a repeated
// submission within 24h returns the original order id without enqueuing again.
func (s *Service) SubmitOrder(ctx context.Context, req types.ExecuteOrderRequest, idempotencyKey string) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	if idempotencyKey != "" {
		orderID, err := s.lookupIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return "", err
		}
		if orderID != "" {
			return orderID, nil
		}
	}

	now := time.Now()
	order := types.Order{
		OrderID:   uuid.New().String(),
		UserID:    strings.TrimSpace(req.UserID),
		Type:      types.OrderTypeMarket,
		TokenIn:   strings.ToUpper(strings.TrimSpace(req.TokenIn)),
		TokenOut:  strings.ToUpper(strings.TrimSpace(req.TokenOut)),
		AmountIn:  req.AmountIn,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if idempotencyKey != "" {
		if err := s.db.CreateIdempotencyRecord(ctx, idempotencyKey, order.OrderID); err != nil {
			// a concurrent submission with the same key won the insert
			if orderID, lerr := s.lookupIdempotencyKey(ctx, idempotencyKey); lerr == nil && orderID != "" {
				return orderID, nil
			}
			return "", fmt.Errorf("failed to record idempotency key: %w", err)
		}
	}

	if err := s.producer.Enqueue(ctx, order); err != nil {
		if idempotencyKey != "" {
			if derr := s.db.DeleteIdempotencyRecord(ctx, idempotencyKey); derr != nil {
				log.Warn().Err(derr).Str("order_id", order.OrderID).Msg("failed to release idempotency key")
			}
		}
		return "", fmt.Errorf("failed to enqueue order: %w", err)
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("token_in", order.TokenIn).
		Str("token_out", order.TokenOut).
		Float64("amount_in", order.AmountIn).
		Msg("order queued")

	return order.OrderID, nil
}

// lookupIdempotencyKey returns the order id recorded for key, or "" if the key
// is unknown or expired
func (s *Service) lookupIdempotencyKey(ctx context.Context, key string) (string, error) {
	record, err := s.db.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if record == nil {
		return "", nil
	}
	if record.ExpiresAt.After(time.Now()) {
		return record.OrderID, nil
	}
	if err := s.db.DeleteIdempotencyRecord(ctx, key); err != nil {
		return "", fmt.Errorf("failed to expire idempotency key: %w", err)
	}
	return "", nil
}

// GetOrderStatus reports the live status while the order is in flight and the
// durable record once it has finished. A live store failure falls back to the
// durable record.
func (s *Service) GetOrderStatus(ctx context.Context, orderID string) (*types.OrderStatusResponse, error) {
	status, ok, err := s.live.Get(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("live status lookup failed")
	}
	if err == nil && ok {
		return &types.OrderStatusResponse{
			OrderID: orderID,
			Status:  status,
			Source:  types.SourceLive,
		}, nil
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &types.OrderStatusResponse{
		OrderID: orderID,
		Status:  order.Status,
		Source:  types.SourceHistorical,
		Order:   order,
	}, nil
}

// GetOrder retrieves a finished order from the durable store
func (s *Service) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	return order, nil
}

func validateRequest(req types.ExecuteOrderRequest) error {
	tokenIn := strings.TrimSpace(req.TokenIn)
	tokenOut := strings.TrimSpace(req.TokenOut)

	switch {
	case tokenIn == "" || tokenOut == "":
		return &types.ValidationError{Message: "token_in and token_out are required"}
	case strings.TrimSpace(req.UserID) == "":
		return &types.ValidationError{Message: "user_id is required"}
	case math.IsNaN(req.AmountIn) || math.IsInf(req.AmountIn, 0) || req.AmountIn <= 0:
		return &types.ValidationError{Message: "amount_in must be greater than 0"}
	}

	mintIn, err := types.TokenMint(tokenIn)
	if err != nil {
		return &types.ValidationError{Message: err.Error()}
	}
	mintOut, err := types.TokenMint(tokenOut)
	if err != nil {
		return &types.ValidationError{Message: err.Error()}
	}
	// SOL and WSOL share a mint
	if mintIn == mintOut {
		return &types.ValidationError{Message: "token_in and token_out must differ"}
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced around the whole router
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service     *Service
	broadcaster *broadcast.Broadcaster
}

func NewGinHandlers(service *Service, broadcaster *broadcast.Broadcaster) *GinHandlers {
	return &GinHandlers{
		service:     service,
		broadcaster: broadcaster,
	}
}

// ExecuteOrderHandler handles POST /orders/execute. An optional Idempotency-Key
// header deduplicates retried submissions. With ?upgrade=ws the response also
// carries the websocket url to follow the order on.
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ExecuteOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		orderID, err := h.service.SubmitOrder(c.Request.Context(), req, c.GetHeader("Idempotency-Key"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		resp := types.ExecuteOrderResponse{OrderID: orderID}
		switch strings.ToLower(c.Query("upgrade")) {
		case "ws", "websocket":
			resp.WebsocketURL = websocketURL(c.Request, orderID)
			resp.Message = "connect to websocket_url to stream order status"
		}

		response.Success(c, resp)
	}
}

// ExecuteOrderStreamHandler handles POST /orders/execute/stream
func (h *GinHandlers) ExecuteOrderStreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ExecuteOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		orderID, err := h.service.SubmitOrder(c.Request.Context(), req, c.GetHeader("Idempotency-Key"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, types.ExecuteOrderStreamResponse{
			OrderID:   orderID,
			StreamURL: websocketURL(c.Request, orderID),
		})
	}
}

// GetOrderStatusHandler handles GET /orders/status/:order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		status, err := h.service.GetOrderStatus(c.Request.Context(), orderID)
		response.Handle(c, status, err)
	}
}

// GetOrderHandler handles GET /orders/:order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(c.Request.Context(), orderID)
		response.Handle(c, order, err)
	}
}

// OrderWebsocketHandler handles GET /ws/orders/:order_id. The connection is
// registered as the order's observer before the current status is read, so
// no transition after the snapshot is missed.
func (h *GinHandlers) OrderWebsocketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		logger := log.With().Str("order_id", orderID).Logger()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		obs := broadcast.NewWebsocketObserver(conn)
		h.broadcaster.Register(orderID, obs)
		defer h.broadcaster.Unregister(orderID, obs)
		logger.Debug().Msg("websocket observer registered")

		h.sendSnapshot(c.Request.Context(), obs, orderID)
		obs.Serve()
		logger.Debug().Msg("websocket observer closed")
	}
}

// sendSnapshot pushes the order's current status. An order nobody has seen
// yet is reported as queued; a finished order closes the stream.
func (h *GinHandlers) sendSnapshot(ctx context.Context, obs *broadcast.WebsocketObserver, orderID string) {
	status, err := h.service.GetOrderStatus(ctx, orderID)
	switch {
	case errors.Is(err, types.ErrOrderNotFound):
		status = &types.OrderStatusResponse{
			OrderID: orderID,
			Status:  types.StatusPending,
			Message: "order queued, waiting for a worker",
		}
	case err != nil:
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to read order status for websocket")
		return
	}

	if err := sendJSON(obs, status, status.Status.IsTerminal()); err != nil {
		log.Debug().Err(err).Str("order_id", orderID).Msg("failed to send status snapshot")
	}
}

func sendJSON(obs *broadcast.WebsocketObserver, v interface{}, final bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return obs.SendRaw(data, final)
}

func websocketURL(r *http.Request, orderID string) string {
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/v1/ws/orders/%s", scheme, r.Host, orderID)
}
