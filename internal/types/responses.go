package types

// StatusSource tells a caller where a reported status was read from
type StatusSource string

const (
	SourceLive       StatusSource = "live"
	SourceHistorical StatusSource = "historical"
)

// ExecuteOrderRequest is the submission payload for a market swap
type ExecuteOrderRequest struct {
	TokenIn  string  `json:"token_in"`
	TokenOut string  `json:"token_out"`
	AmountIn float64 `json:"amount_in"`
	UserID   string  `json:"user_id"`
}

type ExecuteOrderResponse struct {
	OrderID      string `json:"order_id"`
	WebsocketURL string `json:"websocket_url,omitempty"`
	Message      string `json:"message,omitempty"`
}

type ExecuteOrderStreamResponse struct {
	OrderID   string `json:"order_id"`
	StreamURL string `json:"stream_url"`
}

// OrderStatusResponse reports the live status while an order is in flight and
// the durable record once it has finished
type OrderStatusResponse struct {
	OrderID string       `json:"order_id"`
	Status  OrderStatus  `json:"status"`
	Source  StatusSource `json:"source"`
	Order   *Order       `json:"order,omitempty"`
	Message string       `json:"message,omitempty"`
}
