package types

// StatusEvent is one transition pushed to observers. Each status carries its own
// detail set, so events are only built through the constructors below:
// Building carries dex and quote, Confirmed carries dex, executed price and tx
// hash, Failed carries the error message. Prices are pointers so a zero price
// is still sent while an absent one is omitted.
type StatusEvent struct {
	Status        OrderStatus `json:"status"`
	OrderID       string      `json:"order_id"`
	Dex           Dex         `json:"dex,omitempty"`
	Quote         *float64    `json:"quote,omitempty"`
	ExecutedPrice *float64    `json:"executed_price,omitempty"`
	TxHash        string      `json:"tx_hash,omitempty"`
	Error         string      `json:"error,omitempty"`
}

func PendingEvent(orderID string) StatusEvent {
	return StatusEvent{Status: StatusPending, OrderID: orderID}
}

func RoutingEvent(orderID string) StatusEvent {
	return StatusEvent{Status: StatusRouting, OrderID: orderID}
}

func BuildingEvent(orderID string, dex Dex, price float64) StatusEvent {
	return StatusEvent{Status: StatusBuilding, OrderID: orderID, Dex: dex, Quote: &price}
}

func SubmittedEvent(orderID string) StatusEvent {
	return StatusEvent{Status: StatusSubmitted, OrderID: orderID}
}

func ConfirmedEvent(orderID string, dex Dex, swap SwapResult) StatusEvent {
	price := swap.ExecutedPrice
	return StatusEvent{
		Status:        StatusConfirmed,
		OrderID:       orderID,
		Dex:           dex,
		ExecutedPrice: &price,
		TxHash:        swap.TxHash,
	}
}

func FailedEvent(orderID string, err error) StatusEvent {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return StatusEvent{Status: StatusFailed, OrderID: orderID, Error: msg}
}
