package types

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnknownToken  = errors.New("token not found in registry")
)

// ValidationError is a rejected submission; handlers map it to 400
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
