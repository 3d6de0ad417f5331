package kucoin

import (
	"errors"
	"fmt"
)

// Exchange business error codes this pipeline reacts to.
const (
	// CodeSymbolNotExists means the trading pair does not exist; signals
	// against it are dropped permanently, never retried.
	CodeSymbolNotExists = "900001"
)

// APIError is a business-level error returned by the exchange.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

// Error satisfies the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("kucoin api error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// IsSymbolNotExists reports whether err is the exchange rejecting an unknown
// trading pair.
func IsSymbolNotExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeSymbolNotExists
}
