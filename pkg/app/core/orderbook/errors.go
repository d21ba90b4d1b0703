package orderbook

import "errors"

var (
	// ErrInvalidOrder is returned for malformed input; the book is not touched.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrNotFound is returned for unknown, terminal or foreign order ids.
	ErrNotFound = errors.New("order not found")
)
