// Package priceguard defines the boundary to the external secured-price
// oracle. The aggregation and consensus behind the quote live outside this
// service; the engine only consumes the result and fails fast when it is
// insecure or low-confidence.
package priceguard

import "context"

// Quote is a secured price observation for one symbol.
type Quote struct {
	// Price is the aggregated spot price in smallest units.
	Price int64 `json:"price"`

	// TWAP is the time-weighted average price in smallest units.
	TWAP int64 `json:"twap"`

	// Confidence scores the quote from 0 to 100.
	Confidence int `json:"confidenceScore"`

	// Secure is false when the oracle could not secure the quote
	// (insufficient sources, detected manipulation, staleness).
	Secure bool `json:"isSecure"`
}

// Guard supplies secured prices. Implementations must return promptly; the
// engine performs exactly one synchronous query before mutating state and
// aborts the operation on any error.
type Guard interface {
	SecuredPrice(ctx context.Context, symbol string) (Quote, error)
}
