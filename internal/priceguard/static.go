package priceguard

import "context"

// Static returns a fixed quote for every symbol. Used when no oracle URL is
// configured and in tests.
type Static struct {
	Quote Quote
	Err   error
}

// SecuredPrice returns the configured quote or error.
func (s *Static) SecuredPrice(ctx context.Context, symbol string) (Quote, error) {
	if s.Err != nil {
		return Quote{}, s.Err
	}
	return s.Quote, nil
}
