package database

import "errors"

var (
	// ErrConcurrentModification is returned when a versioned update
	// loses an optimistic compare-and-swap.
	ErrConcurrentModification = errors.New("booking was modified concurrently")

	// ErrRedeemConflict is returned when a ticket redemption loses the
	// compare-and-swap on the used flag or nonce. The caller re-reads
	// the row to decide the precise rejection.
	ErrRedeemConflict = errors.New("ticket redemption lost compare-and-swap")
)
