package domain

import "errors"

var (
	// ErrSymbolNotConfigured is returned when a signal names a symbol the
	// config DB does not know (or has disabled). No exchange call is made.
	ErrSymbolNotConfigured = errors.New("symbol not configured")

	// ErrQueueFull rejects an inbound signal when its symbol's queue is at
	// capacity. Surfaced to the webhook caller as a rate-limit response.
	ErrQueueFull = errors.New("symbol queue full")

	// ErrUnparseable means no symbol or no signal kind could be extracted
	// from an alert payload. The alert never reaches a queue.
	ErrUnparseable = errors.New("unparseable alert payload")

	// ErrNoPosition is returned by close paths when the venue reports
	// nothing to close.
	ErrNoPosition = errors.New("no open position")

	// ErrOrderNotFilled means an order did not reach a filled state within
	// the polling budget, or was canceled by the venue.
	ErrOrderNotFilled = errors.New("order not filled")
)
