package domain

import "context"

// Exchange defines the interface for interacting with the futures venue.
// All prices and quantities are plain numbers; the adapter owns wire
// formatting at the symbol's precision.
type Exchange interface {
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	GetAvailableBalance(ctx context.Context) (float64, error)

	// GetPosition returns the open position for the symbol, nil when flat.
	// GetPositions returns the venue's raw per-symbol list (hedge mode can
	// briefly report more than one row).
	GetPosition(ctx context.Context, symbol string) (*ExchangePosition, error)
	GetPositions(ctx context.Context, symbol string) ([]*ExchangePosition, error)

	OpenMarket(ctx context.Context, symbol string, side Side, qty float64) (string, error)
	OpenMarketWithSL(ctx context.Context, symbol string, side Side, qty, slPrice float64) (string, error)
	CloseMarket(ctx context.Context, symbol, positionID string, side Side, qty float64) error
	GetOrderDetail(ctx context.Context, orderID string) (*OrderDetail, error)

	// EnsurePositionSL places a position stop, falling back to modifying an
	// existing one. ModifyPositionSL only modifies (the monitor's move path).
	EnsurePositionSL(ctx context.Context, symbol, positionID string, slPrice float64) (string, error)
	ModifyPositionSL(ctx context.Context, symbol, positionID string, slPrice float64) (string, error)

	PlacePartialTP(ctx context.Context, symbol, positionID string, tpPrice, qty float64) (string, error)
	GetPendingTPSL(ctx context.Context, symbol string) ([]TPSLOrder, error)
	CancelTPSL(ctx context.Context, symbol, orderID string) error

	// CaptureProvisionalSLIDs finds pending stop-only orders at the given
	// price created at or after sinceMs (the stop attached by a market open
	// shows up as a plain TPSL order with no position binding we control).
	CaptureProvisionalSLIDs(ctx context.Context, symbol string, slPrice float64, sinceMs int64) ([]string, error)
}

// ConfigRepository loads the per-symbol trading configuration.
type ConfigRepository interface {
	LoadPairs(ctx context.Context) (map[string]*PairConfig, error)
}
