package domain

// SymbolInfo is the trading-pair metadata needed to format orders.
type SymbolInfo struct {
	Symbol         string
	BasePrecision  int     // decimals allowed on quantities
	QuotePrecision int     // decimals allowed on prices
	MinTradeVolume float64 // minimum order quantity in base units
}

// ExchangePosition is a position as the venue reports it. Quantity is
// absolute; the venue's BUY/SELL side is normalized to LONG/SHORT.
type ExchangePosition struct {
	PositionID string
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	SLPrice    float64 // 0 when the venue reports no stop on the position
}

// TPSLOrder is a pending conditional order. An order with a TPPrice is a
// take-profit, one with only an SLPrice is a stop-loss.
type TPSLOrder struct {
	ID         string
	Symbol     string
	TPPrice    string
	SLPrice    string
	SLQty      float64
	CreateTime int64 // venue clock, unix ms
}

// OrderDetail is the fill-polling view of a placed order.
type OrderDetail struct {
	OrderID  string
	Status   string // NEW, PART_FILLED, FILLED, CANCELED
	TradeQty float64
	AvgPrice float64
}
