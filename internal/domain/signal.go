package domain

import "time"

// SignalKind is the canonical action carried by an alert.
type SignalKind string

const (
	SignalLong   SignalKind = "LONG"
	SignalShort  SignalKind = "SHORT"
	SignalBuyTP  SignalKind = "BUY_TP"  // manual take-profit close of a LONG
	SignalSellTP SignalKind = "SELL_TP" // manual take-profit close of a SHORT
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalLong, SignalShort, SignalBuyTP, SignalSellTP:
		return true
	}
	return false
}

// IsEntry reports whether the signal opens or manages a position
// (as opposed to the manual TP close kinds).
func (k SignalKind) IsEntry() bool {
	return k == SignalLong || k == SignalShort
}

// Side returns the position side an entry signal targets.
func (k SignalKind) Side() Side {
	if k == SignalShort {
		return SideShort
	}
	return SideLong
}

// TargetSide returns the side a manual TP signal is allowed to close.
func (k SignalKind) TargetSide() Side {
	if k == SignalSellTP {
		return SideShort
	}
	return SideLong
}

// Signal is one normalized alert. Produced once by the parser,
// consumed once by the executor.
type Signal struct {
	Symbol     string
	Kind       SignalKind
	ReceivedAt time.Time
}
