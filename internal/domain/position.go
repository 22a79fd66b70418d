package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type PositionState string

const (
	StateOpening PositionState = "OPENING"
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
	StateFlat    PositionState = "FLAT"
)

// OpenPosition is the engine's record of a confirmed position. At most one
// exists per symbol. The risk monitor reads it but never writes it.
type OpenPosition struct {
	Symbol         string
	PositionID     string
	Side           Side
	EntryPrice     float64
	Quantity       float64
	BasePrecision  int
	QuotePrecision int
	State          PositionState
	OpenedAt       time.Time
}
