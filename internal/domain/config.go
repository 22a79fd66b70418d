package domain

import "fmt"

// MarginMode uses the venue's spelling (ISOLATION, not ISOLATED).
type MarginMode string

const (
	MarginIsolation MarginMode = "ISOLATION"
	MarginCross     MarginMode = "CROSS"
)

type SizeMode string

const (
	SizeMarginUSDT   SizeMode = "MARGIN_USDT"   // value is margin, notional = value * leverage
	SizeNotionalUSDT SizeMode = "NOTIONAL_USDT" // value is the notional directly
	SizePctBalance   SizeMode = "PCT_BALANCE"   // value is a fraction of available balance
)

type SameSidePolicy string

const (
	SameSideIgnore SameSidePolicy = "IGNORE"
	SameSideReset  SameSidePolicy = "RESET_ORDERS"
)

// TPLevel is one rung of a symbol's take-profit ladder.
// Percentages are decimals: 0.01 = 1%.
type TPLevel struct {
	Symbol    string
	Level     int
	TargetPct float64
	CloseFrac float64
	Enabled   bool
}

// PairConfig is the per-symbol policy snapshot. Loaded once at startup,
// never written by the bot; edits to the config DB require a restart.
type PairConfig struct {
	Symbol  string
	Enabled bool

	MarginMode MarginMode
	Leverage   int

	SizeMode  SizeMode
	SizeValue float64

	SLEnabled bool
	SLPct     float64

	TPEnabled bool

	BreakevenEnabled    bool
	BreakevenTriggerPct float64
	BreakevenOffsetPct  float64

	TrailingEnabled         bool
	TrailingTriggerPct      float64
	TrailingStepPct         float64
	TrailingDistancePct     float64
	TrailingMoveImmediately bool

	SameSidePolicy SameSidePolicy

	// Enabled levels only, sorted ascending by Level.
	TPLevels []TPLevel
}

// Monitored reports whether an open position under this config gets a
// risk monitor: there must be a stop to move and something to move it.
func (c *PairConfig) Monitored() bool {
	return c.SLEnabled && (c.BreakevenEnabled || c.TrailingEnabled)
}

func (c *PairConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("pair config: empty symbol")
	}
	switch c.MarginMode {
	case MarginIsolation, MarginCross:
	default:
		return fmt.Errorf("%s: invalid margin_mode %q", c.Symbol, c.MarginMode)
	}
	switch c.SizeMode {
	case SizeMarginUSDT, SizeNotionalUSDT, SizePctBalance:
	default:
		return fmt.Errorf("%s: invalid order_size_type %q", c.Symbol, c.SizeMode)
	}
	switch c.SameSidePolicy {
	case SameSideIgnore, SameSideReset:
	default:
		return fmt.Errorf("%s: invalid same_side_policy %q", c.Symbol, c.SameSidePolicy)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("%s: leverage must be >= 1, got %d", c.Symbol, c.Leverage)
	}
	pcts := []struct {
		name string
		v    float64
	}{
		{"sl_pct", c.SLPct},
		{"breakeven_trigger_pct", c.BreakevenTriggerPct},
		{"breakeven_offset_pct", c.BreakevenOffsetPct},
		{"trailing_trigger_pct", c.TrailingTriggerPct},
		{"trailing_step_pct", c.TrailingStepPct},
		{"trailing_distance_pct", c.TrailingDistancePct},
	}
	for _, p := range pcts {
		if p.v < 0 || p.v > 1 {
			return fmt.Errorf("%s: %s out of range [0..1]: %v", c.Symbol, p.name, p.v)
		}
	}
	for _, lv := range c.TPLevels {
		if lv.TargetPct <= 0 || lv.TargetPct > 1 {
			return fmt.Errorf("%s: tp level %d target_pct out of range (0..1]: %v", c.Symbol, lv.Level, lv.TargetPct)
		}
		if lv.CloseFrac <= 0 || lv.CloseFrac > 1 {
			return fmt.Errorf("%s: tp level %d close_frac out of range (0..1]: %v", c.Symbol, lv.Level, lv.CloseFrac)
		}
	}
	return nil
}
