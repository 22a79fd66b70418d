package usecase

import (
	"github.com/vitos/bitunix_signal_bot/internal/domain"
)

// clampSLNotInstant keeps a stop at least minTicksAway ticks away from
// the current price so the venue does not trigger it on placement.
func clampSLNotInstant(side domain.Side, sl, current float64, quotePrecision, minTicksAway int) float64 {
	if minTicksAway < 1 {
		minTicksAway = 1
	}
	ticks := domain.TickSize(quotePrecision) * float64(minTicksAway)

	if side == domain.SideLong {
		maxSL := current - ticks
		if sl >= maxSL {
			return domain.RoundDown(maxSL, quotePrecision)
		}
		return sl
	}

	minSL := current + ticks
	if sl <= minSL {
		return domain.RoundDown(minSL, quotePrecision)
	}
	return sl
}

// slFromEntry derives the protective stop from the entry price, forced
// at least one tick onto the losing side even for tiny percentages.
func slFromEntry(entry float64, quotePrecision int, side domain.Side, slPct float64) float64 {
	tick := domain.TickSize(quotePrecision)

	if side == domain.SideLong {
		sl := domain.RoundDown(entry*(1-slPct), quotePrecision)
		if sl >= entry {
			sl = domain.RoundDown(entry-tick, quotePrecision)
		}
		return sl
	}

	sl := domain.RoundDown(entry*(1+slPct), quotePrecision)
	if sl <= entry {
		sl = domain.RoundDown(entry+tick, quotePrecision)
	}
	return sl
}

// tpFromEntry mirrors slFromEntry on the winning side.
func tpFromEntry(entry float64, quotePrecision int, side domain.Side, targetPct float64) float64 {
	tick := domain.TickSize(quotePrecision)

	if side == domain.SideLong {
		tp := domain.RoundDown(entry*(1+targetPct), quotePrecision)
		if tp <= entry {
			tp = domain.RoundDown(entry+tick, quotePrecision)
		}
		return tp
	}

	tp := domain.RoundDown(entry*(1-targetPct), quotePrecision)
	if tp >= entry {
		tp = domain.RoundDown(entry-tick, quotePrecision)
	}
	return tp
}
