package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	monitorTickEvery = 1 * time.Second

	// Consecutive tick failures before the monitor escalates to an
	// error log. It keeps ticking either way; a stop that is already
	// on the venue protects the position even while reads fail.
	monitorFailureBudget = 30
)

// MonitorService owns the per-position risk monitors that move stops to
// breakeven and trail them. Arm and Disarm require the symbol lock.
type MonitorService struct {
	exchange     domain.Exchange
	minTicksAway int
	logger       *zap.Logger
}

func NewMonitorService(exchange domain.Exchange, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		exchange:     exchange,
		minTicksAway: DefaultMinTicksAway,
		logger:       logger,
	}
}

// Arm starts a fresh monitor for the position, replacing any previous
// binding. Breakeven and trailing state start clean: a re-armed monitor
// never inherits an older position's ratchet.
func (m *MonitorService) Arm(st *SymbolState, pos *domain.OpenPosition, cfg *domain.PairConfig) {
	m.Disarm(st)

	mon := &positionMonitor{
		service: m,
		st:      st,
		pos:     pos,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	st.monitor = mon
	go mon.run()

	m.logger.Info("Risk monitor armed",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Bool("breakeven", cfg.BreakevenEnabled),
		zap.Bool("trailing", cfg.TrailingEnabled))
}

// Disarm detaches the symbol's monitor if one is bound. The goroutine
// notices on its next tick and exits; an unbound monitor never writes
// to the exchange.
func (m *MonitorService) Disarm(st *SymbolState) {
	if st.monitor == nil {
		return
	}
	close(st.monitor.stopCh)
	st.monitor = nil
}

// StopAll detaches every monitor and waits for the goroutines to exit.
func (m *MonitorService) StopAll(registry *SymbolRegistry) {
	var stopping []*positionMonitor
	for _, symbol := range registry.Symbols() {
		st := registry.Get(symbol)
		st.Mu.Lock()
		if st.monitor != nil {
			close(st.monitor.stopCh)
			stopping = append(stopping, st.monitor)
			st.monitor = nil
		}
		st.Mu.Unlock()
	}
	for _, mon := range stopping {
		<-mon.done
	}
}

// positionMonitor watches one open position and only ever tightens its
// stop. Each tick runs under the symbol lock, so it never interleaves
// with the executor working the same symbol.
type positionMonitor struct {
	service *MonitorService
	st      *SymbolState
	pos     *domain.OpenPosition
	cfg     *domain.PairConfig

	stopCh chan struct{}
	done   chan struct{}

	lastSL      float64
	beDone      bool
	trailActive bool
	trailBest   float64
	trailAnchor float64
	failures    int
}

func (pm *positionMonitor) run() {
	defer close(pm.done)

	ticker := time.NewTicker(monitorTickEvery)
	defer ticker.Stop()

	pm.service.logger.Info("Risk monitor started", zap.String("symbol", pm.pos.Symbol))

	ctx := context.Background()
	for {
		select {
		case <-pm.stopCh:
			pm.service.logger.Info("Risk monitor stopped", zap.String("symbol", pm.pos.Symbol))
			return
		case <-ticker.C:
			if !pm.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one evaluation. Returns false when the monitor should exit:
// either the executor rebound the symbol while we waited for the lock,
// or the position is gone from the venue.
func (pm *positionMonitor) tick(ctx context.Context) bool {
	pm.st.Mu.Lock()
	defer pm.st.Mu.Unlock()

	if pm.st.monitor != pm {
		return false
	}

	gone, err := pm.evaluate(ctx)
	if err != nil {
		pm.failures++
		pm.service.logger.Warn("Monitor tick failed",
			zap.String("symbol", pm.pos.Symbol),
			zap.Int("consecutive", pm.failures),
			zap.Error(err))
		if pm.failures%monitorFailureBudget == 0 {
			pm.service.logger.Error("Monitor failing persistently",
				zap.String("symbol", pm.pos.Symbol),
				zap.Int("consecutive", pm.failures))
		}
		return true
	}
	pm.failures = 0

	if gone {
		pm.st.Position = nil
		pm.st.monitor = nil
		pm.service.logger.Info("Position gone, monitor detaching",
			zap.String("symbol", pm.pos.Symbol))
		return false
	}
	return true
}

// evaluate reads the venue once and applies breakeven then trailing.
// gone reports that the position no longer exists on the venue.
func (pm *positionMonitor) evaluate(ctx context.Context) (gone bool, err error) {
	rows, err := pm.service.exchange.GetPositions(ctx, pm.pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to list positions: %w", err)
	}

	var row *domain.ExchangePosition
	for _, r := range rows {
		if r.PositionID == pm.pos.PositionID {
			row = r
			break
		}
	}
	if row == nil {
		// Distinguish a closed position from a flaky listing: another
		// open row means the venue answered, ours is really gone.
		for _, r := range rows {
			if r.Quantity > 0 {
				return false, nil
			}
		}
		return true, nil
	}
	if row.Quantity <= 0 {
		return true, nil
	}

	// Seed the ratchet from whatever stop the open sequence left.
	if pm.lastSL == 0 && row.SLPrice > 0 {
		pm.lastSL = row.SLPrice
	}

	price, err := pm.service.exchange.GetLastPrice(ctx, pm.pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to get last price: %w", err)
	}
	if price <= 0 {
		return false, nil
	}

	if pm.cfg.BreakevenEnabled && !pm.beDone {
		pm.maybeBreakeven(ctx, price)
	}
	if pm.cfg.TrailingEnabled {
		pm.maybeTrailing(ctx, price)
	}
	return false, nil
}

// maybeBreakeven moves the stop to entry plus the configured offset once
// price has run the trigger distance. Applied at most once per position;
// a tighten refused as non-improving still counts as applied.
func (pm *positionMonitor) maybeBreakeven(ctx context.Context, price float64) {
	entry := pm.pos.EntryPrice
	if entry <= 0 {
		return
	}

	var beSL float64
	if pm.pos.Side == domain.SideLong {
		if price < entry*(1+pm.cfg.BreakevenTriggerPct) {
			return
		}
		beSL = entry * (1 + pm.cfg.BreakevenOffsetPct)
	} else {
		if price > entry*(1-pm.cfg.BreakevenTriggerPct) {
			return
		}
		beSL = entry * (1 - pm.cfg.BreakevenOffsetPct)
	}
	beSL = domain.RoundDown(beSL, pm.pos.QuotePrecision)

	if err := pm.tightenSL(ctx, beSL); err != nil {
		pm.service.logger.Warn("Breakeven failed",
			zap.String("symbol", pm.pos.Symbol), zap.Error(err))
		return
	}
	pm.beDone = true
	pm.service.logger.Info("Breakeven applied",
		zap.String("symbol", pm.pos.Symbol),
		zap.String("side", string(pm.pos.Side)),
		zap.Float64("sl", beSL))
}

// maybeTrailing activates once price has run the trigger distance from
// entry, then follows the best price seen: every time the best advances
// a full step from the anchor, the stop moves to best minus the trailing
// distance and the anchor resets.
func (pm *positionMonitor) maybeTrailing(ctx context.Context, price float64) {
	entry := pm.pos.EntryPrice
	if entry <= 0 {
		return
	}

	side := pm.pos.Side
	qp := pm.pos.QuotePrecision

	if !pm.trailActive {
		if side == domain.SideLong {
			if price < entry*(1+pm.cfg.TrailingTriggerPct) {
				return
			}
		} else {
			if price > entry*(1-pm.cfg.TrailingTriggerPct) {
				return
			}
		}

		pm.trailActive = true
		pm.trailBest = price
		pm.trailAnchor = price
		pm.service.logger.Info("Trailing activated",
			zap.String("symbol", pm.pos.Symbol),
			zap.String("side", string(side)),
			zap.Float64("trigger_pct", pm.cfg.TrailingTriggerPct))

		if pm.cfg.TrailingMoveImmediately {
			var newSL float64
			if side == domain.SideLong {
				newSL = price * (1 - pm.cfg.TrailingDistancePct)
			} else {
				newSL = price * (1 + pm.cfg.TrailingDistancePct)
			}
			newSL = domain.RoundDown(newSL, qp)
			if err := pm.tightenSL(ctx, newSL); err != nil {
				pm.service.logger.Warn("Trailing immediate move failed",
					zap.String("symbol", pm.pos.Symbol), zap.Error(err))
			}
		}
		return
	}

	if side == domain.SideLong {
		if price > pm.trailBest {
			pm.trailBest = price
		}
		if pm.trailBest >= pm.trailAnchor*(1+pm.cfg.TrailingStepPct) {
			newSL := domain.RoundDown(pm.trailBest*(1-pm.cfg.TrailingDistancePct), qp)
			if err := pm.tightenSL(ctx, newSL); err != nil {
				pm.service.logger.Warn("Trailing update failed",
					zap.String("symbol", pm.pos.Symbol), zap.Error(err))
				return
			}
			pm.trailAnchor = pm.trailBest
		}
		return
	}

	if pm.trailBest == 0 || price < pm.trailBest {
		pm.trailBest = price
	}
	if pm.trailBest <= pm.trailAnchor*(1-pm.cfg.TrailingStepPct) {
		newSL := domain.RoundDown(pm.trailBest*(1+pm.cfg.TrailingDistancePct), qp)
		if err := pm.tightenSL(ctx, newSL); err != nil {
			pm.service.logger.Warn("Trailing update failed",
				zap.String("symbol", pm.pos.Symbol), zap.Error(err))
			return
		}
		pm.trailAnchor = pm.trailBest
	}
}

// tightenSL moves the stop if and only if the move improves it. The
// candidate is clamped away from the current price first, then compared
// against the last stop this monitor placed.
func (pm *positionMonitor) tightenSL(ctx context.Context, newSL float64) error {
	side := pm.pos.Side
	qp := pm.pos.QuotePrecision

	if price, err := pm.service.exchange.GetLastPrice(ctx, pm.pos.Symbol); err == nil && price > 0 {
		newSL = clampSLNotInstant(side, newSL, price, qp, pm.service.minTicksAway)
	}

	if pm.lastSL > 0 {
		if side == domain.SideLong && newSL <= pm.lastSL {
			return nil
		}
		if side == domain.SideShort && newSL >= pm.lastSL {
			return nil
		}
	}

	if _, err := pm.service.exchange.ModifyPositionSL(ctx, pm.pos.Symbol, pm.pos.PositionID, newSL); err != nil {
		return err
	}
	pm.lastSL = newSL
	pm.service.logger.Info("Stop loss tightened",
		zap.String("symbol", pm.pos.Symbol),
		zap.String("side", string(side)),
		zap.Float64("sl", newSL))
	return nil
}
