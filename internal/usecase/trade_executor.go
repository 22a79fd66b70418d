package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultMinTicksAway is how many ticks a fresh stop must keep from
	// the current price.
	DefaultMinTicksAway = 2

	fillWaitTimeout     = 60 * time.Second
	positionWaitTimeout = 45 * time.Second
	exchangePollEvery   = 1500 * time.Millisecond

	// How far back to look for the provisional stop created together
	// with a market open.
	provisionalLookback = 60 * time.Second
)

// TradeExecutor turns canonical signals into order sequences on the
// exchange. All work for a symbol runs under that symbol's lock, so a
// signal is fully applied before the next one or a monitor tick runs.
type TradeExecutor struct {
	exchange     domain.Exchange
	registry     *SymbolRegistry
	monitors     *MonitorService
	cfgs         map[string]*domain.PairConfig // immutable after construction
	minTicksAway int
	logger       *zap.Logger
}

func NewTradeExecutor(
	exchange domain.Exchange,
	registry *SymbolRegistry,
	monitors *MonitorService,
	cfgs map[string]*domain.PairConfig,
	logger *zap.Logger,
) *TradeExecutor {
	return &TradeExecutor{
		exchange:     exchange,
		registry:     registry,
		monitors:     monitors,
		cfgs:         cfgs,
		minTicksAway: DefaultMinTicksAway,
		logger:       logger,
	}
}

// Pairs exposes the configured pairs for webhook resolution.
func (e *TradeExecutor) Pairs() map[string]*domain.PairConfig {
	return e.cfgs
}

// Process handles one signal end to end. Skips (unconfigured symbol,
// disabled pair, side mismatch) return nil; only failed order sequences
// surface as errors.
func (e *TradeExecutor) Process(ctx context.Context, sig *domain.Signal) error {
	cfg := e.cfgs[sig.Symbol]
	if cfg == nil {
		e.logger.Warn("No config for symbol, dropping signal", zap.String("symbol", sig.Symbol))
		return nil
	}
	if !cfg.Enabled {
		e.logger.Info("Pair disabled, dropping signal", zap.String("symbol", sig.Symbol))
		return nil
	}

	st := e.registry.Get(sig.Symbol)
	st.Mu.Lock()
	defer st.Mu.Unlock()

	if !sig.Kind.IsEntry() {
		return e.handleManualTP(ctx, st, sig.Symbol, sig.Kind.TargetSide())
	}
	return e.handleEntry(ctx, st, sig.Symbol, sig.Kind.Side(), cfg)
}

// handleEntry applies a LONG or SHORT signal: open when flat, honor the
// same-side policy when already positioned that way, flip otherwise.
func (e *TradeExecutor) handleEntry(ctx context.Context, st *SymbolState, symbol string, side domain.Side, cfg *domain.PairConfig) error {
	if err := e.exchange.SetMarginMode(ctx, symbol, cfg.MarginMode); err != nil {
		e.logger.Warn("Set margin mode failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := e.exchange.SetLeverage(ctx, symbol, cfg.Leverage); err != nil {
		e.logger.Warn("Set leverage failed", zap.String("symbol", symbol), zap.Error(err))
	}

	cur, err := e.liveOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: failed to read position: %w", symbol, err)
	}

	if cur == nil {
		return e.openNewPosition(ctx, st, symbol, side, cfg)
	}

	if cur.Side == side {
		if cfg.SameSidePolicy == domain.SameSideIgnore {
			e.logger.Info("Already positioned, ignoring signal",
				zap.String("symbol", symbol), zap.String("side", string(side)))
			return nil
		}
		e.logger.Info("Already positioned, resetting orders",
			zap.String("symbol", symbol), zap.String("side", string(side)))
		return e.resetOrders(ctx, st, symbol, cfg)
	}

	e.logger.Info("Flipping position",
		zap.String("symbol", symbol),
		zap.String("from", string(cur.Side)),
		zap.String("to", string(side)))

	if err := e.closePositionMarket(ctx, st, symbol); err != nil {
		return err
	}
	return e.openNewPosition(ctx, st, symbol, side, cfg)
}

// handleManualTP closes the position a TP alert targets. BUY_TP closes a
// LONG, SELL_TP closes a SHORT; anything else is ignored, a TP alert
// must never open or flip.
func (e *TradeExecutor) handleManualTP(ctx context.Context, st *SymbolState, symbol string, targetSide domain.Side) error {
	cur, err := e.liveOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: failed to read position: %w", symbol, err)
	}
	if cur == nil {
		e.logger.Info("Manual TP but no open position", zap.String("symbol", symbol))
		return nil
	}
	if cur.Side != targetSide {
		e.logger.Info("Manual TP ignored, side mismatch",
			zap.String("symbol", symbol),
			zap.String("target", string(targetSide)),
			zap.String("open", string(cur.Side)))
		return nil
	}

	// Cancel pending TPs first so no stale orders outlive the close.
	e.cancelPendingTPs(ctx, symbol)

	e.logger.Info("Manual TP, closing position",
		zap.String("symbol", symbol), zap.String("side", string(cur.Side)))
	return e.closePositionMarket(ctx, st, symbol)
}

// liveOpenPosition reads the venue's view of the symbol: nil when flat,
// otherwise the largest open row with precisions attached.
func (e *TradeExecutor) liveOpenPosition(ctx context.Context, symbol string) (*domain.OpenPosition, error) {
	p, err := e.exchange.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	info, err := e.exchange.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return &domain.OpenPosition{
		Symbol:         symbol,
		PositionID:     p.PositionID,
		Side:           p.Side,
		EntryPrice:     p.EntryPrice,
		Quantity:       p.Quantity,
		BasePrecision:  info.BasePrecision,
		QuotePrecision: info.QuotePrecision,
		State:          domain.StateOpen,
	}, nil
}

func (e *TradeExecutor) calcQty(ctx context.Context, symbol string, cfg *domain.PairConfig, lastPrice float64, basePrecision int, minTradeVolume float64) (float64, error) {
	if lastPrice <= 0 {
		return 0, fmt.Errorf("%s: invalid last price %v", symbol, lastPrice)
	}

	var notional float64
	switch cfg.SizeMode {
	case domain.SizeMarginUSDT:
		notional = cfg.SizeValue * float64(cfg.Leverage)
	case domain.SizeNotionalUSDT:
		notional = cfg.SizeValue
	case domain.SizePctBalance:
		available, err := e.exchange.GetAvailableBalance(ctx)
		if err != nil {
			return 0, fmt.Errorf("%s: failed to get balance: %w", symbol, err)
		}
		notional = available * cfg.SizeValue * float64(cfg.Leverage)
	default:
		return 0, fmt.Errorf("%s: invalid size_mode %q", symbol, cfg.SizeMode)
	}

	qty := domain.RoundDown(notional/lastPrice, basePrecision)
	if minTradeVolume > 0 && qty < minTradeVolume {
		qty = domain.RoundDown(minTradeVolume, basePrecision)
	}
	return qty, nil
}

// openNewPosition runs the full open sequence: size, market order with a
// provisional stop, wait for the fill and the position row, then attach
// the real stop and the TP ladder. Any failure before the position is
// confirmed aborts the signal and leaves the symbol flat in bookkeeping.
func (e *TradeExecutor) openNewPosition(ctx context.Context, st *SymbolState, symbol string, side domain.Side, cfg *domain.PairConfig) (err error) {
	st.Position = &domain.OpenPosition{
		Symbol:   symbol,
		Side:     side,
		State:    domain.StateOpening,
		OpenedAt: time.Now(),
	}
	defer func() {
		if err != nil {
			e.bind(st, nil, nil)
		}
	}()

	info, err := e.exchange.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: failed to get symbol info: %w", symbol, err)
	}

	lastPrice, err := e.exchange.GetLastPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: failed to get last price: %w", symbol, err)
	}

	qty, err := e.calcQty(ctx, symbol, cfg, lastPrice, info.BasePrecision, info.MinTradeVolume)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("%s: computed qty <= 0", symbol)
	}

	openTS := time.Now()
	var orderID string
	var provisionalSL float64

	if cfg.SLEnabled {
		provisionalSL = slFromEntry(lastPrice, info.QuotePrecision, side, cfg.SLPct)
		provisionalSL = clampSLNotInstant(side, provisionalSL, lastPrice, info.QuotePrecision, e.minTicksAway)

		e.logger.Info("Opening position",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty),
			zap.Float64("provisional_sl", provisionalSL))
		orderID, err = e.exchange.OpenMarketWithSL(ctx, symbol, side, qty, provisionalSL)
	} else {
		e.logger.Info("Opening position",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("qty", qty))
		orderID, err = e.exchange.OpenMarket(ctx, symbol, side, qty)
	}
	if err != nil {
		return fmt.Errorf("%s: open order failed: %w", symbol, err)
	}
	if orderID == "" {
		return fmt.Errorf("%s: no orderId returned on open", symbol)
	}

	detail, err := e.waitOrderFilled(ctx, orderID)
	if err != nil {
		return fmt.Errorf("%s: %w", symbol, err)
	}

	fillPrice := lastPrice
	var tradeQty float64
	if detail != nil {
		tradeQty = detail.TradeQty
		if detail.AvgPrice > 0 {
			fillPrice = detail.AvgPrice
		}
	}

	// The provisional stop rides on the open order; grab its ids now so
	// leftovers can be cancelled once the position stop is in place.
	var provisionalIDs []string
	if cfg.SLEnabled && provisionalSL > 0 {
		provisionalIDs, err = e.exchange.CaptureProvisionalSLIDs(ctx, symbol, provisionalSL, openTS.Add(-provisionalLookback).UnixMilli())
		if err != nil {
			e.logger.Warn("Capturing provisional SL ids failed",
				zap.String("symbol", symbol), zap.Error(err))
			provisionalIDs = nil
			err = nil
		}
	}

	approxQty := qty
	if tradeQty > 0 {
		approxQty = tradeQty
	}
	row, err := e.waitPosition(ctx, symbol, approxQty, side)
	if err != nil {
		return fmt.Errorf("%s: %w", symbol, err)
	}
	if row == nil {
		return fmt.Errorf("%s: position never appeared, possibly closed by provisional SL", symbol)
	}
	if row.PositionID == "" || row.Quantity <= 0 {
		return fmt.Errorf("%s: invalid positionId/qty in position row", symbol)
	}

	entryPrice := row.EntryPrice
	if entryPrice <= 0 {
		entryPrice = fillPrice
	}

	var positionSLOrderID string
	if cfg.SLEnabled {
		slPrice := slFromEntry(entryPrice, info.QuotePrecision, side, cfg.SLPct)
		if cur, perr := e.exchange.GetLastPrice(ctx, symbol); perr == nil && cur > 0 {
			slPrice = clampSLNotInstant(side, slPrice, cur, info.QuotePrecision, e.minTicksAway)
		}

		e.logger.Info("Placing position stop loss",
			zap.String("symbol", symbol), zap.Float64("sl", slPrice))
		var serr error
		positionSLOrderID, serr = e.exchange.EnsurePositionSL(ctx, symbol, row.PositionID, slPrice)
		if serr != nil {
			e.logger.Warn("Placing position stop loss failed",
				zap.String("symbol", symbol), zap.Error(serr))
		}
	}

	pos := &domain.OpenPosition{
		Symbol:         symbol,
		PositionID:     row.PositionID,
		Side:           side,
		EntryPrice:     entryPrice,
		Quantity:       row.Quantity,
		BasePrecision:  info.BasePrecision,
		QuotePrecision: info.QuotePrecision,
		State:          domain.StateOpen,
		OpenedAt:       openTS,
	}

	if cfg.TPEnabled && len(cfg.TPLevels) > 0 {
		e.placeTPs(ctx, symbol, pos.PositionID, side, entryPrice, info.BasePrecision, info.QuotePrecision, pos.Quantity, cfg.TPLevels)
	}

	for _, id := range provisionalIDs {
		if positionSLOrderID != "" && id == positionSLOrderID {
			continue
		}
		if cerr := e.exchange.CancelTPSL(ctx, symbol, id); cerr != nil {
			e.logger.Warn("Cancelling provisional SL failed",
				zap.String("symbol", symbol), zap.String("order_id", id), zap.Error(cerr))
		}
	}

	e.bind(st, pos, cfg)

	e.logger.Info("Position ready",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("position_id", pos.PositionID),
		zap.Float64("qty", pos.Quantity),
		zap.Float64("entry", pos.EntryPrice))
	return nil
}

// closePositionMarket closes whatever the venue currently reports for
// the symbol. Quantity is refreshed first since partial TPs may have
// reduced it.
func (e *TradeExecutor) closePositionMarket(ctx context.Context, st *SymbolState, symbol string) error {
	cur, err := e.liveOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: failed to read position: %w", symbol, err)
	}
	if cur == nil {
		e.logger.Warn("No position to close", zap.String("symbol", symbol))
		e.bind(st, nil, nil)
		return nil
	}
	if cur.Quantity <= 0 {
		e.logger.Warn("Zero quantity, nothing to close", zap.String("symbol", symbol))
		e.bind(st, nil, nil)
		return nil
	}

	cur.State = domain.StateClosing
	st.Position = cur

	e.logger.Info("Closing position market",
		zap.String("symbol", symbol),
		zap.String("side", string(cur.Side)),
		zap.Float64("qty", cur.Quantity))

	if err := e.exchange.CloseMarket(ctx, symbol, cur.PositionID, cur.Side, cur.Quantity); err != nil {
		cur.State = domain.StateOpen
		return fmt.Errorf("%s: close failed: %w", symbol, err)
	}

	e.bind(st, nil, nil)
	return nil
}

// resetOrders re-derives the stop and the TP ladder from the live
// position. Used when a same-side signal arrives under RESET_ORDERS.
func (e *TradeExecutor) resetOrders(ctx context.Context, st *SymbolState, symbol string, cfg *domain.PairConfig) error {
	cur, err := e.liveOpenPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: failed to read position: %w", symbol, err)
	}
	if cur == nil {
		return nil
	}

	e.cancelPendingTPs(ctx, symbol)

	if cfg.SLEnabled {
		slPrice := slFromEntry(cur.EntryPrice, cur.QuotePrecision, cur.Side, cfg.SLPct)
		if price, perr := e.exchange.GetLastPrice(ctx, symbol); perr == nil && price > 0 {
			slPrice = clampSLNotInstant(cur.Side, slPrice, price, cur.QuotePrecision, e.minTicksAway)
		}
		if _, serr := e.exchange.EnsurePositionSL(ctx, symbol, cur.PositionID, slPrice); serr != nil {
			e.logger.Warn("Resetting stop loss failed",
				zap.String("symbol", symbol), zap.Error(serr))
		}
	}

	if cfg.TPEnabled && len(cfg.TPLevels) > 0 {
		e.placeTPs(ctx, symbol, cur.PositionID, cur.Side, cur.EntryPrice, cur.BasePrecision, cur.QuotePrecision, cur.Quantity, cfg.TPLevels)
	}

	e.bind(st, cur, cfg)
	return nil
}

// cancelPendingTPs cancels pending conditional orders that carry a TP
// price. Stops are left alone. Best effort: a cancel failure is logged
// and the rest proceed.
func (e *TradeExecutor) cancelPendingTPs(ctx context.Context, symbol string) {
	pending, err := e.exchange.GetPendingTPSL(ctx, symbol)
	if err != nil {
		e.logger.Warn("Listing pending TP/SL failed",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	for _, o := range pending {
		if o.TPPrice == "" || o.ID == "" {
			continue
		}
		if err := e.exchange.CancelTPSL(ctx, symbol, o.ID); err != nil {
			e.logger.Warn("Cancelling pending TP failed",
				zap.String("symbol", symbol), zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}

// placeTPs splits the position across the TP ladder. Whatever rounding
// leaves unassigned stays as a runner, except a dust runner below the
// minimum trade volume, which is folded into the last level. Each level
// is placed independently: one rejected level does not unwind the rest.
func (e *TradeExecutor) placeTPs(ctx context.Context, symbol, positionID string, side domain.Side, entryPrice float64, basePrecision, quotePrecision int, totalQty float64, levels []domain.TPLevel) {
	if len(levels) == 0 || totalQty <= 0 {
		return
	}

	qtys := make([]float64, len(levels))
	used := 0.0
	for i, lv := range levels {
		q := domain.RoundDown(totalQty*lv.CloseFrac, basePrecision)
		if q < 0 {
			q = 0
		}
		qtys[i] = q
		used += q
	}

	runner := domain.RoundDown(totalQty-used, basePrecision)
	if runner < 0 {
		runner = 0
	}

	if runner > 0 {
		if info, err := e.exchange.GetSymbolInfo(ctx, symbol); err == nil {
			if info.MinTradeVolume > 0 && runner < info.MinTradeVolume {
				qtys[len(qtys)-1] = domain.RoundDown(qtys[len(qtys)-1]+runner, basePrecision)
				runner = 0
			}
		}
	}

	for i, lv := range levels {
		if qtys[i] <= 0 {
			continue
		}
		tpPrice := tpFromEntry(entryPrice, quotePrecision, side, lv.TargetPct)
		if _, err := e.exchange.PlacePartialTP(ctx, symbol, positionID, tpPrice, qtys[i]); err != nil {
			e.logger.Warn("TP level failed",
				zap.String("symbol", symbol),
				zap.Int("level", lv.Level),
				zap.Error(err))
			continue
		}
		e.logger.Info("TP level placed",
			zap.String("symbol", symbol),
			zap.Int("level", lv.Level),
			zap.Float64("price", tpPrice),
			zap.Float64("qty", qtys[i]))
	}

	if runner > 0 {
		e.logger.Info("Runner quantity left without TP",
			zap.String("symbol", symbol), zap.Float64("qty", runner))
	}
}

// waitOrderFilled polls the order until it shows filled quantity. A
// canceled order is an error; a timeout returns the last detail seen so
// the caller can still fall back to the pre-order price.
func (e *TradeExecutor) waitOrderFilled(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	deadline := time.Now().Add(fillWaitTimeout)
	var last *domain.OrderDetail

	for time.Now().Before(deadline) {
		detail, err := e.exchange.GetOrderDetail(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to get order detail: %w", err)
		}
		last = detail

		switch detail.Status {
		case "FILLED", "PART_FILLED":
			if detail.TradeQty > 0 {
				return detail, nil
			}
		case "CANCELED":
			return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFilled)
		}

		if err := sleepCtx(ctx, exchangePollEvery); err != nil {
			return nil, err
		}
	}
	return last, nil
}

// waitPosition polls until the opened position shows up, preferring rows
// on the expected side and then the row closest to the ordered quantity.
// Returns nil after the timeout.
func (e *TradeExecutor) waitPosition(ctx context.Context, symbol string, approxQty float64, preferSide domain.Side) (*domain.ExchangePosition, error) {
	deadline := time.Now().Add(positionWaitTimeout)

	for time.Now().Before(deadline) {
		rows, err := e.exchange.GetPositions(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to list positions: %w", err)
		}

		var nonzero []*domain.ExchangePosition
		for _, r := range rows {
			if r.Quantity > 0 {
				nonzero = append(nonzero, r)
			}
		}
		if len(nonzero) > 0 {
			candidates := nonzero
			var preferred []*domain.ExchangePosition
			for _, r := range nonzero {
				if r.Side == preferSide {
					preferred = append(preferred, r)
				}
			}
			if len(preferred) > 0 {
				candidates = preferred
			}
			sort.Slice(candidates, func(i, j int) bool {
				di := candidates[i].Quantity - approxQty
				dj := candidates[j].Quantity - approxQty
				if di < 0 {
					di = -di
				}
				if dj < 0 {
					dj = -dj
				}
				return di < dj
			})
			return candidates[0], nil
		}

		if err := sleepCtx(ctx, exchangePollEvery); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// bind records the position and arms or disarms the risk monitor to
// match. Caller holds the symbol lock.
func (e *TradeExecutor) bind(st *SymbolState, pos *domain.OpenPosition, cfg *domain.PairConfig) {
	st.Position = pos
	if pos != nil && cfg != nil && cfg.Monitored() {
		e.monitors.Arm(st, pos, cfg)
		return
	}
	e.monitors.Disarm(st)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
