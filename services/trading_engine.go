package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/interfaces"
	"signal-trader/models"
)

var one = decimal.NewFromInt(1)

// TradingEngine simulates execution against a single in-memory account.
// All mutations of the portfolio, the trade book and signal resolution go
// through one mutex: signals arrive concurrently from multiple intake
// sources and price ticks from the streaming feed, and a half-applied
// balance mutation must never be observable.
type TradingEngine struct {
	mu sync.Mutex

	portfolio    models.Portfolio
	riskSettings models.RiskSettings
	trades       map[string]*models.Trade
	signals      map[string]*models.Signal

	// slippageTolerance is the max percent deviation between a supplied
	// market price and the signal entry; fills outside it are rejected.
	slippageTolerance decimal.Decimal

	stats *PortfolioStats

	signalStore interfaces.SignalStore
	tradeStore  interfaces.TradeStore
	notifier    interfaces.Notifier
	logger      *logrus.Logger
}

// NewTradingEngine creates an engine with a fresh account ledger.
// signalStore, tradeStore and notifier may be nil; persistence and
// notifications are best-effort and never fail a trade.
func NewTradingEngine(
	initialBalance decimal.Decimal,
	settings models.RiskSettings,
	slippageTolerancePercent decimal.Decimal,
	signalStore interfaces.SignalStore,
	tradeStore interfaces.TradeStore,
	notifier interfaces.Notifier,
) *TradingEngine {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &TradingEngine{
		portfolio:         models.NewPortfolio(initialBalance),
		riskSettings:      settings,
		trades:            make(map[string]*models.Trade),
		signals:           make(map[string]*models.Signal),
		slippageTolerance: slippageTolerancePercent,
		stats:             NewPortfolioStats(initialBalance),
		signalStore:       signalStore,
		tradeStore:        tradeStore,
		notifier:          notifier,
		logger:            logger,
	}
}

// --- signal registry ---

// AddSignal registers a parsed signal with the engine
func (te *TradingEngine) AddSignal(signal *models.Signal) {
	te.mu.Lock()
	te.signals[signal.ID] = signal
	te.mu.Unlock()

	te.persistSignal(signal)
}

// GetSignal returns a copy of the signal with the given ID
func (te *TradingEngine) GetSignal(id string) (models.Signal, error) {
	te.mu.Lock()
	defer te.mu.Unlock()

	signal, ok := te.signals[id]
	if !ok {
		return models.Signal{}, &models.ExecError{Code: models.CodeSignalNotFound, Detail: id}
	}
	return *signal, nil
}

// ListSignals returns signals, newest first, optionally only unresolved ones
func (te *TradingEngine) ListSignals(pendingOnly bool) []models.Signal {
	te.mu.Lock()
	defer te.mu.Unlock()

	out := make([]models.Signal, 0, len(te.signals))
	for _, s := range te.signals {
		if pendingOnly && s.Resolved() {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}

// SetSignalScore attaches an AI scoring verdict to a registered signal
func (te *TradingEngine) SetSignalScore(id string, score models.Score) {
	te.mu.Lock()
	signal, ok := te.signals[id]
	if ok {
		value := score.Value
		signal.AIScore = &value
		signal.AIReasoning = score.Reasoning
	}
	te.mu.Unlock()
}

// DismissSignal marks a pending signal as dismissed. A dismissal racing a
// concurrent execution is resolved by lock order: whoever acquires the
// engine mutex first wins, the loser gets AlreadyResolved.
func (te *TradingEngine) DismissSignal(id string) error {
	te.mu.Lock()
	signal, ok := te.signals[id]
	if !ok {
		te.mu.Unlock()
		return &models.ExecError{Code: models.CodeSignalNotFound, Detail: id}
	}
	if signal.Resolved() {
		te.mu.Unlock()
		return &models.ExecError{Code: models.CodeAlreadyResolved, Detail: id}
	}
	signal.Dismissed = true
	snapshot := *signal
	te.mu.Unlock()

	te.persistSignal(&snapshot)
	te.logger.WithField("signal_id", id).Info("Signal dismissed")
	return nil
}

// --- execution ---

// ExecuteSignal opens a trade for a sized order. marketPrice may be nil,
// in which case the fill happens at the signal entry; otherwise the fill
// uses the market price, rejected (not adjusted) when it deviates from the
// entry by more than the slippage tolerance.
func (te *TradingEngine) ExecuteSignal(signalID string, order models.SizedOrder, marketPrice *decimal.Decimal) (models.Trade, error) {
	te.mu.Lock()

	signal, ok := te.signals[signalID]
	if !ok {
		te.mu.Unlock()
		return models.Trade{}, &models.ExecError{Code: models.CodeSignalNotFound, Detail: signalID}
	}
	if signal.Resolved() {
		te.mu.Unlock()
		return models.Trade{}, &models.ExecError{Code: models.CodeAlreadyResolved, Detail: signalID}
	}

	fillPrice := signal.Entry
	if marketPrice != nil {
		deviation := marketPrice.Sub(signal.Entry).Abs().Div(signal.Entry).Mul(oneHundred)
		if deviation.GreaterThan(te.slippageTolerance) {
			te.mu.Unlock()
			return models.Trade{}, &models.ExecError{
				Code:   models.CodeSlippageExceeded,
				Detail: fmt.Sprintf("market %s vs entry %s (%s%% > %s%%)", marketPrice.String(), signal.Entry.String(), deviation.StringFixed(2), te.slippageTolerance.String()),
			}
		}
		fillPrice = *marketPrice
	}

	// Re-check account constraints under the lock; the sizing snapshot may
	// be stale by the time two concurrent executions get here.
	if te.openTradeCountLocked() >= te.riskSettings.MaxOpenPositions {
		te.mu.Unlock()
		return models.Trade{}, &models.RiskError{Code: models.CodeMaxPositionsReached}
	}
	if order.Margin.GreaterThan(te.portfolio.AvailableBalance) {
		te.mu.Unlock()
		return models.Trade{}, &models.RiskError{Code: models.CodeInsufficientMargin}
	}

	trade := &models.Trade{
		ID:                uuid.NewString(),
		SignalID:          signal.ID,
		Symbol:            signal.Asset,
		Side:              signal.Action,
		EntryPrice:        fillPrice,
		Quantity:          order.Quantity,
		RemainingQuantity: order.Quantity,
		StopLoss:          signal.StopLoss,
		TakeProfits:       buildTranches(signal.TakeProfits),
		Leverage:          order.Leverage,
		Margin:            order.Margin,
		Status:            models.TradeOpen,
		EntryTime:         time.Now().UTC(),
		CurrentPrice:      fillPrice,
	}

	te.portfolio.AvailableBalance = te.portfolio.AvailableBalance.Sub(order.Margin)
	te.portfolio.MarginUsed = te.portfolio.MarginUsed.Add(order.Margin)
	te.trades[trade.ID] = trade
	signal.Executed = true

	tradeCopy := *trade
	signalCopy := *signal
	te.mu.Unlock()

	te.persistSignal(&signalCopy)
	te.persistTrade(&tradeCopy)
	te.notify(fmt.Sprintf("Opened %s %s qty=%s entry=%s margin=%s",
		tradeCopy.Symbol, tradeCopy.Side, tradeCopy.Quantity.String(),
		tradeCopy.EntryPrice.String(), tradeCopy.Margin.StringFixed(2)))

	te.logger.WithFields(logrus.Fields{
		"trade_id":  tradeCopy.ID,
		"signal_id": signalID,
		"symbol":    tradeCopy.Symbol,
		"side":      tradeCopy.Side,
		"quantity":  tradeCopy.Quantity.String(),
		"entry":     tradeCopy.EntryPrice.String(),
		"margin":    tradeCopy.Margin.StringFixed(2),
		"leverage":  tradeCopy.Leverage,
	}).Info("Trade opened")

	return tradeCopy, nil
}

// buildTranches converts take-profit prices into an ordered tranche list.
// Without explicit fractions each level closes an equal share of the
// original quantity; the last tranche absorbs the rounding remainder so
// the fractions sum to exactly one.
func buildTranches(prices []decimal.Decimal) []models.TakeProfitLevel {
	n := len(prices)
	if n == 0 {
		return nil
	}

	base := one.Div(decimal.NewFromInt(int64(n)))
	tranches := make([]models.TakeProfitLevel, n)
	remaining := one
	for i, price := range prices {
		fraction := base
		if i == n-1 {
			fraction = remaining
		}
		tranches[i] = models.TakeProfitLevel{Price: price, Fraction: fraction}
		remaining = remaining.Sub(fraction)
	}
	return tranches
}

// --- price updates ---

// OnPriceUpdate applies one tick to every open trade of the symbol.
// Stop and target evaluation runs before the surviving quantity is marked
// to market, and subsequent level checks within the same tick operate on
// the already reduced remaining quantity.
func (te *TradingEngine) OnPriceUpdate(update models.PriceUpdate) {
	te.mu.Lock()

	var touched []models.Trade
	for _, trade := range te.trades {
		if trade.Status != models.TradeOpen || trade.Symbol != update.Symbol {
			continue
		}

		before := trade.RemainingQuantity
		te.evaluateExits(trade, update.Price)
		if trade.Status == models.TradeClosed {
			touched = append(touched, *trade)
			continue
		}
		te.markToMarket(trade, update.Price)
		if !trade.RemainingQuantity.Equal(before) {
			touched = append(touched, *trade)
		}
	}
	te.mu.Unlock()

	for i := range touched {
		t := touched[i]
		te.persistTrade(&t)
		if t.Status == models.TradeClosed {
			te.notify(fmt.Sprintf("Closed %s %s reason=%s pnl=%s",
				t.Symbol, t.Side, t.ExitReason, t.RealizedPnL.StringFixed(2)))
		}
	}
}

// evaluateExits checks the stop first, then unhit take-profit levels in
// ladder order. Must be called with the engine lock held.
func (te *TradingEngine) evaluateExits(trade *models.Trade, price decimal.Decimal) {
	if stopCrossed(trade, price) {
		te.applyClose(trade, trade.RemainingQuantity, trade.StopLoss, models.ExitStopLoss)
		return
	}

	for i := range trade.TakeProfits {
		level := &trade.TakeProfits[i]
		if level.Hit || !targetCrossed(trade, level.Price, price) {
			continue
		}
		level.Hit = true

		closeQty := trade.Quantity.Mul(level.Fraction)
		if closeQty.GreaterThan(trade.RemainingQuantity) {
			closeQty = trade.RemainingQuantity
		}
		te.applyClose(trade, closeQty, level.Price, models.ExitTakeProfit)
		if trade.Status == models.TradeClosed {
			return
		}
	}
}

func stopCrossed(trade *models.Trade, price decimal.Decimal) bool {
	if trade.Side == models.ActionLong {
		return price.LessThanOrEqual(trade.StopLoss)
	}
	return price.GreaterThanOrEqual(trade.StopLoss)
}

func targetCrossed(trade *models.Trade, target, price decimal.Decimal) bool {
	if trade.Side == models.ActionLong {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// applyClose realizes PnL for a partial or full close. Partial PnL hits
// the balance immediately, not deferred to the final close, and margin is
// released proportionally to the closed share of the original quantity.
// Must be called with the engine lock held.
func (te *TradingEngine) applyClose(trade *models.Trade, qty, price decimal.Decimal, reason models.ExitReason) {
	pnl := price.Sub(trade.EntryPrice).Mul(qty).Mul(trade.Direction())

	// The release is the delta of cumulative closed-share margin, not a
	// per-close proportion: when the last unit closes the cumulative share
	// is the full margin, so rounding dust can never accumulate in the
	// ledger across uneven tranche quantities.
	closedBefore := trade.Quantity.Sub(trade.RemainingQuantity)

	trade.RealizedPnL = trade.RealizedPnL.Add(pnl)
	trade.RemainingQuantity = trade.RemainingQuantity.Sub(qty)

	closedAfter := trade.Quantity.Sub(trade.RemainingQuantity)
	releasedMargin := trade.Margin.Mul(closedAfter).Div(trade.Quantity).
		Sub(trade.Margin.Mul(closedBefore).Div(trade.Quantity))

	te.portfolio.MarginUsed = te.portfolio.MarginUsed.Sub(releasedMargin)
	te.portfolio.AvailableBalance = te.portfolio.AvailableBalance.Add(releasedMargin).Add(pnl)
	te.portfolio.CurrentBalance = te.portfolio.CurrentBalance.Add(pnl)

	te.logger.WithFields(logrus.Fields{
		"trade_id":  trade.ID,
		"symbol":    trade.Symbol,
		"qty":       qty.String(),
		"price":     price.String(),
		"reason":    reason,
		"pnl":       pnl.StringFixed(2),
		"remaining": trade.RemainingQuantity.String(),
	}).Info("Close applied")

	if trade.RemainingQuantity.IsZero() {
		now := time.Now().UTC()
		trade.Status = models.TradeClosed
		trade.ExitPrice = &price
		trade.ExitReason = reason
		trade.ExitTime = &now
		trade.CurrentPrice = price
		trade.UnrealizedPnL = decimal.Zero
		trade.UnrealizedPnLPercent = decimal.Zero

		te.stats.RecordClose(trade.RealizedPnL, te.portfolio.CurrentBalance)
	}
}

// markToMarket refreshes unrealized PnL on the remaining quantity.
// Must be called with the engine lock held.
func (te *TradingEngine) markToMarket(trade *models.Trade, price decimal.Decimal) {
	trade.CurrentPrice = price
	trade.UnrealizedPnL = price.Sub(trade.EntryPrice).Mul(trade.RemainingQuantity).Mul(trade.Direction())

	exposure := trade.EntryPrice.Mul(trade.RemainingQuantity).Div(decimal.NewFromInt(int64(trade.Leverage)))
	if exposure.IsZero() {
		trade.UnrealizedPnLPercent = decimal.Zero
		return
	}
	trade.UnrealizedPnLPercent = trade.UnrealizedPnL.Div(exposure).Mul(oneHundred)
}

// --- manual close ---

// CloseTrade closes all remaining quantity at the supplied price
func (te *TradingEngine) CloseTrade(id string, price decimal.Decimal, reason models.ExitReason) (models.Trade, error) {
	if reason == "" {
		reason = models.ExitManual
	}

	te.mu.Lock()
	trade, ok := te.trades[id]
	if !ok {
		te.mu.Unlock()
		return models.Trade{}, &models.ExecError{Code: models.CodeTradeNotFound, Detail: id}
	}
	if trade.Status != models.TradeOpen {
		te.mu.Unlock()
		return models.Trade{}, &models.ExecError{Code: models.CodeTradeClosed, Detail: id}
	}
	if !price.IsPositive() {
		te.mu.Unlock()
		return models.Trade{}, &models.ExecError{Code: models.CodePriceUnavailable, Detail: "close price must be positive"}
	}

	te.applyClose(trade, trade.RemainingQuantity, price, reason)
	snapshot := *trade
	te.mu.Unlock()

	te.persistTrade(&snapshot)
	te.notify(fmt.Sprintf("Closed %s %s reason=%s pnl=%s",
		snapshot.Symbol, snapshot.Side, snapshot.ExitReason, snapshot.RealizedPnL.StringFixed(2)))
	return snapshot, nil
}

// --- queries ---

// GetTrade returns a copy of the trade with the given ID
func (te *TradingEngine) GetTrade(id string) (models.Trade, error) {
	te.mu.Lock()
	defer te.mu.Unlock()

	trade, ok := te.trades[id]
	if !ok {
		return models.Trade{}, &models.ExecError{Code: models.CodeTradeNotFound, Detail: id}
	}
	return *trade, nil
}

// ListTrades returns trades filtered by symbol and/or status, newest first
func (te *TradingEngine) ListTrades(symbol string, status models.TradeStatus) []models.Trade {
	te.mu.Lock()
	defer te.mu.Unlock()

	out := make([]models.Trade, 0, len(te.trades))
	for _, t := range te.trades {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	return out
}

// GetPortfolio returns a consistent snapshot of the account ledger
func (te *TradingEngine) GetPortfolio() models.Portfolio {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.portfolio
}

// OpenTradeCount returns the number of open trades
func (te *TradingEngine) OpenTradeCount() int {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.openTradeCountLocked()
}

func (te *TradingEngine) openTradeCountLocked() int {
	count := 0
	for _, t := range te.trades {
		if t.Status == models.TradeOpen {
			count++
		}
	}
	return count
}

// Stats returns the incremental portfolio statistics snapshot
func (te *TradingEngine) Stats() StatsSnapshot {
	return te.stats.Snapshot()
}

// RiskSettings returns the current risk policy
func (te *TradingEngine) RiskSettings() models.RiskSettings {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.riskSettings
}

// UpdateRiskSettings hot-reloads the risk policy
func (te *TradingEngine) UpdateRiskSettings(settings models.RiskSettings) {
	te.mu.Lock()
	te.riskSettings = settings
	te.mu.Unlock()

	te.logger.WithFields(logrus.Fields{
		"max_risk_percent":   settings.MaxRiskPerTradePercent.String(),
		"max_open_positions": settings.MaxOpenPositions,
		"min_rr_ratio":       settings.MinRiskRewardRatio.String(),
	}).Info("Risk settings updated")
}

// --- best-effort side effects ---

func (te *TradingEngine) persistSignal(signal *models.Signal) {
	if te.signalStore == nil {
		return
	}
	if err := te.signalStore.SaveSignal(signal); err != nil {
		te.logger.WithError(err).Error("Failed to save signal")
	}
}

func (te *TradingEngine) persistTrade(trade *models.Trade) {
	if te.tradeStore == nil {
		return
	}
	if err := te.tradeStore.SaveTrade(trade); err != nil {
		te.logger.WithError(err).Error("Failed to save trade")
	}
}

func (te *TradingEngine) notify(message string) {
	if te.notifier == nil {
		return
	}
	te.notifier.Send(message)
}
