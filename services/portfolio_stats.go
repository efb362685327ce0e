package services

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one step of the equity curve, appended per closed trade
type EquityPoint struct {
	Time    time.Time       `json:"time"`
	Balance decimal.Decimal `json:"balance"`
}

// StatsSnapshot holds the derived portfolio statistics
type StatsSnapshot struct {
	TotalClosed        int             `json:"total_closed"`
	Wins               int             `json:"wins"`
	Losses             int             `json:"losses"`
	WinRate            float64         `json:"win_rate"` // percent
	ProfitFactor       float64         `json:"-"`        // +Inf when no losses; serialized by the API layer
	AvgWin             decimal.Decimal `json:"avg_win"`
	AvgLoss            decimal.Decimal `json:"avg_loss"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	MaxDrawdownPercent decimal.Decimal `json:"max_drawdown_percent"`
	EquityCurve        []EquityPoint   `json:"equity_curve"`
}

// PortfolioStats maintains running sums over trade-close events, so every
// derived read is O(1) and no rescan of the trade history ever happens.
type PortfolioStats struct {
	mu sync.Mutex

	wins        int
	losses      int
	sumPositive decimal.Decimal
	sumNegative decimal.Decimal // accumulated as a non-positive number

	equity      []EquityPoint
	peak        decimal.Decimal
	maxDrawdown decimal.Decimal // percent
}

// NewPortfolioStats seeds the equity curve and drawdown peak with the
// initial balance
func NewPortfolioStats(initialBalance decimal.Decimal) *PortfolioStats {
	return &PortfolioStats{
		sumPositive: decimal.Zero,
		sumNegative: decimal.Zero,
		equity: []EquityPoint{
			{Time: time.Now().UTC(), Balance: initialBalance},
		},
		peak:        initialBalance,
		maxDrawdown: decimal.Zero,
	}
}

// RecordClose folds one closed trade into the running sums. O(1) amortized.
func (ps *PortfolioStats) RecordClose(realizedPnL, newBalance decimal.Decimal) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if realizedPnL.IsPositive() {
		ps.wins++
		ps.sumPositive = ps.sumPositive.Add(realizedPnL)
	} else {
		ps.losses++
		ps.sumNegative = ps.sumNegative.Add(realizedPnL)
	}

	ps.equity = append(ps.equity, EquityPoint{Time: time.Now().UTC(), Balance: newBalance})

	if newBalance.GreaterThan(ps.peak) {
		ps.peak = newBalance
	} else if ps.peak.IsPositive() {
		drawdown := ps.peak.Sub(newBalance).Div(ps.peak).Mul(oneHundred)
		if drawdown.GreaterThan(ps.maxDrawdown) {
			ps.maxDrawdown = drawdown
		}
	}
}

// Snapshot derives the reported statistics from the running sums
func (ps *PortfolioStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	total := ps.wins + ps.losses
	snap := StatsSnapshot{
		TotalClosed:        total,
		Wins:               ps.wins,
		Losses:             ps.losses,
		AvgWin:             decimal.Zero,
		AvgLoss:            decimal.Zero,
		TotalRealizedPnL:   ps.sumPositive.Add(ps.sumNegative),
		MaxDrawdownPercent: ps.maxDrawdown,
		EquityCurve:        append([]EquityPoint(nil), ps.equity...),
	}

	if total > 0 {
		snap.WinRate = float64(ps.wins) / float64(total) * 100
	}
	if ps.wins > 0 {
		snap.AvgWin = ps.sumPositive.Div(decimal.NewFromInt(int64(ps.wins)))
	}
	if ps.losses > 0 {
		snap.AvgLoss = ps.sumNegative.Div(decimal.NewFromInt(int64(ps.losses)))
	}

	// Profit factor: an all-winning account reports +Inf as a sentinel,
	// never an error; a flat account reports zero.
	negAbs := ps.sumNegative.Abs()
	switch {
	case negAbs.IsZero() && ps.sumPositive.IsPositive():
		snap.ProfitFactor = math.Inf(1)
	case negAbs.IsZero():
		snap.ProfitFactor = 0
	default:
		pf, _ := ps.sumPositive.Div(negAbs).Float64()
		snap.ProfitFactor = pf
	}

	return snap
}
