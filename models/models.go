package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction is the direction of a signal or trade
type SignalAction string

const (
	ActionLong  SignalAction = "long"
	ActionShort SignalAction = "short"
)

// TradeStatus tracks the trade lifecycle
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// ExitReason records why a trade (or part of it) was closed
type ExitReason string

const (
	ExitTakeProfit ExitReason = "tp"
	ExitStopLoss   ExitReason = "sl"
	ExitManual     ExitReason = "manual"
)

// Signal represents a normalized trading signal
type Signal struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Asset       string            `json:"asset"`
	Action      SignalAction      `json:"action"`
	Entry       decimal.Decimal   `json:"entry"`
	StopLoss    decimal.Decimal   `json:"stop_loss"`
	TakeProfits []decimal.Decimal `json:"take_profits"`
	Leverage    int               `json:"leverage"`
	Confidence  float64           `json:"confidence"` // 0.0 - 1.0
	ReceivedAt  time.Time         `json:"received_at"`

	// AI scoring result, set after the scoring call completes
	AIScore     *float64 `json:"ai_score,omitempty"` // 0 - 100
	AIReasoning string   `json:"ai_reasoning,omitempty"`

	// Resolution flags; a signal is immutable once either is set
	Executed  bool `json:"executed"`
	Dismissed bool `json:"dismissed"`

	RawText string `json:"raw_text,omitempty"`
	// Strategy is the parser strategy that matched
	Strategy string `json:"strategy,omitempty"`
}

// Resolved reports whether the signal reached a terminal state
func (s *Signal) Resolved() bool {
	return s.Executed || s.Dismissed
}

// TakeProfitLevel is one tranche of a trade's exit ladder.
// Fraction is relative to the original quantity.
type TakeProfitLevel struct {
	Price    decimal.Decimal `json:"price"`
	Fraction decimal.Decimal `json:"fraction"`
	Hit      bool            `json:"hit"`
}

// Trade is a simulated position created from an executed signal
type Trade struct {
	ID                string            `json:"id"`
	SignalID          string            `json:"signal_id"`
	Symbol            string            `json:"symbol"`
	Side              SignalAction      `json:"side"`
	EntryPrice        decimal.Decimal   `json:"entry_price"`
	Quantity          decimal.Decimal   `json:"quantity"`
	RemainingQuantity decimal.Decimal   `json:"remaining_quantity"`
	StopLoss          decimal.Decimal   `json:"stop_loss"`
	TakeProfits       []TakeProfitLevel `json:"take_profits"`
	Leverage          int               `json:"leverage"`
	Margin            decimal.Decimal   `json:"margin"`

	Status     TradeStatus      `json:"status"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	ExitReason ExitReason       `json:"exit_reason,omitempty"`
	EntryTime  time.Time        `json:"entry_time"`
	ExitTime   *time.Time       `json:"exit_time,omitempty"`

	RealizedPnL decimal.Decimal `json:"realized_pnl"`

	// Mark-to-market fields, refreshed on each price update
	CurrentPrice         decimal.Decimal `json:"current_price"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
}

// Direction returns +1 for long, -1 for short
func (t *Trade) Direction() decimal.Decimal {
	if t.Side == ActionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Portfolio is the single in-memory account ledger
type Portfolio struct {
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	MarginUsed       decimal.Decimal `json:"margin_used"`
}

// NewPortfolio creates a portfolio with the full balance available
func NewPortfolio(initialBalance decimal.Decimal) Portfolio {
	return Portfolio{
		InitialBalance:   initialBalance,
		CurrentBalance:   initialBalance,
		AvailableBalance: initialBalance,
		MarginUsed:       decimal.Zero,
	}
}

// RiskSettings holds the risk policy applied to every sized order
type RiskSettings struct {
	MaxRiskPerTradePercent decimal.Decimal `json:"max_risk_per_trade_percent"`
	MaxOpenPositions       int             `json:"max_open_positions"`
	MinRiskRewardRatio     decimal.Decimal `json:"min_risk_reward_ratio"`
	DefaultLeverage        int             `json:"default_leverage"`
}

// DefaultRiskSettings mirrors a conservative 2% risk / 5 position policy
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		MaxRiskPerTradePercent: decimal.NewFromInt(2),
		MaxOpenPositions:       5,
		MinRiskRewardRatio:     decimal.NewFromFloat(1.5),
		DefaultLeverage:        1,
	}
}

// SizedOrder is the risk manager's approval of a signal
type SizedOrder struct {
	Quantity   decimal.Decimal `json:"quantity"`
	Margin     decimal.Decimal `json:"margin"`
	Leverage   int             `json:"leverage"`
	RiskAmount decimal.Decimal `json:"risk_amount"`
}

// AutoExecuteConfig controls the auto-execution gate
type AutoExecuteConfig struct {
	Enabled           bool          `json:"enabled"`
	MinConfidence     float64       `json:"min_confidence"`
	MinAIScore        float64       `json:"min_ai_score"`
	RequireAIApproval bool          `json:"require_ai_approval"`
	MaxDailyTrades    int           `json:"max_daily_trades"`
	Cooldown          time.Duration `json:"cooldown"`
}

// DefaultAutoExecuteConfig starts disabled, matching a fresh install
func DefaultAutoExecuteConfig() AutoExecuteConfig {
	return AutoExecuteConfig{
		Enabled:           false,
		MinConfidence:     0.6,
		MinAIScore:        60,
		RequireAIApproval: true,
		MaxDailyTrades:    10,
		Cooldown:          30 * time.Second,
	}
}

// EngineState carries the gate's mutable counters. It is owned by a single
// AutoExecutor and only mutated under its lock, never shared as a global.
type EngineState struct {
	DailyTrades     int       `json:"daily_trades"`
	DailyResetDate  time.Time `json:"daily_reset_date"` // UTC date of the counter
	CircuitFailures int       `json:"circuit_failures"`
	CircuitOpen     bool      `json:"circuit_open"`
	LastAutoExecute time.Time `json:"last_auto_execute"`
}

// Score is the AI scoring service's verdict for a signal
type Score struct {
	Value     float64 `json:"score"` // 0 - 100
	Reasoning string  `json:"reasoning"`
}

// PriceUpdate is one tick from a price feed
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}
