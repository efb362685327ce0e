package models

import "fmt"

// Stable reason codes. These are returned to the API layer verbatim and
// asserted in tests, so they must not change casually.
const (
	// Parse errors
	CodeUnrecognizedFormat  = "unrecognized_format"
	CodeMissingRequired     = "missing_required_field"
	CodeInvalidNumericValue = "invalid_numeric_value"

	// Risk rejections
	CodeInvalidLevelOrdering    = "invalid_level_ordering"
	CodeInsufficientRiskReward  = "insufficient_risk_reward"
	CodeMaxPositionsReached     = "max_positions_reached"
	CodeInsufficientMargin      = "insufficient_margin"

	// Gate rejections
	CodeDisabled          = "disabled"
	CodeLowConfidence     = "low_confidence"
	CodeLowAIScore        = "low_ai_score"
	CodeDailyLimitReached = "daily_limit_reached"
	CodeCircuitOpen       = "circuit_open"
	CodeCooldownActive    = "cooldown_active"

	// Execution errors
	CodeStaleSignal       = "stale_signal"
	CodeAlreadyResolved   = "already_resolved"
	CodePriceUnavailable  = "price_unavailable"
	CodeSlippageExceeded  = "slippage_exceeded"
	CodeTradeNotFound     = "trade_not_found"
	CodeTradeClosed       = "trade_closed"
	CodeSignalNotFound    = "signal_not_found"
)

// ParseError is returned when a raw message cannot be turned into a signal
type ParseError struct {
	Code  string
	Field string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse error: %s (%s)", e.Code, e.Field)
	}
	return fmt.Sprintf("parse error: %s", e.Code)
}

// RiskError is a risk-policy rejection; the signal stays pending
type RiskError struct {
	Code   string
	Detail string
}

func (e *RiskError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("risk rejected: %s (%s)", e.Code, e.Detail)
	}
	return fmt.Sprintf("risk rejected: %s", e.Code)
}

// GateError is an auto-execute gate rejection; no state is mutated
type GateError struct {
	Code   string
	Detail string
}

func (e *GateError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("gate rejected: %s (%s)", e.Code, e.Detail)
	}
	return fmt.Sprintf("gate rejected: %s", e.Code)
}

// ExecError is an execution failure; the gate counts it toward the
// circuit breaker and the signal is left pending for manual follow-up
type ExecError struct {
	Code   string
	Detail string
}

func (e *ExecError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("execution error: %s (%s)", e.Code, e.Detail)
	}
	return fmt.Sprintf("execution error: %s", e.Code)
}
