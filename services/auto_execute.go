package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/interfaces"
	"signal-trader/models"
)

// circuitBreakerThreshold is the number of consecutive execution failures
// that latches the breaker open. An open breaker only closes again through
// an explicit manual reset.
const circuitBreakerThreshold = 3

// AutoExecutor gates parsed signals through scoring and limit checks
// before delegating to the risk manager and the trading engine. It owns
// the daily counter, cooldown timestamp and circuit breaker; all of that
// state lives in one EngineState mutated only under the executor's lock,
// so isolated instances can run side by side in tests.
type AutoExecutor struct {
	mu     sync.Mutex
	config models.AutoExecuteConfig
	state  models.EngineState

	engine      *TradingEngine
	riskManager *RiskManager
	scorer      interfaces.SignalScorer
	priceFeed   interfaces.PriceFeed
	notifier    interfaces.Notifier
	logger      *logrus.Logger

	scoreTimeout time.Duration
	staleAfter   time.Duration
	now          func() time.Time
}

// NewAutoExecutor creates a gate around the given engine. scorer,
// priceFeed and notifier may be nil; a nil scorer simply leaves signals
// unscored, which fails condition 3 closed when AI approval is required.
func NewAutoExecutor(
	engine *TradingEngine,
	riskManager *RiskManager,
	scorer interfaces.SignalScorer,
	priceFeed interfaces.PriceFeed,
	notifier interfaces.Notifier,
	config models.AutoExecuteConfig,
) *AutoExecutor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &AutoExecutor{
		config:       config,
		state:        models.EngineState{DailyResetDate: time.Now().UTC().Truncate(24 * time.Hour)},
		engine:       engine,
		riskManager:  riskManager,
		scorer:       scorer,
		priceFeed:    priceFeed,
		notifier:     notifier,
		logger:       logger,
		scoreTimeout: 15 * time.Second,
		staleAfter:   15 * time.Minute,
		now:          time.Now,
	}
}

// ProcessSignal runs one signal through the gate. On approval the daily
// counter and cooldown timestamp are bumped atomically before delegation,
// so two concurrent signals can never both squeeze past the same limit.
// Gate rejections mutate nothing; execution failures feed the breaker and
// leave the signal pending for manual follow-up, never retried.
func (ae *AutoExecutor) ProcessSignal(ctx context.Context, signal models.Signal) (models.Trade, error) {
	// Cheap pure pre-checks before paying for an external scoring call.
	cfg := ae.Config()
	if !cfg.Enabled {
		return models.Trade{}, &models.GateError{Code: models.CodeDisabled}
	}
	if signal.Confidence < cfg.MinConfidence {
		return models.Trade{}, &models.GateError{
			Code:   models.CodeLowConfidence,
			Detail: fmt.Sprintf("%.2f < %.2f", signal.Confidence, cfg.MinConfidence),
		}
	}

	// External scoring happens outside any lock. A timeout or error leaves
	// the signal unscored; condition 3 then fails closed.
	score := ae.scoreSignal(ctx, &signal)

	if err := ae.admit(&signal, score); err != nil {
		return models.Trade{}, err
	}

	trade, err := ae.delegate(ctx, &signal)
	if err != nil {
		if _, ok := err.(*models.ExecError); ok {
			ae.recordFailure(err)
		}
		return models.Trade{}, err
	}

	ae.recordSuccess()
	return trade, nil
}

// scoreSignal asks the external scorer with a bounded timeout and stores
// the verdict on the engine's copy of the signal for later inspection
func (ae *AutoExecutor) scoreSignal(ctx context.Context, signal *models.Signal) *models.Score {
	cfg := ae.Config()
	if !cfg.RequireAIApproval || ae.scorer == nil {
		return nil
	}

	scoreCtx, cancel := context.WithTimeout(ctx, ae.scoreTimeout)
	defer cancel()

	score, err := ae.scorer.ScoreSignal(scoreCtx, signal)
	if err != nil {
		ae.logger.WithError(err).WithField("signal_id", signal.ID).Warn("AI scoring unavailable, treating signal as unscored")
		return nil
	}

	signal.AIScore = &score.Value
	signal.AIReasoning = score.Reasoning
	ae.engine.SetSignalScore(signal.ID, *score)
	return score
}

// admit evaluates the six gate conditions in their fixed order and, when
// all pass, consumes one daily-trade slot and arms the cooldown. The first
// failing condition is returned verbatim.
func (ae *AutoExecutor) admit(signal *models.Signal, score *models.Score) error {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	now := ae.now().UTC()

	// 1. enabled
	if !ae.config.Enabled {
		return &models.GateError{Code: models.CodeDisabled}
	}
	// 2. parser confidence
	if signal.Confidence < ae.config.MinConfidence {
		return &models.GateError{
			Code:   models.CodeLowConfidence,
			Detail: fmt.Sprintf("%.2f < %.2f", signal.Confidence, ae.config.MinConfidence),
		}
	}
	// 3. AI approval, fail-closed on missing score
	if ae.config.RequireAIApproval {
		if score == nil {
			return &models.GateError{Code: models.CodeLowAIScore, Detail: "signal unscored"}
		}
		if score.Value < ae.config.MinAIScore {
			return &models.GateError{
				Code:   models.CodeLowAIScore,
				Detail: fmt.Sprintf("%.0f < %.0f", score.Value, ae.config.MinAIScore),
			}
		}
	}
	// 4. daily limit, counter resets at the UTC day boundary
	today := now.Truncate(24 * time.Hour)
	if !today.Equal(ae.state.DailyResetDate) {
		ae.state.DailyTrades = 0
		ae.state.DailyResetDate = today
	}
	if ae.state.DailyTrades >= ae.config.MaxDailyTrades {
		return &models.GateError{
			Code:   models.CodeDailyLimitReached,
			Detail: fmt.Sprintf("%d trades today", ae.state.DailyTrades),
		}
	}
	// 5. circuit breaker
	if ae.state.CircuitOpen {
		return &models.GateError{Code: models.CodeCircuitOpen}
	}
	// 6. cooldown
	if !ae.state.LastAutoExecute.IsZero() && now.Sub(ae.state.LastAutoExecute) < ae.config.Cooldown {
		return &models.GateError{
			Code:   models.CodeCooldownActive,
			Detail: fmt.Sprintf("last execution %s ago", now.Sub(ae.state.LastAutoExecute).Round(time.Second)),
		}
	}

	ae.state.DailyTrades++
	ae.state.LastAutoExecute = now
	return nil
}

// delegate sizes and executes the admitted signal. The live price lookup
// runs before the engine's critical section; only its result is passed in.
func (ae *AutoExecutor) delegate(ctx context.Context, signal *models.Signal) (models.Trade, error) {
	if ae.staleAfter > 0 && ae.now().UTC().Sub(signal.ReceivedAt) > ae.staleAfter {
		return models.Trade{}, &models.ExecError{
			Code:   models.CodeStaleSignal,
			Detail: fmt.Sprintf("received %s ago", ae.now().UTC().Sub(signal.ReceivedAt).Round(time.Second)),
		}
	}

	order, err := ae.riskManager.Size(signal, ae.engine.RiskSettings(), ae.engine.GetPortfolio(), ae.engine.OpenTradeCount())
	if err != nil {
		ae.logger.WithError(err).WithField("signal_id", signal.ID).Info("Signal rejected by risk manager")
		return models.Trade{}, err
	}

	var marketPrice *decimal.Decimal
	if ae.priceFeed != nil {
		price, err := ae.priceFeed.LatestPrice(ctx, signal.Asset)
		if err != nil {
			return models.Trade{}, &models.ExecError{Code: models.CodePriceUnavailable, Detail: err.Error()}
		}
		marketPrice = &price
	}

	trade, err := ae.engine.ExecuteSignal(signal.ID, *order, marketPrice)
	if err != nil {
		return models.Trade{}, err
	}

	ae.logger.WithFields(logrus.Fields{
		"signal_id": signal.ID,
		"trade_id":  trade.ID,
		"symbol":    trade.Symbol,
	}).Info("Signal auto-executed")
	return trade, nil
}

// recordFailure bumps the consecutive-failure counter and latches the
// breaker once the threshold is reached
func (ae *AutoExecutor) recordFailure(cause error) {
	ae.mu.Lock()
	ae.state.CircuitFailures++
	opened := false
	if !ae.state.CircuitOpen && ae.state.CircuitFailures >= circuitBreakerThreshold {
		ae.state.CircuitOpen = true
		opened = true
	}
	failures := ae.state.CircuitFailures
	ae.mu.Unlock()

	ae.logger.WithError(cause).WithField("consecutive_failures", failures).Warn("Auto-execution failed")
	if opened && ae.notifier != nil {
		ae.notifier.Send(fmt.Sprintf("Circuit breaker OPEN after %d consecutive execution failures; auto-execution halted until manual reset", failures))
	}
}

// recordSuccess clears the consecutive-failure streak. An already open
// breaker stays open; success alone never heals it.
func (ae *AutoExecutor) recordSuccess() {
	ae.mu.Lock()
	if !ae.state.CircuitOpen {
		ae.state.CircuitFailures = 0
	}
	ae.mu.Unlock()
}

// ResetCircuitBreaker is the explicit manual reset
func (ae *AutoExecutor) ResetCircuitBreaker() {
	ae.mu.Lock()
	ae.state.CircuitOpen = false
	ae.state.CircuitFailures = 0
	ae.mu.Unlock()

	ae.logger.Info("Circuit breaker reset")
}

// Config returns a copy of the current gate configuration
func (ae *AutoExecutor) Config() models.AutoExecuteConfig {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.config
}

// UpdateConfig replaces the gate configuration through the serialized
// entry point
func (ae *AutoExecutor) UpdateConfig(config models.AutoExecuteConfig) {
	ae.mu.Lock()
	ae.config = config
	ae.mu.Unlock()

	ae.logger.WithFields(logrus.Fields{
		"enabled":          config.Enabled,
		"min_confidence":   config.MinConfidence,
		"min_ai_score":     config.MinAIScore,
		"max_daily_trades": config.MaxDailyTrades,
		"cooldown":         config.Cooldown.String(),
	}).Info("Auto-execute config updated")
}

// State returns a copy of the gate counters for the status endpoint
func (ae *AutoExecutor) State() models.EngineState {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.state
}
