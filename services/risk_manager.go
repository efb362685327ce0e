package services

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/models"
)

var oneHundred = decimal.NewFromInt(100)

// RiskManager validates signals against the risk policy and computes order
// size and margin. It never touches the account ledger; reserving margin is
// the trading engine's job at open time.
type RiskManager struct {
	logger *logrus.Logger
}

// NewRiskManager creates a new risk manager
func NewRiskManager() *RiskManager {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return &RiskManager{logger: logger}
}

// Size validates a signal and returns a sized order. Checks run in a fixed
// order: level ordering, risk/reward ratio, open-position count, margin.
// The first failure is returned as a *models.RiskError.
func (rm *RiskManager) Size(
	signal *models.Signal,
	settings models.RiskSettings,
	portfolio models.Portfolio,
	openPositions int,
) (*models.SizedOrder, error) {
	if err := rm.checkLevelOrdering(signal); err != nil {
		return nil, err
	}
	if err := rm.checkRiskReward(signal, settings); err != nil {
		return nil, err
	}
	if openPositions >= settings.MaxOpenPositions {
		return nil, &models.RiskError{
			Code:   models.CodeMaxPositionsReached,
			Detail: fmt.Sprintf("%d open positions, max %d", openPositions, settings.MaxOpenPositions),
		}
	}

	// Risk-based sizing: the amount at risk is capped by the policy and is
	// independent of leverage. Leverage only reduces the reserved margin.
	riskAmount := portfolio.CurrentBalance.Mul(settings.MaxRiskPerTradePercent).Div(oneHundred)
	perUnitRisk := signal.Entry.Sub(signal.StopLoss).Abs()
	quantity := riskAmount.Div(perUnitRisk)

	leverage := signal.Leverage
	if leverage <= 0 {
		leverage = settings.DefaultLeverage
	}
	if leverage <= 0 {
		leverage = 1
	}

	margin := quantity.Mul(signal.Entry).Div(decimal.NewFromInt(int64(leverage)))
	if margin.GreaterThan(portfolio.AvailableBalance) {
		return nil, &models.RiskError{
			Code:   models.CodeInsufficientMargin,
			Detail: fmt.Sprintf("need %s, have %s", margin.StringFixed(2), portfolio.AvailableBalance.StringFixed(2)),
		}
	}

	rm.logger.WithFields(logrus.Fields{
		"asset":       signal.Asset,
		"quantity":    quantity.String(),
		"risk_amount": riskAmount.StringFixed(2),
		"margin":      margin.StringFixed(2),
		"leverage":    leverage,
	}).Info("Risk check passed")

	return &models.SizedOrder{
		Quantity:   quantity,
		Margin:     margin,
		Leverage:   leverage,
		RiskAmount: riskAmount,
	}, nil
}

// checkLevelOrdering enforces stop < entry < tp1 < tp2 < ... for longs and
// the mirror ordering for shorts. Take-profit levels arrive sorted by
// distance from entry, so adjacent comparisons are enough.
func (rm *RiskManager) checkLevelOrdering(signal *models.Signal) error {
	entry := signal.Entry
	stop := signal.StopLoss

	if signal.Action == models.ActionLong {
		if !stop.LessThan(entry) {
			return &models.RiskError{Code: models.CodeInvalidLevelOrdering, Detail: "stop loss must be below entry for long"}
		}
		prev := entry
		for _, tp := range signal.TakeProfits {
			if !tp.GreaterThan(prev) {
				return &models.RiskError{Code: models.CodeInvalidLevelOrdering, Detail: "take profits must be above entry and strictly increasing for long"}
			}
			prev = tp
		}
		return nil
	}

	if !stop.GreaterThan(entry) {
		return &models.RiskError{Code: models.CodeInvalidLevelOrdering, Detail: "stop loss must be above entry for short"}
	}
	prev := entry
	for _, tp := range signal.TakeProfits {
		if !tp.LessThan(prev) {
			return &models.RiskError{Code: models.CodeInvalidLevelOrdering, Detail: "take profits must be below entry and strictly decreasing for short"}
		}
		prev = tp
	}
	return nil
}

// checkRiskReward compares the distance to the first target against the
// distance to the stop. Signals without targets skip the check; they can
// only exit via stop loss or manual close.
func (rm *RiskManager) checkRiskReward(signal *models.Signal, settings models.RiskSettings) error {
	if len(signal.TakeProfits) == 0 {
		return nil
	}

	risk := signal.Entry.Sub(signal.StopLoss).Abs()
	reward := signal.TakeProfits[0].Sub(signal.Entry).Abs()
	ratio := reward.Div(risk)

	if ratio.LessThan(settings.MinRiskRewardRatio) {
		return &models.RiskError{
			Code:   models.CodeInsufficientRiskReward,
			Detail: fmt.Sprintf("ratio %s below minimum %s", ratio.StringFixed(2), settings.MinRiskRewardRatio.String()),
		}
	}
	return nil
}
